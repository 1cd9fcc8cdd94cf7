package settlement

import "errors"

var (
	ErrQuorumNotReached    = errors.New("settlement: quorum not reached")
	ErrAttemptInProgress   = errors.New("settlement: attempt already in progress")
	ErrAttemptCancelled    = errors.New("settlement: attempt cancelled")
	ErrSessionInvalidated  = errors.New("settlement: session changed during attempt")
	ErrNothingToSettle     = errors.New("settlement: nothing to settle")
	ErrSignerUnavailable   = errors.New("settlement: signer unavailable")
	ErrSignatureRejected   = errors.New("settlement: signature rejected")
	ErrBroadcastError      = errors.New("settlement: broadcast error")
	ErrConfirmationTimeout = errors.New("settlement: confirmation timeout")
)
