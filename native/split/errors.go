package split

import "errors"

var (
	ErrInvalidReceipt       = errors.New("split: invalid receipt")
	ErrNoReceipt            = errors.New("split: no receipt loaded")
	ErrUnknownItem          = errors.New("split: unknown item")
	ErrInvalidCount         = errors.New("split: count must be positive")
	ErrInvalidParticipant   = errors.New("split: participant required")
	ErrInsufficientQuantity = errors.New("split: insufficient quantity")
	ErrNothingToUnclaim     = errors.New("split: nothing to unclaim")
	ErrAllocationIncomplete = errors.New("split: allocation incomplete")
	ErrEmptyCart            = errors.New("split: empty cart")
	ErrAlreadyConfirmed     = errors.New("split: already confirmed")
	ErrQuorumReached        = errors.New("split: confirmation quorum already reached")
)
