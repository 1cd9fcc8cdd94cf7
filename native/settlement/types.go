package settlement

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"tabsplit/crypto"
)

// Status enumerates the orchestrator lifecycle. The engine is single-attempt:
// exactly one settlement moves through these states at a time.
type Status uint8

const (
	StatusIdle Status = iota
	StatusBuilding
	StatusAwaitingSignature
	StatusBroadcasting
	StatusConfirming
	StatusSettled
	StatusFailed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusFailed
}

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBuilding:
		return "building"
	case StatusAwaitingSignature:
		return "awaiting_signature"
	case StatusBroadcasting:
		return "broadcasting"
	case StatusConfirming:
		return "confirming"
	case StatusSettled:
		return "settled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is one settlement attempt's transfer order. Every attempt mints a
// fresh request with a fresh ID; requests are never re-submitted verbatim.
type Request struct {
	ID           string
	Participant  string
	FiatCents    int64
	FiatCurrency string
	Amount       *big.Int
	AssetSymbol  string
	Recipient    string
	CreatedAt    int64
}

// Clone returns a deep copy so signers and broadcasters can hold the request
// without racing the engine.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Digest returns the keccak256 hash of the canonical request encoding. This
// is the payload local signers sign.
func (r *Request) Digest() [32]byte {
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	canonical := strings.Join([]string{
		r.ID,
		r.Participant,
		strconv.FormatInt(r.FiatCents, 10),
		strings.ToUpper(r.FiatCurrency),
		amount,
		strings.ToUpper(r.AssetSymbol),
		r.Recipient,
		strconv.FormatInt(r.CreatedAt, 10),
	}, "|")
	return crypto.Keccak256([]byte(canonical))
}

// Sanitize validates the assembled request before it leaves the engine.
func (r *Request) Sanitize() error {
	if r == nil {
		return fmt.Errorf("nil request")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("request missing id")
	}
	if r.FiatCents <= 0 {
		return fmt.Errorf("request fiat amount must be positive")
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("request transfer amount must be positive")
	}
	if strings.TrimSpace(r.Recipient) == "" {
		return fmt.Errorf("request missing recipient")
	}
	return nil
}
