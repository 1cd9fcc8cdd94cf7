package split

import "strings"

// LineItem is a single receipt line tracked by the ledger. Prices are
// fixed-point fiat cents; quantities are whole units. Claimed counts units
// moved into participant carts and never exceeds Quantity.
type LineItem struct {
	ID             string
	Name           string
	UnitPriceCents int64
	Quantity       int64
	Claimed        int64
}

// Remaining reports the units still waiting to be claimed.
func (i *LineItem) Remaining() int64 {
	if i == nil {
		return 0
	}
	return i.Quantity - i.Claimed
}

// Clone returns a copy of the line item so callers can safely mutate it.
func (i *LineItem) Clone() *LineItem {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

// CartEntry is one claimed line inside a participant cart.
type CartEntry struct {
	ItemID         string
	Name           string
	UnitPriceCents int64
	Quantity       int64
}

// SubtotalCents returns unit price times claimed quantity for this entry.
func (e CartEntry) SubtotalCents() int64 {
	return e.UnitPriceCents * e.Quantity
}

// SessionState describes the lifecycle of the active split session.
type SessionState uint8

const (
	// SessionIdle means no receipt is loaded.
	SessionIdle SessionState = iota
	// SessionOpen means a receipt is loaded and confirmations are pending.
	SessionOpen
	// SessionReady means the confirmation quorum has been reached.
	SessionReady
)

// Valid reports whether the state value is within the supported range.
func (s SessionState) Valid() bool {
	switch s {
	case SessionIdle, SessionOpen, SessionReady:
		return true
	default:
		return false
	}
}

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionOpen:
		return "open"
	case SessionReady:
		return "ready"
	default:
		return "unknown"
	}
}

func normalizeParticipant(participant string) string {
	return strings.TrimSpace(participant)
}
