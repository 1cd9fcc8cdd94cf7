package split

import (
	"fmt"
	"sort"
	"sync"

	"tabsplit/core/events"
)

// Engine owns the single active split session: the canonical line-item
// inventory, every participant cart, and the confirmation flags. All state is
// mutated through the documented operations under one mutex; callers never
// read-modify-write the inventory directly.
type Engine struct {
	mu sync.Mutex

	required uint32
	items    []*LineItem
	index    map[string]*LineItem
	carts    map[string]map[string]int64
	order    []string // participant cart creation order, for deterministic listings

	confirmed      map[string]bool
	confirmedCount uint32

	// generation increments on every mutation so the settlement engine can
	// detect a session that changed underneath an in-flight attempt.
	generation uint64

	emitter events.Emitter
}

// NewEngine creates a ledger for the given confirmation quorum. A quorum below
// one is coerced to one.
func NewEngine(required uint32) *Engine {
	if required < 1 {
		required = 1
	}
	return &Engine{
		required:  required,
		index:     make(map[string]*LineItem),
		carts:     make(map[string]map[string]int64),
		confirmed: make(map[string]bool),
		emitter:   events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// LoadReceipt replaces the current session with the given ordered line items.
// All claimed quantities reset to zero and every confirmation is cleared. An
// empty receipt is legal but yields no actionable split.
func (e *Engine) LoadReceipt(items []LineItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sanitized := make([]*LineItem, 0, len(items))
	index := make(map[string]*LineItem, len(items))
	var totalCents int64
	for i := range items {
		item := items[i].Clone()
		if item.ID == "" {
			return fmt.Errorf("%w: item %d missing id", ErrInvalidReceipt, i)
		}
		if _, exists := index[item.ID]; exists {
			return fmt.Errorf("%w: duplicate item id %s", ErrInvalidReceipt, item.ID)
		}
		if item.UnitPriceCents < 0 {
			return fmt.Errorf("%w: item %s has negative price", ErrInvalidReceipt, item.ID)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %s has non-positive quantity", ErrInvalidReceipt, item.ID)
		}
		item.Claimed = 0
		sanitized = append(sanitized, item)
		index[item.ID] = item
		totalCents += item.UnitPriceCents * item.Quantity
	}

	e.items = sanitized
	e.index = index
	e.carts = make(map[string]map[string]int64)
	e.order = nil
	e.confirmed = make(map[string]bool)
	e.confirmedCount = 0
	e.generation++

	e.emitter.Emit(receiptLoadedEvent(len(sanitized), totalCents))
	return nil
}

// Claim moves count units of the item from the unclaimed pool into the
// participant's cart. Claiming a depleted item is always rejected, never
// clamped. A claim by a confirmed participant clears that confirmation.
func (e *Engine) Claim(participant, itemID string, count int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	participant, item, err := e.resolve(participant, itemID, count)
	if err != nil {
		return err
	}
	if item.Remaining() < count {
		return fmt.Errorf("%w: item %s has %d remaining, want %d", ErrInsufficientQuantity, item.ID, item.Remaining(), count)
	}

	cart := e.carts[participant]
	if cart == nil {
		cart = make(map[string]int64)
		e.carts[participant] = cart
		e.order = append(e.order, participant)
	}
	item.Claimed += count
	cart[item.ID] += count
	e.generation++

	e.emitter.Emit(claimEvent(EventItemClaimed, participant, item, count))
	e.invalidateConfirmation(participant)
	return nil
}

// Unclaim moves count units from the participant's cart back into the pool.
func (e *Engine) Unclaim(participant, itemID string, count int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	participant, item, err := e.resolve(participant, itemID, count)
	if err != nil {
		return err
	}
	cart := e.carts[participant]
	if cart == nil || cart[item.ID] < count {
		return fmt.Errorf("%w: cart holds %d of item %s, want %d", ErrNothingToUnclaim, cart[item.ID], item.ID, count)
	}

	item.Claimed -= count
	cart[item.ID] -= count
	if cart[item.ID] == 0 {
		delete(cart, item.ID)
	}
	e.generation++

	e.emitter.Emit(claimEvent(EventItemUnclaimed, participant, item, count))
	e.invalidateConfirmation(participant)
	return nil
}

func (e *Engine) resolve(participant, itemID string, count int64) (string, *LineItem, error) {
	participant = normalizeParticipant(participant)
	if participant == "" {
		return "", nil, ErrInvalidParticipant
	}
	if len(e.items) == 0 {
		return "", nil, ErrNoReceipt
	}
	if count <= 0 {
		return "", nil, fmt.Errorf("%w: got %d", ErrInvalidCount, count)
	}
	item, ok := e.index[itemID]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	return participant, item, nil
}

// FullyAllocated reports whether every unit of every item has been claimed.
// This is the gating condition for confirmation.
func (e *Engine) FullyAllocated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fullyAllocatedLocked()
}

func (e *Engine) fullyAllocatedLocked() bool {
	if len(e.items) == 0 {
		return false
	}
	for _, item := range e.items {
		if item.Remaining() > 0 {
			return false
		}
	}
	return true
}

// CartTotal returns the participant's cart total in fiat cents. Unit prices
// are whole cents so the sum is exact.
func (e *Engine) CartTotal(participant string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total int64
	for itemID, count := range e.carts[normalizeParticipant(participant)] {
		if item, ok := e.index[itemID]; ok {
			total += item.UnitPriceCents * count
		}
	}
	return total
}

// Cart returns the participant's claimed entries in receipt order.
func (e *Engine) Cart(participant string) []CartEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	cart := e.carts[normalizeParticipant(participant)]
	entries := make([]CartEntry, 0, len(cart))
	for _, item := range e.items {
		count, ok := cart[item.ID]
		if !ok || count == 0 {
			continue
		}
		entries = append(entries, CartEntry{
			ItemID:         item.ID,
			Name:           item.Name,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       count,
		})
	}
	return entries
}

// Items returns a copy of the receipt inventory in its original order.
func (e *Engine) Items() []LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]LineItem, 0, len(e.items))
	for _, item := range e.items {
		items = append(items, *item.Clone())
	}
	return items
}

// Participants returns every participant holding a non-empty cart, sorted for
// stable output.
func (e *Engine) Participants() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.carts))
	for _, participant := range e.order {
		if len(e.carts[participant]) > 0 {
			out = append(out, participant)
		}
	}
	sort.Strings(out)
	return out
}

// Generation reports the session mutation counter.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Reset discards the receipt, all carts and all confirmations, returning the
// session to idle. Called when the flow returns home or after settlement.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	hadReceipt := len(e.items) > 0
	e.items = nil
	e.index = make(map[string]*LineItem)
	e.carts = make(map[string]map[string]int64)
	e.order = nil
	e.confirmed = make(map[string]bool)
	e.confirmedCount = 0
	e.generation++

	if hadReceipt {
		e.emitter.Emit(sessionResetEvent())
	}
}
