package split

import (
	"errors"
	"testing"

	"tabsplit/core/events"
)

func demoItems() []LineItem {
	return []LineItem{
		{ID: "1", Name: "GLASS STAR #148", UnitPriceCents: 850, Quantity: 1},
		{ID: "2", Name: "NOODLES (L)", UnitPriceCents: 1250, Quantity: 2},
		{ID: "3", Name: "FRIED RICE", UnitPriceCents: 975, Quantity: 1},
		{ID: "4", Name: "SPRING ROLLS", UnitPriceCents: 450, Quantity: 3},
	}
}

func loadedEngine(t *testing.T) *Engine {
	t.Helper()
	engine := NewEngine(1)
	if err := engine.LoadReceipt(demoItems()); err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	return engine
}

func claimAll(t *testing.T, engine *Engine, participant string) {
	t.Helper()
	for _, item := range demoItems() {
		if err := engine.Claim(participant, item.ID, item.Quantity); err != nil {
			t.Fatalf("claim %s x%d: %v", item.ID, item.Quantity, err)
		}
	}
}

func TestLoadReceiptRejectsMalformedItems(t *testing.T) {
	cases := []struct {
		name  string
		items []LineItem
	}{
		{"missing id", []LineItem{{Name: "X", UnitPriceCents: 100, Quantity: 1}}},
		{"duplicate id", []LineItem{
			{ID: "1", Name: "X", UnitPriceCents: 100, Quantity: 1},
			{ID: "1", Name: "Y", UnitPriceCents: 200, Quantity: 1},
		}},
		{"negative price", []LineItem{{ID: "1", Name: "X", UnitPriceCents: -1, Quantity: 1}}},
		{"zero quantity", []LineItem{{ID: "1", Name: "X", UnitPriceCents: 100, Quantity: 0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(1)
			if err := engine.LoadReceipt(tc.items); !errors.Is(err, ErrInvalidReceipt) {
				t.Fatalf("expected ErrInvalidReceipt, got %v", err)
			}
		})
	}
}

func TestLoadReceiptResetsPriorSession(t *testing.T) {
	engine := loadedEngine(t)
	claimAll(t, engine, "alice")
	if err := engine.Confirm("alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := engine.LoadReceipt(demoItems()); err != nil {
		t.Fatalf("reload receipt: %v", err)
	}
	if engine.ConfirmedCount() != 0 {
		t.Fatalf("expected confirmations cleared, got %d", engine.ConfirmedCount())
	}
	if total := engine.CartTotal("alice"); total != 0 {
		t.Fatalf("expected empty cart after reload, got %d cents", total)
	}
	for _, item := range engine.Items() {
		if item.Claimed != 0 {
			t.Fatalf("item %s claimed %d after reload", item.ID, item.Claimed)
		}
	}
}

func TestClaimConservesQuantity(t *testing.T) {
	engine := loadedEngine(t)

	if err := engine.Claim("alice", "4", 2); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := engine.Claim("bob", "4", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// All three spring rolls are spoken for; the next unit does not exist.
	if err := engine.Claim("carol", "4", 1); !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("expected ErrInsufficientQuantity, got %v", err)
	}

	items := engine.Items()
	for _, item := range items {
		if item.ID == "4" && item.Remaining() != 0 {
			t.Fatalf("expected 0 remaining, got %d", item.Remaining())
		}
	}

	if err := engine.Unclaim("bob", "4", 1); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if err := engine.Claim("carol", "4", 1); err != nil {
		t.Fatalf("claim after unclaim: %v", err)
	}
}

func TestClaimNeverClamps(t *testing.T) {
	engine := loadedEngine(t)
	if err := engine.Claim("alice", "2", 3); !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("expected ErrInsufficientQuantity, got %v", err)
	}
	// The rejected claim must not move anything.
	if total := engine.CartTotal("alice"); total != 0 {
		t.Fatalf("expected untouched cart, got %d cents", total)
	}
}

func TestClaimValidation(t *testing.T) {
	empty := NewEngine(1)
	if err := empty.Claim("alice", "1", 1); !errors.Is(err, ErrNoReceipt) {
		t.Fatalf("expected ErrNoReceipt, got %v", err)
	}

	engine := loadedEngine(t)
	if err := engine.Claim("   ", "1", 1); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
	if err := engine.Claim("alice", "1", 0); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("expected ErrInvalidCount, got %v", err)
	}
	if err := engine.Claim("alice", "1", -2); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("expected ErrInvalidCount, got %v", err)
	}
	if err := engine.Claim("alice", "99", 1); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestUnclaimRequiresPriorClaim(t *testing.T) {
	engine := loadedEngine(t)
	if err := engine.Unclaim("alice", "1", 1); !errors.Is(err, ErrNothingToUnclaim) {
		t.Fatalf("expected ErrNothingToUnclaim, got %v", err)
	}

	if err := engine.Claim("alice", "4", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := engine.Unclaim("alice", "4", 2); !errors.Is(err, ErrNothingToUnclaim) {
		t.Fatalf("expected ErrNothingToUnclaim for oversized unclaim, got %v", err)
	}
	if err := engine.Unclaim("alice", "4", 1); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if entries := engine.Cart("alice"); len(entries) != 0 {
		t.Fatalf("expected empty cart, got %d entries", len(entries))
	}
}

func TestCartTotalAndOrder(t *testing.T) {
	engine := loadedEngine(t)
	// Claim out of receipt order; the cart listing must follow the receipt.
	if err := engine.Claim("alice", "4", 3); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := engine.Claim("alice", "1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	entries := engine.Cart("alice")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ItemID != "1" || entries[1].ItemID != "4" {
		t.Fatalf("cart not in receipt order: %s, %s", entries[0].ItemID, entries[1].ItemID)
	}
	if entries[1].SubtotalCents() != 1350 {
		t.Fatalf("expected 1350 cent subtotal, got %d", entries[1].SubtotalCents())
	}
	if total := engine.CartTotal("alice"); total != 2200 {
		t.Fatalf("expected 2200 cent total, got %d", total)
	}
	if total := engine.CartTotal("nobody"); total != 0 {
		t.Fatalf("expected zero total for unknown participant, got %d", total)
	}
}

func TestFullyAllocated(t *testing.T) {
	empty := NewEngine(1)
	if empty.FullyAllocated() {
		t.Fatal("empty session must not report fully allocated")
	}

	engine := loadedEngine(t)
	if engine.FullyAllocated() {
		t.Fatal("fresh receipt must not report fully allocated")
	}
	claimAll(t, engine, "alice")
	if !engine.FullyAllocated() {
		t.Fatal("expected fully allocated after claiming everything")
	}
	if err := engine.Unclaim("alice", "2", 1); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if engine.FullyAllocated() {
		t.Fatal("expected not fully allocated after unclaim")
	}
}

func TestParticipantsListing(t *testing.T) {
	engine := loadedEngine(t)
	if err := engine.Claim("bob", "2", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := engine.Claim("alice", "1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got := engine.Participants()
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("unexpected participants: %v", got)
	}

	if err := engine.Unclaim("bob", "2", 1); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	got = engine.Participants()
	if len(got) != 1 || got[0] != "alice" {
		t.Fatalf("expected only alice, got %v", got)
	}
}

func TestGenerationAdvancesOnMutation(t *testing.T) {
	engine := NewEngine(1)
	start := engine.Generation()
	if err := engine.LoadReceipt(demoItems()); err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	afterLoad := engine.Generation()
	if afterLoad <= start {
		t.Fatal("load must advance generation")
	}
	if err := engine.Claim("alice", "1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if engine.Generation() <= afterLoad {
		t.Fatal("claim must advance generation")
	}
	beforeReset := engine.Generation()
	engine.Reset()
	if engine.Generation() <= beforeReset {
		t.Fatal("reset must advance generation")
	}
}

func TestResetClearsSession(t *testing.T) {
	capture := &events.CaptureEmitter{}
	engine := loadedEngine(t)
	engine.SetEmitter(capture)
	claimAll(t, engine, "alice")

	engine.Reset()
	if engine.State() != SessionIdle {
		t.Fatalf("expected idle state, got %s", engine.State())
	}
	if total := engine.CartTotal("alice"); total != 0 {
		t.Fatalf("expected empty cart, got %d cents", total)
	}

	types := capture.Types()
	if len(types) == 0 || types[len(types)-1] != EventSessionReset {
		t.Fatalf("expected trailing %s event, got %v", EventSessionReset, types)
	}
}

func TestClaimEvents(t *testing.T) {
	capture := &events.CaptureEmitter{}
	engine := NewEngine(1)
	engine.SetEmitter(capture)
	if err := engine.LoadReceipt(demoItems()); err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	if err := engine.Claim("alice", "2", 2); err != nil {
		t.Fatalf("claim: %v", err)
	}

	types := capture.Types()
	want := []string{EventReceiptLoaded, EventItemClaimed}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
	attrs := capture.Events[1].Attributes
	if attrs["participant"] != "alice" || attrs["count"] != "2" || attrs["remaining"] != "0" {
		t.Fatalf("unexpected claim attributes: %v", attrs)
	}
}
