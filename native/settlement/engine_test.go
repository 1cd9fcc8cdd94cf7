package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tabsplit/core/events"
	"tabsplit/history"
	"tabsplit/native/rates"
	"tabsplit/storage"
)

type stubSession struct {
	mu         sync.Mutex
	ready      bool
	total      int64
	required   uint32
	generation uint64
	resets     int
}

func (s *stubSession) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *stubSession) CartTotal(string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *stubSession) Required() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.required
}

func (s *stubSession) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *stubSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *stubSession) bump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

func (s *stubSession) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

type stubSigner struct {
	fn func(ctx context.Context, req *Request) ([]byte, error)
}

func (s stubSigner) Sign(ctx context.Context, req *Request) ([]byte, error) {
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return []byte("signed"), nil
}

type stubBroadcaster struct {
	mu        sync.Mutex
	submitted []*Request
	submitErr error
	finality  func(ctx context.Context, txRef string) error
}

func (b *stubBroadcaster) Submit(_ context.Context, req *Request, _ []byte) (string, error) {
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.mu.Lock()
	b.submitted = append(b.submitted, req)
	b.mu.Unlock()
	return "tx-" + req.ID, nil
}

func (b *stubBroadcaster) AwaitFinality(ctx context.Context, txRef string) error {
	if b.finality != nil {
		return b.finality(ctx, txRef)
	}
	return nil
}

func (b *stubBroadcaster) requests() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Request{}, b.submitted...)
}

type stubRewards struct {
	mu       sync.Mutex
	accruals map[string]int64
	err      error
}

func (r *stubRewards) Accrue(participant string, tokens int64) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accruals == nil {
		r.accruals = make(map[string]int64)
	}
	r.accruals[participant] += tokens
	return nil
}

type failingRecorder struct{}

func (failingRecorder) Append(history.Record) error { return fmt.Errorf("disk full") }

type fixture struct {
	engine  *Engine
	session *stubSession
	caster  *stubBroadcaster
	rewards *stubRewards
	store   *history.Store
	capture *events.CaptureEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	session := &stubSession{ready: true, total: 3125, required: 1, generation: 7}
	oracle := rates.NewManualOracle()
	if err := oracle.SetDecimal("USD", "SOL", "100"); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	caster := &stubBroadcaster{}
	rewards := &stubRewards{}
	store := history.NewStore(storage.NewMemDB())
	capture := &events.CaptureEmitter{}

	engine := NewEngine()
	engine.SetSession(session)
	engine.SetOracle(oracle)
	engine.SetSigner(stubSigner{})
	engine.SetBroadcaster(caster)
	engine.SetRecorder(store)
	engine.SetRewards(rewards)
	engine.SetRecipient("tab1qdemo")
	engine.SetRestaurant("Crypto Cafe")
	engine.SetAsset("SOL", 9)
	engine.SetFiatCurrency("USD")
	engine.SetEmitter(capture)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })

	return &fixture{engine: engine, session: session, caster: caster, rewards: rewards, store: store, capture: capture}
}

func TestSettleHappyPath(t *testing.T) {
	fx := newFixture(t)

	rec, err := fx.engine.Settle(context.Background(), "alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.AmountCents != 3125 {
		t.Fatalf("expected 3125 cent record, got %d", rec.AmountCents)
	}
	if rec.Status != history.StatusCompleted {
		t.Fatalf("expected completed status, got %q", rec.Status)
	}
	if rec.TxRef == "" {
		t.Fatal("expected transaction reference on record")
	}
	if rec.Restaurant != "Crypto Cafe" {
		t.Fatalf("unexpected restaurant %q", rec.Restaurant)
	}

	reqs := fx.caster.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(reqs))
	}
	// 31.25 USD at 100 USD/SOL with 9 decimals.
	if reqs[0].Amount.String() != "312500000" {
		t.Fatalf("expected 312500000 base units, got %s", reqs[0].Amount)
	}
	if reqs[0].Recipient != "tab1qdemo" {
		t.Fatalf("unexpected recipient %q", reqs[0].Recipient)
	}

	stored, err := fx.store.List(0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != rec.ID {
		t.Fatalf("expected the settled record in history, got %+v", stored)
	}
	if fx.session.resetCount() != 1 {
		t.Fatalf("expected one session reset, got %d", fx.session.resetCount())
	}
	if fx.engine.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", fx.engine.Status())
	}
	if fx.rewards.accruals["alice"] != 1 {
		t.Fatalf("expected one loyalty token, got %d", fx.rewards.accruals["alice"])
	}

	want := []string{
		EventBuilding, EventAwaitingSignature, EventBroadcasting,
		EventConfirming, EventSettled, EventRewardAccrued,
	}
	got := fx.capture.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestSettleRequiresQuorum(t *testing.T) {
	fx := newFixture(t)
	fx.session.ready = false

	if _, err := fx.engine.Settle(context.Background(), "alice"); !errors.Is(err, ErrQuorumNotReached) {
		t.Fatalf("expected ErrQuorumNotReached, got %v", err)
	}
	if fx.engine.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", fx.engine.Status())
	}
}

func TestSettleRejectsEmptyCart(t *testing.T) {
	fx := newFixture(t)
	fx.session.total = 0

	if _, err := fx.engine.Settle(context.Background(), "alice"); !errors.Is(err, ErrNothingToSettle) {
		t.Fatalf("expected ErrNothingToSettle, got %v", err)
	}
	if fx.engine.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", fx.engine.Status())
	}
}

func TestSettleBroadcastFailureThenRetry(t *testing.T) {
	fx := newFixture(t)
	fx.caster.submitErr = fmt.Errorf("gateway unreachable")

	if _, err := fx.engine.Settle(context.Background(), "alice"); !errors.Is(err, ErrBroadcastError) {
		t.Fatalf("expected ErrBroadcastError, got %v", err)
	}
	if fx.engine.Status() != StatusFailed {
		t.Fatalf("expected failed status, got %s", fx.engine.Status())
	}
	if count, _ := fx.store.Len(); count != 0 {
		t.Fatalf("failed attempt must not append history, got %d records", count)
	}
	if fx.session.resetCount() != 0 {
		t.Fatal("failed attempt must not reset the session")
	}
	if len(fx.rewards.accruals) != 0 {
		t.Fatal("failed attempt must not accrue rewards")
	}

	// A retry is a fresh attempt from the failed state.
	fx.caster.submitErr = nil
	rec, err := fx.engine.Settle(context.Background(), "alice")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.Status != history.StatusCompleted {
		t.Fatalf("expected completed retry, got %q", rec.Status)
	}
	if fx.engine.Status() != StatusIdle {
		t.Fatalf("expected idle after retry, got %s", fx.engine.Status())
	}
}

func TestSettleConfirmationTimeout(t *testing.T) {
	fx := newFixture(t)
	fx.engine.SetConfirmTimeout(20 * time.Millisecond)
	fx.caster.finality = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := fx.engine.Settle(context.Background(), "alice")
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
	if fx.engine.Status() != StatusFailed {
		t.Fatalf("expected failed status, got %s", fx.engine.Status())
	}
	if count, _ := fx.store.Len(); count != 0 {
		t.Fatalf("timed-out attempt must not append history, got %d records", count)
	}

	// The failure event keeps the reference so the transfer can be
	// reconciled once its true outcome is known.
	var failed *events.Event
	for i := range fx.capture.Events {
		if fx.capture.Events[i].Type == EventFailed {
			failed = &fx.capture.Events[i]
		}
	}
	if failed == nil {
		t.Fatalf("expected %s event, got %v", EventFailed, fx.capture.Types())
	}
	if failed.Attributes["txRef"] == "" {
		t.Fatal("expected txRef on timeout failure event")
	}
	if failed.Attributes["reason"] != "confirm_timeout" {
		t.Fatalf("unexpected failure reason %q", failed.Attributes["reason"])
	}
}

func TestSettleCancelledDuringSigning(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	fx.engine.SetSigner(stubSigner{fn: func(ctx context.Context, _ *Request) ([]byte, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	if _, err := fx.engine.Settle(ctx, "alice"); !errors.Is(err, ErrAttemptCancelled) {
		t.Fatalf("expected ErrAttemptCancelled, got %v", err)
	}
	if fx.engine.Status() != StatusIdle {
		t.Fatalf("cancellation must return to idle, got %s", fx.engine.Status())
	}
	if len(fx.caster.requests()) != 0 {
		t.Fatal("cancelled attempt must not broadcast")
	}
	if count, _ := fx.store.Len(); count != 0 {
		t.Fatal("cancelled attempt must not append history")
	}
}

func TestSettleSignerFailures(t *testing.T) {
	fx := newFixture(t)
	fx.engine.SetSigner(stubSigner{fn: func(context.Context, *Request) ([]byte, error) {
		return nil, fmt.Errorf("%w: hsm offline", ErrSignerUnavailable)
	}})
	if _, err := fx.engine.Settle(context.Background(), "alice"); !errors.Is(err, ErrSignerUnavailable) {
		t.Fatalf("expected ErrSignerUnavailable, got %v", err)
	}
	if fx.engine.Status() != StatusFailed {
		t.Fatalf("expected failed status, got %s", fx.engine.Status())
	}

	fx2 := newFixture(t)
	fx2.engine.SetSigner(stubSigner{fn: func(context.Context, *Request) ([]byte, error) {
		return nil, fmt.Errorf("user declined")
	}})
	if _, err := fx2.engine.Settle(context.Background(), "alice"); !errors.Is(err, ErrSignatureRejected) {
		t.Fatalf("expected ErrSignatureRejected, got %v", err)
	}
}

func TestSettleSessionInvalidatedMidAttempt(t *testing.T) {
	fx := newFixture(t)
	fx.engine.SetSigner(stubSigner{fn: func(context.Context, *Request) ([]byte, error) {
		// The ledger mutates while the approval prompt is open.
		fx.session.bump()
		return []byte("signed"), nil
	}})

	if _, err := fx.engine.Settle(context.Background(), "alice"); !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("expected ErrSessionInvalidated, got %v", err)
	}
	if fx.engine.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", fx.engine.Status())
	}
	if len(fx.caster.requests()) != 0 {
		t.Fatal("invalidated attempt must not broadcast")
	}
}

func TestSettleMintsFreshRequestPerAttempt(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.engine.Settle(context.Background(), "alice"); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := fx.engine.Settle(context.Background(), "alice"); err != nil {
		t.Fatalf("second settle: %v", err)
	}

	reqs := fx.caster.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(reqs))
	}
	if reqs[0].ID == reqs[1].ID {
		t.Fatalf("attempts must mint distinct request ids, both %s", reqs[0].ID)
	}
}

func TestSettleRejectsConcurrentAttempt(t *testing.T) {
	fx := newFixture(t)
	release := make(chan struct{})
	fx.engine.SetSigner(stubSigner{fn: func(context.Context, *Request) ([]byte, error) {
		<-release
		return []byte("signed"), nil
	}})

	done := make(chan error, 1)
	go func() {
		_, err := fx.engine.Settle(context.Background(), "alice")
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for fx.engine.Status() != StatusAwaitingSignature {
		select {
		case <-deadline:
			t.Fatal("first attempt never reached signing")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := fx.engine.Settle(context.Background(), "bob"); !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first attempt: %v", err)
	}
}

func TestSettleRecorderFailure(t *testing.T) {
	fx := newFixture(t)
	fx.engine.SetRecorder(failingRecorder{})

	if _, err := fx.engine.Settle(context.Background(), "alice"); err == nil {
		t.Fatal("expected error when history append fails")
	}
	if fx.engine.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", fx.engine.Status())
	}
	if fx.session.resetCount() != 0 {
		t.Fatal("session must not reset when the record was lost")
	}
}

func TestSettleRewardFailureDoesNotFailSettlement(t *testing.T) {
	fx := newFixture(t)
	fx.rewards.err = fmt.Errorf("balance store offline")

	rec, err := fx.engine.Settle(context.Background(), "alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != history.StatusCompleted {
		t.Fatalf("expected completed settlement, got %q", rec.Status)
	}

	var sawSkip bool
	for _, evtType := range fx.capture.Types() {
		if evtType == EventRewardSkipped {
			sawSkip = true
		}
	}
	if !sawSkip {
		t.Fatalf("expected %s event, got %v", EventRewardSkipped, fx.capture.Types())
	}
}
