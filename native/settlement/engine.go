package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabsplit/core/events"
	"tabsplit/history"
	"tabsplit/native/rates"
)

// Session is the view of the split ledger the orchestrator needs: quorum
// state, the confirmed cart total, and a generation counter for detecting
// mutations underneath an in-flight attempt.
type Session interface {
	Ready() bool
	CartTotal(participant string) int64
	Required() uint32
	Generation() uint64
	Reset()
}

// Signer produces a signed payload for a settlement request. Implementations
// report ErrSignatureRejected or ErrSignerUnavailable; the signing step may
// suspend indefinitely waiting for human approval and must honour ctx.
type Signer interface {
	Sign(ctx context.Context, req *Request) ([]byte, error)
}

// Broadcaster submits signed payloads to the settlement network and reports
// finality. Submit returns a transaction reference immediately; AwaitFinality
// blocks until the transfer is final or ctx expires.
type Broadcaster interface {
	Submit(ctx context.Context, req *Request, signed []byte) (string, error)
	AwaitFinality(ctx context.Context, txRef string) error
}

// Recorder is the append-only history sink.
type Recorder interface {
	Append(rec history.Record) error
}

// RewardAccruer credits loyalty tokens after a completed settlement.
type RewardAccruer interface {
	Accrue(participant string, tokens int64) error
}

const defaultConfirmTimeout = 90 * time.Second

// Engine drives a settlement attempt through building, signing, broadcasting
// and finality. Failed attempts are never retried automatically; a retry is a
// fresh Settle call minting a fresh request.
type Engine struct {
	mu     sync.Mutex
	status Status

	session Session
	oracle  rates.PriceOracle
	signer  Signer
	caster  Broadcaster
	store   Recorder
	rewards RewardAccruer
	emitter events.Emitter
	nowFn   func() int64

	recipient      string
	restaurant     string
	assetSymbol    string
	assetDecimals  uint8
	fiatCurrency   string
	confirmTimeout time.Duration
}

// NewEngine creates an orchestrator with a no-op emitter and default confirm
// timeout. Collaborators are wired through the Set methods before serving.
func NewEngine() *Engine {
	return &Engine{
		status:         StatusIdle,
		emitter:        events.NoopEmitter{},
		nowFn:          func() int64 { return time.Now().Unix() },
		confirmTimeout: defaultConfirmTimeout,
		fiatCurrency:   "USD",
	}
}

// SetSession wires the split ledger.
func (e *Engine) SetSession(session Session) { e.session = session }

// SetOracle wires the exchange-rate source.
func (e *Engine) SetOracle(oracle rates.PriceOracle) { e.oracle = oracle }

// SetSigner wires the external signer capability.
func (e *Engine) SetSigner(signer Signer) { e.signer = signer }

// SetBroadcaster wires the network capability.
func (e *Engine) SetBroadcaster(caster Broadcaster) { e.caster = caster }

// SetRecorder wires the payment history sink.
func (e *Engine) SetRecorder(store Recorder) { e.store = store }

// SetRewards wires the loyalty accruer. Optional.
func (e *Engine) SetRewards(rewards RewardAccruer) { e.rewards = rewards }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Test hook.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetRecipient configures the fixed settlement recipient address.
func (e *Engine) SetRecipient(addr string) { e.recipient = addr }

// SetRestaurant configures the counterparty label stamped on history records.
func (e *Engine) SetRestaurant(name string) { e.restaurant = name }

// SetAsset configures the settlement asset symbol and base-unit decimals.
func (e *Engine) SetAsset(symbol string, decimals uint8) {
	e.assetSymbol = symbol
	e.assetDecimals = decimals
}

// SetFiatCurrency configures the fiat currency carts are denominated in.
func (e *Engine) SetFiatCurrency(currency string) { e.fiatCurrency = currency }

// SetConfirmTimeout bounds the wait for network finality.
func (e *Engine) SetConfirmTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	e.confirmTimeout = timeout
}

// Status reports the current orchestrator state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(status Status) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

// Settle runs one settlement attempt for the given participant. It may only
// be entered from Idle or Failed. The attempt is cancellable through ctx up to
// the moment the payload is broadcast; afterwards the engine waits for
// finality or the confirmation timeout.
func (e *Engine) Settle(ctx context.Context, participant string) (*history.Record, error) {
	e.mu.Lock()
	if e.status != StatusIdle && e.status != StatusFailed {
		e.mu.Unlock()
		return nil, ErrAttemptInProgress
	}
	if e.session == nil || e.oracle == nil || e.signer == nil || e.caster == nil || e.store == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("settlement: engine not fully configured")
	}
	e.status = StatusBuilding
	e.mu.Unlock()

	req, err := e.build(participant)
	if err != nil {
		e.setStatus(StatusIdle)
		return nil, err
	}
	e.emitter.Emit(attemptEvent(EventBuilding, req))
	generation := e.session.Generation()

	// Signing may suspend indefinitely on human approval; cancellation here
	// unwinds the attempt with no side effects.
	e.setStatus(StatusAwaitingSignature)
	e.emitter.Emit(attemptEvent(EventAwaitingSignature, req))
	signed, err := e.signer.Sign(ctx, req.Clone())
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			e.setStatus(StatusIdle)
			e.emitter.Emit(cancelledEvent(req, "caller_cancelled"))
			return nil, fmt.Errorf("%w: %v", ErrAttemptCancelled, err)
		}
		e.setStatus(StatusFailed)
		reason := "signature_rejected"
		wrapped := ErrSignatureRejected
		if errors.Is(err, ErrSignerUnavailable) {
			reason = "signer_unavailable"
			wrapped = ErrSignerUnavailable
		}
		e.emitter.Emit(failedEvent(req, reason, ""))
		return nil, fmt.Errorf("%w: %v", wrapped, err)
	}

	// A ledger mutation since building means the confirmed allocation this
	// request was priced from no longer stands.
	if e.session.Generation() != generation || !e.session.Ready() {
		e.setStatus(StatusIdle)
		e.emitter.Emit(cancelledEvent(req, "session_changed"))
		return nil, ErrSessionInvalidated
	}

	e.setStatus(StatusBroadcasting)
	e.emitter.Emit(attemptEvent(EventBroadcasting, req))
	txRef, err := e.caster.Submit(ctx, req.Clone(), signed)
	if err != nil {
		e.setStatus(StatusFailed)
		e.emitter.Emit(failedEvent(req, "broadcast_error", ""))
		return nil, fmt.Errorf("%w: %v", ErrBroadcastError, err)
	}

	// Past this point cancellation is not offered; the transfer is on the
	// wire and the engine waits for finality or the timeout.
	e.setStatus(StatusConfirming)
	e.emitter.Emit(confirmingEvent(req, txRef))
	finalityCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.confirmTimeout)
	err = e.caster.AwaitFinality(finalityCtx, txRef)
	cancel()
	if err != nil {
		e.setStatus(StatusFailed)
		if errors.Is(err, context.DeadlineExceeded) {
			// The transfer's true outcome is unknown: it may still finalize
			// after the timeout. The event keeps the reference for
			// out-of-band reconciliation.
			e.emitter.Emit(failedEvent(req, "confirm_timeout", txRef))
			return nil, fmt.Errorf("%w: tx %s", ErrConfirmationTimeout, txRef)
		}
		e.emitter.Emit(failedEvent(req, "finality_error", txRef))
		return nil, fmt.Errorf("%w: %v", ErrBroadcastError, err)
	}

	e.setStatus(StatusSettled)
	rec := history.Record{
		ID:           req.ID,
		Timestamp:    e.nowFn(),
		Restaurant:   e.restaurant,
		AmountCents:  req.FiatCents,
		Participants: int(e.session.Required()),
		Status:       history.StatusCompleted,
		TxRef:        txRef,
	}
	if err := e.store.Append(rec); err != nil {
		e.setStatus(StatusIdle)
		return nil, fmt.Errorf("settlement: record settled payment: %w", err)
	}
	e.emitter.Emit(settledEvent(req, txRef))
	e.accrueReward(participant)
	e.session.Reset()
	e.setStatus(StatusIdle)
	return &rec, nil
}

func (e *Engine) build(participant string) (*Request, error) {
	if !e.session.Ready() {
		return nil, ErrQuorumNotReached
	}
	fiatCents := e.session.CartTotal(participant)
	if fiatCents <= 0 {
		return nil, fmt.Errorf("%w: empty cart for %q", ErrNothingToSettle, participant)
	}
	quote, err := e.oracle.GetRate(e.fiatCurrency, e.assetSymbol)
	if err != nil {
		return nil, fmt.Errorf("settlement: fetch rate: %w", err)
	}
	amount, err := rates.ToBaseUnits(fiatCents, quote.Rate, e.assetDecimals)
	if err != nil {
		return nil, fmt.Errorf("settlement: convert amount: %w", err)
	}
	req := &Request{
		ID:           uuid.NewString(),
		Participant:  participant,
		FiatCents:    fiatCents,
		FiatCurrency: e.fiatCurrency,
		Amount:       amount,
		AssetSymbol:  e.assetSymbol,
		Recipient:    e.recipient,
		CreatedAt:    e.nowFn(),
	}
	if err := req.Sanitize(); err != nil {
		return nil, fmt.Errorf("settlement: build request: %w", err)
	}
	return req, nil
}

// accrueReward credits one loyalty token per completed settlement. Accrual
// failures never fail the settlement; they surface as a skip event.
func (e *Engine) accrueReward(participant string) {
	if e.rewards == nil {
		return
	}
	if err := e.rewards.Accrue(participant, 1); err != nil {
		e.emitter.Emit(rewardEvent(EventRewardSkipped, participant, 1, err.Error()))
		return
	}
	e.emitter.Emit(rewardEvent(EventRewardAccrued, participant, 1, ""))
}
