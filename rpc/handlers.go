package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tabsplit/native/loyalty"
	"tabsplit/native/rates"
	"tabsplit/native/receipt"
	"tabsplit/native/settlement"
	"tabsplit/native/split"
	"tabsplit/observability"
)

type scanRequest struct {
	Payload string `json:"payload"`
}

type claimRequest struct {
	Participant string `json:"participant"`
	ItemID      string `json:"itemId"`
	Count       int64  `json:"count"`
}

type confirmRequest struct {
	Participant string `json:"participant"`
}

type itemView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int64  `json:"quantity"`
	Remaining      int64  `json:"remaining"`
}

type sessionView struct {
	State          string     `json:"state"`
	Items          []itemView `json:"items"`
	FullyAllocated bool       `json:"fullyAllocated"`
	Confirmed      uint32     `json:"confirmed"`
	Required       uint32     `json:"required"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !s.decode(w, r, &req) {
		return
	}
	items, err := receipt.Parse([]byte(req.Payload))
	if err != nil {
		s.fail(w, "scan", err)
		return
	}
	if err := s.ledger.LoadReceipt(items); err != nil {
		s.fail(w, "scan", err)
		return
	}
	observability.CoordinatorMetrics().ObserveRequest("scan", "ok")
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.handleCartMutation(w, r, "claim", s.ledger.Claim)
}

func (s *Server) handleUnclaim(w http.ResponseWriter, r *http.Request) {
	s.handleCartMutation(w, r, "unclaim", s.ledger.Unclaim)
}

func (s *Server) handleCartMutation(w http.ResponseWriter, r *http.Request, op string, mutate func(string, string, int64) error) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if err := mutate(req.Participant, req.ItemID, req.Count); err != nil {
		s.fail(w, op, err)
		return
	}
	observability.CoordinatorMetrics().ObserveRequest(op, "ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"session":        s.sessionView(),
		"cart":           cartViews(s.ledger.Cart(req.Participant)),
		"cartTotalCents": s.ledger.CartTotal(req.Participant),
	})
}

type cartEntryView struct {
	ItemID         string `json:"itemId"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int64  `json:"quantity"`
	SubtotalCents  int64  `json:"subtotalCents"`
}

func cartViews(entries []split.CartEntry) []cartEntryView {
	views := make([]cartEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, cartEntryView{
			ItemID:         entry.ItemID,
			Name:           entry.Name,
			UnitPriceCents: entry.UnitPriceCents,
			Quantity:       entry.Quantity,
			SubtotalCents:  entry.SubtotalCents(),
		})
	}
	return views
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ledger.Confirm(req.Participant); err != nil {
		s.fail(w, "confirm", err)
		return
	}
	observability.CoordinatorMetrics().ObserveRequest("confirm", "ok")
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.ledger.Reset()
	observability.CoordinatorMetrics().ObserveRequest("reset", "ok")
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}

	// The attempt outlives the HTTP request context so a dropped client
	// connection does not cancel an approved payment; the explicit cancel
	// endpoint is the only caller-driven abort. The cancel handle is
	// registered only when no attempt holds it, so a rejected concurrent
	// request cannot orphan the in-flight attempt.
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.settleCancel != nil {
		s.mu.Unlock()
		cancel()
		s.fail(w, "pay", settlement.ErrAttemptInProgress)
		return
	}
	s.settleCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.settleCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	started := time.Now()
	rec, err := s.settler.Settle(ctx, req.Participant)
	if err != nil {
		observability.CoordinatorMetrics().ObserveSettlement(settleOutcome(err), time.Since(started))
		s.fail(w, "pay", err)
		return
	}
	observability.CoordinatorMetrics().ObserveSettlement("settled", time.Since(started))
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	cancel := s.settleCancel
	s.mu.Unlock()
	if cancel == nil {
		writeError(w, http.StatusConflict, "no settlement attempt in flight")
		return
	}
	cancel()
	observability.CoordinatorMetrics().ObserveRequest("cancel", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"status": s.settler.Status().String()})
}

func (s *Server) handleSettlementStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.settler.Status().String()})
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := s.store.List(limit)
	if err != nil {
		s.fail(w, "payments", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleLoyalty(w http.ResponseWriter, r *http.Request) {
	participant := strings.TrimSpace(chi.URLParam(r, "participant"))
	if participant == "" {
		writeError(w, http.StatusBadRequest, "participant required")
		return
	}
	balance, err := s.loyalty.TokenBalance(participant)
	if err != nil {
		s.fail(w, "loyalty", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participant":     participant,
		"tokens":          balance,
		"discountPercent": loyalty.TierFor(balance),
		"nextTierGap":     loyalty.NextTierGap(balance),
	})
}

func (s *Server) sessionView() sessionView {
	items := s.ledger.Items()
	views := make([]itemView, 0, len(items))
	for i := range items {
		views = append(views, itemView{
			ID:             items[i].ID,
			Name:           items[i].Name,
			UnitPriceCents: items[i].UnitPriceCents,
			Quantity:       items[i].Quantity,
			Remaining:      items[i].Remaining(),
		})
	}
	return sessionView{
		State:          s.ledger.State().String(),
		Items:          views,
		FullyAllocated: s.ledger.FullyAllocated(),
		Confirmed:      s.ledger.ConfirmedCount(),
		Required:       s.ledger.Required(),
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer func() { _, _ = io.Copy(io.Discard, body) }()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	observability.CoordinatorMetrics().ObserveRequest(op, "error")
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, split.ErrInvalidReceipt),
		errors.Is(err, split.ErrInvalidCount),
		errors.Is(err, split.ErrInvalidParticipant),
		errors.Is(err, split.ErrUnknownItem),
		errors.Is(err, rates.ErrInvalidRate),
		errors.Is(err, rates.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, split.ErrNoReceipt),
		errors.Is(err, split.ErrInsufficientQuantity),
		errors.Is(err, split.ErrNothingToUnclaim),
		errors.Is(err, split.ErrAllocationIncomplete),
		errors.Is(err, split.ErrEmptyCart),
		errors.Is(err, split.ErrAlreadyConfirmed),
		errors.Is(err, split.ErrQuorumReached),
		errors.Is(err, settlement.ErrQuorumNotReached),
		errors.Is(err, settlement.ErrAttemptInProgress),
		errors.Is(err, settlement.ErrSessionInvalidated),
		errors.Is(err, settlement.ErrNothingToSettle),
		errors.Is(err, settlement.ErrAttemptCancelled):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, settlement.ErrSignatureRejected),
		errors.Is(err, settlement.ErrSignerUnavailable),
		errors.Is(err, settlement.ErrBroadcastError),
		errors.Is(err, rates.ErrNoFreshQuote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func settleOutcome(err error) string {
	switch {
	case errors.Is(err, settlement.ErrAttemptCancelled):
		return "cancelled"
	case errors.Is(err, settlement.ErrConfirmationTimeout):
		return "confirm_timeout"
	case errors.Is(err, settlement.ErrBroadcastError):
		return "broadcast_error"
	case errors.Is(err, settlement.ErrSignatureRejected), errors.Is(err, settlement.ErrSignerUnavailable):
		return "signature_rejected"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
