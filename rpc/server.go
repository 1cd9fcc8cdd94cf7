package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"tabsplit/history"
	"tabsplit/native/loyalty"
	"tabsplit/native/settlement"
	"tabsplit/native/split"
)

const maxRequestBody = 1 << 20

// Server exposes the coordinator over HTTP: session management, settlement,
// payment history and loyalty lookups.
type Server struct {
	ledger  *split.Engine
	settler *settlement.Engine
	store   *history.Store
	loyalty loyalty.BalanceSource
	logger  *slog.Logger
	limiter *rate.Limiter

	mu           sync.Mutex
	settleCancel context.CancelFunc
}

// NewServer wires the coordinator engines into an HTTP server.
func NewServer(ledger *split.Engine, settler *settlement.Engine, store *history.Store, balances loyalty.BalanceSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:  ledger,
		settler: settler,
		store:   store,
		loyalty: balances,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.throttle)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/split", func(sr chi.Router) {
		sr.Post("/scan", s.handleScan)
		sr.Post("/claim", s.handleClaim)
		sr.Post("/unclaim", s.handleUnclaim)
		sr.Post("/confirm", s.handleConfirm)
		sr.Post("/reset", s.handleReset)
		sr.Get("/session", s.handleSession)
	})
	r.Route("/settlement", func(sr chi.Router) {
		sr.Post("/pay", s.handlePay)
		sr.Post("/cancel", s.handleCancel)
		sr.Get("/status", s.handleSettlementStatus)
	})
	r.Get("/payments", s.handlePayments)
	r.Get("/loyalty/{participant}", s.handleLoyalty)

	return r
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
