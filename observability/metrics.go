package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CoordinatorMetricsRegistry aggregates the counters and histograms recorded
// by the coordinator's RPC surface and settlement engine.
type CoordinatorMetricsRegistry struct {
	requests    *prometheus.CounterVec
	settlements *prometheus.CounterVec
	settleTime  prometheus.Histogram
}

var (
	coordinatorOnce     sync.Once
	coordinatorRegistry *CoordinatorMetricsRegistry
)

// CoordinatorMetrics returns the lazily-initialised metrics registry.
func CoordinatorMetrics() *CoordinatorMetricsRegistry {
	coordinatorOnce.Do(func() {
		coordinatorRegistry = &CoordinatorMetricsRegistry{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tabsplit",
				Subsystem: "coordinator",
				Name:      "requests_total",
				Help:      "Coordinator operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tabsplit",
				Subsystem: "settlement",
				Name:      "attempts_total",
				Help:      "Settlement attempts segmented by terminal outcome.",
			}, []string{"outcome"}),
			settleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tabsplit",
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "End-to-end settlement attempt latency.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
		}
		prometheus.MustRegister(
			coordinatorRegistry.requests,
			coordinatorRegistry.settlements,
			coordinatorRegistry.settleTime,
		)
	})
	return coordinatorRegistry
}

// ObserveRequest records one coordinator operation.
func (m *CoordinatorMetricsRegistry) ObserveRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, outcome).Inc()
}

// ObserveSettlement records a settlement attempt outcome and duration.
func (m *CoordinatorMetricsRegistry) ObserveSettlement(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.settleTime.Observe(elapsed.Seconds())
}
