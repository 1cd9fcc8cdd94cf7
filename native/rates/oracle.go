package rates

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures a fiat-per-crypto-unit rate together with the timestamp
// reported by the upstream source and the source identifier.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// RateString renders the rate with the supplied decimal precision.
func (q PriceQuote) RateString(precision int) string {
	if q.Rate == nil {
		return ""
	}
	if precision < 0 {
		precision = 18
	}
	return q.Rate.FloatString(precision)
}

// PriceOracle resolves an exchange rate for the provided fiat/asset pair,
// quoted as fiat units per whole crypto unit.
type PriceOracle interface {
	GetRate(fiat, asset string) (PriceQuote, error)
}

// ErrNoFreshQuote indicates that no source produced a quote inside the
// configured freshness window.
var ErrNoFreshQuote = errors.New("rates: no fresh oracle quote available")

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Aggregator consults registered oracles in priority order until one returns
// a positive, sufficiently fresh quote. A stale or non-positive rate from one
// source falls through to the next.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	oracles  map[string]PriceOracle
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewAggregator constructs an empty aggregator with the given freshness
// window. A zero maxAge disables staleness filtering.
func NewAggregator(maxAge time.Duration) *Aggregator {
	return &Aggregator{
		oracles: make(map[string]PriceOracle),
		maxAge:  maxAge,
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the aggregator clock. Test hook.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// Register adds or replaces an oracle under the supplied identifier and
// appends it to the priority order when new.
func (a *Aggregator) Register(name string, oracle PriceOracle) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || oracle == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.oracles[trimmed]; !exists {
		a.priority = append(a.priority, trimmed)
	}
	a.oracles[trimmed] = oracle
}

// GetRate implements PriceOracle over the registered sources.
func (a *Aggregator) GetRate(fiat, asset string) (PriceQuote, error) {
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.nowFn
	a.mu.RUnlock()

	fiatSym := normalizeSymbol(fiat)
	assetSym := normalizeSymbol(asset)
	if fiatSym == "" || assetSym == "" {
		return PriceQuote{}, fmt.Errorf("rates: fiat and asset symbols required")
	}

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now().Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		oracle := a.oracles[name]
		a.mu.RUnlock()
		quote, err := oracle.GetRate(fiatSym, assetSym)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Rate == nil || quote.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("rates: source %s returned invalid rate", name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return PriceQuote{}, lastErr
}

// ManualOracle is an in-memory oracle used for tests and manual overrides.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	nowFn  func() time.Time
}

// NewManualOracle constructs an empty manual oracle.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote), nowFn: time.Now}
}

func manualKey(fiat, asset string) string {
	return normalizeSymbol(fiat) + "_" + normalizeSymbol(asset)
}

// Set stores the provided rational rate for the pair.
func (m *ManualOracle) Set(fiat, asset string, rate *big.Rat, ts time.Time) {
	if rate == nil {
		return
	}
	m.mu.Lock()
	m.quotes[manualKey(fiat, asset)] = PriceQuote{
		Rate:      new(big.Rat).Set(rate),
		Timestamp: ts,
		Source:    "manual",
	}
	m.mu.Unlock()
}

// SetDecimal records the supplied decimal rate, timestamped now.
func (m *ManualOracle) SetDecimal(fiat, asset, rate string) error {
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return fmt.Errorf("rates: manual rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("rates: invalid manual rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("rates: manual rate must be positive")
	}
	m.Set(fiat, asset, rat, m.nowFn())
	return nil
}

// GetRate implements PriceOracle.
func (m *ManualOracle) GetRate(fiat, asset string) (PriceQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quote, ok := m.quotes[manualKey(fiat, asset)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("rates: no manual rate for %s/%s", normalizeSymbol(fiat), normalizeSymbol(asset))
	}
	return quote.Clone(), nil
}
