package loyalty

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"tabsplit/storage"
)

// ErrInvalidAccrual rejects non-positive token grants.
var ErrInvalidAccrual = errors.New("loyalty: accrual must be positive")

// Counter is a key-value backed token balance store. It implements
// BalanceSource for reads and serves as the settlement engine's reward
// accruer for writes.
type Counter struct {
	mu sync.Mutex
	db storage.Database
}

// NewCounter wraps the given database.
func NewCounter(db storage.Database) *Counter {
	return &Counter{db: db}
}

func balanceKey(participant string) []byte {
	return []byte("loyalty/balance/" + strings.TrimSpace(participant))
}

// TokenBalance implements BalanceSource.
func (c *Counter) TokenBalance(participant string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(participant)
}

// Accrue credits tokens to the participant's balance.
func (c *Counter) Accrue(participant string, tokens int64) error {
	if tokens <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAccrual, tokens)
	}
	if strings.TrimSpace(participant) == "" {
		return fmt.Errorf("loyalty: participant required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, err := c.balanceLocked(participant)
	if err != nil {
		return err
	}
	return c.db.Put(balanceKey(participant), []byte(strconv.FormatInt(balance+tokens, 10)))
}

func (c *Counter) balanceLocked(participant string) (int64, error) {
	raw, err := c.db.Get(balanceKey(participant))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	balance, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("loyalty: corrupt balance for %s: %w", participant, err)
	}
	return balance, nil
}
