package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"tabsplit/storage"
)

// Status is the terminal outcome recorded for a settlement attempt.
type Status string

const (
	// StatusCompleted marks settlements that reached network finality.
	StatusCompleted Status = "completed"
	// StatusFailed marks attempts recorded by an operator after a failure.
	StatusFailed Status = "failed"
)

// Valid reports whether the status is one of the supported terminal values.
func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Record is one completed settlement. Records are immutable once appended.
// TxRef is present only if a broadcast occurred.
type Record struct {
	ID           string `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	Restaurant   string `json:"restaurant"`
	AmountCents  int64  `json:"amountCents"`
	Participants int    `json:"participants"`
	Status       Status `json:"status"`
	TxRef        string `json:"txRef,omitempty"`
}

var (
	errInvalidRecord = errors.New("history: invalid record")

	keySeq       = []byte("history/seq")
	recKeyFormat = "history/rec/%020d"
)

// Store is an append-only, most-recent-first log of settlement records over a
// key-value database. There is no delete operation.
type Store struct {
	mu sync.Mutex
	db storage.Database
}

// NewStore wraps the given database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Append inserts the record at the head of the history.
func (s *Store) Append(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: missing id", errInvalidRecord)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", errInvalidRecord, rec.Status)
	}
	if rec.AmountCents < 0 {
		return fmt.Errorf("%w: negative amount", errInvalidRecord)
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.seqLocked()
	if err != nil {
		return err
	}
	seq++
	if err := s.db.Put([]byte(fmt.Sprintf(recKeyFormat, seq)), encoded); err != nil {
		return err
	}
	return s.db.Put(keySeq, []byte(fmt.Sprintf("%d", seq)))
}

// List returns records most-recent-first. A non-positive limit returns the
// full history.
func (s *Store) List(limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.seqLocked()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0)
	for i := seq; i >= 1; i-- {
		if limit > 0 && len(records) >= limit {
			break
		}
		raw, err := s.db.Get([]byte(fmt.Sprintf(recKeyFormat, i)))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Len reports the number of stored records.
func (s *Store) Len() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqLocked()
}

// Seed appends the given records oldest-first, but only into an empty store.
// Used by the demo daemon to prefill history.
func (s *Store) Seed(records []Record) error {
	count, err := s.Len()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, rec := range records {
		if err := s.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seqLocked() (uint64, error) {
	raw, err := s.db.Get(keySeq)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &seq); err != nil {
		return 0, fmt.Errorf("history: corrupt sequence counter: %w", err)
	}
	return seq, nil
}
