package resilience

import (
	"time"

	"github.com/c360/flowline/pkg/accumulator"
	"github.com/c360/flowline/record"
)

// DeadLetter captures a record that permanently failed processing,
// together with enough context to diagnose or replay it.
type DeadLetter struct {
	Record   *record.Record `json:"record"`
	Stage    string         `json:"stage"`
	Err      error          `json:"-"`
	Reason   string         `json:"reason"`
	Attempts int            `json:"attempts"`
	Time     time.Time      `json:"time"`
}

// DeadLetterStore is a bounded in-memory collection of dead letters.
// When full, the oldest entries are discarded so the store never grows
// without bound.
type DeadLetterStore struct {
	letters *accumulator.Bounded[DeadLetter]
}

// DefaultDeadLetterCapacity bounds stores created without an explicit
// capacity.
const DefaultDeadLetterCapacity = 1000

// NewDeadLetterStore creates a store holding at most capacity entries.
func NewDeadLetterStore(capacity int, options ...accumulator.Option[DeadLetter]) (*DeadLetterStore, error) {
	letters, err := accumulator.NewBounded[DeadLetter](capacity, options...)
	if err != nil {
		return nil, err
	}
	return &DeadLetterStore{letters: letters}, nil
}

// Add appends a dead letter. Never blocks and never fails.
func (s *DeadLetterStore) Add(dl DeadLetter) {
	s.letters.Append(dl)
}

// Recent returns the n most recent dead letters, oldest first.
func (s *DeadLetterStore) Recent(n int) []DeadLetter {
	return s.letters.Recent(n)
}

// Snapshot returns all stored dead letters, oldest first.
func (s *DeadLetterStore) Snapshot() []DeadLetter {
	return s.letters.Snapshot()
}

// Total returns the number of records ever dead-lettered, including
// entries since discarded by the capacity bound.
func (s *DeadLetterStore) Total() int64 {
	return s.letters.Stats().TotalCount
}

// Len returns the number of dead letters currently stored.
func (s *DeadLetterStore) Len() int {
	return s.letters.Len()
}
