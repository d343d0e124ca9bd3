// Package accumulator provides a bounded accumulator for collecting
// values under a fixed memory ceiling. Appending never blocks and never
// fails: once capacity is reached the oldest value is dropped to make
// room, oldest-first. Useful for dead-letter collections, recent-event
// windows, and result buffers that must not grow without bound.
package accumulator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/metric"
)

// DropCallback is invoked with each value dropped to make room.
type DropCallback[T any] func(value T)

// Stats describes an accumulator's counters at a point in time.
type Stats struct {
	// TotalCount is the number of values ever appended.
	TotalCount int64 `json:"total_count"`

	// Stored is the number of values currently held.
	Stored int `json:"stored"`

	// Dropped is the number of values evicted to stay within capacity.
	Dropped int64 `json:"dropped"`

	// Capacity is the fixed maximum number of stored values.
	Capacity int `json:"capacity"`
}

// Bounded is a thread-safe fixed-capacity accumulator backed by a ring
// buffer. Append is O(1) and never blocks.
type Bounded[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // index of the oldest value
	stored   int
	total    int64
	dropped  int64
	dropFn   DropCallback[T]
	droppedM prometheus.Counter
}

// Option configures a Bounded accumulator.
type Option[T any] func(*Bounded[T])

// WithDropCallback sets a callback invoked with each evicted value.
// The callback runs outside the accumulator lock.
func WithDropCallback[T any](fn DropCallback[T]) Option[T] {
	return func(b *Bounded[T]) {
		b.dropFn = fn
	}
}

// WithDropMetric publishes a drop counter labeled with the accumulator
// name. Ignored when registry is nil.
func WithDropMetric[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(b *Bounded[T]) {
		if registry == nil || name == "" {
			return
		}
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "flowline",
			Subsystem:   "accumulator",
			Name:        "dropped_total",
			ConstLabels: prometheus.Labels{"accumulator": name},
			Help:        "Total number of values dropped to stay within capacity",
		})
		if err := registry.RegisterCounter(name, "accumulator_dropped", counter); err == nil {
			b.droppedM = counter
		}
	}
}

// NewBounded creates a bounded accumulator holding at most capacity values.
func NewBounded[T any](capacity int, options ...Option[T]) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "accumulator", "NewBounded",
			"capacity must be positive")
	}

	b := &Bounded[T]{
		buf: make([]T, capacity),
	}
	for _, opt := range options {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Append adds a value. When the accumulator is full the oldest value is
// dropped to make room. Append never blocks and never fails.
func (b *Bounded[T]) Append(value T) {
	var dropped T
	var didDrop bool

	b.mu.Lock()
	if b.stored == len(b.buf) {
		dropped = b.buf[b.head]
		didDrop = true
		b.buf[b.head] = value
		b.head = (b.head + 1) % len(b.buf)
		b.dropped++
	} else {
		b.buf[(b.head+b.stored)%len(b.buf)] = value
		b.stored++
	}
	b.total++
	b.mu.Unlock()

	if didDrop {
		if b.droppedM != nil {
			b.droppedM.Inc()
		}
		if b.dropFn != nil {
			b.dropFn(dropped)
		}
	}
}

// Snapshot returns all stored values in insertion order, oldest first.
func (b *Bounded[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.stored)
	for i := 0; i < b.stored; i++ {
		out[i] = b.buf[(b.head+i)%len(b.buf)]
	}
	return out
}

// Recent returns the n most recently appended values in insertion order.
// When fewer than n values are stored, all of them are returned.
func (b *Bounded[T]) Recent(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.stored {
		n = b.stored
	}
	if n <= 0 {
		return nil
	}

	out := make([]T, n)
	start := b.stored - n
	for i := 0; i < n; i++ {
		out[i] = b.buf[(b.head+start+i)%len(b.buf)]
	}
	return out
}

// Len returns the number of values currently stored.
func (b *Bounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stored
}

// Stats returns the accumulator's counters.
func (b *Bounded[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		TotalCount: b.total,
		Stored:     b.stored,
		Dropped:    b.dropped,
		Capacity:   len(b.buf),
	}
}

// Reset discards all stored values. Counters for totals and drops are
// preserved.
func (b *Bounded[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.head = 0
	b.stored = 0
}
