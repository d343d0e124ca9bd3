// Package sink provides terminal consumers for pipeline output streams.
// A sink drains its input channel completely; leaving records behind
// stalls the upstream stages.
package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/record"
)

// Sink consumes the terminal stream of a pipeline.
type Sink interface {
	// Name identifies the sink for logging and reporting.
	Name() string

	// Consume drains records from in until it closes or ctx is
	// cancelled. Implementations must keep pulling even when individual
	// records fail to deliver.
	Consume(ctx context.Context, in <-chan *record.Record) error
}

// Collect gathers all records into memory. Intended for tests and small
// batch runs.
type Collect struct {
	mu      sync.Mutex
	records []*record.Record
}

// NewCollect creates an empty collecting sink.
func NewCollect() *Collect {
	return &Collect{}
}

func (c *Collect) Name() string { return "collect" }

func (c *Collect) Consume(ctx context.Context, in <-chan *record.Record) error {
	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			c.mu.Lock()
			c.records = append(c.records, rec)
			c.mu.Unlock()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Records returns the collected records in arrival order.
func (c *Collect) Records() []*record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*record.Record, len(c.records))
	copy(out, c.records)
	return out
}

// Counting counts records without retaining them.
type Counting struct {
	count int64
}

// NewCounting creates a counting sink.
func NewCounting() *Counting {
	return &Counting{}
}

func (c *Counting) Name() string { return "counting" }

func (c *Counting) Consume(ctx context.Context, in <-chan *record.Record) error {
	for {
		select {
		case _, ok := <-in:
			if !ok {
				return nil
			}
			atomic.AddInt64(&c.count, 1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Count returns the number of records consumed so far.
func (c *Counting) Count() int64 {
	return atomic.LoadInt64(&c.count)
}

// Writer serializes records as NDJSON, one object per line.
type Writer struct {
	name string
	w    io.Writer
	mu   sync.Mutex

	written int64
}

// NewWriter creates an NDJSON sink over w.
func NewWriter(name string, w io.Writer) (*Writer, error) {
	if w == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "sink.Writer", "NewWriter",
			"writer required")
	}
	if name == "" {
		name = "writer"
	}
	return &Writer{name: name, w: w}, nil
}

func (s *Writer) Name() string { return s.name }

func (s *Writer) Consume(ctx context.Context, in <-chan *record.Record) error {
	enc := json.NewEncoder(s.w)
	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			s.mu.Lock()
			err := enc.Encode(rec)
			s.mu.Unlock()
			if err != nil {
				return errors.WrapPermanent(err, "sink.Writer", "Consume", "encode record")
			}
			atomic.AddInt64(&s.written, 1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Written returns how many records were serialized.
func (s *Writer) Written() int64 {
	return atomic.LoadInt64(&s.written)
}
