package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/eventlog"
	"github.com/c360/flowline/record"
)

// Multi fans records out to several child sinks in registration order.
// Every record is delivered to every child. A child's failure is
// isolated by default: it is logged, the child stops receiving, and the
// remaining children keep consuming. A child that returns nil before its
// input is exhausted is dropped from the fan-out the same way, without
// the error handling. With FailFast the first child failure aborts the
// whole consume.
type Multi struct {
	children []Sink
	failFast bool
	log      *eventlog.Logger

	delivered int64
}

// MultiOption configures a Multi sink.
type MultiOption func(*Multi)

// FailFast aborts all children on the first child failure.
func FailFast() MultiOption {
	return func(m *Multi) {
		m.failFast = true
	}
}

// WithEventLogger logs isolated child failures.
func WithEventLogger(log *eventlog.Logger) MultiOption {
	return func(m *Multi) {
		m.log = log
	}
}

// NewMulti creates a fan-out sink over the given children.
func NewMulti(children []Sink, options ...MultiOption) (*Multi, error) {
	if len(children) == 0 {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "sink.Multi", "NewMulti",
			"at least one child sink required")
	}
	for i, child := range children {
		if child == nil {
			return nil, errors.WrapInterface(errors.ErrInvalidConfig, "sink.Multi", "NewMulti",
				fmt.Sprintf("child sink %d is nil", i))
		}
	}

	m := &Multi{children: children}
	for _, opt := range options {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Multi) Name() string { return "multi" }

// Consume duplicates each record to a per-child channel, pulled by one
// goroutine per child. Delivery to children blocks on the slowest
// healthy child, so fan-out preserves backpressure.
func (m *Multi) Consume(ctx context.Context, in <-chan *record.Record) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chans := make([]chan *record.Record, len(m.children))
	alive := make([]atomic.Bool, len(m.children))
	for i := range chans {
		chans[i] = make(chan *record.Record)
		alive[i].Store(true)
	}

	var wg sync.WaitGroup
	childErrs := make([]error, len(m.children))

	for i, child := range m.children {
		wg.Add(1)
		go func(i int, child Sink) {
			defer wg.Done()
			err := child.Consume(ctx, chans[i])
			// A child that returned stops receiving whether it failed or
			// finished early; either way it no longer reads its channel.
			alive[i].Store(false)
			if err != nil {
				childErrs[i] = err
				if m.log != nil {
					m.log.Error("sink.multi", "child_sink_failed", map[string]any{
						"sink":  child.Name(),
						"error": err.Error(),
					})
				}
				if m.failFast {
					cancel()
				}
			}
			// Keep the fan-out from stalling on this child's channel.
			for range chans[i] {
			}
		}(i, child)
	}

	var consumeErr error
dispatch:
	for {
		select {
		case rec, ok := <-in:
			if !ok {
				break dispatch
			}
			atomic.AddInt64(&m.delivered, 1)
			for i := range chans {
				if !alive[i].Load() {
					continue
				}
				select {
				case chans[i] <- rec:
				case <-ctx.Done():
					consumeErr = ctx.Err()
					break dispatch
				}
			}
		case <-ctx.Done():
			consumeErr = ctx.Err()
			break dispatch
		}
	}

	for i := range chans {
		close(chans[i])
	}
	wg.Wait()

	if m.failFast {
		for _, err := range childErrs {
			if err != nil {
				return err
			}
		}
	}
	return consumeErr
}

// Delivered returns how many records were fanned out.
func (m *Multi) Delivered() int64 {
	return atomic.LoadInt64(&m.delivered)
}
