// Package stage defines the pipeline stage abstraction and the registry
// used to compose pipelines by name.
//
// A Stage transforms a stream of records into another stream. Streams are
// unbuffered channels pulled by the downstream consumer, so a stage only
// computes its next record when the consumer is ready for it and at most
// one record per stage is in flight ahead of the consumer.
//
// Most stages are written as a Processor, a per-record function lifted
// into a Stage with FromProcessor. The per-record seam is what resilience
// decorators wrap.
package stage

import (
	"context"
	stderrors "errors"

	"github.com/c360/flowline/record"
)

// Stage transforms a stream of records. Transform must return promptly
// with the output channel and do its work in a goroutine; the returned
// channel is closed after the input is exhausted or ctx is cancelled.
type Stage interface {
	// Name returns the stage's registered name.
	Name() string

	// Transform consumes records from in and produces records on the
	// returned channel. Each input record is consumed at most once.
	Transform(ctx context.Context, in <-chan *record.Record) <-chan *record.Record
}

// Processor handles one record at a time. Returning ErrDrop (possibly
// wrapped) removes the record from the stream without treating it as a
// failure. Any other error is a processing failure.
type Processor interface {
	// Name returns the processor's registered name.
	Name() string

	// Process transforms a single record.
	Process(ctx context.Context, rec *record.Record) (*record.Record, error)
}

// ErrDrop signals that a record should be filtered out of the stream.
// It is not a failure and is never retried or dead-lettered.
var ErrDrop = stderrors.New("record dropped")

// IsDrop reports whether err means the record was deliberately filtered.
func IsDrop(err error) bool {
	return stderrors.Is(err, ErrDrop)
}

// ErrorHandler is invoked with each record whose processing failed.
// Records that fail are removed from the stream after the handler runs.
type ErrorHandler func(rec *record.Record, err error)

// processorStage lifts a Processor into a Stage.
type processorStage struct {
	proc    Processor
	onError ErrorHandler
}

// ProcessorOption configures FromProcessor.
type ProcessorOption func(*processorStage)

// WithErrorHandler sets the handler invoked for failed records. Without
// one, failed records are silently dropped.
func WithErrorHandler(h ErrorHandler) ProcessorOption {
	return func(s *processorStage) {
		s.onError = h
	}
}

// FromProcessor lifts a per-record Processor into a streaming Stage.
// The output channel is unbuffered, so the stage computes records lazily
// as the downstream consumer pulls them.
func FromProcessor(proc Processor, options ...ProcessorOption) Stage {
	s := &processorStage{proc: proc}
	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *processorStage) Name() string {
	return s.proc.Name()
}

// Process exposes the underlying per-record seam, so a lifted stage can
// still run in a worker pool or under a resilience decorator. A configured
// error handler fires here the same as on the streaming path.
func (s *processorStage) Process(ctx context.Context, rec *record.Record) (*record.Record, error) {
	result, err := s.proc.Process(ctx, rec)
	if err != nil && !IsDrop(err) && s.onError != nil {
		s.onError(rec, err)
	}
	return result, err
}

func (s *processorStage) Transform(ctx context.Context, in <-chan *record.Record) <-chan *record.Record {
	out := make(chan *record.Record)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-in:
				if !ok {
					return
				}

				result, err := s.proc.Process(ctx, rec)
				if err != nil {
					if !IsDrop(err) && s.onError != nil {
						s.onError(rec, err)
					}
					continue
				}

				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// AsProcessor returns the per-record seam of a stage when it has one.
// Stages built with FromProcessor (including all registry factories that
// lift processors) qualify; hand-written streaming stages may not.
func AsProcessor(s Stage) (Processor, bool) {
	p, ok := s.(Processor)
	return p, ok
}

// Func adapts a plain function into a Processor.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, rec *record.Record) (*record.Record, error)
}

func (f Func) Name() string { return f.StageName }

func (f Func) Process(ctx context.Context, rec *record.Record) (*record.Record, error) {
	return f.Fn(ctx, rec)
}
