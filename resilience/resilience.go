// Package resilience decorates per-record processors with retry,
// circuit breaking, dead-lettering and degradation so that one record's
// failure never halts the stream.
//
// Failure routing:
//
//   - Transient errors are retried with exponential backoff. Exhausting
//     all attempts dead-letters the record.
//   - Permanent errors skip retry and go straight to the dead-letter
//     store.
//   - Consecutive failures open the circuit breaker; while open, records
//     are served by the configured fallback (or the last successful
//     output), or dead-lettered with ErrCircuitOpen when no fallback is
//     configured.
//   - stage.ErrDrop is deliberate filtering, never a failure.
package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/eventlog"
	"github.com/c360/flowline/metric"
	"github.com/c360/flowline/pkg/breaker"
	"github.com/c360/flowline/pkg/retry"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// HandledError marks a failure whose record has already been routed to
// a dead-letter store, so outer layers do not account for it twice.
type HandledError struct {
	Err error
}

func (e *HandledError) Error() string { return e.Err.Error() }

func (e *HandledError) Unwrap() error { return e.Err }

// IsHandled reports whether the failed record was already dead-lettered.
func IsHandled(err error) bool {
	var handled *HandledError
	return stderrors.As(err, &handled)
}

// FallbackFunc produces a substitute record while the circuit is open.
// Returning an error dead-letters the record instead.
type FallbackFunc func(ctx context.Context, rec *record.Record) (*record.Record, error)

// Config controls the resilience behavior around one processor.
type Config struct {
	// Retry controls backoff for transient failures. Zero value retries
	// with package defaults; MaxAttempts 1 disables retry.
	Retry retry.Config

	// Breaker configures the circuit breaker. A zero FailureThreshold
	// disables circuit breaking.
	Breaker breaker.Config

	// DeadLetterCapacity bounds the dead-letter store when the wrapper
	// creates its own. Defaults to DefaultDeadLetterCapacity.
	DeadLetterCapacity int

	// Fallback, when set, serves records while the circuit is open.
	Fallback FallbackFunc

	// LastKnownGood serves the most recent successful output while the
	// circuit is open. Ignored when Fallback is set.
	LastKnownGood bool
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithEventLogger emits structured events for retry exhaustion,
// dead-lettering, degradation and circuit transitions.
func WithEventLogger(log *eventlog.Logger) Option {
	return func(w *Wrapper) {
		w.log = log
	}
}

// WithMetrics publishes retry, dead-letter and circuit-state metrics.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(w *Wrapper) {
		if reg != nil {
			w.metrics = reg.CoreMetrics()
		}
	}
}

// WithDeadLetterStore shares an existing dead-letter store, letting
// several wrapped stages feed one bounded collection.
func WithDeadLetterStore(store *DeadLetterStore) Option {
	return func(w *Wrapper) {
		if store != nil {
			w.deadLetters = store
		}
	}
}

// Wrapper decorates a stage.Processor with the failure policy from
// Config. It is itself a stage.Processor.
type Wrapper struct {
	proc        stage.Processor
	cfg         Config
	brk         *breaker.Breaker
	deadLetters *DeadLetterStore
	log         *eventlog.Logger
	metrics     *metric.Metrics

	lastGood atomic.Pointer[record.Record]

	mu        sync.Mutex
	fallbacks int64
}

// timeNow is swappable for tests.
var timeNow = time.Now

// Wrap decorates proc with the given failure policy.
func Wrap(proc stage.Processor, cfg Config, options ...Option) (*Wrapper, error) {
	if proc == nil {
		return nil, errors.WrapInterface(errors.ErrNilStage, "resilience", "Wrap",
			"processor validation")
	}

	w := &Wrapper{proc: proc, cfg: cfg}
	for _, opt := range options {
		if opt != nil {
			opt(w)
		}
	}

	if w.deadLetters == nil {
		capacity := cfg.DeadLetterCapacity
		if capacity <= 0 {
			capacity = DefaultDeadLetterCapacity
		}
		store, err := NewDeadLetterStore(capacity)
		if err != nil {
			return nil, err
		}
		w.deadLetters = store
	}

	if cfg.Breaker.FailureThreshold > 0 {
		bcfg := cfg.Breaker
		if bcfg.Name == "" {
			bcfg.Name = proc.Name()
		}
		userHook := bcfg.OnStateChange
		bcfg.OnStateChange = func(name string, from, to breaker.State) {
			if w.log != nil {
				w.log.CircuitStateChanged(name, from.String(), to.String())
			}
			if w.metrics != nil {
				w.metrics.CircuitState.WithLabelValues(name).Set(circuitStateValue(to))
			}
			if userHook != nil {
				userHook(name, from, to)
			}
		}
		w.brk = breaker.New(bcfg)
	}

	return w, nil
}

func circuitStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// Name returns the wrapped processor's name.
func (w *Wrapper) Name() string {
	return w.proc.Name()
}

// DeadLetters returns the wrapper's dead-letter store.
func (w *Wrapper) DeadLetters() *DeadLetterStore {
	return w.deadLetters
}

// CircuitState returns the breaker state, or StateClosed when circuit
// breaking is disabled.
func (w *Wrapper) CircuitState() breaker.State {
	if w.brk == nil {
		return breaker.StateClosed
	}
	return w.brk.State()
}

// Fallbacks returns how many records were served by degradation.
func (w *Wrapper) Fallbacks() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fallbacks
}

// Process runs the wrapped processor under the failure policy. Returned
// errors always mean the record left the stream: either deliberately
// (stage.ErrDrop) or into the dead-letter store.
func (w *Wrapper) Process(ctx context.Context, rec *record.Record) (*record.Record, error) {
	var out *record.Record
	var dropped bool
	attempts := 0

	op := func() error {
		attempts++
		result, err := w.proc.Process(ctx, rec)
		if err != nil {
			if stage.IsDrop(err) {
				dropped = true
				return nil
			}
			return err
		}
		out = result
		return nil
	}

	rcfg := w.cfg.Retry
	userOnRetry := rcfg.OnRetry
	rcfg.OnRetry = func(attempt int, err error) {
		if w.metrics != nil {
			w.metrics.RetriesTotal.WithLabelValues(w.proc.Name()).Inc()
		}
		if userOnRetry != nil {
			userOnRetry(attempt, err)
		}
	}

	var err error
	if w.brk != nil {
		err = w.brk.Execute(func() error {
			return retry.Do(ctx, rcfg, op)
		})
	} else {
		err = retry.Do(ctx, rcfg, op)
	}

	if err == nil {
		if dropped {
			return nil, stage.ErrDrop
		}
		if w.cfg.LastKnownGood && out != nil {
			w.lastGood.Store(out)
		}
		return out, nil
	}

	if stderrors.Is(err, errors.ErrCircuitOpen) {
		return w.degrade(ctx, rec)
	}

	if stderrors.Is(err, errors.ErrMaxRetriesExceeded) && w.log != nil {
		w.log.RetryExhausted(w.proc.Name(), rec.ID(), attempts, err)
	}

	w.deadLetter(rec, err, attempts)
	return nil, &HandledError{Err: err}
}

// degrade serves a record while the circuit is open. Without a fallback
// source the record is dead-lettered with ErrCircuitOpen.
func (w *Wrapper) degrade(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if w.cfg.Fallback != nil {
		out, err := w.cfg.Fallback(ctx, rec)
		if err == nil {
			w.recordFallback(rec, "fallback")
			return out, nil
		}
		w.deadLetter(rec, err, 0)
		return nil, &HandledError{Err: err}
	}

	if w.cfg.LastKnownGood {
		if last := w.lastGood.Load(); last != nil {
			w.recordFallback(rec, "last_known_good")
			return last.Clone(), nil
		}
	}

	err := errors.WrapTransient(errors.ErrCircuitOpen, w.proc.Name(), "Process",
		"record rejected while circuit open")
	w.deadLetter(rec, err, 0)
	return nil, &HandledError{Err: err}
}

func (w *Wrapper) recordFallback(rec *record.Record, mode string) {
	w.mu.Lock()
	w.fallbacks++
	w.mu.Unlock()
	if w.log != nil {
		w.log.Degraded(w.proc.Name(), rec.ID(), mode)
	}
}

func (w *Wrapper) deadLetter(rec *record.Record, err error, attempts int) {
	w.deadLetters.Add(DeadLetter{
		Record:   rec,
		Stage:    w.proc.Name(),
		Err:      err,
		Reason:   err.Error(),
		Attempts: attempts,
		Time:     timeNow(),
	})
	if w.metrics != nil {
		w.metrics.DeadLetterTotal.Inc()
		w.metrics.ErrorsTotal.WithLabelValues(w.proc.Name(), errors.Classify(err).String()).Inc()
	}
	if w.log != nil {
		w.log.DeadLettered(w.proc.Name(), rec.ID(), err.Error())
	}
}
