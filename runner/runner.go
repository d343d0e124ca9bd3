// Package runner drives a source through a pipeline into a sink under
// a concurrency strategy, producing a measured report of the run.
//
// Strategies:
//
//   - Sequential: the pipeline's stages pull cooperatively through
//     unbuffered channels, one goroutine per hop. Order preserving.
//   - WorkerPool: a bounded ingest queue feeds a fixed pool of workers,
//     each applying the per-record processor chain. Order independent;
//     a full queue blocks ingestion (backpressure).
//   - Async: like WorkerPool, but ingestion runs as its own task so the
//     caller's goroutine is never the producer.
//
// Shutdown is cooperative: cancelling the context stops ingestion and
// closes the queue, which acts as the per-worker stop sentinel. Workers
// finish the record they hold; records still queued are flushed to the
// dead-letter store rather than silently lost.
package runner

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/eventlog"
	"github.com/c360/flowline/metric"
	"github.com/c360/flowline/pipeline"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/resilience"
	"github.com/c360/flowline/sink"
	"github.com/c360/flowline/source"
	"github.com/c360/flowline/stage"
)

// Strategy selects the concurrency model for a run.
type Strategy string

const (
	// StrategySequential pulls records through the pipeline one hop at
	// a time.
	StrategySequential Strategy = "sequential"

	// StrategyWorkerPool processes records concurrently in a fixed pool
	// behind a bounded queue.
	StrategyWorkerPool Strategy = "worker_pool"

	// StrategyAsync adds a dedicated ingestion task in front of the
	// worker pool.
	StrategyAsync Strategy = "async"
)

// ErrShutdown marks records flushed to the dead-letter store during
// shutdown rather than failed by processing.
var ErrShutdown = stderrors.New("runner shutting down")

// Config controls a run.
type Config struct {
	// Strategy defaults to Sequential.
	Strategy Strategy `json:"strategy"`

	// Workers is the pool size for WorkerPool and Async. Defaults to 4.
	Workers int `json:"workers"`

	// QueueSize bounds the ingest queue for WorkerPool and Async.
	// Defaults to 64. A full queue blocks the producer.
	QueueSize int `json:"queue_size"`

	// MemorySampleInterval controls peak-memory sampling resolution.
	MemorySampleInterval time.Duration `json:"memory_sample_interval"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Strategy {
	case "", StrategySequential, StrategyWorkerPool, StrategyAsync:
	default:
		return errors.WrapConfig(errors.ErrInvalidConfig, "runner", "Validate",
			"unknown strategy "+string(c.Strategy))
	}
	if c.Workers < 0 {
		return errors.WrapConfig(errors.ErrInvalidConfig, "runner", "Validate",
			"workers cannot be negative")
	}
	if c.QueueSize < 0 {
		return errors.WrapConfig(errors.ErrInvalidConfig, "runner", "Validate",
			"queue_size cannot be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySequential
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Runner executes one run of source through stages into a sink.
type Runner struct {
	cfg  Config
	src  source.Source
	pipe *pipeline.Pipeline
	ch   *chain
	snk  sink.Sink

	deadLetters *resilience.DeadLetterStore
	log         *eventlog.Logger
	metrics     *metric.Metrics

	dropped int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithDeadLetterStore shares a dead-letter store with the run, so
// shutdown flushes and stage wrappers feed one collection.
func WithDeadLetterStore(store *resilience.DeadLetterStore) Option {
	return func(r *Runner) {
		if store != nil {
			r.deadLetters = store
		}
	}
}

// WithEventLogger emits run lifecycle events.
func WithEventLogger(log *eventlog.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithMetrics publishes queue depth and drop counters to prometheus.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(r *Runner) {
		if reg != nil {
			r.metrics = reg.CoreMetrics()
		}
	}
}

// NewSequential creates a runner that streams the source through a
// stage pipeline into the sink.
func NewSequential(src source.Source, pipe *pipeline.Pipeline, snk sink.Sink, cfg Config, options ...Option) (*Runner, error) {
	cfg.Strategy = StrategySequential
	return newRunner(src, pipe, nil, snk, cfg, options...)
}

// NewWorkerPool creates a runner that applies a per-record processor
// chain in a bounded worker pool.
func NewWorkerPool(src source.Source, procs []stage.Processor, snk sink.Sink, cfg Config, options ...Option) (*Runner, error) {
	if cfg.Strategy != StrategyAsync {
		cfg.Strategy = StrategyWorkerPool
	}
	return newRunner(src, nil, procs, snk, cfg, options...)
}

// NewAsync creates a worker-pool runner with a dedicated ingestion task.
func NewAsync(src source.Source, procs []stage.Processor, snk sink.Sink, cfg Config, options ...Option) (*Runner, error) {
	cfg.Strategy = StrategyAsync
	return newRunner(src, nil, procs, snk, cfg, options...)
}

func newRunner(src source.Source, pipe *pipeline.Pipeline, procs []stage.Processor, snk sink.Sink, cfg Config, options ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if src == nil {
		return nil, errors.WrapInterface(errors.ErrInvalidConfig, "runner", "New", "source validation")
	}
	if snk == nil {
		return nil, errors.WrapInterface(errors.ErrInvalidConfig, "runner", "New", "sink validation")
	}
	if cfg.Strategy == StrategySequential && pipe == nil {
		return nil, errors.WrapInterface(errors.ErrInvalidConfig, "runner", "New", "pipeline validation")
	}

	r := &Runner{cfg: cfg, src: src, pipe: pipe, snk: snk}
	if procs != nil {
		for i, p := range procs {
			if p == nil {
				return nil, errors.WrapInterface(errors.ErrNilStage, "runner", "New",
					"processor validation at index "+strconv.Itoa(i))
			}
		}
		r.ch = newChain(procs)
	}

	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}

	if r.deadLetters == nil {
		store, err := resilience.NewDeadLetterStore(resilience.DefaultDeadLetterCapacity)
		if err != nil {
			return nil, err
		}
		r.deadLetters = store
	}

	return r, nil
}

// DeadLetters returns the run's dead-letter store.
func (r *Runner) DeadLetters() *resilience.DeadLetterStore {
	return r.deadLetters
}

// Run executes the pipeline to completion (or cancellation) and returns
// the measured report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	sampler := newMemSampler(r.cfg.MemorySampleInterval)
	sampler.start()
	start := time.Now()
	deadBefore := r.deadLetters.Total()

	in, err := r.src.Stream(ctx)
	if err != nil {
		sampler.finish()
		return Report{}, err
	}

	var recordsIn, recordsOut int64
	counted := countChannel(ctx, in, &recordsIn)

	var runErr error
	switch r.cfg.Strategy {
	case StrategySequential:
		runErr = r.runSequential(ctx, counted, &recordsOut, deadBefore)
	default:
		runErr = r.runPool(ctx, counted, &recordsOut)
	}

	report := Report{
		Strategy:     r.cfg.Strategy,
		Elapsed:      time.Since(start),
		RecordsIn:    atomic.LoadInt64(&recordsIn),
		RecordsOut:   atomic.LoadInt64(&recordsOut),
		Dropped:      atomic.LoadInt64(&r.dropped),
		DeadLettered: r.deadLetters.Total() - deadBefore,
		PerStageRPS:  r.perStageRPS(),
		PeakMemoryKb: sampler.finish(),
	}

	if r.log != nil {
		r.emitStageEvents()
		r.log.Info("runner", "run_completed", map[string]any{
			"strategy":      string(report.Strategy),
			"records_in":    report.RecordsIn,
			"records_out":   report.RecordsOut,
			"dropped":       report.Dropped,
			"dead_lettered": report.DeadLettered,
			"elapsed_ms":    report.Elapsed.Milliseconds(),
		})
	}

	return report, runErr
}

func (r *Runner) emitStageEvents() {
	if r.ch != nil {
		for _, p := range r.ch.procs {
			r.log.StageCompleted(p.proc.Name(),
				atomic.LoadInt64(&p.recordsIn), atomic.LoadInt64(&p.recordsOut), p.busyTime())
		}
		return
	}
	for _, m := range r.pipe.Metrics() {
		r.log.StageCompleted(m.Stage, m.RecordsIn, m.RecordsOut, m.BusyTime)
	}
}

func (r *Runner) perStageRPS() map[string]float64 {
	if r.ch != nil {
		return r.ch.perStageRPS()
	}
	out := make(map[string]float64)
	for _, m := range r.pipe.Metrics() {
		out[m.Stage] = m.RPS
	}
	return out
}

// countChannel tees a stream while counting records through it.
func countChannel(ctx context.Context, in <-chan *record.Record, counter *int64) <-chan *record.Record {
	out := make(chan *record.Record)
	go func() {
		defer close(out)
		for rec := range in {
			atomic.AddInt64(counter, 1)
			select {
			case out <- rec:
			case <-ctx.Done():
				// The record was pulled from the source but never
				// processed; account for it.
				atomic.AddInt64(counter, -1)
				return
			}
		}
	}()
	return out
}

func (r *Runner) runSequential(ctx context.Context, in <-chan *record.Record, recordsOut *int64, deadBefore int64) error {
	out := r.pipe.Through(ctx, in)
	countedOut := countChannel(ctx, out, recordsOut)

	err := r.snk.Consume(ctx, countedOut)

	// Drops are whatever entered stages but neither left nor
	// dead-lettered; derived after the stream settles.
	metrics := r.pipe.Metrics()
	if len(metrics) > 0 {
		var dropped int64
		for _, m := range metrics {
			dropped += m.RecordsIn - m.RecordsOut
		}
		dropped -= r.deadLetters.Total() - deadBefore
		if dropped > 0 {
			atomic.StoreInt64(&r.dropped, dropped)
		}
		if r.metrics != nil {
			for _, m := range metrics {
				if delta := m.RecordsIn - m.RecordsOut; delta > 0 {
					r.metrics.RecordsDropped.WithLabelValues(m.Stage).Add(float64(delta))
				}
			}
		}
	}
	return err
}

func (r *Runner) runPool(ctx context.Context, in <-chan *record.Record, recordsOut *int64) error {
	queue := make(chan *record.Record, r.cfg.QueueSize)
	results := make(chan *record.Record)

	// Ingestion: moves source records into the bounded queue. Blocking
	// send is the backpressure mechanism. Closing the queue is the stop
	// sentinel for workers.
	ingestDone := make(chan struct{})
	go func() {
		defer close(queue)
		defer close(ingestDone)
		for {
			select {
			case rec, ok := <-in:
				if !ok {
					return
				}
				select {
				case queue <- rec:
					if r.metrics != nil {
						r.metrics.QueueDepth.Set(float64(len(queue)))
					}
				case <-ctx.Done():
					r.flushToDeadLetter(rec)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range queue {
				if r.metrics != nil {
					r.metrics.QueueDepth.Set(float64(len(queue)))
				}
				if ctx.Err() != nil {
					// Shutdown: flush instead of process.
					r.flushToDeadLetter(rec)
					continue
				}
				out, failedStage, err := r.ch.process(ctx, rec)
				if err != nil {
					switch {
					case stage.IsDrop(err):
						atomic.AddInt64(&r.dropped, 1)
						if r.metrics != nil {
							r.metrics.RecordsDropped.WithLabelValues(failedStage).Inc()
						}
					case resilience.IsHandled(err):
						// Already dead-lettered by the stage's wrapper.
					default:
						r.deadLetters.Add(resilience.DeadLetter{
							Record: rec,
							Stage:  failedStage,
							Err:    err,
							Reason: err.Error(),
							Time:   time.Now(),
						})
					}
					continue
				}
				select {
				case results <- out:
				case <-ctx.Done():
					r.flushToDeadLetter(out)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	countedResults := countChannel(context.Background(), results, recordsOut)
	sinkErr := r.snk.Consume(context.Background(), countedResults)

	<-ingestDone
	if sinkErr != nil {
		return sinkErr
	}
	return ctx.Err()
}

func (r *Runner) flushToDeadLetter(rec *record.Record) {
	if rec == nil {
		return
	}
	r.deadLetters.Add(resilience.DeadLetter{
		Record: rec,
		Stage:  "runner",
		Err:    ErrShutdown,
		Reason: ErrShutdown.Error(),
		Time:   time.Now(),
	})
}
