package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flowline/metric"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// StageMetrics is a point-in-time throughput measurement for one stage.
// Throughput is records out over cumulative busy time. Stages built
// from a per-record processor are timed at that seam, so busy time is
// exactly the time spent inside Process and never includes waiting for
// upstream input; a starved stage is not mistaken for a slow one.
// Streaming-only stages fall back to timing output pulls, which can
// include upstream wait.
type StageMetrics struct {
	Stage      string        `json:"stage"`
	RecordsIn  int64         `json:"records_in"`
	RecordsOut int64         `json:"records_out"`
	BusyTime   time.Duration `json:"busy_time"`
	RPS        float64       `json:"rps"`
}

// instrumentedStage wraps a stage with in/out counters and busy-time
// accounting feeding the runner report and health dashboard.
type instrumentedStage struct {
	inner   stage.Stage
	metrics *metric.Metrics

	recordsIn  int64
	recordsOut int64

	mu   sync.Mutex
	busy time.Duration
}

func newInstrumentedStage(s stage.Stage) *instrumentedStage {
	return &instrumentedStage{inner: s}
}

func (s *instrumentedStage) Name() string {
	return s.inner.Name()
}

// timedProcessor interposes the busy clock around one Process call.
type timedProcessor struct {
	inst *instrumentedStage
	proc stage.Processor
}

func (p *timedProcessor) Name() string { return p.proc.Name() }

func (p *timedProcessor) Process(ctx context.Context, rec *record.Record) (*record.Record, error) {
	start := time.Now()
	out, err := p.proc.Process(ctx, rec)
	elapsed := time.Since(start)

	p.inst.addBusy(elapsed)
	if p.inst.metrics != nil {
		p.inst.metrics.StageDuration.WithLabelValues(p.proc.Name()).Observe(elapsed.Seconds())
	}
	return out, err
}

// Transform interposes counting channels around the inner stage. When
// the inner stage exposes its per-record seam, the busy clock wraps
// each Process call; otherwise it times output pulls.
func (s *instrumentedStage) Transform(ctx context.Context, in <-chan *record.Record) <-chan *record.Record {
	counted := make(chan *record.Record)
	go func() {
		defer close(counted)
		for {
			select {
			case rec, ok := <-in:
				if !ok {
					return
				}
				atomic.AddInt64(&s.recordsIn, 1)
				if s.metrics != nil {
					s.metrics.RecordsIn.WithLabelValues(s.inner.Name()).Inc()
				}
				select {
				case counted <- rec:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	var innerOut <-chan *record.Record
	proc, timedAtSeam := stage.AsProcessor(s.inner)
	if timedAtSeam {
		innerOut = stage.FromProcessor(&timedProcessor{inst: s, proc: proc}).Transform(ctx, counted)
	} else {
		innerOut = s.inner.Transform(ctx, counted)
	}

	out := make(chan *record.Record)
	go func() {
		defer close(out)
		for {
			var start time.Time
			if !timedAtSeam {
				start = time.Now()
			}
			rec, ok := <-innerOut
			if !timedAtSeam {
				elapsed := time.Since(start)
				s.addBusy(elapsed)
				if ok && s.metrics != nil {
					s.metrics.StageDuration.WithLabelValues(s.inner.Name()).Observe(elapsed.Seconds())
				}
			}
			if !ok {
				return
			}
			atomic.AddInt64(&s.recordsOut, 1)
			if s.metrics != nil {
				s.metrics.RecordsOut.WithLabelValues(s.inner.Name()).Inc()
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (s *instrumentedStage) addBusy(d time.Duration) {
	s.mu.Lock()
	s.busy += d
	s.mu.Unlock()
}

// Metrics returns the stage's measurements so far.
func (s *instrumentedStage) Metrics() StageMetrics {
	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()

	out := atomic.LoadInt64(&s.recordsOut)
	var rps float64
	if busy > 0 {
		rps = float64(out) / busy.Seconds()
	}

	return StageMetrics{
		Stage:      s.inner.Name(),
		RecordsIn:  atomic.LoadInt64(&s.recordsIn),
		RecordsOut: out,
		BusyTime:   busy,
		RPS:        rps,
	}
}
