package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// chainedProcessor applies one processor within a chain and measures
// its throughput for the report.
type chainedProcessor struct {
	proc stage.Processor

	recordsIn  int64
	recordsOut int64

	mu   sync.Mutex
	busy time.Duration
}

func (c *chainedProcessor) process(ctx context.Context, rec *record.Record) (*record.Record, error) {
	atomic.AddInt64(&c.recordsIn, 1)
	start := time.Now()
	out, err := c.proc.Process(ctx, rec)
	elapsed := time.Since(start)

	c.mu.Lock()
	c.busy += elapsed
	c.mu.Unlock()

	if err == nil {
		atomic.AddInt64(&c.recordsOut, 1)
	}
	return out, err
}

func (c *chainedProcessor) busyTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *chainedProcessor) rps() float64 {
	c.mu.Lock()
	busy := c.busy
	c.mu.Unlock()

	out := atomic.LoadInt64(&c.recordsOut)
	if busy <= 0 {
		return 0
	}
	return float64(out) / busy.Seconds()
}

// chain applies processors in order to a single record. The first
// error (or drop) short-circuits the rest of the chain; the name of the
// failing processor is returned alongside the error.
type chain struct {
	procs []*chainedProcessor
}

func newChain(procs []stage.Processor) *chain {
	out := make([]*chainedProcessor, len(procs))
	for i, p := range procs {
		out[i] = &chainedProcessor{proc: p}
	}
	return &chain{procs: out}
}

func (c *chain) process(ctx context.Context, rec *record.Record) (*record.Record, string, error) {
	current := rec
	for _, p := range c.procs {
		next, err := p.process(ctx, current)
		if err != nil {
			return nil, p.proc.Name(), err
		}
		current = next
	}
	return current, "", nil
}

func (c *chain) perStageRPS() map[string]float64 {
	out := make(map[string]float64, len(c.procs))
	for _, p := range c.procs {
		out[p.proc.Name()] = p.rps()
	}
	return out
}
