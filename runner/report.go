package runner

import (
	"runtime"
	"sync"
	"time"
)

// Report summarizes a completed run. All numbers are measured, never
// estimated.
type Report struct {
	Strategy     Strategy           `json:"strategy"`
	Elapsed      time.Duration      `json:"elapsed"`
	RecordsIn    int64              `json:"records_in"`
	RecordsOut   int64              `json:"records_out"`
	Dropped      int64              `json:"dropped"`
	DeadLettered int64              `json:"dead_lettered"`
	PerStageRPS  map[string]float64 `json:"per_stage_rps"`
	PeakMemoryKb uint64             `json:"peak_memory_kb"`
}

// BottleneckStage returns the stage with the lowest throughput, the
// pipeline's rate limiter. Returns "" when no stage reported.
func (r Report) BottleneckStage() (string, float64) {
	name := ""
	min := 0.0
	for s, rps := range r.PerStageRPS {
		if name == "" || rps < min {
			name, min = s, rps
		}
	}
	return name, min
}

// memSampler tracks peak heap usage by sampling runtime.ReadMemStats on
// an interval for the duration of a run.
type memSampler struct {
	interval time.Duration

	mu   sync.Mutex
	peak uint64

	stop chan struct{}
	done chan struct{}
}

func newMemSampler(interval time.Duration) *memSampler {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &memSampler{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *memSampler) start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.sample()
		for {
			select {
			case <-m.stop:
				m.sample()
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *memSampler) sample() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	kb := stats.HeapAlloc / 1024
	m.mu.Lock()
	if kb > m.peak {
		m.peak = kb
	}
	m.mu.Unlock()
}

// finish stops sampling and returns the observed peak in KiB.
func (m *memSampler) finish() uint64 {
	close(m.stop)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}
