// Package health aggregates live pipeline signals into a single
// dashboard: stage throughput, circuit states, cache hit rates and
// dead-letter pressure. Nothing is cached between reads; Report
// recomputes from the registered sources every call.
package health

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/pkg/accumulator"
	"github.com/c360/flowline/pkg/breaker"
	"github.com/c360/flowline/pkg/cache"
	"github.com/c360/flowline/resilience"
	"github.com/c360/flowline/runner"
)

// Status is the overall pipeline condition.
type Status string

const (
	// StatusHealthy means all circuits closed and the pipeline is
	// flowing.
	StatusHealthy Status = "HEALTHY"

	// StatusDegraded means at least one circuit is open; some records
	// are being served by fallbacks or dead-lettered. A half-open
	// circuit is already probing its way back and does not degrade.
	StatusDegraded Status = "DEGRADED"
)

// CircuitProber exposes a named circuit's state. resilience.Wrapper
// satisfies it.
type CircuitProber interface {
	Name() string
	CircuitState() breaker.State
}

// StatsProvider exposes cache statistics. Every cache.Cache satisfies
// it.
type StatsProvider interface {
	Stats() *cache.Statistics
}

// Report is a point-in-time snapshot of pipeline health.
type Report struct {
	Status                  Status             `json:"status"`
	BatchCount              int64              `json:"batch_count"`
	TotalAlerts             int64              `json:"total_alerts"`
	OpenCircuits            []string           `json:"open_circuits"`
	BottleneckStage         string             `json:"bottleneck_stage"`
	BottleneckRPS           float64            `json:"bottleneck_rps"`
	MeanRecentThroughputRPS float64            `json:"mean_recent_throughput_rps"`
	CacheHitRates           map[string]float64 `json:"cache_hit_rates"`
	PeakMemoryKb            uint64             `json:"peak_memory_kb"`
}

// DefaultWindowSize bounds how many recent run throughputs feed the
// rolling mean.
const DefaultWindowSize = 60

// Dashboard collects health sources and produces reports on demand.
type Dashboard struct {
	mu sync.RWMutex

	circuits    []CircuitProber
	caches      map[string]StatsProvider
	deadLetters []*resilience.DeadLetterStore

	batchCount   int64
	peakMemoryKb uint64
	lastPerStage map[string]float64

	recentRPS *accumulator.Bounded[float64]
}

// NewDashboard creates an empty dashboard with the default throughput
// window.
func NewDashboard() *Dashboard {
	recent, _ := accumulator.NewBounded[float64](DefaultWindowSize)
	return &Dashboard{
		caches:       make(map[string]StatsProvider),
		lastPerStage: make(map[string]float64),
		recentRPS:    recent,
	}
}

// RegisterCircuit adds a circuit to the DEGRADED check. Nil probers
// are rejected.
func (d *Dashboard) RegisterCircuit(p CircuitProber) error {
	if p == nil {
		return errors.WrapInterface(errors.ErrInvalidConfig, "health", "RegisterCircuit",
			"prober validation")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.circuits = append(d.circuits, p)
	return nil
}

// RegisterCache adds a named cache whose hit rate appears in reports.
func (d *Dashboard) RegisterCache(name string, p StatsProvider) error {
	if name == "" || p == nil {
		return errors.WrapInterface(errors.ErrInvalidConfig, "health", "RegisterCache",
			"cache validation")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caches[name] = p
	return nil
}

// RegisterDeadLetterStore adds a store whose total feeds TotalAlerts.
func (d *Dashboard) RegisterDeadLetterStore(store *resilience.DeadLetterStore) error {
	if store == nil {
		return errors.WrapInterface(errors.ErrInvalidConfig, "health", "RegisterDeadLetterStore",
			"store validation")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadLetters = append(d.deadLetters, store)
	return nil
}

// ObserveRun folds a completed run's report into the dashboard: batch
// count, peak memory high-water mark, per-stage throughput and the
// recent-throughput window.
func (d *Dashboard) ObserveRun(report runner.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.batchCount++
	if report.PeakMemoryKb > d.peakMemoryKb {
		d.peakMemoryKb = report.PeakMemoryKb
	}
	for stage, rps := range report.PerStageRPS {
		d.lastPerStage[stage] = rps
	}
	if report.Elapsed > 0 {
		d.recentRPS.Append(float64(report.RecordsOut) / report.Elapsed.Seconds())
	}
}

// Report computes a fresh snapshot from every registered source.
func (d *Dashboard) Report() Report {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rep := Report{
		Status:        StatusHealthy,
		BatchCount:    d.batchCount,
		OpenCircuits:  []string{},
		CacheHitRates: make(map[string]float64, len(d.caches)),
		PeakMemoryKb:  d.peakMemoryKb,
	}

	for _, c := range d.circuits {
		if c.CircuitState() == breaker.StateOpen {
			rep.OpenCircuits = append(rep.OpenCircuits, c.Name())
		}
	}
	if len(rep.OpenCircuits) > 0 {
		rep.Status = StatusDegraded
	}

	for name, p := range d.caches {
		rep.CacheHitRates[name] = p.Stats().HitRatio()
	}

	for _, store := range d.deadLetters {
		rep.TotalAlerts += store.Total()
	}

	rep.BottleneckStage, rep.BottleneckRPS = bottleneck(d.lastPerStage)

	window := d.recentRPS.Snapshot()
	if len(window) > 0 {
		var sum float64
		for _, v := range window {
			sum += v
		}
		rep.MeanRecentThroughputRPS = sum / float64(len(window))
	}

	return rep
}

func bottleneck(perStage map[string]float64) (string, float64) {
	name := ""
	min := 0.0
	for s, rps := range perStage {
		if name == "" || rps < min {
			name, min = s, rps
		}
	}
	return name, min
}

// Handler serves the current report as JSON, suitable for mounting on
// the metrics server.
func (d *Dashboard) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.Report()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
