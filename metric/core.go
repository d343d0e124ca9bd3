package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics (not stage-specific)
type Metrics struct {
	// Record flow metrics
	RecordsIn      *prometheus.CounterVec
	RecordsOut     *prometheus.CounterVec
	RecordsDropped *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec

	// Resilience metrics
	RetriesTotal    *prometheus.CounterVec
	DeadLetterTotal prometheus.Counter
	CircuitState    *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec

	// Runner metrics
	QueueDepth prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RecordsIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowline",
				Subsystem: "records",
				Name:      "in_total",
				Help:      "Total number of records entering a stage",
			},
			[]string{"stage"},
		),

		RecordsOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowline",
				Subsystem: "records",
				Name:      "out_total",
				Help:      "Total number of records emitted by a stage",
			},
			[]string{"stage"},
		),

		RecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowline",
				Subsystem: "records",
				Name:      "dropped_total",
				Help:      "Total number of records dropped by a stage filter",
			},
			[]string{"stage"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flowline",
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Per-record stage processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowline",
				Subsystem: "resilience",
				Name:      "retries_total",
				Help:      "Total number of retry attempts per stage",
			},
			[]string{"stage"},
		),

		DeadLetterTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flowline",
				Subsystem: "resilience",
				Name:      "dead_letter_total",
				Help:      "Total number of records diverted to the dead-letter accumulator",
			},
		),

		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowline",
				Subsystem: "resilience",
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0=closed, 0.5=half-open, 1=open)",
			},
			[]string{"breaker"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowline",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Total number of errors by stage and class",
			},
			[]string{"stage", "class"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "flowline",
				Subsystem: "runner",
				Name:      "queue_depth",
				Help:      "Current ingestion queue depth",
			},
		),
	}
}
