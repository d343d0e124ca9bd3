package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r)
	require.NotNil(t, r.Metrics)
	assert.NotNil(t, r.PrometheusRegistry())
	assert.Equal(t, r.Metrics, r.CoreMetrics())
}

func TestRegisterCounter(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})

	require.NoError(t, r.RegisterCounter("svc", "test_counter_total", c))

	// Duplicate key is a configuration error
	err := r.RegisterCounter("svc", "test_counter_total", c)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestRegisterConflictingCollector(t *testing.T) {
	r := NewMetricsRegistry()

	a := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_gauge", Help: "a"})
	b := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_gauge", Help: "a"})

	require.NoError(t, r.RegisterGauge("svc-a", "g", a))

	// Same fully-qualified prometheus name under a different key
	err := r.RegisterGauge("svc-b", "g", b)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "u_total", Help: "test"})
	require.NoError(t, r.RegisterCounter("svc", "u_total", c))

	assert.True(t, r.Unregister("svc", "u_total"))
	assert.False(t, r.Unregister("svc", "u_total"))

	// Re-registration works after unregister
	assert.NoError(t, r.RegisterCounter("svc", "u_total", c))
}

func TestCoreMetricsGathered(t *testing.T) {
	r := NewMetricsRegistry()
	r.Metrics.RecordsIn.WithLabelValues("threshold").Add(3)
	r.Metrics.DeadLetterTotal.Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["flowline_records_in_total"])
	assert.True(t, names["flowline_resilience_dead_letter_total"])
}
