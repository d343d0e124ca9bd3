package cache

import (
	"time"

	"github.com/c360/flowline/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Statistics are always collected; Prometheus export is optional.
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	sweepInterval time.Duration

	// now is swappable for TTL tests.
	now func() time.Time
}

// WithMetrics enables Prometheus export of cache statistics.
// Ignored when registry is nil or prefix is empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked with the key and value of
// every evicted or invalidated entry.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithSweepInterval sets how often the background sweep removes expired
// entries (TTL and Hybrid caches). Ignored when interval <= 0.
func WithSweepInterval[V any](interval time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		if interval > 0 {
			opts.sweepInterval = interval
		}
	}
}

// withClock overrides the time source. Test hook.
func withClock[V any](now func() time.Time) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.now = now
	}
}

// applyOptions applies functional options over defaults.
func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		sweepInterval: time.Minute,
		now:           time.Now,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
