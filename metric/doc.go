// Package metric provides Prometheus-based metrics for the Flowline engine.
//
// A MetricsRegistry wraps a dedicated prometheus.Registry with typed,
// duplicate-checked registration methods so every component can contribute
// its own metrics under a "component.metric" key without colliding.
//
// Core engine metrics (record flow, stage duration, retries, dead-letter
// inserts, circuit state, queue depth) are registered automatically by
// NewMetricsRegistry. Go runtime and process collectors are included.
//
// The Server exposes the registry over HTTP at /metrics (OpenMetrics
// enabled) with a trivial /health liveness endpoint; additional handlers,
// such as the health dashboard's JSON report, can be mounted with Handle.
package metric
