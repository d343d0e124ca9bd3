// Package eventlog provides structured, machine-parseable event logging
// for pipeline observability. Events are emitted as one JSON object per
// line with a fixed envelope (timestamp, level, component, event) plus
// event-specific fields, recorded in a bounded recent-events buffer, and
// fanned out to any registered subscribers.
package eventlog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/flowline/pkg/accumulator"
)

// Event is a single structured log event.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Name      string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Subscriber receives every event emitted by a Logger. Subscribers are
// invoked synchronously on the emitting goroutine and must not block.
type Subscriber func(Event)

// Logger emits structured events through slog, keeps a bounded buffer of
// recent events, and fans events out to subscribers.
type Logger struct {
	logger *slog.Logger
	recent *accumulator.Bounded[Event]
	now    func() time.Time

	mu          sync.RWMutex
	subscribers []Subscriber
}

const defaultRecentCapacity = 1000

// Option configures a Logger.
type Option func(*Logger)

// WithRecentCapacity bounds the recent-events buffer. Ignored when n <= 0.
func WithRecentCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.recent, _ = accumulator.NewBounded[Event](n)
		}
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New creates a Logger writing through the given slog logger. A nil
// logger falls back to slog.Default().
func New(logger *slog.Logger, options ...Option) *Logger {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Logger{
		logger: logger,
		now:    time.Now,
	}
	l.recent, _ = accumulator.NewBounded[Event](defaultRecentCapacity)

	for _, opt := range options {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// NewJSON creates a Logger emitting NDJSON to w with the envelope keys
// timestamp (ISO-8601 UTC), level, component, and event.
func NewJSON(w io.Writer, level slog.Level, options ...Option) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "timestamp"
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			case slog.MessageKey:
				a.Key = "event"
			}
			return a
		},
	})
	return New(slog.New(handler), options...)
}

// Subscribe registers a subscriber for all future events.
func (l *Logger) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	l.mu.Lock()
	l.subscribers = append(l.subscribers, s)
	l.mu.Unlock()
}

// Recent returns the n most recent events, oldest first.
func (l *Logger) Recent(n int) []Event {
	return l.recent.Recent(n)
}

// Emit logs a structured event and notifies subscribers.
func (l *Logger) Emit(level slog.Level, component, event string, fields map[string]any) {
	e := Event{
		Timestamp: l.now(),
		Level:     level.String(),
		Component: component,
		Name:      event,
		Fields:    fields,
	}

	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	l.logger.Log(context.Background(), level, event, attrs...)

	l.recent.Append(e)

	l.mu.RLock()
	subs := l.subscribers
	l.mu.RUnlock()
	for _, s := range subs {
		s(e)
	}
}

// Info emits an info-level event.
func (l *Logger) Info(component, event string, fields map[string]any) {
	l.Emit(slog.LevelInfo, component, event, fields)
}

// Warn emits a warn-level event.
func (l *Logger) Warn(component, event string, fields map[string]any) {
	l.Emit(slog.LevelWarn, component, event, fields)
}

// Error emits an error-level event.
func (l *Logger) Error(component, event string, fields map[string]any) {
	l.Emit(slog.LevelError, component, event, fields)
}

// StageCompleted reports a stage finishing its stream.
func (l *Logger) StageCompleted(stage string, recordsIn, recordsOut int64, elapsed time.Duration) {
	l.Info(stage, "stage_completed", map[string]any{
		"records_in":  recordsIn,
		"records_out": recordsOut,
		"elapsed_ms":  elapsed.Milliseconds(),
	})
}

// CircuitStateChanged reports a circuit breaker transition.
func (l *Logger) CircuitStateChanged(breaker, from, to string) {
	l.Warn(breaker, "circuit_state_changed", map[string]any{
		"from": from,
		"to":   to,
	})
}

// RetryExhausted reports a record failing after all retry attempts.
func (l *Logger) RetryExhausted(stage string, recordID string, attempts int, err error) {
	l.Error(stage, "retry_exhausted", map[string]any{
		"record_id": recordID,
		"attempts":  attempts,
		"error":     err.Error(),
	})
}

// DeadLettered reports a record being routed to the dead-letter store.
func (l *Logger) DeadLettered(stage string, recordID string, reason string) {
	l.Warn(stage, "dead_lettered", map[string]any{
		"record_id": recordID,
		"reason":    reason,
	})
}

// Degraded reports a stage serving a fallback result under an open circuit.
func (l *Logger) Degraded(stage string, recordID string, mode string) {
	l.Warn(stage, "degraded", map[string]any{
		"record_id": recordID,
		"mode":      mode,
	})
}
