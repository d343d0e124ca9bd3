// Package cache provides generic, thread-safe cache implementations with
// various eviction policies.
//
// Available strategies:
//   - LRU: least-recently-used eviction bounded by entry count
//   - TTL: time-to-live expiry with lazy eviction on access, an optional
//     capacity bound evicting the earliest-expiring entry, and a background
//     sweep
//   - Hybrid: combined LRU and TTL eviction
//   - Noop: always misses (caching disabled)
//
// A cache is never a source of correctness failures: a miss always falls
// through to recomputation and Get never returns an error. All
// implementations are guarded by a single mutex per instance and always
// collect statistics; Prometheus export is optional via WithMetrics.
package cache

import (
	"time"

	"github.com/c360/flowline/errors"
)

// Cache represents a generic cache interface that all implementations must
// satisfy. The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true on a hit,
	// zero value and false on a miss. An expired entry is a miss.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry
	// was created, false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// Invalidate removes an entry by key. Returns true if the key existed.
	Invalidate(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns all unexpired keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics (always collected).
	Stats() *Statistics

	// Close shuts down the cache and releases any resources
	// (e.g. background sweep goroutines).
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// Entry represents a cache entry with metadata, as surfaced to callers
// that need insertion/expiry information.
type Entry[V any] struct {
	Key        string
	Value      V
	InsertedAt time.Time
	ExpiresAt  *time.Time // nil means no expiration
}

// IsExpired checks if the entry has expired at time now.
func (e *Entry[V]) IsExpired(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return !now.Before(*e.ExpiresAt)
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapPermanent(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
