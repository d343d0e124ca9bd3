package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/flowline/errors"
)

// ttlEntry represents an entry in the TTL cache.
type ttlEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// ttlCache is a thread-safe time-to-live cache. An entry is treated as
// absent once now >= expiresAt: expired entries are evicted lazily on
// access and eagerly by a background sweep. An optional capacity bound
// evicts the entry with the earliest expiry before inserting a new one.
type ttlCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int // 0 = unbounded
	items   map[string]*ttlEntry[V]
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
	now     func() time.Time

	// Background sweep coordination
	shutdown chan struct{}
	done     chan struct{}
}

// newTTLCache creates a new TTL cache and starts its background sweep.
func newTTLCache[V any](ttl time.Duration, maxSize int, opts *cacheOptions[V]) (*ttlCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapConfig(err, "cache", "newTTLCache", "metrics registration")
		}
	}

	c := &ttlCache[V]{
		ttl:      ttl,
		maxSize:  maxSize,
		items:    make(map[string]*ttlEntry[V]),
		stats:    NewStatistics(),
		metrics:  metrics,
		evictFn:  opts.evictCallback,
		now:      opts.now,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go c.sweep(opts.sweepInterval)

	return c, nil
}

// expired reports whether an entry is past its expiry at time now.
func (e *ttlEntry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Get retrieves a value by key, lazily evicting it when expired.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V
	var lazyEvicted *ttlEntry[V]

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists && entry.expired(c.now()) {
		delete(c.items, key)
		c.stats.Eviction()
		c.stats.UpdateSize(int64(len(c.items)))
		c.metrics.recordEviction()
		c.metrics.updateSize(len(c.items))
		lazyEvicted = entry
		exists = false
	}
	if !exists {
		c.stats.Miss()
		c.metrics.recordMiss()
		c.mu.Unlock()
		if lazyEvicted != nil && c.evictFn != nil {
			c.evictFn(lazyEvicted.key, lazyEvicted.value)
		}
		return zero, false
	}

	value := entry.value
	c.stats.Hit()
	c.metrics.recordHit()
	c.mu.Unlock()
	return value, true
}

// Set stores a value with the given key, stamping its expiry. When a
// capacity bound is configured and reached, the entry with the earliest
// expiry is evicted first.
func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted *ttlEntry[V]

	c.mu.Lock()
	_, exists := c.items[key]

	if !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		evicted = c.evictEarliestLocked()
	}

	c.items[key] = &ttlEntry[V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	c.metrics.recordSet()
	c.metrics.updateSize(len(c.items))
	c.mu.Unlock()

	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}

	return !exists, nil
}

// evictEarliestLocked removes and returns the entry with the earliest
// expiry. Must be called with the mutex held.
func (c *ttlCache[V]) evictEarliestLocked() *ttlEntry[V] {
	var earliest *ttlEntry[V]
	for _, entry := range c.items {
		if earliest == nil || entry.expiresAt.Before(earliest.expiresAt) {
			earliest = entry
		}
	}
	if earliest == nil {
		return nil
	}
	delete(c.items, earliest.key)
	c.stats.Eviction()
	c.metrics.recordEviction()
	return earliest
}

// Invalidate removes an entry by key.
func (c *ttlCache[V]) Invalidate(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
		c.stats.Invalidation()
		c.stats.UpdateSize(int64(len(c.items)))
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	if exists && c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}

	return exists, nil
}

// Clear removes all entries from the cache.
func (c *ttlCache[V]) Clear() error {
	c.mu.Lock()
	cleared := c.items
	c.items = make(map[string]*ttlEntry[V])
	c.stats.UpdateSize(0)
	c.metrics.updateSize(0)
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, entry := range cleared {
			c.evictFn(entry.key, entry.value)
		}
	}

	return nil
}

// Size returns the current number of entries, including any expired
// entries not yet swept.
func (c *ttlCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all unexpired keys.
func (c *ttlCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !entry.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep goroutine.
func (c *ttlCache[V]) Close() error {
	select {
	case <-c.shutdown:
		// Already shutting down
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sweep goroutine to finish")
	}
}

// sweep periodically removes expired entries.
func (c *ttlCache[V]) sweep(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *ttlCache[V]) removeExpired() {
	var expired []*ttlEntry[V]

	c.mu.Lock()
	now := c.now()
	for key, entry := range c.items {
		if entry.expired(now) {
			expired = append(expired, entry)
			delete(c.items, key)
		}
	}
	if len(expired) > 0 {
		for range expired {
			c.stats.Eviction()
			c.metrics.recordEviction()
		}
		c.stats.UpdateSize(int64(len(c.items)))
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}
}
