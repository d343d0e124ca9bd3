package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/c360/flowline/errors"
)

// hybridEntry represents an entry in the hybrid cache.
type hybridEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *hybridEntry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// hybridCache combines LRU and TTL eviction: entries expire after their
// TTL (lazy eviction on access plus background sweep), and a capacity
// bound evicts the least recently used entry before inserting.
type hybridCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
	now     func() time.Time

	shutdown chan struct{}
	done     chan struct{}
}

// newHybridCache creates a hybrid cache and starts its background sweep.
func newHybridCache[V any](maxSize int, ttl time.Duration, opts *cacheOptions[V]) (*hybridCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapConfig(err, "cache", "newHybridCache", "metrics registration")
		}
	}

	c := &hybridCache[V]{
		maxSize:  maxSize,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
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

// Get retrieves a value, lazily evicting expired entries and marking live
// ones as recently used.
func (c *hybridCache[V]) Get(key string) (V, bool) {
	var zero V
	var lazyEvicted *hybridEntry[V]

	c.mu.Lock()
	element, exists := c.items[key]
	if exists {
		entry := element.Value.(*hybridEntry[V])
		if entry.expired(c.now()) {
			c.removeLocked(element, entry)
			c.stats.Eviction()
			c.metrics.recordEviction()
			lazyEvicted = entry
			exists = false
		}
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

	c.order.MoveToFront(element)
	value := element.Value.(*hybridEntry[V]).value
	c.stats.Hit()
	c.metrics.recordHit()
	c.mu.Unlock()
	return value, true
}

// Set stores a value, refreshing its expiry. The least recently used entry
// is evicted when the capacity bound would be exceeded.
func (c *hybridCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted *hybridEntry[V]

	c.mu.Lock()
	expiresAt := c.now().Add(c.ttl)

	if element, exists := c.items[key]; exists {
		entry := element.Value.(*hybridEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(element)
		c.stats.Set()
		c.metrics.recordSet()
		c.mu.Unlock()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&hybridEntry[V]{key: key, value: value, expiresAt: expiresAt})

	if len(c.items) > c.maxSize {
		if back := c.order.Back(); back != nil {
			evicted = back.Value.(*hybridEntry[V])
			c.removeLocked(back, evicted)
			c.stats.Eviction()
			c.metrics.recordEviction()
		}
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	c.metrics.recordSet()
	c.metrics.updateSize(len(c.items))
	c.mu.Unlock()

	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}

	return true, nil
}

// Invalidate removes an entry by key.
func (c *hybridCache[V]) Invalidate(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var removed *hybridEntry[V]

	c.mu.Lock()
	element, exists := c.items[key]
	if exists {
		removed = element.Value.(*hybridEntry[V])
		c.removeLocked(element, removed)
		c.stats.Invalidation()
	}
	c.mu.Unlock()

	if removed != nil && c.evictFn != nil {
		c.evictFn(removed.key, removed.value)
	}

	return exists, nil
}

// Clear removes all entries from the cache.
func (c *hybridCache[V]) Clear() error {
	var cleared []*hybridEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		cleared = make([]*hybridEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			cleared = append(cleared, element.Value.(*hybridEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.stats.UpdateSize(0)
	c.metrics.updateSize(0)
	c.mu.Unlock()

	for _, entry := range cleared {
		c.evictFn(entry.key, entry.value)
	}

	return nil
}

// Size returns the current number of entries.
func (c *hybridCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all unexpired keys in LRU order (most recently used first).
func (c *hybridCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*hybridEntry[V])
		if !entry.expired(now) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *hybridCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep goroutine.
func (c *hybridCache[V]) Close() error {
	select {
	case <-c.shutdown:
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

// removeLocked removes an element from the list and map, updating size
// accounting. Must be called with the mutex held.
func (c *hybridCache[V]) removeLocked(element *list.Element, entry *hybridEntry[V]) {
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.stats.UpdateSize(int64(len(c.items)))
	c.metrics.updateSize(len(c.items))
}

// sweep periodically removes expired entries.
func (c *hybridCache[V]) sweep(interval time.Duration) {
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

// removeExpired removes all expired entries.
func (c *hybridCache[V]) removeExpired() {
	var expired []*hybridEntry[V]

	c.mu.Lock()
	now := c.now()
	for element := c.order.Back(); element != nil; {
		prev := element.Prev()
		entry := element.Value.(*hybridEntry[V])
		if entry.expired(now) {
			c.removeLocked(element, entry)
			c.stats.Eviction()
			c.metrics.recordEviction()
			expired = append(expired, entry)
		}
		element = prev
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}
}
