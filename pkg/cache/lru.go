package cache

import (
	"container/list"
	"sync"

	"github.com/c360/flowline/errors"
)

// lruEntry represents an entry in the LRU cache.
type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache is a thread-safe least-recently-used cache. When an insert would
// exceed maxSize, the least recently used entry is evicted first.
type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

// newLRUCache creates a new LRU cache with the specified maximum size.
func newLRUCache[V any](maxSize int, opts *cacheOptions[V]) (*lruCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapConfig(err, "cache", "newLRUCache", "metrics registration")
		}
	}

	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

// Get retrieves a value by key and marks it as recently used.
func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.Miss()
		c.metrics.recordMiss()
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.Hit()
	c.metrics.recordHit()
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores a value with the given key and marks it as recently used.
func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted *lruEntry[V]

	c.mu.Lock()
	if element, exists := c.items[key]; exists {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		c.stats.Set()
		c.metrics.recordSet()
		c.mu.Unlock()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})

	if len(c.items) > c.maxSize {
		if back := c.order.Back(); back != nil {
			evicted = back.Value.(*lruEntry[V])
			delete(c.items, evicted.key)
			c.order.Remove(back)
			c.stats.Eviction()
			c.metrics.recordEviction()
		}
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	c.metrics.recordSet()
	c.metrics.updateSize(len(c.items))
	c.mu.Unlock()

	// Callback outside the lock to prevent deadlock
	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}

	return true, nil
}

// Invalidate removes an entry by key.
func (c *lruCache[V]) Invalidate(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var removed *lruEntry[V]

	c.mu.Lock()
	element, exists := c.items[key]
	if exists {
		removed = element.Value.(*lruEntry[V])
		delete(c.items, key)
		c.order.Remove(element)
		c.stats.Invalidation()
		c.stats.UpdateSize(int64(len(c.items)))
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	if removed != nil && c.evictFn != nil {
		c.evictFn(removed.key, removed.value)
	}

	return exists, nil
}

// Clear removes all entries from the cache.
func (c *lruCache[V]) Clear() error {
	var cleared []*lruEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		cleared = make([]*lruEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			cleared = append(cleared, element.Value.(*lruEntry[V]))
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

// Size returns the current number of entries in the cache.
func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all keys in LRU order (most recently used first).
func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns cache statistics.
func (c *lruCache[V]) Stats() *Statistics {
	return c.stats
}

// Close shuts down the cache. The LRU cache has no background goroutines.
func (c *lruCache[V]) Close() error {
	return nil
}
