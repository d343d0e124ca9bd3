package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/metric"
)

// fixedClock is a manually advanced time source for TTL tests.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", 1)
	require.NoError(t, err)
	_, err = c.Set("b", 2)
	require.NoError(t, err)
	_, err = c.Set("c", 3)
	require.NoError(t, err)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	assert.Equal(t, 2, c.Size())
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	// Touch a so b becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestLRUUpdateDoesNotEvict(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)
	defer c.Close()

	created, err := c.Set("a", 1)
	require.NoError(t, err)
	assert.True(t, created)

	c.Set("b", 2)

	created, err = c.Set("a", 10)
	require.NoError(t, err)
	assert.False(t, created, "updating an existing key is not a new entry")
	assert.Equal(t, 2, c.Size())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestLRUEvictionCallback(t *testing.T) {
	var evictedKeys []string
	var evictedValues []int

	c, err := NewLRU[int](1, WithEvictionCallback[int](func(key string, value int) {
		evictedKeys = append(evictedKeys, key)
		evictedValues = append(evictedValues, value)
	}))
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	require.Len(t, evictedKeys, 1)
	assert.Equal(t, "a", evictedKeys[0])
	assert.Equal(t, 1, evictedValues[0])

	// Callback may call back into the cache without deadlocking.
	var c2 Cache[int]
	c2, err = NewLRU[int](1, WithEvictionCallback[int](func(key string, value int) {
		c2.Size()
	}))
	require.NoError(t, err)
	defer c2.Close()
	c2.Set("x", 1)
	c2.Set("y", 2)
}

func TestLRUInvalidate(t *testing.T) {
	c, err := NewLRU[int](10)
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)

	existed, err := c.Invalidate("a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Invalidate("a")
	require.NoError(t, err)
	assert.False(t, existed)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUEmptyKeyRejected(t *testing.T) {
	c, err := NewLRU[int](10)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("", 1)
	assert.Error(t, err)

	_, err = c.Invalidate("")
	assert.Error(t, err)
}

func TestLRUKeysInRecencyOrder(t *testing.T) {
	c, err := NewLRU[int](10)
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a")

	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())
}

func TestTTLExpiryBoundary(t *testing.T) {
	clock := newFixedClock()
	ttl := 100 * time.Millisecond

	c, err := NewTTL[string](ttl, 0, withClock[string](clock.Now))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("k", "v")
	require.NoError(t, err)

	// Strictly before expiry: hit.
	clock.Advance(ttl - time.Nanosecond)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// Exactly at insertedAt + TTL: miss.
	clock.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must be a miss once now >= insertedAt + TTL")
}

func TestTTLLazyEvictionInvokesCallback(t *testing.T) {
	clock := newFixedClock()
	var evicted []string

	c, err := NewTTL[string](time.Second, 0,
		withClock[string](clock.Now),
		WithEvictionCallback[string](func(key string, _ string) {
			evicted = append(evicted, key)
		}))
	require.NoError(t, err)
	defer c.Close()

	c.Set("k", "v")
	clock.Advance(2 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, []string{"k"}, evicted)
	assert.Equal(t, 0, c.Size())
}

func TestTTLSetRefreshesExpiry(t *testing.T) {
	clock := newFixedClock()

	c, err := NewTTL[string](time.Second, 0, withClock[string](clock.Now))
	require.NoError(t, err)
	defer c.Close()

	c.Set("k", "v1")
	clock.Advance(800 * time.Millisecond)
	c.Set("k", "v2")
	clock.Advance(800 * time.Millisecond)

	v, ok := c.Get("k")
	assert.True(t, ok, "rewrite should restart the TTL")
	assert.Equal(t, "v2", v)
}

func TestTTLCapacityEvictsEarliestExpiry(t *testing.T) {
	clock := newFixedClock()

	c, err := NewTTL[int](time.Minute, 2, withClock[int](clock.Now))
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "earliest-expiring entry should be evicted at capacity")
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTLBackgroundSweep(t *testing.T) {
	c, err := NewTTL[int](10*time.Millisecond, 0, WithSweepInterval[int](20*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	c.Set("k", 1)

	assert.Eventually(t, func() bool {
		return c.Size() == 0
	}, time.Second, 10*time.Millisecond, "sweep should remove expired entries without access")
}

func TestHybridCombinesTTLAndLRU(t *testing.T) {
	clock := newFixedClock()

	c, err := NewHybrid[int](2, time.Minute, withClock[int](clock.Now))
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	// Capacity eviction follows recency.
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)

	// Expiry still applies.
	clock.Advance(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.False(t, ok)
}

func TestStatisticsTracking(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts a
	c.Get("b")    // hit
	c.Get("a")    // miss
	c.Invalidate("b")

	s := c.Stats().Summary()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(3), s.Sets)
	assert.Equal(t, int64(1), s.Evictions)
	assert.Equal(t, int64(1), s.Invalidations)
	assert.InDelta(t, 0.5, s.HitRatio, 0.001)
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	c := NewNoop[int]()
	defer c.Close()

	created, err := c.Set("a", 1)
	require.NoError(t, err)
	assert.False(t, created)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "lru",
			config: Config{Enabled: true, Strategy: StrategyLRU, MaxSize: 10},
		},
		{
			name:   "ttl",
			config: Config{Enabled: true, Strategy: StrategyTTL, TTL: time.Minute},
		},
		{
			name:   "hybrid",
			config: Config{Enabled: true, Strategy: StrategyHybrid, MaxSize: 10, TTL: time.Minute},
		},
		{
			name:   "disabled returns noop",
			config: Config{Enabled: false},
		},
		{
			name:    "lru without max size",
			config:  Config{Enabled: true, Strategy: StrategyLRU},
			wantErr: true,
		},
		{
			name:    "ttl without ttl",
			config:  Config{Enabled: true, Strategy: StrategyTTL},
			wantErr: true,
		},
		{
			name:    "unknown strategy",
			config:  Config{Enabled: true, Strategy: "bogus", MaxSize: 10},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewFromConfig[int](tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
			c.Close()
		})
	}
}

func TestConfigUnmarshalDurationStrings(t *testing.T) {
	var cfg Config
	data := []byte(`{"enabled": true, "strategy": "ttl", "ttl": "5m", "sweep_interval": "30s"}`)
	require.NoError(t, json.Unmarshal(data, &cfg))

	assert.Equal(t, 5*time.Minute, cfg.TTL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)

	var cfg2 Config
	data = []byte(fmt.Sprintf(`{"enabled": true, "strategy": "ttl", "ttl": %d}`, int64(time.Minute)))
	require.NoError(t, json.Unmarshal(data, &cfg2))
	assert.Equal(t, time.Minute, cfg2.TTL)

	var cfg3 Config
	data = []byte(`{"enabled": true, "strategy": "ttl", "ttl": "not-a-duration"}`)
	assert.Error(t, json.Unmarshal(data, &cfg3))
}

func TestCacheWithMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()

	c, err := NewLRU[int](2, WithMetrics[int](reg, "enrich"))
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["flowline_cache_hits_total"])
	assert.True(t, names["flowline_cache_misses_total"])
	assert.True(t, names["flowline_cache_size"])
}

func TestConcurrentAccess(t *testing.T) {
	c, err := NewLRU[int](100)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%50)
				c.Set(key, worker)
				c.Get(key)
				if j%10 == 0 {
					c.Invalidate(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 100)
}

func TestClearInvokesCallbacks(t *testing.T) {
	var cleared []string

	c, err := NewLRU[int](10, WithEvictionCallback[int](func(key string, _ int) {
		cleared = append(cleared, key)
	}))
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	require.NoError(t, c.Clear())

	assert.Len(t, cleared, 2)
	assert.Equal(t, 0, c.Size())
}
