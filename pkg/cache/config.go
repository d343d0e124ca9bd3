package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/flowline/errors"
)

// Strategy defines the eviction strategy for the cache.
type Strategy string

const (
	// StrategyLRU uses least-recently-used eviction bounded by size.
	StrategyLRU Strategy = "lru"

	// StrategyTTL uses time-to-live eviction based on expiry.
	StrategyTTL Strategy = "ttl"

	// StrategyHybrid uses combined LRU and TTL eviction.
	StrategyHybrid Strategy = "hybrid"
)

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled.
	Enabled bool `json:"enabled"`

	// Strategy determines the eviction strategy.
	Strategy Strategy `json:"strategy"`

	// MaxSize is the maximum number of entries (LRU and Hybrid; optional
	// capacity bound for TTL).
	MaxSize int `json:"max_size"`

	// TTL is the time-to-live for entries (TTL and Hybrid caches).
	TTL time.Duration `json:"ttl"`

	// SweepInterval is how often the background sweep removes expired
	// entries (TTL and Hybrid caches).
	SweepInterval time.Duration `json:"sweep_interval"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Strategy:      StrategyLRU,
		MaxSize:       1000,
		TTL:           5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Strategy {
	case StrategyLRU:
		if c.MaxSize <= 0 {
			return errors.WrapConfig(errors.ErrInvalidConfig, "cache", "Validate",
				fmt.Sprintf("max_size must be positive for LRU cache, got %d", c.MaxSize))
		}
	case StrategyTTL:
		if c.TTL <= 0 {
			return errors.WrapConfig(errors.ErrInvalidConfig, "cache", "Validate",
				fmt.Sprintf("ttl must be positive for TTL cache, got %v", c.TTL))
		}
	case StrategyHybrid:
		if c.MaxSize <= 0 {
			return errors.WrapConfig(errors.ErrInvalidConfig, "cache", "Validate",
				fmt.Sprintf("max_size must be positive for Hybrid cache, got %d", c.MaxSize))
		}
		if c.TTL <= 0 {
			return errors.WrapConfig(errors.ErrInvalidConfig, "cache", "Validate",
				fmt.Sprintf("ttl must be positive for Hybrid cache, got %v", c.TTL))
		}
	default:
		return errors.WrapConfig(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("unknown cache strategy: %s", c.Strategy))
	}

	return nil
}

// NewFromConfig creates a cache based on the provided configuration.
// Returns a Noop cache when config.Enabled is false.
func NewFromConfig[V any](config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapConfig(err, "cache", "NewFromConfig", "config validation")
	}

	if !config.Enabled {
		return NewNoop[V](), nil
	}

	if config.SweepInterval > 0 {
		options = append(options, WithSweepInterval[V](config.SweepInterval))
	}

	switch config.Strategy {
	case StrategyLRU:
		return NewLRU[V](config.MaxSize, options...)
	case StrategyTTL:
		return NewTTL[V](config.TTL, config.MaxSize, options...)
	case StrategyHybrid:
		return NewHybrid[V](config.MaxSize, config.TTL, options...)
	default:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "cache",
			"NewFromConfig", fmt.Sprintf("unsupported cache strategy: %s", config.Strategy))
	}
}

// NewLRU creates a new LRU cache with the specified maximum size.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	return newLRUCache[V](maxSize, applyOptions(options...))
}

// NewTTL creates a new TTL cache. maxSize of 0 leaves the entry count
// unbounded; a positive value evicts the earliest-expiring entry when
// reached.
func NewTTL[V any](ttl time.Duration, maxSize int, options ...Option[V]) (Cache[V], error) {
	return newTTLCache[V](ttl, maxSize, applyOptions(options...))
}

// NewHybrid creates a cache combining LRU capacity eviction with TTL expiry.
func NewHybrid[V any](maxSize int, ttl time.Duration, options ...Option[V]) (Cache[V], error) {
	return newHybridCache[V](maxSize, ttl, applyOptions(options...))
}

// NewNoop creates a cache that always misses. Useful when caching is
// disabled via configuration.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{stats: NewStatistics()}
}

// noopCache is a cache implementation that does nothing.
type noopCache[V any] struct {
	stats *Statistics
}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	c.stats.Miss()
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }

func (c *noopCache[V]) Invalidate(_ string) (bool, error) { return false, nil }

func (c *noopCache[V]) Clear() error { return nil }

func (c *noopCache[V]) Size() int { return 0 }

func (c *noopCache[V]) Keys() []string { return nil }

func (c *noopCache[V]) Stats() *Statistics { return c.stats }

func (c *noopCache[V]) Close() error { return nil }

// UnmarshalJSON supports duration strings (e.g. "5m", "30s") in addition
// to nanosecond integers for the duration fields.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		TTL           json.RawMessage `json:"ttl,omitempty"`
		SweepInterval json.RawMessage `json:"sweep_interval,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.TTL) > 0 {
		ttl, err := parseDurationField(aux.TTL, "ttl")
		if err != nil {
			return err
		}
		c.TTL = ttl
	}

	if len(aux.SweepInterval) > 0 {
		interval, err := parseDurationField(aux.SweepInterval, "sweep_interval")
		if err != nil {
			return err
		}
		c.SweepInterval = interval
	}

	return nil
}

// parseDurationField parses a JSON duration that is either a string
// ("5m", "30s") or an integer nanosecond count.
func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g. '5m') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
