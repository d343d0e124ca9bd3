// Package enrich provides a lookup stage that annotates records with
// values resolved from a key field, memoizing lookups through a cache so
// repeated keys skip the expensive resolution.
package enrich

import (
	"context"
	"fmt"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/pkg/cache"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// StageName is the registry name for this stage.
const StageName = "enrich"

func init() {
	stage.MustRegister(registration())
}

// Register adds the enrich stage to the given registry.
func Register(r *stage.Registry) error {
	return r.Register(registration())
}

func registration() stage.Registration {
	return stage.Registration{
		Name:        StageName,
		Description: "Annotates records with values looked up by a key field",
		Params: []stage.ParamSpec{
			{Name: "key_field", Type: "string", Required: true, Description: "Field whose value keys the lookup"},
			{Name: "target_field", Type: "string", Required: true, Description: "Field the resolved value is written to"},
			{Name: "table", Type: "map", Required: true, Description: "Static lookup table"},
			{Name: "cache_size", Type: "integer", Default: 1024, Description: "LRU memoization capacity"},
			{Name: "skip_unresolved", Type: "bool", Default: false, Description: "Drop records whose key resolves to nothing"},
		},
		Factory: factory,
	}
}

// The registry factory builds an enricher over a static table. Dynamic
// lookup functions are wired programmatically via New.
func factory(params stage.Params) (stage.Stage, error) {
	keyField, err := params.String("key_field")
	if err != nil {
		return nil, err
	}
	targetField, err := params.String("target_field")
	if err != nil {
		return nil, err
	}
	rawTable, ok := params["table"]
	if !ok {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, StageName, "factory", "parameter \"table\"")
	}
	table, ok := rawTable.(map[string]any)
	if !ok {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, StageName, "factory",
			fmt.Sprintf("parameter \"table\": expected map, got %T", rawTable))
	}
	cacheSize, err := params.IntOr("cache_size", 1024)
	if err != nil {
		return nil, err
	}
	skipUnresolved, err := params.BoolOr("skip_unresolved", false)
	if err != nil {
		return nil, err
	}

	lookup := func(_ context.Context, key string) (any, bool, error) {
		v, found := table[key]
		return v, found, nil
	}

	c, err := cache.NewLRU[lookupResult](cacheSize)
	if err != nil {
		return nil, err
	}

	return New(keyField, targetField, lookup, c, skipUnresolved)
}

// LookupFunc resolves a key to an enrichment value. found=false means
// the key has no value; an error is a processing failure subject to the
// resilience policy of the surrounding pipeline.
type LookupFunc func(ctx context.Context, key string) (value any, found bool, err error)

// lookupResult memoizes both outcomes of a lookup, so known-absent keys
// are not re-resolved.
type lookupResult struct {
	value any
	found bool
}

// Enricher annotates records with looked-up values.
type Enricher struct {
	keyField       string
	targetField    string
	lookup         LookupFunc
	cache          cache.Cache[lookupResult]
	skipUnresolved bool
}

// New creates an enrichment stage. The cache memoizes lookups by key;
// pass cache.NewNoop to disable memoization.
func New(keyField, targetField string, lookup LookupFunc, c cache.Cache[lookupResult], skipUnresolved bool) (stage.Stage, error) {
	if lookup == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, StageName, "New", "lookup function required")
	}
	if c == nil {
		c = cache.NewNoop[lookupResult]()
	}
	return stage.FromProcessor(&Enricher{
		keyField:       keyField,
		targetField:    targetField,
		lookup:         lookup,
		cache:          c,
		skipUnresolved: skipUnresolved,
	}), nil
}

// NewWithLRU creates an enrichment stage memoized by a fresh LRU cache.
func NewWithLRU(keyField, targetField string, lookup LookupFunc, cacheSize int, skipUnresolved bool) (stage.Stage, error) {
	c, err := cache.NewLRU[lookupResult](cacheSize)
	if err != nil {
		return nil, err
	}
	return New(keyField, targetField, lookup, c, skipUnresolved)
}

func (e *Enricher) Name() string { return StageName }

// Process resolves the record's key field and writes the result to the
// target field on a clone. Records without the key field pass through
// unchanged.
func (e *Enricher) Process(ctx context.Context, rec *record.Record) (*record.Record, error) {
	raw, ok := rec.Get(e.keyField)
	if !ok {
		return rec, nil
	}
	key := fmt.Sprintf("%v", raw)

	result, hit := e.cache.Get(key)
	if !hit {
		value, found, err := e.lookup(ctx, key)
		if err != nil {
			return nil, errors.WrapTransient(err, StageName, "Process",
				fmt.Sprintf("lookup key %q", key))
		}
		result = lookupResult{value: value, found: found}
		if _, err := e.cache.Set(key, result); err != nil {
			return nil, err
		}
	}

	if !result.found {
		if e.skipUnresolved {
			return nil, stage.ErrDrop
		}
		return rec, nil
	}

	out := rec.Clone()
	out.Set(e.targetField, result.value)
	return out, nil
}

// CacheStats exposes the enricher's memoization statistics for health
// reporting.
func (e *Enricher) CacheStats() *cache.Statistics {
	return e.cache.Stats()
}
