package enrich

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

func run(t *testing.T, s stage.Stage, recs ...*record.Record) []*record.Record {
	t.Helper()

	in := make(chan *record.Record, len(recs))
	for _, r := range recs {
		in <- r
	}
	close(in)

	var out []*record.Record
	for rec := range s.Transform(context.Background(), in) {
		out = append(out, rec)
	}
	return out
}

func TestEnrichesFromLookup(t *testing.T) {
	lookup := func(_ context.Context, key string) (any, bool, error) {
		if key == "42" {
			return "meaning", true, nil
		}
		return nil, false, nil
	}

	s, err := NewWithLRU("id", "label", lookup, 16, false)
	require.NoError(t, err)

	out := run(t, s,
		record.FromMap(map[string]any{"id": 42}),
		record.FromMap(map[string]any{"id": 7}),
	)
	require.Len(t, out, 2)

	label, ok := out[0].GetString("label")
	require.True(t, ok)
	assert.Equal(t, "meaning", label)

	_, ok = out[1].Get("label")
	assert.False(t, ok, "unresolved key passes through unannotated")
}

func TestLookupMemoized(t *testing.T) {
	var calls int
	lookup := func(_ context.Context, key string) (any, bool, error) {
		calls++
		return "v-" + key, true, nil
	}

	s, err := NewWithLRU("id", "label", lookup, 16, false)
	require.NoError(t, err)

	var recs []*record.Record
	for i := 0; i < 10; i++ {
		recs = append(recs, record.FromMap(map[string]any{"id": i % 2}))
	}

	out := run(t, s, recs...)
	require.Len(t, out, 10)
	assert.Equal(t, 2, calls, "only distinct keys hit the lookup")
}

func TestAbsentKeysMemoized(t *testing.T) {
	var calls int
	lookup := func(_ context.Context, _ string) (any, bool, error) {
		calls++
		return nil, false, nil
	}

	s, err := NewWithLRU("id", "label", lookup, 16, false)
	require.NoError(t, err)

	run(t, s,
		record.FromMap(map[string]any{"id": "x"}),
		record.FromMap(map[string]any{"id": "x"}),
	)
	assert.Equal(t, 1, calls, "known-absent keys are not re-resolved")
}

func TestSkipUnresolvedDrops(t *testing.T) {
	lookup := func(_ context.Context, _ string) (any, bool, error) {
		return nil, false, nil
	}

	s, err := NewWithLRU("id", "label", lookup, 16, true)
	require.NoError(t, err)

	out := run(t, s, record.FromMap(map[string]any{"id": "x"}))
	assert.Empty(t, out)
}

func TestMissingKeyFieldPassesThrough(t *testing.T) {
	lookup := func(_ context.Context, _ string) (any, bool, error) {
		t.Fatal("lookup must not run without a key field")
		return nil, false, nil
	}

	s, err := NewWithLRU("id", "label", lookup, 16, false)
	require.NoError(t, err)

	rec := record.FromMap(map[string]any{"other": 1})
	out := run(t, s, rec)
	require.Len(t, out, 1)
	assert.Same(t, rec, out[0])
}

func TestLookupErrorIsTransient(t *testing.T) {
	lookup := func(_ context.Context, _ string) (any, bool, error) {
		return nil, false, fmt.Errorf("upstream unavailable")
	}

	c, err := NewWithLRU("id", "label", lookup, 16, false)
	require.NoError(t, err)

	// Failed records are dropped by the raw stage; under the resilience
	// wrapper they would be retried.
	out := run(t, c, record.FromMap(map[string]any{"id": 1}))
	assert.Empty(t, out)
}

func TestRegisteredFactoryWithStaticTable(t *testing.T) {
	s, err := stage.Default().Create(StageName, stage.Params{
		"key_field":    "code",
		"target_field": "name",
		"table":        map[string]any{"us": "United States", "fr": "France"},
	})
	require.NoError(t, err)

	out := run(t, s, record.FromMap(map[string]any{"code": "fr"}))
	require.Len(t, out, 1)

	name, ok := out[0].GetString("name")
	require.True(t, ok)
	assert.Equal(t, "France", name)
}
