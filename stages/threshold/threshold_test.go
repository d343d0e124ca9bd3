package threshold

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

func stream(recs ...*record.Record) <-chan *record.Record {
	ch := make(chan *record.Record)
	go func() {
		defer close(ch)
		for _, r := range recs {
			ch <- r
		}
	}()
	return ch
}

func collect(ch <-chan *record.Record) []*record.Record {
	var out []*record.Record
	for rec := range ch {
		out = append(out, rec)
	}
	return out
}

func TestDropsAboveLimit(t *testing.T) {
	filter := New("id", 7, false)

	var recs []*record.Record
	for i := 1; i <= 10; i++ {
		recs = append(recs, record.FromMap(map[string]any{"id": float64(i)}))
	}

	out := collect(filter.Transform(context.Background(), stream(recs...)))
	require.Len(t, out, 7)
	for i, rec := range out {
		v, ok := rec.GetFloat("id")
		require.True(t, ok)
		assert.Equal(t, float64(i+1), v)
	}
}

func TestLimitIsInclusive(t *testing.T) {
	filter := New("n", 5, false)

	out := collect(filter.Transform(context.Background(), stream(
		record.FromMap(map[string]any{"n": 5.0}),
		record.FromMap(map[string]any{"n": 5.1}),
	)))

	require.Len(t, out, 1)
	v, _ := out[0].GetFloat("n")
	assert.Equal(t, 5.0, v)
}

func TestMissingFieldPassesThrough(t *testing.T) {
	filter := New("n", 5, false)

	out := collect(filter.Transform(context.Background(), stream(
		record.FromMap(map[string]any{"other": 100.0}),
	)))
	assert.Len(t, out, 1)
}

func TestMissingFieldDroppedWhenConfigured(t *testing.T) {
	filter := New("n", 5, true)

	out := collect(filter.Transform(context.Background(), stream(
		record.FromMap(map[string]any{"other": 100.0}),
	)))
	assert.Empty(t, out)
}

func TestRegisteredFactory(t *testing.T) {
	s, err := stage.Default().Create(StageName, stage.Params{
		"field": "id",
		"limit": 7.0,
	})
	require.NoError(t, err)
	assert.Equal(t, StageName, s.Name())

	_, err = stage.Default().Create(StageName, stage.Params{"field": "id"})
	assert.Error(t, err, "limit is required")
}
