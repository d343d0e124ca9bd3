package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/metric"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
	_ "github.com/c360/flowline/stages/fieldmap"
	_ "github.com/c360/flowline/stages/threshold"
)

func stream(recs ...*record.Record) <-chan *record.Record {
	ch := make(chan *record.Record, len(recs))
	for _, r := range recs {
		ch <- r
	}
	close(ch)
	return ch
}

func collect(ch <-chan *record.Record) []*record.Record {
	var out []*record.Record
	for rec := range ch {
		out = append(out, rec)
	}
	return out
}

func idsUpTo(n int) []*record.Record {
	recs := make([]*record.Record, n)
	for i := range recs {
		recs[i] = record.FromMap(map[string]any{"id": float64(i + 1)})
	}
	return recs
}

func TestAssemblyResolvesThroughRegistry(t *testing.T) {
	p, err := New(stage.Default(), []StageSpec{
		{Name: "threshold", Params: stage.Params{"field": "id", "limit": 7.0}},
		{Name: "fieldmap", Params: stage.Params{"set": map[string]any{"checked": true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"threshold", "fieldmap"}, p.StageNames())
}

func TestAssemblyFailsOnUnknownStage(t *testing.T) {
	_, err := New(stage.Default(), []StageSpec{
		{Name: "threshold", Params: stage.Params{"field": "id", "limit": 7.0}},
		{Name: "does-not-exist"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownStage)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestThroughFoldsStages(t *testing.T) {
	p, err := New(stage.Default(), []StageSpec{
		{Name: "threshold", Params: stage.Params{"field": "id", "limit": 7.0}},
		{Name: "fieldmap", Params: stage.Params{"rename": map[string]any{"id": "ident"}}},
	})
	require.NoError(t, err)

	out := collect(p.Through(context.Background(), stream(idsUpTo(10)...)))
	require.Len(t, out, 7, "ids above 7 are dropped before the rename")

	for i, rec := range out {
		v, ok := rec.GetFloat("ident")
		require.True(t, ok)
		assert.Equal(t, float64(i+1), v)
		_, ok = rec.Get("id")
		assert.False(t, ok)
	}
}

func TestEmptyPipelinePassesThrough(t *testing.T) {
	p, err := New(stage.Default(), nil)
	require.NoError(t, err)

	recs := idsUpTo(3)
	out := collect(p.Through(context.Background(), stream(recs...)))
	require.Len(t, out, 3)
	assert.Same(t, recs[0], out[0])
}

func TestInstrumentationCounts(t *testing.T) {
	p, err := New(stage.Default(), []StageSpec{
		{Name: "threshold", Params: stage.Params{"field": "id", "limit": 7.0}},
	})
	require.NoError(t, err)

	collect(p.Through(context.Background(), stream(idsUpTo(10)...)))

	metrics := p.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, "threshold", metrics[0].Stage)
	assert.Equal(t, int64(10), metrics[0].RecordsIn)
	assert.Equal(t, int64(7), metrics[0].RecordsOut)
	assert.Greater(t, metrics[0].BusyTime.Nanoseconds(), int64(0))
}

func TestWithMetricsPublishesCounters(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	p, err := New(stage.Default(), []StageSpec{
		{Name: "threshold", Params: stage.Params{"field": "id", "limit": 7.0}},
	}, WithMetrics(reg))
	require.NoError(t, err)

	collect(p.Through(context.Background(), stream(idsUpTo(10)...)))

	in := testutil.ToFloat64(reg.CoreMetrics().RecordsIn.WithLabelValues("threshold"))
	out := testutil.ToFloat64(reg.CoreMetrics().RecordsOut.WithLabelValues("threshold"))
	assert.Equal(t, 10.0, in)
	assert.Equal(t, 7.0, out)
}

func TestBusyTimeExcludesUpstreamWait(t *testing.T) {
	slow := stage.FromProcessor(stage.Func{
		StageName: "slow",
		Fn: func(_ context.Context, rec *record.Record) (*record.Record, error) {
			time.Sleep(5 * time.Millisecond)
			return rec, nil
		},
	})
	fast := stage.FromProcessor(stage.Func{
		StageName: "fast",
		Fn: func(_ context.Context, rec *record.Record) (*record.Record, error) {
			return rec, nil
		},
	})

	p, err := FromStages(slow, fast)
	require.NoError(t, err)

	out := collect(p.Through(context.Background(), stream(idsUpTo(20)...)))
	require.Len(t, out, 20)

	metrics := p.Metrics()
	require.Len(t, metrics, 2)
	slowM, fastM := metrics[0], metrics[1]
	require.Equal(t, "slow", slowM.Stage)
	require.Equal(t, "fast", fastM.Stage)

	// The fast stage spends almost all wall time starved by its slow
	// upstream; that wait must not count toward its busy time.
	assert.GreaterOrEqual(t, slowM.BusyTime, 100*time.Millisecond)
	assert.Less(t, fastM.BusyTime, slowM.BusyTime/10)
	assert.Greater(t, fastM.RPS, slowM.RPS)
}

func TestFromStages(t *testing.T) {
	double := stage.FromProcessor(stage.Func{
		StageName: "double",
		Fn: func(_ context.Context, rec *record.Record) (*record.Record, error) {
			v, _ := rec.GetFloat("id")
			out := rec.Clone()
			out.Set("id", v*2)
			return out, nil
		},
	})

	p, err := FromStages(double, double)
	require.NoError(t, err)

	out := collect(p.Through(context.Background(), stream(record.FromMap(map[string]any{"id": 3.0}))))
	require.Len(t, out, 1)
	v, _ := out[0].GetFloat("id")
	assert.Equal(t, 12.0, v)

	_, err = FromStages(double, nil)
	assert.Error(t, err)
}
