package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/runner"
	"github.com/c360/flowline/stage"
	_ "github.com/c360/flowline/stages/threshold"
)

const validDefinition = `{
	"source": {
		"type": "inline",
		"records": [
			{"id": 1},
			{"id": 2},
			{"id": 8}
		]
	},
	"stages": [
		{"name": "threshold", "params": {"field": "id", "limit": 7}}
	],
	"sinks": [
		{"type": "stdout"}
	],
	"runner": {
		"strategy": "sequential",
		"memory_sample_interval": "10ms"
	}
}`

func TestParseValidDefinition(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	require.NoError(t, err)

	assert.Equal(t, SourceInline, def.Source.Type)
	assert.Len(t, def.Source.Records, 3)
	require.Len(t, def.Stages, 1)
	assert.Equal(t, "threshold", def.Stages[0].Name)
	assert.Equal(t, "sequential", def.Runner.Strategy)
	assert.Equal(t, 10*time.Millisecond, def.Runner.MemorySampleInterval.Std())
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"source":`))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestDurationAcceptsNanoseconds(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"not a duration"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}

func TestValidateAgainstRegistry(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	require.NoError(t, err)
	assert.NoError(t, def.Validate(stage.Default()))
}

func TestValidateUnknownStage(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	require.NoError(t, err)
	def.Stages[0].Name = "nonsense"

	err = def.Validate(stage.Default())
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
	assert.ErrorIs(t, err, errors.ErrUnknownStage)
}

func TestValidateMissingRequiredParam(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	require.NoError(t, err)
	delete(def.Stages[0].Params, "field")

	err = def.Validate(stage.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	assert.Contains(t, err.Error(), "field")
}

func TestValidateRequiresSink(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	require.NoError(t, err)
	def.Sinks = nil

	err = def.Validate(stage.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestValidateUnknownTypes(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	require.NoError(t, err)
	def.Source.Type = "carrier-pigeon"
	assert.Error(t, def.Validate(stage.Default()))

	def, err = Parse([]byte(validDefinition))
	require.NoError(t, err)
	def.Sinks[0].Type = "carrier-pigeon"
	assert.Error(t, def.Validate(stage.Default()))

	def, err = Parse([]byte(validDefinition))
	require.NoError(t, err)
	def.Runner.Strategy = "carrier-pigeon"
	assert.Error(t, def.Validate(stage.Default()))
}

func TestNATSSpecsValidated(t *testing.T) {
	src := SourceSpec{Type: SourceNATS} // no subject
	assert.Error(t, src.Validate())

	src.Subject = "telemetry.raw"
	assert.NoError(t, src.Validate())

	snk := SinkSpec{Type: SinkNATS}
	assert.Error(t, snk.Validate())

	ws := SinkSpec{Type: SinkWebSocket}
	assert.Error(t, ws.Validate())
	ws.Addr = ":0"
	assert.NoError(t, ws.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte(validDefinition), 0o600))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "threshold", def.Stages[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestEndToEndAssembly(t *testing.T) {
	def, err := Parse([]byte(validDefinition))
	require.NoError(t, err)
	require.NoError(t, def.Validate(stage.Default()))

	src, err := def.Source.Build()
	require.NoError(t, err)

	pipe, err := def.BuildPipeline(stage.Default())
	require.NoError(t, err)

	var out bytes.Buffer
	snk, err := def.BuildSinks(&out)
	require.NoError(t, err)

	r, err := runner.NewSequential(src, pipe, snk, def.Runner.Config())
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	// ids 1, 2 pass the limit of 7; id 8 is filtered.
	assert.Equal(t, int64(3), report.RecordsIn)
	assert.Equal(t, int64(2), report.RecordsOut)
	assert.Equal(t, int64(1), report.Dropped)

	lines := bytes.Count(out.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines)
}

func TestBuildSinksFansOut(t *testing.T) {
	def := &Definition{
		Sinks: []SinkSpec{{Type: SinkStdout}, {Type: SinkStdout}},
	}
	var out bytes.Buffer
	snk, err := def.BuildSinks(&out)
	require.NoError(t, err)
	assert.NotNil(t, snk)
}
