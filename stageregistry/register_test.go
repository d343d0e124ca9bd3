package stageregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/stage"
)

func TestRegisterAllBuiltins(t *testing.T) {
	r := stage.NewRegistry()
	require.NoError(t, Register(r))

	assert.Equal(t, []string{"enrich", "fieldmap", "threshold"}, r.List())
}

func TestRegisterNilRegistry(t *testing.T) {
	assert.Error(t, Register(nil))
}

func TestRegisterTwiceFails(t *testing.T) {
	r := stage.NewRegistry()
	require.NoError(t, Register(r))
	assert.Error(t, Register(r), "duplicate names must be rejected")
}

func TestDefaultRegistryHasBuiltins(t *testing.T) {
	for _, name := range []string{"threshold", "fieldmap", "enrich"} {
		assert.True(t, stage.Default().Has(name), name)
	}
}
