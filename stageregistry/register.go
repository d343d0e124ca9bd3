// Package stageregistry registers all built-in stages with a registry.
// Importing this package also self-registers the builtins into the
// process-wide default registry via their init functions.
package stageregistry

import (
	stderrors "errors"

	pkgerrors "github.com/c360/flowline/errors"
	"github.com/c360/flowline/stage"
	"github.com/c360/flowline/stages/enrich"
	"github.com/c360/flowline/stages/fieldmap"
	"github.com/c360/flowline/stages/threshold"
)

// Register registers all built-in stages with the provided registry:
//
//   - threshold (numeric-limit filtering)
//   - fieldmap (rename/constant fields)
//   - enrich (cache-backed lookup annotation)
//
// Applications embedding custom stages register them after this call.
func Register(registry *stage.Registry) error {
	if registry == nil {
		return pkgerrors.WrapInterface(
			stderrors.New("registry cannot be nil"),
			"StageRegistry", "Register", "registry validation")
	}

	if err := threshold.Register(registry); err != nil {
		return pkgerrors.WrapConfig(err, "StageRegistry", "Register", "threshold stage registration")
	}
	if err := fieldmap.Register(registry); err != nil {
		return pkgerrors.WrapConfig(err, "StageRegistry", "Register", "fieldmap stage registration")
	}
	if err := enrich.Register(registry); err != nil {
		return pkgerrors.WrapConfig(err, "StageRegistry", "Register", "enrich stage registration")
	}

	return nil
}
