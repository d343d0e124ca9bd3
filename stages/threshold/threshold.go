// Package threshold provides a filter stage that drops records whose
// numeric field exceeds a configured limit.
package threshold

import (
	"context"
	"fmt"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// StageName is the registry name for this stage.
const StageName = "threshold"

func init() {
	stage.MustRegister(registration())
}

// Register adds the threshold stage to the given registry.
func Register(r *stage.Registry) error {
	return r.Register(registration())
}

func registration() stage.Registration {
	return stage.Registration{
		Name:        StageName,
		Description: "Drops records whose numeric field exceeds a limit",
		Params: []stage.ParamSpec{
			{Name: "field", Type: "string", Required: true, Description: "Field holding the numeric value"},
			{Name: "limit", Type: "number", Required: true, Description: "Records with field > limit are dropped"},
			{Name: "drop_missing", Type: "bool", Default: false, Description: "Drop records missing the field"},
		},
		Factory: factory,
	}
}

func factory(params stage.Params) (stage.Stage, error) {
	field, err := params.String("field")
	if err != nil {
		return nil, err
	}
	limit, err := params.Float("limit")
	if err != nil {
		return nil, err
	}
	dropMissing, err := params.BoolOr("drop_missing", false)
	if err != nil {
		return nil, err
	}
	return New(field, limit, dropMissing), nil
}

// Filter drops records whose numeric field exceeds the limit. Records
// at or below the limit pass through unchanged.
type Filter struct {
	field       string
	limit       float64
	dropMissing bool
}

// New creates a threshold filter on the given field.
func New(field string, limit float64, dropMissing bool) stage.Stage {
	return stage.FromProcessor(&Filter{
		field:       field,
		limit:       limit,
		dropMissing: dropMissing,
	})
}

func (f *Filter) Name() string { return StageName }

// Process drops the record when field > limit. A missing or non-numeric
// field passes through unless drop_missing is set.
func (f *Filter) Process(_ context.Context, rec *record.Record) (*record.Record, error) {
	v, ok := rec.GetFloat(f.field)
	if !ok {
		if f.dropMissing {
			return nil, errors.WrapPermanent(stage.ErrDrop, StageName, "Process",
				fmt.Sprintf("field %q missing", f.field))
		}
		return rec, nil
	}

	if v > f.limit {
		return nil, stage.ErrDrop
	}
	return rec, nil
}
