// Package fieldmap provides a mapping stage that renames fields and
// adds constant fields to records.
package fieldmap

import (
	"context"

	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// StageName is the registry name for this stage.
const StageName = "fieldmap"

func init() {
	stage.MustRegister(registration())
}

// Register adds the fieldmap stage to the given registry.
func Register(r *stage.Registry) error {
	return r.Register(registration())
}

func registration() stage.Registration {
	return stage.Registration{
		Name:        StageName,
		Description: "Renames fields and adds constant fields",
		Params: []stage.ParamSpec{
			{Name: "rename", Type: "map", Description: "Old field name to new field name"},
			{Name: "set", Type: "map", Description: "Constant fields added to every record"},
		},
		Factory: factory,
	}
}

func factory(params stage.Params) (stage.Stage, error) {
	var rename map[string]string
	if _, ok := params["rename"]; ok {
		m, err := params.StringMap("rename")
		if err != nil {
			return nil, err
		}
		rename = m
	}

	var set map[string]any
	if raw, ok := params["set"]; ok {
		if m, ok := raw.(map[string]any); ok {
			set = m
		}
	}

	return New(rename, set), nil
}

// Mapper renames and adds fields. Input records are cloned, never
// mutated in place.
type Mapper struct {
	rename map[string]string
	set    map[string]any
}

// New creates a fieldmap stage. Either map may be nil.
func New(rename map[string]string, set map[string]any) stage.Stage {
	return stage.FromProcessor(&Mapper{rename: rename, set: set})
}

func (m *Mapper) Name() string { return StageName }

// Process applies renames then constant sets on a clone of the input
// record, so the record's identity survives while upstream copies stay
// untouched. Renaming a missing field is a no-op.
func (m *Mapper) Process(_ context.Context, rec *record.Record) (*record.Record, error) {
	if len(m.rename) == 0 && len(m.set) == 0 {
		return rec, nil
	}

	out := rec.Clone()
	for _, field := range rec.Fields() {
		if newName, ok := m.rename[field]; ok {
			out.Rename(field, newName)
		}
	}
	for k, v := range m.set {
		out.Set(k, v)
	}
	return out, nil
}
