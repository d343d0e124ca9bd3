// Package pipeline composes registered stages into a single stream
// transformation. Assembly resolves stage names through a registry, so
// misconfigured pipelines fail at construction, not mid-stream.
package pipeline

import (
	"context"
	"fmt"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/metric"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// StageSpec names one stage and its construction parameters.
type StageSpec struct {
	Name   string       `json:"name"`
	Params stage.Params `json:"params,omitempty"`
}

// Pipeline is an ordered chain of instrumented stages.
type Pipeline struct {
	stages []*instrumentedStage
}

// Option configures pipeline assembly.
type Option func(*options)

type options struct {
	metrics *metric.Metrics
}

// WithMetrics publishes per-stage record counters and pull latency to
// prometheus in addition to the in-process measurements.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(o *options) {
		if reg != nil {
			o.metrics = reg.CoreMetrics()
		}
	}
}

// New resolves the specs through the registry and assembles a pipeline.
// Any resolution failure is a configuration error naming the offending
// stage; nothing is partially constructed.
func New(registry *stage.Registry, specs []StageSpec, opts ...Option) (*Pipeline, error) {
	if registry == nil {
		return nil, errors.WrapInterface(errors.ErrInvalidConfig, "pipeline", "New",
			"registry validation")
	}

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	stages := make([]*instrumentedStage, 0, len(specs))
	for i, spec := range specs {
		s, err := registry.Create(spec.Name, spec.Params)
		if err != nil {
			return nil, errors.WrapConfig(err, "pipeline", "New",
				fmt.Sprintf("stage %d (%q)", i, spec.Name))
		}
		inst := newInstrumentedStage(s)
		inst.metrics = o.metrics
		stages = append(stages, inst)
	}

	return &Pipeline{stages: stages}, nil
}

// FromStages assembles a pipeline from already constructed stages.
func FromStages(stages ...stage.Stage) (*Pipeline, error) {
	out := make([]*instrumentedStage, 0, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, errors.WrapInterface(errors.ErrNilStage, "pipeline", "FromStages",
				fmt.Sprintf("stage %d", i))
		}
		out = append(out, newInstrumentedStage(s))
	}
	return &Pipeline{stages: out}, nil
}

// Through folds the input stream through every stage in order: stage
// i's output becomes stage i+1's input. With no stages the input passes
// through unchanged.
func (p *Pipeline) Through(ctx context.Context, in <-chan *record.Record) <-chan *record.Record {
	out := in
	for _, s := range p.stages {
		out = s.Transform(ctx, out)
	}
	return out
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// StageNames returns stage names in pipeline order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Metrics returns per-stage throughput measurements in pipeline order.
func (p *Pipeline) Metrics() []StageMetrics {
	out := make([]StageMetrics, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Metrics()
	}
	return out
}
