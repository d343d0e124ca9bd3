// Package config loads and validates pipeline definitions. A definition
// is a JSON document naming a source, an ordered stage list, one or more
// sinks and a runner strategy; stage names and required parameters are
// checked against live registry metadata before anything is constructed.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/pipeline"
	"github.com/c360/flowline/runner"
	"github.com/c360/flowline/sink"
	"github.com/c360/flowline/source"
	"github.com/c360/flowline/stage"
)

// Duration accepts either a Go duration string ("5s", "2m") or integer
// nanoseconds in JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("invalid duration string: %w", err)
		}
		*d = Duration(parsed)
		return nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return fmt.Errorf("duration must be a string (e.g. '5s') or integer nanoseconds")
	}
	*d = Duration(nsec)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Source type names accepted in definitions.
const (
	SourceInline = "inline"
	SourceNATS   = "nats"
)

// Sink type names accepted in definitions.
const (
	SinkStdout    = "stdout"
	SinkNATS      = "nats"
	SinkWebSocket = "websocket"
)

// SourceSpec selects and configures the record source.
type SourceSpec struct {
	Type string `json:"type"`

	// Records holds the input for inline sources.
	Records []map[string]any `json:"records,omitempty"`

	// NATS source settings.
	URL            string   `json:"url,omitempty"`
	Subject        string   `json:"subject,omitempty"`
	QueueGroup     string   `json:"queue_group,omitempty"`
	QueueSize      int      `json:"queue_size,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`
}

// Validate checks the source specification.
func (s SourceSpec) Validate() error {
	switch s.Type {
	case SourceInline:
		return nil
	case SourceNATS:
		return s.natsConfig().Validate()
	default:
		return errors.WrapConfig(errors.ErrInvalidConfig, "config", "SourceSpec.Validate",
			fmt.Sprintf("unknown source type %q", s.Type))
	}
}

func (s SourceSpec) natsConfig() source.NATSConfig {
	return source.NATSConfig{
		URL:            s.URL,
		Subject:        s.Subject,
		QueueGroup:     s.QueueGroup,
		QueueSize:      s.QueueSize,
		ConnectTimeout: s.ConnectTimeout.Std(),
	}
}

// Build constructs the configured source.
func (s SourceSpec) Build() (source.Source, error) {
	switch s.Type {
	case SourceInline:
		return source.FromMaps(s.Records), nil
	case SourceNATS:
		return source.NewNATS(s.natsConfig())
	default:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "config", "SourceSpec.Build",
			fmt.Sprintf("unknown source type %q", s.Type))
	}
}

// SinkSpec selects and configures one output.
type SinkSpec struct {
	Type string `json:"type"`

	// NATS sink settings.
	URL            string   `json:"url,omitempty"`
	Subject        string   `json:"subject,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`
	FlushOnClose   bool     `json:"flush_on_close,omitempty"`

	// WebSocket sink settings.
	Addr         string   `json:"addr,omitempty"`
	Path         string   `json:"path,omitempty"`
	WriteTimeout Duration `json:"write_timeout,omitempty"`
}

// Validate checks the sink specification.
func (s SinkSpec) Validate() error {
	switch s.Type {
	case SinkStdout:
		return nil
	case SinkNATS:
		return s.natsConfig().Validate()
	case SinkWebSocket:
		return s.websocketConfig().Validate()
	default:
		return errors.WrapConfig(errors.ErrInvalidConfig, "config", "SinkSpec.Validate",
			fmt.Sprintf("unknown sink type %q", s.Type))
	}
}

func (s SinkSpec) natsConfig() sink.NATSConfig {
	return sink.NATSConfig{
		URL:            s.URL,
		Subject:        s.Subject,
		ConnectTimeout: s.ConnectTimeout.Std(),
		FlushOnClose:   s.FlushOnClose,
	}
}

func (s SinkSpec) websocketConfig() sink.WebSocketConfig {
	return sink.WebSocketConfig{
		Addr:         s.Addr,
		Path:         s.Path,
		WriteTimeout: s.WriteTimeout.Std(),
	}
}

// Build constructs the configured sink. Stdout sinks write NDJSON to w,
// which the caller supplies so tests can capture output.
func (s SinkSpec) Build(w io.Writer) (sink.Sink, error) {
	switch s.Type {
	case SinkStdout:
		return sink.NewWriter(SinkStdout, w)
	case SinkNATS:
		return sink.NewNATS(s.natsConfig())
	case SinkWebSocket:
		return sink.NewWebSocket(s.websocketConfig())
	default:
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "config", "SinkSpec.Build",
			fmt.Sprintf("unknown sink type %q", s.Type))
	}
}

// StageSpec names a registered stage and its construction parameters.
type StageSpec struct {
	Name   string       `json:"name"`
	Params stage.Params `json:"params,omitempty"`
}

// RunnerSpec configures the run strategy.
type RunnerSpec struct {
	Strategy             string   `json:"strategy,omitempty"`
	Workers              int      `json:"workers,omitempty"`
	QueueSize            int      `json:"queue_size,omitempty"`
	MemorySampleInterval Duration `json:"memory_sample_interval,omitempty"`
}

// Config converts the spec into a runner configuration.
func (s RunnerSpec) Config() runner.Config {
	return runner.Config{
		Strategy:             runner.Strategy(s.Strategy),
		Workers:              s.Workers,
		QueueSize:            s.QueueSize,
		MemorySampleInterval: s.MemorySampleInterval.Std(),
	}
}

// Definition is a complete pipeline description.
type Definition struct {
	Source SourceSpec  `json:"source"`
	Stages []StageSpec `json:"stages"`
	Sinks  []SinkSpec  `json:"sinks"`
	Runner RunnerSpec  `json:"runner,omitempty"`
}

// Load reads and parses a definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfig(err, "config", "Load", fmt.Sprintf("reading %s", path))
	}
	return Parse(data)
}

// Parse decodes a JSON definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errors.WrapConfig(err, "config", "Parse", "decoding definition")
	}
	return &def, nil
}

// Validate checks the definition against the registry's live metadata:
// every stage must be registered and carry its required parameters.
// Nothing is constructed; assembly errors are caught before they cost a
// partially built pipeline.
func (d *Definition) Validate(registry *stage.Registry) error {
	if registry == nil {
		return errors.WrapInterface(errors.ErrInvalidConfig, "config", "Validate",
			"registry validation")
	}

	if err := d.Source.Validate(); err != nil {
		return err
	}

	for i, spec := range d.Stages {
		reg, err := registry.Describe(spec.Name)
		if err != nil {
			return errors.WrapConfig(err, "config", "Validate",
				fmt.Sprintf("stage %d (%q)", i, spec.Name))
		}
		for _, param := range reg.Params {
			if !param.Required {
				continue
			}
			if _, ok := spec.Params[param.Name]; !ok {
				return errors.WrapConfig(errors.ErrMissingConfig, "config", "Validate",
					fmt.Sprintf("stage %d (%q): required parameter %q", i, spec.Name, param.Name))
			}
		}
	}

	if len(d.Sinks) == 0 {
		return errors.WrapConfig(errors.ErrMissingConfig, "config", "Validate",
			"at least one sink is required")
	}
	for i, s := range d.Sinks {
		if err := s.Validate(); err != nil {
			return errors.WrapConfig(err, "config", "Validate", fmt.Sprintf("sink %d", i))
		}
	}

	return d.Runner.Config().Validate()
}

// BuildPipeline assembles the stage list through the registry.
func (d *Definition) BuildPipeline(registry *stage.Registry, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	specs := make([]pipeline.StageSpec, len(d.Stages))
	for i, s := range d.Stages {
		specs[i] = pipeline.StageSpec{Name: s.Name, Params: s.Params}
	}
	return pipeline.New(registry, specs, opts...)
}

// BuildSinks constructs every configured sink, fanning out through a
// Multi sink when more than one is configured.
func (d *Definition) BuildSinks(stdout io.Writer, options ...sink.MultiOption) (sink.Sink, error) {
	built := make([]sink.Sink, len(d.Sinks))
	for i, s := range d.Sinks {
		snk, err := s.Build(stdout)
		if err != nil {
			return nil, errors.WrapConfig(err, "config", "BuildSinks", fmt.Sprintf("sink %d", i))
		}
		built[i] = snk
	}
	if len(built) == 1 {
		return built[0], nil
	}
	return sink.NewMulti(built, options...)
}
