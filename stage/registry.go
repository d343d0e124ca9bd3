package stage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/flowline/errors"
)

// Factory creates a stage instance from construction parameters. The
// factory parses and validates its own parameters and returns a fully
// initialized stage; I/O belongs in the stage's Transform, not here.
type Factory func(params Params) (Stage, error)

// Registration holds the factory and metadata for a stage type.
type Registration struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Params      []ParamSpec `json:"params,omitempty"`
	Factory     Factory     `json:"-"`
}

// Registry manages stage factories by name. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]*Registration
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
	}
}

// Register adds a stage factory. Names must be unique; registering a nil
// factory or a duplicate name is an interface violation by the caller.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.WrapInterface(errors.ErrInvalidConfig, "Registry", "Register",
			"stage name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInterface(errors.ErrNilFactory, "Registry", "Register",
			fmt.Sprintf("stage %q", reg.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reg.Name]; exists {
		return errors.WrapInterface(errors.ErrDuplicateStage, "Registry", "Register",
			fmt.Sprintf("stage %q", reg.Name))
	}

	r.factories[reg.Name] = &reg
	return nil
}

// Create instantiates a stage by registered name. An unknown name is a
// configuration error naming the stage. A factory returning a nil stage
// without an error is an interface violation.
func (r *Registry) Create(name string, params Params) (Stage, error) {
	r.mu.RLock()
	reg, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.WrapConfig(errors.ErrUnknownStage, "Registry", "Create",
			fmt.Sprintf("stage %q", name))
	}

	if params == nil {
		params = Params{}
	}
	if err := validateParams(reg.Params, params); err != nil {
		return nil, errors.WrapConfig(err, "Registry", "Create",
			fmt.Sprintf("stage %q", name))
	}

	s, err := reg.Factory(params)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.WrapInterface(errors.ErrNilStage, "Registry", "Create",
			fmt.Sprintf("stage %q factory returned nil without error", name))
	}

	return s, nil
}

// Describe returns the registration metadata for a stage name.
func (r *Registry) Describe(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.factories[name]
	if !exists {
		return Registration{}, errors.WrapConfig(errors.ErrUnknownStage, "Registry", "Describe",
			fmt.Sprintf("stage %q", name))
	}
	return *reg, nil
}

// List returns all registered stage names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a stage name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide stage registry that stage packages
// register into from their init functions.
func Default() *Registry {
	return defaultRegistry
}

// MustRegister registers into the default registry and panics on error.
// Intended for init-time registration of built-in stages, where a
// failure is a programming error.
func MustRegister(reg Registration) {
	if err := defaultRegistry.Register(reg); err != nil {
		panic(err)
	}
}
