package stage

import (
	"fmt"
	"time"

	"github.com/c360/flowline/errors"
)

// Params holds a stage's construction parameters as parsed from
// configuration. Getters convert JSON-decoded values (strings, float64
// numbers, bools, []any) into the requested Go type.
type Params map[string]any

// String returns a required string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", missingParam(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", wrongType(key, "string", v)
	}
	return s, nil
}

// StringOr returns a string parameter or def when absent.
func (p Params) StringOr(key, def string) (string, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.String(key)
}

// Float returns a required numeric parameter as float64.
func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, missingParam(key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, wrongType(key, "number", v)
	}
}

// FloatOr returns a numeric parameter or def when absent.
func (p Params) FloatOr(key string, def float64) (float64, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Float(key)
}

// Int returns a required integer parameter. JSON numbers are accepted
// when they have no fractional part.
func (p Params) Int(key string) (int, error) {
	f, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	n := int(f)
	if float64(n) != f {
		return 0, wrongType(key, "integer", p[key])
	}
	return n, nil
}

// IntOr returns an integer parameter or def when absent.
func (p Params) IntOr(key string, def int) (int, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Int(key)
}

// Bool returns a required boolean parameter.
func (p Params) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, missingParam(key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, wrongType(key, "bool", v)
	}
	return b, nil
}

// BoolOr returns a boolean parameter or def when absent.
func (p Params) BoolOr(key string, def bool) (bool, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Bool(key)
}

// Duration returns a required duration parameter, accepting duration
// strings ("5s") or numeric nanoseconds.
func (p Params) Duration(key string) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return 0, missingParam(key)
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, errors.WrapConfig(err, "stage", "Params.Duration",
				fmt.Sprintf("parameter %q", key))
		}
		return parsed, nil
	case time.Duration:
		return d, nil
	case float64:
		return time.Duration(d), nil
	case int64:
		return time.Duration(d), nil
	case int:
		return time.Duration(d), nil
	default:
		return 0, wrongType(key, "duration", v)
	}
}

// DurationOr returns a duration parameter or def when absent.
func (p Params) DurationOr(key string, def time.Duration) (time.Duration, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Duration(key)
}

// StringMap returns a required map parameter with string values.
func (p Params) StringMap(key string) (map[string]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, missingParam(key)
	}

	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, mv := range m {
			s, ok := mv.(string)
			if !ok {
				return nil, wrongType(key, "map of strings", mv)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, wrongType(key, "map of strings", v)
	}
}

func missingParam(key string) error {
	return errors.WrapConfig(errors.ErrMissingConfig, "stage", "Params",
		fmt.Sprintf("parameter %q", key))
}

func wrongType(key, want string, got any) error {
	return errors.WrapConfig(errors.ErrInvalidConfig, "stage", "Params",
		fmt.Sprintf("parameter %q: expected %s, got %T", key, want, got))
}

// ParamSpec describes one parameter a stage accepts, used for
// registry-level validation and discovery.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "integer", "bool", "duration", "map"
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// validateParams checks required parameters are present.
func validateParams(specs []ParamSpec, params Params) error {
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		if _, ok := params[spec.Name]; !ok {
			return errors.WrapConfig(errors.ErrMissingConfig, "stage", "validateParams",
				fmt.Sprintf("required parameter %q", spec.Name))
		}
	}
	return nil
}
