// Package errors provides standardized error handling patterns for Flowline
// components. It includes error classification, standard error variables, and
// helper functions for consistent error wrapping across the pipeline engine.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorPermanent represents data-dependent errors that must not be
	// retried; the offending record is dead-lettered instead
	ErrorPermanent
	// ErrorConfig represents pipeline assembly errors (unknown stage name,
	// malformed parameters); fatal at assembly time
	ErrorConfig
	// ErrorInterface represents a component lacking a required capability;
	// fatal at construction time
	ErrorInterface
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorConfig:
		return "config"
	case ErrorInterface:
		return "interface"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Assembly and construction errors
	ErrUnknownStage   = errors.New("unknown stage name")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrDuplicateStage = errors.New("stage name already registered")
	ErrNilFactory     = errors.New("stage factory cannot be nil")
	ErrNilStage       = errors.New("factory produced a nil stage")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrAlreadyStopped = errors.New("already stopped")
	ErrShuttingDown   = errors.New("shutting down")

	// Data processing errors
	ErrInvalidData    = errors.New("invalid data format")
	ErrValidationFail = errors.New("record validation failed")

	// Connection errors (transient by classification)
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Resilience errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent checks if an error is data-dependent and must not be retried
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorPermanent
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrValidationFail)
}

// IsConfig checks if an error is a pipeline assembly error
func IsConfig(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorConfig
	}

	return errors.Is(err, ErrUnknownStage) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrDuplicateStage)
}

// IsInterface checks if an error is a missing-capability error
func IsInterface(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInterface
	}

	return errors.Is(err, ErrNilFactory) || errors.Is(err, ErrNilStage)
}

// Classify returns the error class for an error.
// Unknown errors default to transient so the retry layer gets a chance;
// the dead-letter accumulator bounds the damage if they never succeed.
func Classify(err error) ErrorClass {
	switch {
	case IsConfig(err):
		return ErrorConfig
	case IsInterface(err):
		return ErrorInterface
	case IsPermanent(err):
		return ErrorPermanent
	default:
		return ErrorTransient
	}
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap* functions instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapPermanent wraps an error as permanent with context
func WrapPermanent(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorPermanent, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConfig wraps an error as a configuration error with context
func WrapConfig(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConfig, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInterface wraps an error as a missing-capability error with context
func WrapInterface(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInterface, wrappedErr, component, method, wrappedErr.Error())
}
