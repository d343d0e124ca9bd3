// Package breaker implements a three-state circuit breaker guarding calls
// to failing dependencies.
//
// States:
//   - Closed: normal operation, calls pass through
//   - Open: the dependency is unhealthy, calls fail immediately with
//     errors.ErrCircuitOpen without invoking it
//   - HalfOpen: a single probe call is allowed to test recovery
//
// Transitions:
//   - closed -> open when consecutive failures reach FailureThreshold
//   - open -> half-open after ResetTimeout has elapsed since the last failure
//   - half-open -> closed on probe success (failure counter resets)
//   - half-open -> open on probe failure (reset timer restarts)
package breaker

import (
	"sync"
	"time"

	"github.com/c360/flowline/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows calls to pass through.
	StateClosed State = iota
	// StateOpen fails all calls immediately.
	StateOpen
	// StateHalfOpen allows a single probe call.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a circuit breaker.
type Config struct {
	// Name identifies this breaker for logging and dashboard reporting.
	Name string
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a
	// probe call.
	ResetTimeout time.Duration
	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to State)

	// now is swappable for tests.
	now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a three-state circuit breaker. One instance guards one
// protected dependency; all methods are safe for concurrent use.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	probeInFlight   bool
}

// New creates a circuit breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn through the circuit breaker. When the circuit is open it
// returns errors.ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// ExecuteWithResult runs a function returning a value through breaker b.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Execute(func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// State returns the current state, applying the open -> half-open timeout
// transition if due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to closed with a zero failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toState(StateClosed)
	b.failures = 0
	b.probeInFlight = false
}

// allow decides whether a call may proceed, reserving the probe slot in
// half-open state.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return errors.ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return errors.ErrCircuitOpen
	}
}

// record applies the call outcome to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()

	if err == nil {
		switch state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			// Probe succeeded: recovery confirmed
			b.failures = 0
			b.probeInFlight = false
			b.toState(StateClosed)
		}
		return
	}

	b.failures++
	b.lastFailureTime = b.cfg.now()

	switch state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.toState(StateOpen)
		}
	case StateHalfOpen:
		// Probe failed: back to open, reset timer restarts
		b.probeInFlight = false
		b.toState(StateOpen)
	}
}

// currentState returns the state, handling the timeout transition.
// Must be called with the mutex held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.cfg.now().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
		b.toState(StateHalfOpen)
	}
	return b.state
}

// toState transitions to a new state. Must be called with the mutex held.
func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		// Callback runs under the lock; keep implementations non-blocking.
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
