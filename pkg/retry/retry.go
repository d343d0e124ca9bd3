// Package retry provides exponential backoff retry logic for the framework
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/c360/flowline/errors"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// PermanentError wraps errors that should not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// isPermanent reports whether an error is excluded from retry, either via
// the Permanent marker or via framework error classification.
func isPermanent(err error) bool {
	var pe *PermanentError
	if stderrors.As(err, &pe) {
		return true
	}
	return errors.IsPermanent(err)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts    int           // Maximum number of attempts (0 = run once, no retry)
	InitialDelay   time.Duration // Initial delay between attempts
	MaxDelay       time.Duration // Maximum delay between attempts
	Multiplier     float64       // Backoff multiplier (typically 2.0)
	JitterFraction float64       // Uniform jitter bound as a fraction of the delay (0 = none)

	// OnRetry, when set, is invoked before each retry sleep with the
	// 1-based attempt number that just failed and its error.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns sensible defaults for retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do executes fn with exponential backoff retry.
//
// A permanent error (via Permanent or framework classification) fails
// immediately without further attempts. When all attempts fail the returned
// error wraps errors.ErrMaxRetriesExceeded and the last attempt error.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.InitialDelay < 0 {
		return stderrors.New("retry: InitialDelay cannot be negative")
	}
	if cfg.MaxDelay < 0 {
		return stderrors.New("retry: MaxDelay cannot be negative")
	}
	if cfg.Multiplier < 0 {
		return stderrors.New("retry: Multiplier cannot be negative")
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		return stderrors.New("retry: JitterFraction must be in [0,1]")
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return stderrors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// Permanent failures skip retry entirely
		if isPermanent(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		sleep := delay
		if cfg.JitterFraction > 0 {
			bound := int64(float64(delay) * cfg.JitterFraction)
			if bound > 0 {
				randMu.Lock()
				sleep = delay + time.Duration(randSource.Int63n(bound))
				randMu.Unlock()
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := float64(delay) * cfg.Multiplier
		if next > float64(cfg.MaxDelay) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(next)
		}
	}

	return fmt.Errorf("%w: %d attempts: %w", errors.ErrMaxRetriesExceeded, cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Quick returns a config for fast retries (useful during startup)
func Quick() Config {
	return Config{
		MaxAttempts:    10,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       1 * time.Second,
		Multiplier:     1.5,
		JitterFraction: 0.25,
	}
}

// Persistent returns a config for long-running retries against critical
// dependencies.
func Persistent() Config {
	return Config{
		MaxAttempts:    30,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}
