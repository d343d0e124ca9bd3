package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/pkg/breaker"
	"github.com/c360/flowline/pkg/retry"
	"github.com/c360/flowline/record"
	"github.com/c360/flowline/stage"
)

// flaky fails the first failuresBefore calls, then succeeds.
type flaky struct {
	failuresBefore int
	calls          int
	err            error
}

func (f *flaky) Name() string { return "flaky" }

func (f *flaky) Process(_ context.Context, rec *record.Record) (*record.Record, error) {
	f.calls++
	if f.calls <= f.failuresBefore {
		return nil, f.err
	}
	out := rec.Clone()
	out.Set("processed", true)
	return out, nil
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestTransientFailureRetriedToSuccess(t *testing.T) {
	proc := &flaky{failuresBefore: 2, err: errors.WrapTransient(
		errors.ErrConnectionTimeout, "flaky", "Process", "simulated")}

	w, err := Wrap(proc, Config{Retry: fastRetry(3)})
	require.NoError(t, err)

	out, err := w.Process(context.Background(), record.New())
	require.NoError(t, err)
	require.NotNil(t, out)

	v, ok := out.Get("processed")
	require.True(t, ok)
	assert.Equal(t, true, v)
	assert.Equal(t, 3, proc.calls)
	assert.Equal(t, int64(0), w.DeadLetters().Total())
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	proc := &flaky{failuresBefore: 100, err: errors.WrapTransient(
		errors.ErrNoConnection, "flaky", "Process", "simulated")}

	w, err := Wrap(proc, Config{Retry: fastRetry(3)})
	require.NoError(t, err)

	rec := record.New()
	out, err := w.Process(context.Background(), rec)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, errors.ErrMaxRetriesExceeded)
	assert.Equal(t, 3, proc.calls)

	letters := w.DeadLetters().Snapshot()
	require.Len(t, letters, 1)
	assert.Equal(t, rec.ID(), letters[0].Record.ID())
	assert.Equal(t, "flaky", letters[0].Stage)
	assert.Equal(t, 3, letters[0].Attempts)
}

func TestPermanentFailureSkipsRetry(t *testing.T) {
	proc := &flaky{failuresBefore: 100, err: errors.WrapPermanent(
		errors.ErrInvalidData, "flaky", "Process", "simulated")}

	w, err := Wrap(proc, Config{Retry: fastRetry(5)})
	require.NoError(t, err)

	_, err = w.Process(context.Background(), record.New())
	require.Error(t, err)
	assert.Equal(t, 1, proc.calls, "permanent errors are not retried")
	assert.Equal(t, int64(1), w.DeadLetters().Total())
}

func TestDropIsNotAFailure(t *testing.T) {
	dropper := stage.Func{
		StageName: "dropper",
		Fn: func(_ context.Context, _ *record.Record) (*record.Record, error) {
			return nil, stage.ErrDrop
		},
	}

	w, err := Wrap(dropper, Config{Retry: fastRetry(3)})
	require.NoError(t, err)

	_, err = w.Process(context.Background(), record.New())
	assert.True(t, stage.IsDrop(err))
	assert.Equal(t, int64(0), w.DeadLetters().Total())
}

func TestCircuitOpensAndDeadLettersWithoutFallback(t *testing.T) {
	proc := &flaky{failuresBefore: 1000, err: errors.WrapTransient(
		errors.ErrNoConnection, "flaky", "Process", "simulated")}

	w, err := Wrap(proc, Config{
		Retry:   fastRetry(1),
		Breaker: breaker.Config{FailureThreshold: 2, ResetTimeout: time.Hour},
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := w.Process(ctx, record.New())
		require.Error(t, err)
	}
	assert.Equal(t, breaker.StateOpen, w.CircuitState())
	callsAtOpen := proc.calls

	_, err = w.Process(ctx, record.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.Equal(t, callsAtOpen, proc.calls, "open circuit must not invoke the processor")
	assert.Equal(t, int64(3), w.DeadLetters().Total())
}

func TestFallbackServesWhileOpen(t *testing.T) {
	proc := &flaky{failuresBefore: 1000, err: errors.WrapTransient(
		errors.ErrNoConnection, "flaky", "Process", "simulated")}

	fallback := func(_ context.Context, rec *record.Record) (*record.Record, error) {
		out := rec.Clone()
		out.Set("degraded", true)
		return out, nil
	}

	w, err := Wrap(proc, Config{
		Retry:    fastRetry(1),
		Breaker:  breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour},
		Fallback: fallback,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = w.Process(ctx, record.New())
	require.Error(t, err, "first failure opens the circuit")

	out, err := w.Process(ctx, record.New())
	require.NoError(t, err)
	v, ok := out.Get("degraded")
	require.True(t, ok)
	assert.Equal(t, true, v)
	assert.Equal(t, int64(1), w.Fallbacks())
}

func TestLastKnownGoodServesWhileOpen(t *testing.T) {
	proc := &flaky{failuresBefore: 0, err: nil}

	w, err := Wrap(proc, Config{
		Retry:         fastRetry(1),
		Breaker:       breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour},
		LastKnownGood: true,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// Seed a good result.
	good := record.FromMap(map[string]any{"n": 1})
	out, err := w.Process(ctx, good)
	require.NoError(t, err)
	require.NotNil(t, out)

	// Start failing and open the circuit.
	proc.failuresBefore = 1000
	proc.calls = 0
	proc.err = errors.WrapTransient(errors.ErrNoConnection, "flaky", "Process", "simulated")
	_, err = w.Process(ctx, record.New())
	require.Error(t, err)
	require.Equal(t, breaker.StateOpen, w.CircuitState())

	served, err := w.Process(ctx, record.New())
	require.NoError(t, err)
	assert.Equal(t, good.ID(), served.ID(), "degraded output is the last good result")
	assert.Equal(t, int64(1), w.Fallbacks())
}

func TestDeadLetterStoreBounded(t *testing.T) {
	proc := &flaky{failuresBefore: 1000, err: errors.WrapPermanent(
		errors.ErrInvalidData, "flaky", "Process", "simulated")}

	w, err := Wrap(proc, Config{Retry: fastRetry(1), DeadLetterCapacity: 3})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		w.Process(context.Background(), record.New())
	}

	assert.Equal(t, int64(10), w.DeadLetters().Total())
	assert.Equal(t, 3, w.DeadLetters().Len())
}

func TestSharedDeadLetterStore(t *testing.T) {
	store, err := NewDeadLetterStore(10)
	require.NoError(t, err)

	mk := func(name string) *Wrapper {
		w, err := Wrap(stage.Func{
			StageName: name,
			Fn: func(_ context.Context, _ *record.Record) (*record.Record, error) {
				return nil, retry.Permanent(fmt.Errorf("%s failed", name))
			},
		}, Config{Retry: fastRetry(1)}, WithDeadLetterStore(store))
		require.NoError(t, err)
		return w
	}

	a, b := mk("stage-a"), mk("stage-b")
	a.Process(context.Background(), record.New())
	b.Process(context.Background(), record.New())

	letters := store.Snapshot()
	require.Len(t, letters, 2)
	assert.Equal(t, "stage-a", letters[0].Stage)
	assert.Equal(t, "stage-b", letters[1].Stage)
}

func TestWrapNilProcessor(t *testing.T) {
	_, err := Wrap(nil, Config{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNilStage))
}

func TestUnclassifiedErrorTreatedAsTransient(t *testing.T) {
	proc := &flaky{failuresBefore: 2, err: fmt.Errorf("plain failure")}

	w, err := Wrap(proc, Config{Retry: fastRetry(3)})
	require.NoError(t, err)

	out, err := w.Process(context.Background(), record.New())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 3, proc.calls, "unknown errors retry as transient")
}
