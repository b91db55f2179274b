package authority

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manifest-gateway/internal/manifest"
	dErrors "manifest-gateway/pkg/domain-errors"
)

func instantSleep(r *Retrier) {
	r.sleep = func(context.Context, time.Duration) error { return nil }
}

func attemptWith(outcome manifest.Outcome) manifest.TransmissionAttempt {
	return manifest.TransmissionAttempt{Operation: manifest.OperationSubmit, Outcome: outcome, At: time.Now()}
}

func TestRetrierReturnsTerminalOutcomeImmediately(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second}, discardLogger())
	calls := 0
	attempt, err := r.Do(context.Background(), func(context.Context) (manifest.TransmissionAttempt, error) {
		calls++
		return attemptWith(manifest.OutcomeRejected), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "terminal rejection must never be retried")
	assert.Equal(t, manifest.OutcomeRejected, attempt.Outcome)
}

func TestRetrierRetriesIndeterminateThenSucceeds(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second}, discardLogger())
	instantSleep(r)

	calls := 0
	attempt, err := r.Do(context.Background(), func(context.Context) (manifest.TransmissionAttempt, error) {
		calls++
		if calls < 4 {
			return attemptWith(manifest.OutcomeIndeterminate), nil
		}
		a := attemptWith(manifest.OutcomeAuthorized)
		a.Protocol = "135200000000001"
		return a, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, manifest.OutcomeAuthorized, attempt.Outcome)
	assert.Equal(t, "135200000000001", attempt.Protocol)
}

func TestRetrierExhaustion(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}, discardLogger())
	instantSleep(r)

	calls := 0
	attempt, err := r.Do(context.Background(), func(context.Context) (manifest.TransmissionAttempt, error) {
		calls++
		return attemptWith(manifest.OutcomeIndeterminate), nil
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransmissionExhausted))
	assert.Equal(t, 3, calls)
	assert.Equal(t, manifest.OutcomeIndeterminate, attempt.Outcome, "last attempt is surfaced alongside the error")
}

func TestRetrierBackoffGrowsAndCaps(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}, discardLogger())
	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := r.Do(context.Background(), func(context.Context) (manifest.TransmissionAttempt, error) {
		return attemptWith(manifest.OutcomeIndeterminate), nil
	})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}, delays)
}

func TestRetrierStopsOnContextCancellation(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel once the first indeterminate outcome parks us in backoff.
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Do(ctx, func(context.Context) (manifest.TransmissionAttempt, error) {
		calls++
		return attemptWith(manifest.OutcomeIndeterminate), nil
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransmissionExhausted))
	assert.Equal(t, 1, calls)
}
