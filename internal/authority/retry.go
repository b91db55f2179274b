package authority

import (
	"context"
	"log/slog"
	"time"

	"manifest-gateway/internal/manifest"
	dErrors "manifest-gateway/pkg/domain-errors"
)

// RetryPolicy caps how long an indeterminate outcome is retried in-call.
// Anything still unresolved afterwards is the poller's problem.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the authority's guidance: a handful of quick
// retries, then back off to asynchronous polling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Retrier re-invokes a transmission call while its outcome stays
// indeterminate. The call closure must reuse the identical signed payload:
// re-signing with a fresh timestamp would present the authority with two
// distinct documents for one access key.
type Retrier struct {
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetrier(policy RetryPolicy, logger *slog.Logger) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	return &Retrier{policy: policy, logger: logger, sleep: sleepCtx}
}

// Do runs the call until it yields a terminal outcome or the attempt budget is
// spent. When every attempt came back indeterminate the last attempt is
// returned together with a transmission-exhausted error: a condition for
// operator attention, never silently dropped.
func (r *Retrier) Do(ctx context.Context, call func(context.Context) (manifest.TransmissionAttempt, error)) (manifest.TransmissionAttempt, error) {
	var last manifest.TransmissionAttempt
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.delay(attempt)); err != nil {
				return last, dErrors.Wrap(err, dErrors.CodeTransmissionExhausted, "retry interrupted")
			}
		}
		result, err := call(ctx)
		if err != nil {
			return result, err
		}
		last = result
		if result.Outcome != manifest.OutcomeIndeterminate {
			return result, nil
		}
		r.logger.WarnContext(ctx, "transmission outcome indeterminate",
			"operation", result.Operation,
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxAttempts,
			"reason", result.Reason,
		)
	}
	return last, dErrors.Newf(dErrors.CodeTransmissionExhausted,
		"%d attempts exhausted with indeterminate outcomes", r.policy.MaxAttempts)
}

// delay grows exponentially from BaseDelay, capped at MaxDelay.
func (r *Retrier) delay(attempt int) time.Duration {
	d := r.policy.BaseDelay << (attempt - 1)
	if d > r.policy.MaxDelay || d <= 0 {
		return r.policy.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
