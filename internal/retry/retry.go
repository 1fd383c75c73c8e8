package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Do runs action until it succeeds, the policy gives up, or ctx is done.
// It returns the value of the successful attempt, the number of
// invocations, and on failure the error of the last attempt only.
// A nil policy invokes action exactly once.
func Do[T any](ctx context.Context, policy *Policy, logger zerolog.Logger, op string, action func(context.Context) (T, error)) (T, int, error) {
	value, err := action(ctx)
	attempts := 1
	if err == nil || policy == nil {
		return value, attempts, err
	}

	maxAttempts := policy.Attempts()
	for delay := range policy.Backoff() {
		if !policy.ShouldRetry(err) {
			break
		}

		logger.Warn().
			Int("attempt", attempts).
			Int("maxAttempts", maxAttempts).
			Dur("delay", delay).
			Err(err).
			Str("method", op).
			Msg("request failed, retrying")

		if waitErr := sleep(ctx, delay); waitErr != nil {
			var zero T
			return zero, attempts, errors.WithSecondaryError(waitErr, err)
		}

		value, err = action(ctx)
		attempts++
		if err == nil {
			return value, attempts, nil
		}
	}

	if attempts > 1 {
		logger.Debug().
			Int("attempts", attempts).
			Err(err).
			Str("method", op).
			Msg("request failed, giving up")
	}
	return value, attempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
