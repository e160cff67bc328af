package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds every external call.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// Retry runs fn up to MaxAttempts times with exponential backoff. Each attempt
// gets its own timeout when Timeout is set. Authentication, malformed-response,
// not-found, pending, already-exists and configuration errors are returned at
// once. If ctx ends during a backoff the error wraps both ctx.Err() and the
// last attempt's error.
func Retry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	var lastErr error

	for i := 0; i < attempts; i++ {
		err := func() error {
			callCtx := ctx
			if p.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
				defer cancel()
			}
			return fn(callCtx)
		}()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || i == attempts-1 {
			break
		}

		slog.Warn(
			"Call failed, will retry.",
			"op", op,
			"attempt", i+1,
			"maxAttempts", attempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %w)", op, ctx.Err(), lastErr)
		}
	}
	if attempts > 1 && retryable(lastErr) {
		return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
	}
	return lastErr
}

func retryable(err error) bool {
	return !errors.Is(err, ErrAuthentication) &&
		!errors.Is(err, ErrMalformedResponse) &&
		!errors.Is(err, ErrConfiguration) &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrPending) &&
		!errors.Is(err, ErrAlreadyExists) &&
		!errors.Is(err, context.Canceled)
}
