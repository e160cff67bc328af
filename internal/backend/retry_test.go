package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, "op", func(context.Context) error {
		calls++
		if calls < 2 {
			return Unavailable("op", errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, "op", func(context.Context) error {
		calls++
		return Unavailable("op", errors.New("boom"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRetryNeverRetriesAuthentication(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}, "op", func(context.Context) error {
		calls++
		return ErrAuthentication
	})
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, 1, calls)
}

func TestRetryAppliesPerAttemptTimeout(t *testing.T) {
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 1, Timeout: 5 * time.Millisecond}, "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryCancelledDuringBackoffKeepsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, "upload a.pdf", func(context.Context) error {
		calls++
		cancel()
		return Unavailable("upload", errors.New("connection reset by peer"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "upload a.pdf")
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestRetryNeverOverwritesTakenTargets(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, "write", func(context.Context) error {
		calls++
		return ErrAlreadyExists
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 1, calls)
}

func TestItemErrorUnwraps(t *testing.T) {
	err := NewItemError(ItemFetch, "b.pdf", Malformed("fetch", errors.New("bad")))
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), `fetch "b.pdf"`)
	assert.True(t, IsFatal(Unavailable("x", errors.New("dns"))))
	assert.False(t, IsFatal(err))
}
