package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("bad gateway"), 502)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_GivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("unavailable"), 503)
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, calls)
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{Attempts: 5, Backoff: time.Hour, MaxBackoff: time.Hour}

	done := make(chan error)
	go func() {
		done <- Retry(ctx, cfg, func(context.Context) error {
			calls++
			return NewTransientError(errors.New("timeout"), 504)
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancel")
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, backoff(1, cfg))
	assert.Equal(t, 200*time.Millisecond, backoff(2, cfg))
	assert.Equal(t, 300*time.Millisecond, backoff(3, cfg))

	cfg.Jitter = 0.5
	for range 20 {
		d := backoff(1, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
