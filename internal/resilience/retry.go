package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls Retry. Only out-of-band deliveries (alert webhooks)
// retry; Places API calls never do, the queue's next tick covers them.
type RetryConfig struct {
	// Attempts is the total number of calls, including the first. Default: 3.
	Attempts int
	// Backoff is the delay before the first retry, doubled each time. Default: 500ms.
	Backoff time.Duration
	// MaxBackoff caps a single delay. Default: 10s.
	MaxBackoff time.Duration
	// Jitter spreads each delay by ±Jitter of its value.
	Jitter float64
	// OnRetry runs before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is used for webhook delivery.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:   3,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Jitter:     0.25,
	}
}

// Retry calls fn until it succeeds, returns a non-transient error, the
// attempts run out or ctx is done. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || ctx.Err() != nil || !IsTransient(err) || attempt >= cfg.Attempts {
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// backoff returns the delay after the given 1-based attempt.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.Backoff) * math.Pow(2, float64(attempt-1))
	d = math.Min(d, float64(cfg.MaxBackoff))
	if cfg.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.Jitter
	}
	return time.Duration(math.Max(d, 0))
}
