package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RetryConfig struct {
	MaxAttempts       uint
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Permanent marks an error as not retryable; Retry returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs fn with exponential backoff until it succeeds, returns a
// permanent error, exhausts cfg.MaxAttempts, or ctx is cancelled.
// A nil cfg runs fn exactly once.
func Retry[T any](ctx context.Context, cfg *RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	if cfg == nil {
		return fn(ctx)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.InitialDelay
	expo.MaxInterval = cfg.MaxDelay
	if cfg.BackoffMultiplier > 0 {
		expo.Multiplier = cfg.BackoffMultiplier
	}

	return backoff.Retry(ctx, func() (T, error) {
		return fn(ctx)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(cfg.MaxAttempts))
}
