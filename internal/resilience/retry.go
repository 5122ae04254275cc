package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryConfig holds configuration for Retry.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 200ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// OnRetry is called after every failed attempt that will be retried.
	OnRetry func(err error, wait time.Duration)
}

// Permanent wraps err so that Retry stops immediately and returns it.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry calls op with exponential backoff until it succeeds, returns a
// Permanent error, the retries are exhausted or ctx is done.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxRetries instead

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxRetries), ctx)

	attempts := uint64(0)
	var lastErr error
	err := backoff.RetryNotify(func() error {
		attempts++
		lastErr = op()
		return lastErr
	}, policy, func(err error, wait time.Duration) {
		if cfg.OnRetry != nil {
			cfg.OnRetry(err, wait)
		}
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if attempts > cfg.MaxRetries {
		return errors.Join(ErrMaxRetriesExceeded, lastErr)
	}
	return err
}
