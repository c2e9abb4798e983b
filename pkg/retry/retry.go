// Package retry provides retry logic with exponential backoff for transient failures.
//
// This package wraps github.com/cenkalti/backoff/v5 and integrates it with the
// errors package so that Permanent failures stop retrying immediately. It is
// used in two ways: Do/DoWithData drive in-process retry loops (the worker's
// reconnect loop against the background connection), and Delay computes the
// deterministic schedule the sync queue uses to park a failed job.
//
// Example usage:
//
//	cfg := retry.Config{Unlimited: true, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
//	err := retry.Do(ctx, cfg, func() error {
//		return q.Ping(ctx)
//	})
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}

func (c Config) retryOptions() []backoff.RetryOption {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(c.newBackOff()),
	}

	if c.Unlimited {
		opts = append(opts, backoff.WithMaxElapsedTime(0))
	} else {
		opts = append(opts, backoff.WithMaxTries(c.MaxAttempts))
		opts = append(opts, backoff.WithMaxElapsedTime(c.MaxElapsedTime))
	}

	if c.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(c.OnRetry)))
	}
	return opts
}

// Do executes the provided function with retry logic based on the configuration.
// It respects context cancellation and applies exponential backoff between retries.
// Returns the error from the last attempt if all retries are exhausted.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithData(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithData executes the provided function with retry logic and returns a value.
// It works the same as Do but supports functions that return both a value and an error.
func DoWithData[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	operation := func() (T, error) {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !cfg.shouldRetry(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	return backoff.Retry(ctx, operation, cfg.retryOptions()...)
}

// Delay returns the wait before the next attempt once failedAttempts
// attempts have failed. With the default job policy (1s base, no jitter)
// the schedule is 1s, 2s, 4s.
func Delay(cfg Config, failedAttempts int) time.Duration {
	cfg = cfg.withDefaults()
	if failedAttempts < 1 {
		return 0
	}

	b := cfg.newBackOff()
	var d time.Duration
	for i := 0; i < failedAttempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
