package core

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy defines retry behavior for IO operations
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retry, 1 = one retry)
	MaxRetries int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// BackoffRatio is the multiplier for delay after each retry (e.g., 2.0 for exponential)
	// For example, with InitialDelay=100ms and BackoffRatio=2.0:
	// - Retry 1 delay: 100ms
	// - Retry 2 delay: 200ms
	// - Retry 3 delay: 400ms (capped by MaxDelay)
	BackoffRatio float64
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		BackoffRatio: 2.0,
	}
}

// NoRetry returns a retry policy with no retries
func NoRetry() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   0,
		InitialDelay: 0,
		MaxDelay:     0,
		BackoffRatio: 1.0,
	}
}

// NewBackOff converts the policy into a backoff.BackOff bound to ctx.
// Delays are deterministic (no jitter) so they match the documented schedule.
func (p RetryPolicy) NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.BackoffRatio
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Retry runs op until it succeeds or the policy gives up, logging each failed attempt.
// The last error from op is returned.
func Retry(ctx context.Context, policy RetryPolicy, logger Logger, operation string, op func() error) error {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, policy.NewBackOff(ctx), func(err error, next time.Duration) {
		logger.Warn("operation failed, retrying",
			F("operation", operation),
			F("attempt", attempt),
			F("next_delay", next),
			F("error", err))
	})
}
