package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of a transient-failure-prone operation with
// exponential backoff. The zero value is unusable; construct with
// NewRetryPolicy.
type RetryPolicy struct {
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewRetryPolicy creates a policy permitting maxRetries retries (so up to
// maxRetries+1 attempts) with exponential backoff starting at
// initialInterval and capped at maxInterval.
func NewRetryPolicy(maxRetries int, initialInterval, maxInterval time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryPolicy{
		maxRetries:      uint64(maxRetries),
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
	}
}

// Do runs fn until it succeeds, returns a permanent error, the retry budget
// is exhausted, or ctx is cancelled.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval
	bo.MaxInterval = p.maxInterval
	bo.MaxElapsedTime = 0 // bounded by retry count, not wall time

	return backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(bo, p.maxRetries), ctx))
}

// Permanent marks err as not worth retrying; Do returns it immediately.
// Validation and integrity failures are permanent, connectivity failures
// are not.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
