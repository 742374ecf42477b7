package resilience

import (
	"context"
	"time"
)

// RetryPolicy bounds the retry loop.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches the diagnostic backend defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Retry runs fn up to 1+MaxRetries times, backing off exponentially between
// attempts. retryable decides which failures are worth another attempt;
// anything it rejects is returned immediately as permanent.
func Retry[T any](ctx context.Context, policy RetryPolicy, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var (
		value T
		err   error
	)
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if waitErr := sleep(ctx, policy.backoff(attempt)); waitErr != nil {
				return value, waitErr
			}
		}
		value, err = fn(ctx)
		if err == nil {
			return value, nil
		}
		if retryable == nil || !retryable(err) {
			return value, err
		}
	}
	return value, err
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
