package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a wrapped call exceeds its deadline. The call
// itself keeps running until its context cancellation takes effect; its
// result is discarded.
var ErrTimeout = errors.New("resilience: call timed out")

// WithTimeout races fn against a hard deadline. The child context passed to
// fn is cancelled either way, so well-behaved calls stop promptly.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && callCtx.Err() == context.DeadlineExceeded {
			var zero T
			return zero, ErrTimeout
		}
		return o.value, o.err
	case <-callCtx.Done():
		var zero T
		if ctx.Err() != nil {
			// Parent cancellation, not the per-call deadline.
			return zero, ctx.Err()
		}
		return zero, ErrTimeout
	}
}
