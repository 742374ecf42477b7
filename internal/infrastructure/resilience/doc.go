/*
Package resilience provides the building blocks wrapped around unreliable
external calls: a per-attempt timeout, a bounded retry loop with exponential
backoff, and a three-state circuit breaker.

The wrappers compose explicitly. The retry loop is outermost and the breaker
guards the single network attempt, so every attempt counts toward tripping:

	result, err := resilience.Retry(ctx, policy, retryable, func(ctx context.Context) (Insight, error) {
		return resilience.WithTimeout(ctx, 12*time.Second, func(ctx context.Context) (Insight, error) {
			return callThroughBreaker(ctx)
		})
	})

The retryable predicate is a pure function supplied by the caller, so the
classification of failures (retry rate-limit/server-side/transient-network,
never malformed output) is testable on its own.
*/
package resilience
