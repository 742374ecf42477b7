// Package ratelimit provides per-key fixed-window rate limiting for the
// insight generation path. Buckets are created lazily and swept when expired.
package ratelimit

import "time"

// Decision is the outcome of a limiter check, carrying enough state for the
// X-RateLimit response headers.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	WindowEnd time.Time
}

// Limiter bounds request counts per opaque key within a fixed window.
type Limiter interface {
	Allow(key string, limit int, window time.Duration) Decision
	Close()
}
