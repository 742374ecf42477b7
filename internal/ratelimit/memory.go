package ratelimit

import (
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type bucket struct {
	count     int
	windowEnd time.Time
}

// MemoryLimiter is the in-process limiter used when no redis address is
// configured. The sweep goroutine keeps the bucket map bounded under
// sustained churn of distinct keys.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]bucket
	stopCh  chan struct{}
	once    sync.Once

	now func() time.Time // injectable for tests
}

// NewMemoryLimiter creates a memory limiter and starts its sweep loop.
func NewMemoryLimiter() *MemoryLimiter {
	rl := &MemoryLimiter{
		buckets: make(map[string]bucket),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.sweepLoop()
	return rl
}

// Allow counts a request against the key's current window.
func (rl *MemoryLimiter) Allow(key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || now.After(b.windowEnd) {
		b = bucket{count: 1, windowEnd: now.Add(window)}
		rl.buckets[key] = b
		return Decision{Allowed: true, Count: 1, Remaining: limit - 1, WindowEnd: b.windowEnd}
	}
	if b.count >= limit {
		return Decision{Allowed: false, Count: b.count, Remaining: 0, WindowEnd: b.windowEnd}
	}
	b.count++
	rl.buckets[key] = b
	return Decision{Allowed: true, Count: b.count, Remaining: limit - b.count, WindowEnd: b.windowEnd}
}

func (rl *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.After(b.windowEnd) {
			delete(rl.buckets, key)
		}
	}
}

// Close stops the sweep loop.
func (rl *MemoryLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}
