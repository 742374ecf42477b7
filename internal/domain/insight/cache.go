package insight

import (
	"strings"
	"sync"
	"time"
)

// Cache is the TTL cache for computed insights, keyed by (tenantId, traceId).
// Expired entries are not evicted, only treated as stale; Purge and Reset are
// the removal paths.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Insight
	ttl     time.Duration

	now func() time.Time // injectable for tests
}

// NewCache creates a cache with the given freshness TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		entries: make(map[string]Insight),
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(tenantID, traceID string) string {
	return tenantID + "|" + traceID
}

// Get returns the cached insight and whether it is still fresh.
func (c *Cache) Get(tenantID, traceID string) (Insight, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ins, ok := c.entries[cacheKey(tenantID, traceID)]
	if !ok {
		return Insight{}, false
	}
	if c.now().Sub(ins.ComputedAt) >= c.ttl {
		return Insight{}, false
	}
	return ins, true
}

// Put upserts the insight under its tenant and trace key.
func (c *Cache) Put(tenantID string, ins Insight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(tenantID, ins.TraceID)] = ins
}

// PurgeTenant drops all of one tenant's insights, returning the count.
func (c *Cache) PurgeTenant(tenantID string) int {
	prefix := tenantID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Reset clears the cache. Test hook.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Insight)
}
