package event

import "sync"

// Buffer is the bounded in-memory event store, sharded per tenant. It exists
// to serve fast snapshots to newly joined viewers and trace reads; the
// durable store, when configured, is the source of truth.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	tenants  map[string][]Event // append order = acceptance order
}

// NewBuffer creates a buffer holding at most capacity events per tenant,
// oldest evicted first.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{
		capacity: capacity,
		tenants:  make(map[string][]Event),
	}
}

// Append records an accepted event for its tenant, evicting the oldest when
// the tenant shard is full.
func (b *Buffer) Append(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.tenants[e.TenantID]
	if len(events) >= b.capacity {
		// Shift rather than reslice so the backing array does not pin
		// evicted events.
		copy(events, events[1:])
		events[len(events)-1] = e
	} else {
		events = append(events, e)
	}
	b.tenants[e.TenantID] = events
}

// Recent returns up to limit events for the tenant, newest first.
func (b *Buffer) Recent(tenantID string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.tenants[tenantID]
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	out := make([]Event, 0, limit)
	for i := len(events) - 1; i >= len(events)-limit; i-- {
		out = append(out, events[i])
	}
	return out
}

// ForTrace returns the tenant's events carrying the given trace id, in
// acceptance order.
func (b *Buffer) ForTrace(tenantID, traceID string) []Event {
	if traceID == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.tenants[tenantID] {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out
}

// Purge removes the tenant's events for which keep returns false and reports
// how many were dropped.
func (b *Buffer) Purge(tenantID string, keep func(Event) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.tenants[tenantID]
	kept := events[:0]
	for _, e := range events {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	dropped := len(events) - len(kept)
	if len(kept) == 0 {
		delete(b.tenants, tenantID)
	} else {
		b.tenants[tenantID] = kept
	}
	return dropped
}

// Len reports the number of buffered events for a tenant.
func (b *Buffer) Len(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tenants[tenantID])
}

// Reset clears all tenants. Test hook.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenants = make(map[string][]Event)
}
