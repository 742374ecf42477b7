// Package storage defines the durable event store contract. The hub writes
// fire-and-forget; read paths fall back to it when the in-memory buffer has
// rotated past a trace.
package storage

import (
	"context"
	"errors"

	"github.com/tracelens/tracelens/internal/domain/event"
)

// ErrNotFound is returned when a query matches nothing.
var ErrNotFound = errors.New("storage: not found")

// Store is the durable append/query collaborator. Implementations must be
// safe for concurrent use.
type Store interface {
	AppendEvent(ctx context.Context, e event.Event) error
	ListEvents(ctx context.Context, tenantID string, limit int) ([]event.Event, error)
	EventsForTrace(ctx context.Context, tenantID, traceID string) ([]event.Event, error)
	// PurgeEvents deletes the tenant's demo events when demoOnly is true,
	// otherwise its non-demo events. Returns the number deleted.
	PurgeEvents(ctx context.Context, tenantID string, demoOnly bool) (int64, error)
	Close()
}
