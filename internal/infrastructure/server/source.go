package server

import (
	"context"
	"errors"

	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/storage"
)

// eventSource resolves a trace's events from the buffer first, then the
// durable store when the ring has rotated past it.
type eventSource struct {
	buffer *event.Buffer
	store  storage.Store
}

func (s eventSource) EventsForTrace(ctx context.Context, tenantID, traceID string) ([]event.Event, error) {
	if events := s.buffer.ForTrace(tenantID, traceID); len(events) > 0 {
		return events, nil
	}
	if s.store == nil {
		return nil, nil
	}
	events, err := s.store.EventsForTrace(ctx, tenantID, traceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return events, err
}
