// Package postgres implements the durable event store on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/storage"
)

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Connect opens a pool against the given DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AppendEvent inserts one event. Duplicate ids are ignored: redelivery from a
// reconnecting agent must not fail the write path.
func (s *Store) AppendEvent(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	const query = `INSERT INTO events
		(id, tenant_id, app_name, type, operation, ts, duration_ms, level, trace_id, payload, received_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		e.ID, e.TenantID, e.AppName, e.Type, e.Operation, e.Ts,
		e.DurationMs, e.Level, nullable(e.TraceID), payload, e.ReceivedAt, nullable(e.Source),
	)
	return err
}

// ListEvents returns up to limit events for the tenant, newest first.
func (s *Store) ListEvents(ctx context.Context, tenantID string, limit int) ([]event.Event, error) {
	const query = `SELECT id, tenant_id, app_name, type, operation, ts, duration_ms, level, trace_id, payload, received_at, source
		FROM events WHERE tenant_id = $1 ORDER BY received_at DESC, id DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsForTrace returns the tenant's events for one correlation id in
// acceptance order.
func (s *Store) EventsForTrace(ctx context.Context, tenantID, traceID string) ([]event.Event, error) {
	const query = `SELECT id, tenant_id, app_name, type, operation, ts, duration_ms, level, trace_id, payload, received_at, source
		FROM events WHERE tenant_id = $1 AND trace_id = $2 ORDER BY received_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, tenantID, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// PurgeEvents deletes demo or non-demo events for the tenant.
func (s *Store) PurgeEvents(ctx context.Context, tenantID string, demoOnly bool) (int64, error) {
	var query string
	if demoOnly {
		query = `DELETE FROM events WHERE tenant_id = $1 AND source = 'demo'`
	} else {
		query = `DELETE FROM events WHERE tenant_id = $1 AND (source IS NULL OR source <> 'demo')`
	}
	tag, err := s.pool.Exec(ctx, query, tenantID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]event.Event, error) {
	var out []event.Event
	for rows.Next() {
		var (
			e       event.Event
			traceID *string
			source  *string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AppName, &e.Type, &e.Operation, &e.Ts,
			&e.DurationMs, &e.Level, &traceID, &payload, &e.ReceivedAt, &source); err != nil {
			return nil, err
		}
		if traceID != nil {
			e.TraceID = *traceID
		}
		if source != nil {
			e.Source = *source
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload for %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
