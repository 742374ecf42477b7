// Package event defines the telemetry event model, payload sanitization, and
// the bounded in-memory buffer serving viewer snapshots.
package event

import (
	"time"

	"github.com/tracelens/tracelens/internal/shared/id"
)

// Event types on the wire.
const (
	TypeHTTP  = "http"
	TypeDB    = "db"
	TypeError = "error"
)

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// SourceDemo marks synthetic events injected by demo seeding.
const SourceDemo = "demo"

// Event is the unit of telemetry. Immutable once stamped by the hub; it
// belongs to exactly one tenant for its entire lifetime.
type Event struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	AppName    string         `json:"appName"`
	Type       string         `json:"type"`
	Operation  string         `json:"operation"`
	Ts         int64          `json:"ts"` // origin timestamp, epoch ms
	DurationMs *float64       `json:"durationMs,omitempty"`
	Level      string         `json:"level"`
	TraceID    string         `json:"traceId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt int64          `json:"receivedAt"` // ingestion timestamp, epoch ms
	Source     string         `json:"source,omitempty"`
}

// Incoming is the client-supplied portion of an event. Identity fields
// (tenant, app) are never read from here; the hub stamps them from the
// connection binding.
type Incoming struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	Operation  string         `json:"operation"`
	Ts         int64          `json:"ts,omitempty"`
	DurationMs *float64       `json:"durationMs,omitempty"`
	Level      string         `json:"level,omitempty"`
	TraceID    string         `json:"traceId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// Valid reports whether the incoming event carries the minimally required
// fields.
func (in Incoming) Valid() bool {
	return in.Type != "" && in.Operation != ""
}

// Stamp builds the canonical Event from an incoming payload and the
// connection's bound identity. Client-supplied tenant/app fields are ignored
// by construction.
func Stamp(in Incoming, tenantID, appName string, now time.Time) Event {
	e := Event{
		ID:         in.ID,
		TenantID:   tenantID,
		AppName:    appName,
		Type:       in.Type,
		Operation:  in.Operation,
		Ts:         in.Ts,
		DurationMs: in.DurationMs,
		Level:      in.Level,
		TraceID:    in.TraceID,
		Payload:    Sanitize(in.Payload),
		ReceivedAt: now.UnixMilli(),
		Source:     in.Source,
	}
	if e.ID == "" {
		e.ID = id.NewEventID().String()
	}
	if e.Ts == 0 {
		e.Ts = now.UnixMilli()
	}
	switch e.Level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		e.Level = LevelInfo
	}
	if e.Source != "" && e.Source != SourceDemo {
		e.Source = ""
	}
	return e
}

// IsDemo reports whether the event was produced by demo seeding.
func (e Event) IsDemo() bool { return e.Source == SourceDemo }
