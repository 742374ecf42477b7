// Package trace groups a tenant's events into correlated trace groups and
// derives presentation signals. Everything here is pure: no state, no I/O,
// recomputed on every read.
package trace

import (
	"sort"

	"github.com/tracelens/tracelens/internal/domain/event"
)

// Slowness thresholds in milliseconds.
const (
	SlowRequestMs = 1000 // header event duration
	SlowTotalMs   = 2500 // summed durations when the header carries none
	SlowDBOpMs    = 250  // single database operation, used by heuristics
)

// Group is a correlated set of events presented as one trace.
type Group struct {
	TraceID         string        `json:"traceId"`
	Events          []event.Event `json:"events"`
	HeaderOperation string        `json:"operation"`
	AppName         string        `json:"appName"`
	StartedAt       int64         `json:"startedAt"`
	TotalDurationMs float64       `json:"totalDurationMs"`
	StatusCode      *int          `json:"statusCode,omitempty"`
	OK              *bool         `json:"ok,omitempty"`
	HasError        bool          `json:"hasError"`
	Slow            bool          `json:"slow"`
}

// Header returns the group's header event: the http event when present,
// otherwise the earliest event. Events must already be sorted by ts.
func (g Group) Header() event.Event {
	for _, e := range g.Events {
		if e.Type == event.TypeHTTP {
			return e
		}
	}
	return g.Events[0]
}

// GroupByTrace groups events by correlation id. Events without a trace id
// each form a singleton group keyed by their own event id. Groups are ordered
// by start time descending for presentation.
func GroupByTrace(events []event.Event) []Group {
	if len(events) == 0 {
		return nil
	}

	byKey := make(map[string][]event.Event)
	order := make([]string, 0)
	for _, e := range events {
		key := e.TraceID
		if key == "" {
			key = e.ID
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], e)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		groups = append(groups, buildGroup(key, byKey[key]))
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].StartedAt != groups[j].StartedAt {
			return groups[i].StartedAt > groups[j].StartedAt
		}
		return groups[i].TraceID < groups[j].TraceID
	})
	return groups
}

// ForTrace builds the single group for one correlation id, or ok=false when
// no events carry it.
func ForTrace(events []event.Event, traceID string) (Group, bool) {
	var matched []event.Event
	for _, e := range events {
		if e.TraceID == traceID || (e.TraceID == "" && e.ID == traceID) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return Group{}, false
	}
	return buildGroup(traceID, matched), true
}

func buildGroup(key string, events []event.Event) Group {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Ts < events[j].Ts })

	g := Group{TraceID: key, Events: events, StartedAt: events[0].Ts}

	header := g.Header()
	g.HeaderOperation = header.Operation
	g.AppName = header.AppName
	g.StatusCode, g.OK = responseStatus(header)

	var total float64
	for _, e := range events {
		if e.DurationMs != nil {
			total += *e.DurationMs
		}
		if e.Level == event.LevelError {
			g.HasError = true
		}
	}
	g.TotalDurationMs = total

	if header.DurationMs != nil {
		g.Slow = *header.DurationMs > SlowRequestMs
	} else {
		g.Slow = total > SlowTotalMs
	}
	return g
}

// responseStatus extracts the HTTP status from the header event's payload.
// JSON numbers arrive as float64; both "statusCode" and "status" are
// accepted to match the instrumentation SDKs in the wild.
func responseStatus(header event.Event) (*int, *bool) {
	if header.Payload == nil {
		return nil, nil
	}
	for _, key := range []string{"statusCode", "status"} {
		switch v := header.Payload[key].(type) {
		case float64:
			code := int(v)
			ok := code < 400
			return &code, &ok
		case int:
			code := v
			ok := code < 400
			return &code, &ok
		}
	}
	return nil, nil
}
