package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/tracelens/internal/domain/event"
)

func dur(ms float64) *float64 { return &ms }

func httpEvent(id, traceID string, ts int64, status float64, d *float64) event.Event {
	return event.Event{
		ID: id, TenantID: "t1", AppName: "checkout", Type: event.TypeHTTP,
		Operation: "GET /orders", Ts: ts, Level: event.LevelInfo, TraceID: traceID,
		DurationMs: d, Payload: map[string]any{"statusCode": status},
	}
}

func dbEvent(id, traceID string, ts int64, op string, d *float64) event.Event {
	return event.Event{
		ID: id, TenantID: "t1", AppName: "checkout", Type: event.TypeDB,
		Operation: op, Ts: ts, Level: event.LevelInfo, TraceID: traceID, DurationMs: d,
	}
}

func TestGroupByTraceKeysAndSingletons(t *testing.T) {
	events := []event.Event{
		httpEvent("e1", "tr1", 100, 200, dur(50)),
		dbEvent("e2", "tr1", 120, "SELECT orders", dur(10)),
		dbEvent("e3", "", 130, "SELECT stray", dur(5)),
	}

	groups := GroupByTrace(events)
	require.Len(t, groups, 2)

	byKey := map[string]Group{}
	for _, g := range groups {
		byKey[g.TraceID] = g
	}
	assert.Len(t, byKey["tr1"].Events, 2)
	assert.Len(t, byKey["e3"].Events, 1, "untraced event forms a singleton group keyed by its id")
}

func TestGroupOrderingWithinAndAcross(t *testing.T) {
	events := []event.Event{
		dbEvent("late", "tr1", 300, "SELECT b", nil),
		httpEvent("head", "tr1", 100, 200, nil),
		httpEvent("newer", "tr2", 500, 200, nil),
	}

	groups := GroupByTrace(events)
	require.Len(t, groups, 2)
	assert.Equal(t, "tr2", groups[0].TraceID, "groups ordered by startedAt descending")
	assert.Equal(t, "tr1", groups[1].TraceID)

	tr1 := groups[1]
	assert.Equal(t, "head", tr1.Events[0].ID, "events sorted ascending by ts inside a group")
	assert.Equal(t, "late", tr1.Events[1].ID)
}

func TestHeaderPrefersHTTP(t *testing.T) {
	events := []event.Event{
		dbEvent("d1", "tr1", 50, "SELECT early", nil),
		httpEvent("h1", "tr1", 100, 503, nil),
	}

	groups := GroupByTrace(events)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, "GET /orders", g.HeaderOperation)
	require.NotNil(t, g.StatusCode)
	assert.Equal(t, 503, *g.StatusCode)
	require.NotNil(t, g.OK)
	assert.False(t, *g.OK)
}

func TestHeaderFallsBackToEarliest(t *testing.T) {
	events := []event.Event{
		dbEvent("d2", "tr1", 200, "UPDATE inventory", nil),
		dbEvent("d1", "tr1", 100, "SELECT stock", nil),
	}

	groups := GroupByTrace(events)
	require.Len(t, groups, 1)
	assert.Equal(t, "SELECT stock", groups[0].HeaderOperation)
	assert.Nil(t, groups[0].StatusCode)
}

func TestHasError(t *testing.T) {
	errEvent := dbEvent("d1", "tr1", 110, "INSERT users", nil)
	errEvent.Level = event.LevelError

	groups := GroupByTrace([]event.Event{httpEvent("h1", "tr1", 100, 200, nil), errEvent})
	require.Len(t, groups, 1)
	assert.True(t, groups[0].HasError)
}

func TestSlowness(t *testing.T) {
	t.Run("header duration above threshold", func(t *testing.T) {
		groups := GroupByTrace([]event.Event{httpEvent("h1", "tr1", 100, 200, dur(SlowRequestMs+1))})
		assert.True(t, groups[0].Slow)
	})

	t.Run("header duration below threshold", func(t *testing.T) {
		groups := GroupByTrace([]event.Event{httpEvent("h1", "tr1", 100, 200, dur(SlowRequestMs-1))})
		assert.False(t, groups[0].Slow)
	})

	t.Run("no header duration, total above threshold", func(t *testing.T) {
		events := []event.Event{
			httpEvent("h1", "tr1", 100, 200, nil),
			dbEvent("d1", "tr1", 110, "SELECT a", dur(SlowTotalMs)),
			dbEvent("d2", "tr1", 120, "SELECT b", dur(10)),
		}
		groups := GroupByTrace(events)
		assert.True(t, groups[0].Slow)
		assert.Equal(t, float64(SlowTotalMs+10), groups[0].TotalDurationMs)
	})
}

func TestForTrace(t *testing.T) {
	events := []event.Event{
		httpEvent("h1", "tr1", 100, 200, nil),
		dbEvent("d1", "tr2", 110, "SELECT a", nil),
		dbEvent("lone", "", 120, "SELECT b", nil),
	}

	g, ok := ForTrace(events, "tr1")
	require.True(t, ok)
	assert.Len(t, g.Events, 1)

	g, ok = ForTrace(events, "lone")
	require.True(t, ok, "singleton trace resolvable by event id")
	assert.Equal(t, "SELECT b", g.HeaderOperation)

	_, ok = ForTrace(events, "missing")
	assert.False(t, ok)
}

func TestDeterminism(t *testing.T) {
	events := []event.Event{
		httpEvent("h1", "tr1", 100, 200, dur(10)),
		dbEvent("d1", "tr1", 100, "SELECT a", dur(5)),
		httpEvent("h2", "tr2", 100, 500, nil),
	}

	first := GroupByTrace(events)
	second := GroupByTrace(events)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].TraceID, second[i].TraceID)
		assert.Equal(t, first[i].HeaderOperation, second[i].HeaderOperation)
	}
}
