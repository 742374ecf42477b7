package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncomingValid(t *testing.T) {
	assert.True(t, Incoming{Type: TypeHTTP, Operation: "GET /x"}.Valid())
	assert.False(t, Incoming{Type: TypeHTTP}.Valid())
	assert.False(t, Incoming{Operation: "GET /x"}.Valid())
}

func TestStamp(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("generates id and timestamps when absent", func(t *testing.T) {
		e := Stamp(Incoming{Type: TypeHTTP, Operation: "GET /x"}, "t1", "checkout", now)
		assert.True(t, strings.HasPrefix(e.ID, "evt_"))
		assert.Equal(t, now.UnixMilli(), e.Ts)
		assert.Equal(t, now.UnixMilli(), e.ReceivedAt)
		assert.Equal(t, LevelInfo, e.Level)
	})

	t.Run("binds identity from connection, never from payload", func(t *testing.T) {
		e := Stamp(Incoming{Type: TypeDB, Operation: "SELECT users"}, "t1", "checkout", now)
		assert.Equal(t, "t1", e.TenantID)
		assert.Equal(t, "checkout", e.AppName)
	})

	t.Run("keeps client id and ts when supplied", func(t *testing.T) {
		e := Stamp(Incoming{ID: "evt_custom", Type: TypeHTTP, Operation: "GET /x", Ts: 12345}, "t1", "a", now)
		assert.Equal(t, "evt_custom", e.ID)
		assert.Equal(t, int64(12345), e.Ts)
	})

	t.Run("normalizes unknown level to info", func(t *testing.T) {
		e := Stamp(Incoming{Type: TypeHTTP, Operation: "GET /x", Level: "critical"}, "t1", "a", now)
		assert.Equal(t, LevelInfo, e.Level)
	})

	t.Run("only the demo source marker survives", func(t *testing.T) {
		demo := Stamp(Incoming{Type: TypeHTTP, Operation: "GET /x", Source: SourceDemo}, "t1", "a", now)
		assert.True(t, demo.IsDemo())

		other := Stamp(Incoming{Type: TypeHTTP, Operation: "GET /x", Source: "synthetic"}, "t1", "a", now)
		assert.Empty(t, other.Source)
	})
}

func TestSanitize(t *testing.T) {
	t.Run("nil passthrough", func(t *testing.T) {
		assert.Nil(t, Sanitize(nil))
	})

	t.Run("truncates long strings", func(t *testing.T) {
		long := strings.Repeat("x", maxStringLength+100)
		out := Sanitize(map[string]any{"msg": long})
		got := out["msg"].(string)
		assert.True(t, strings.HasSuffix(got, truncationMarker))
		assert.LessOrEqual(t, len(got), maxStringLength+len(truncationMarker))
	})

	t.Run("bounds depth", func(t *testing.T) {
		deep := map[string]any{}
		cur := deep
		for i := 0; i < maxPayloadDepth+3; i++ {
			next := map[string]any{}
			cur["d"] = next
			cur = next
		}
		out := Sanitize(deep)
		// Walk to the bottom; the marker must appear before the original depth.
		v := any(out)
		depth := 0
		for {
			m, ok := v.(map[string]any)
			if !ok {
				break
			}
			v = m["d"]
			depth++
		}
		assert.Equal(t, truncationMarker, v)
		assert.LessOrEqual(t, depth, maxPayloadDepth)
	})

	t.Run("bounds key count", func(t *testing.T) {
		wide := map[string]any{}
		for i := 0; i < maxPayloadKeys+20; i++ {
			wide[strings.Repeat("k", i+1)] = i
		}
		out := Sanitize(map[string]any{"wide": wide})
		inner := out["wide"].(map[string]any)
		assert.LessOrEqual(t, len(inner), maxPayloadKeys+1)
		assert.Equal(t, true, inner["_truncated"])
	})

	t.Run("bounds array length", func(t *testing.T) {
		items := make([]any, maxPayloadItems+10)
		for i := range items {
			items[i] = i
		}
		out := Sanitize(map[string]any{"items": items})
		inner := out["items"].([]any)
		require.Len(t, inner, maxPayloadItems+1)
		assert.Equal(t, truncationMarker, inner[maxPayloadItems])
	})

	t.Run("survives self-referencing maps", func(t *testing.T) {
		cyclic := map[string]any{"a": 1}
		cyclic["self"] = cyclic
		out := Sanitize(cyclic)
		assert.Equal(t, truncationMarker, out["self"])
	})

	t.Run("renders unknown types as strings", func(t *testing.T) {
		out := Sanitize(map[string]any{"ch": make(chan int)})
		_, isString := out["ch"].(string)
		assert.True(t, isString)
	})
}
