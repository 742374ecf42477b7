package event

import (
	"fmt"
	"reflect"
)

// Payload bounds enforced at the ingestion boundary. Anything beyond is
// truncated or dropped, never rejected outright.
const (
	maxPayloadDepth  = 6
	maxPayloadKeys   = 64
	maxPayloadItems  = 64
	maxStringLength  = 2048
	truncationMarker = "…[truncated]"
)

// Sanitize deep-copies a schemaless payload while enforcing depth, key count,
// and string size limits. A visited set keyed on reference identity guards
// against cycles in maps and slices that alias themselves.
func Sanitize(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	visited := make(map[uintptr]struct{})
	out, _ := sanitizeValue(payload, 0, visited).(map[string]any)
	return out
}

func sanitizeValue(v any, depth int, visited map[uintptr]struct{}) any {
	if v == nil {
		return nil
	}
	if depth >= maxPayloadDepth {
		return truncationMarker
	}

	switch val := v.(type) {
	case string:
		if len(val) > maxStringLength {
			return val[:maxStringLength] + truncationMarker
		}
		return val
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, seen := visited[ptr]; seen {
			return truncationMarker
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)

		out := make(map[string]any, len(val))
		n := 0
		for k, inner := range val {
			if n >= maxPayloadKeys {
				out["_truncated"] = true
				break
			}
			if len(k) > maxStringLength {
				k = k[:maxStringLength]
			}
			out[k] = sanitizeValue(inner, depth+1, visited)
			n++
		}
		return out
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, seen := visited[ptr]; seen {
			return truncationMarker
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)

		limit := len(val)
		truncated := false
		if limit > maxPayloadItems {
			limit = maxPayloadItems
			truncated = true
		}
		out := make([]any, 0, limit)
		for _, inner := range val[:limit] {
			out = append(out, sanitizeValue(inner, depth+1, visited))
		}
		if truncated {
			out = append(out, truncationMarker)
		}
		return out
	default:
		// Unknown wire type; render rather than carry arbitrary structures.
		s := fmt.Sprintf("%v", val)
		if len(s) > maxStringLength {
			s = s[:maxStringLength] + truncationMarker
		}
		return s
	}
}
