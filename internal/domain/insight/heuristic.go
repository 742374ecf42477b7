package insight

import (
	"fmt"
	"strings"
	"time"

	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/domain/trace"
)

// Signal kinds emitted by the heuristic deriver.
const (
	SignalStatus         = "status"
	SignalSlow           = "slow"
	SignalDBDuplicateKey = "db_duplicate_key"
	SignalDBError        = "db_error"
	SignalDBSlow         = "db_slow"
)

// duplicateKeyMarkers are the database error fragments recognized as a
// unique-constraint violation across the drivers the SDK instruments.
var duplicateKeyMarkers = []string{
	"duplicate key",
	"er_dup_entry",
	"unique constraint",
	"23505",
}

// Derive computes the heuristic insight for a trace group. Always available,
// zero external dependency; serves as both the fallback and the baseline fed
// to the diagnostic backend.
func Derive(g trace.Group, now time.Time) Insight {
	ins := Insight{
		TraceID:         g.TraceID,
		AppName:         g.AppName,
		HeaderOperation: g.HeaderOperation,
		Source:          SourceHeuristic,
		ComputedAt:      now,
	}

	requestFailed := g.OK != nil && !*g.OK

	switch {
	case g.HasError || requestFailed:
		ins.Severity = SeverityError
	case g.Slow:
		ins.Severity = SeverityWarn
	default:
		ins.Severity = SeverityInfo
	}

	if g.StatusCode != nil {
		ins.Signals = append(ins.Signals, Signal{
			Kind:    SignalStatus,
			Message: fmt.Sprintf("request completed with HTTP %d", *g.StatusCode),
		})
	}
	if g.Slow {
		ins.Signals = append(ins.Signals, Signal{
			Kind:    SignalSlow,
			Message: fmt.Sprintf("trace took %.0fms", measuredDuration(g)),
		})
	}

	var (
		hasDuplicateKey bool
		hasDBError      bool
	)
	for _, e := range g.Events {
		if e.Type != event.TypeDB {
			continue
		}
		if e.Level == event.LevelError {
			hasDBError = true
			ins.Signals = append(ins.Signals, Signal{
				Kind:    SignalDBError,
				Message: fmt.Sprintf("database operation %q failed", e.Operation),
			})
			if isDuplicateKey(e) {
				hasDuplicateKey = true
				ins.Signals = append(ins.Signals, Signal{
					Kind:    SignalDBDuplicateKey,
					Message: fmt.Sprintf("duplicate key violation in %q", e.Operation),
				})
			}
		}
	}

	if slowest, ms := slowestDBOp(g); slowest != "" {
		ins.Signals = append(ins.Signals, Signal{
			Kind:    SignalDBSlow,
			Message: fmt.Sprintf("slowest database operation %q took %.0fms", slowest, ms),
		})
	}

	ins.RootCause, ins.Suggestions, ins.Summary = classify(g, hasDuplicateKey, hasDBError, requestFailed)
	ins.Clamp()
	return ins
}

// classify applies the fixed decision table in priority order.
func classify(g trace.Group, duplicateKey, dbError, requestFailed bool) (rootCause string, suggestions []string, summary string) {
	op := g.HeaderOperation

	switch {
	case duplicateKey:
		return "a database write violated a unique constraint",
			[]string{
				"check whether the client retries a non-idempotent write",
				"use an upsert (INSERT ... ON CONFLICT) if the write should be idempotent",
				"verify unique index definitions match application expectations",
			},
			fmt.Sprintf("%s failed on a duplicate key violation", op)
	case dbError:
		return "a database operation failed during the request",
			[]string{
				"inspect the failing query and its parameters",
				"check database connectivity and recent schema changes",
			},
			fmt.Sprintf("%s failed on a database error", op)
	case g.HasError || requestFailed:
		if g.StatusCode != nil {
			return "the request terminated with an error response",
				[]string{
					"inspect application logs around the failing request",
					"correlate with recent deploys or config changes",
				},
				fmt.Sprintf("%s returned HTTP %d", op, *g.StatusCode)
		}
		return "the request terminated with an error response",
			[]string{
				"inspect application logs around the failing request",
				"correlate with recent deploys or config changes",
			},
			fmt.Sprintf("%s reported an error", op)
	case g.Slow:
		return "the request exceeded the slowness threshold",
			[]string{
				"profile the slowest database operations in this trace",
				"consider adding an index or caching the hot path",
			},
			fmt.Sprintf("%s was slow (%.0fms)", op, measuredDuration(g))
	default:
		return "", []string{"no action needed"},
			fmt.Sprintf("%s completed normally", op)
	}
}

func measuredDuration(g trace.Group) float64 {
	header := g.Header()
	if header.DurationMs != nil {
		return *header.DurationMs
	}
	return g.TotalDurationMs
}

func slowestDBOp(g trace.Group) (string, float64) {
	var (
		name string
		ms   float64
	)
	for _, e := range g.Events {
		if e.Type != event.TypeDB || e.DurationMs == nil {
			continue
		}
		if *e.DurationMs > ms {
			name, ms = e.Operation, *e.DurationMs
		}
	}
	if ms <= trace.SlowDBOpMs {
		return "", 0
	}
	return name, ms
}

func isDuplicateKey(e event.Event) bool {
	text := strings.ToLower(e.Operation)
	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := e.Payload[key].(string); ok {
			text += " " + strings.ToLower(s)
		}
	}
	for _, marker := range duplicateKeyMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
