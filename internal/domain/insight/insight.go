// Package insight computes and caches per-trace diagnostics: heuristic
// derivation, deterministic sampling, and the orchestration of the external
// diagnostic backend with its fallback policy.
package insight

import (
	"context"
	"time"

	"github.com/tracelens/tracelens/internal/domain/trace"
)

// Severity levels, ordered by urgency.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Insight sources.
const (
	SourceAI        = "ai"
	SourceHeuristic = "heuristic"
)

// Caps on backend-provided lists; anything beyond is truncated.
const (
	MaxSuggestions = 8
	MaxSignals     = 12
)

// Signal is a single observed fact about a trace.
type Signal struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Insight is the diagnostic result for one trace, keyed by
// (tenantId, traceId) in the cache.
type Insight struct {
	TraceID         string    `json:"traceId"`
	AppName         string    `json:"appName"`
	HeaderOperation string    `json:"operation"`
	Summary         string    `json:"summary"`
	Severity        string    `json:"severity"`
	RootCause       string    `json:"rootCause,omitempty"`
	Suggestions     []string  `json:"suggestions"`
	Signals         []Signal  `json:"signals"`
	Source          string    `json:"source"`
	ComputedAt      time.Time `json:"computedAt"`
}

// Clamp enforces the suggestion and signal caps.
func (i *Insight) Clamp() {
	if len(i.Suggestions) > MaxSuggestions {
		i.Suggestions = i.Suggestions[:MaxSuggestions]
	}
	if len(i.Signals) > MaxSignals {
		i.Signals = i.Signals[:MaxSignals]
	}
}

// Backend generates an insight for a trace group. The heuristic baseline is
// provided as grounding material; implementations must treat it as input,
// not output.
type Backend interface {
	Generate(ctx context.Context, group trace.Group, baseline Insight) (Insight, error)
}
