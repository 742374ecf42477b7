package insight

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/apperr"
	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/domain/trace"
	"github.com/tracelens/tracelens/internal/infrastructure/logging"
	"github.com/tracelens/tracelens/internal/infrastructure/resilience"
	"github.com/tracelens/tracelens/internal/ratelimit"
)

// EventSource resolves the events backing a trace. The hub's buffer with a
// durable-store fallback in production; a stub in tests.
type EventSource interface {
	EventsForTrace(ctx context.Context, tenantID, traceID string) ([]event.Event, error)
}

// Config tunes the orchestrator's gating and backend policy.
type Config struct {
	AIEnabled       bool
	Sample          SampleConfig
	RateLimitMax    int
	RateLimitWindow time.Duration
	Timeout         time.Duration
	Retry           resilience.RetryPolicy
}

// Request identifies one insight computation. Regenerate is the explicit
// recomputation path: it bypasses sampling and cache freshness, keeps rate
// limiting, and disables the heuristic fallback so backend failures surface.
type Request struct {
	TenantID   string
	TraceID    string
	ClientIP   string
	Regenerate bool
}

// Result carries the computed insight plus response metadata.
type Result struct {
	Insight   Insight
	Cached    bool
	RateLimit *ratelimit.Decision
}

// Orchestrator resolves insights through cache, gating, backend, and
// fallback.
type Orchestrator struct {
	source    EventSource
	backend   Backend // nil when no backend is configured
	retryable func(error) bool
	cache     *Cache
	limiter   ratelimit.Limiter
	cfg       Config
	log       *logging.Logger

	now func() time.Time // injectable for tests
}

// NewOrchestrator wires the orchestrator. backend may be nil; retryable
// classifies backend failures for the retry loop.
func NewOrchestrator(source EventSource, backend Backend, retryable func(error) bool, cache *Cache, limiter ratelimit.Limiter, cfg Config, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	return &Orchestrator{
		source:    source,
		backend:   backend,
		retryable: retryable,
		cache:     cache,
		limiter:   limiter,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// GetOrCompute returns a cached or freshly computed insight for the trace.
func (o *Orchestrator) GetOrCompute(ctx context.Context, req Request) (Result, error) {
	if !req.Regenerate {
		if ins, fresh := o.cache.Get(req.TenantID, req.TraceID); fresh {
			return Result{Insight: ins, Cached: true}, nil
		}
	}

	events, err := o.source.EventsForTrace(ctx, req.TenantID, req.TraceID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodeInternal, "event lookup failed", err)
	}
	group, ok := trace.ForTrace(events, req.TraceID)
	if !ok {
		return Result{}, apperr.New(apperr.CodeTraceNotFound, "no events recorded for trace")
	}

	useBackend := o.backend != nil && o.cfg.AIEnabled
	if req.Regenerate && !useBackend {
		return Result{}, apperr.New(apperr.CodeAIDisabled, "diagnostic backend is not enabled")
	}

	result := Result{}
	if useBackend {
		if !req.Regenerate {
			accepted, reason := SampleDecision(req.TenantID, req.TraceID, isErrorTrace(group), o.cfg.Sample)
			if !accepted {
				return Result{}, apperr.New(apperr.CodeInsightSampledOut, reason)
			}
		}

		decision := o.limiter.Allow(rateKey(req), o.cfg.RateLimitMax, o.cfg.RateLimitWindow)
		result.RateLimit = &decision
		if !decision.Allowed {
			return result, apperr.New(apperr.CodeRateLimited, "insight generation rate limit exceeded")
		}
	}

	now := o.now()
	ins := Derive(group, now)

	if useBackend {
		generated, genErr := o.generate(ctx, group, ins)
		switch {
		case genErr == nil:
			ins = generated
		case req.Regenerate:
			return result, o.classifyBackendFailure(genErr)
		default:
			o.log.Warn("diagnostic backend failed, serving heuristic insight",
				zap.String("tenant", req.TenantID),
				zap.String("trace", req.TraceID),
				zap.Error(genErr),
			)
		}
	}

	// Identity fields are server truth: a misbehaving backend must not be
	// able to respell which trace this insight describes.
	ins.TraceID = req.TraceID
	ins.AppName = group.AppName
	ins.HeaderOperation = group.HeaderOperation
	ins.ComputedAt = now
	ins.Clamp()

	o.cache.Put(req.TenantID, ins)
	result.Insight = ins
	return result, nil
}

// generate runs the backend call under the composed timeout and retry
// wrappers.
func (o *Orchestrator) generate(ctx context.Context, group trace.Group, baseline Insight) (Insight, error) {
	return resilience.Retry(ctx, o.cfg.Retry, o.retryable, func(ctx context.Context) (Insight, error) {
		return resilience.WithTimeout(ctx, o.cfg.Timeout, func(ctx context.Context) (Insight, error) {
			ins, err := o.backend.Generate(ctx, group, baseline)
			if err != nil {
				return Insight{}, err
			}
			ins.Source = SourceAI
			return ins, nil
		})
	})
}

func (o *Orchestrator) classifyBackendFailure(err error) error {
	if errors.Is(err, resilience.ErrTimeout) {
		return apperr.Wrap(apperr.CodeAITimeout, "diagnostic backend timed out", err)
	}
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		return apperr.Wrap(apperr.CodeAIUnavailable, "diagnostic backend failed", err)
	}
	return err
}

func isErrorTrace(g trace.Group) bool {
	return g.HasError || (g.OK != nil && !*g.OK)
}

func rateKey(req Request) string {
	ip := req.ClientIP
	if ip == "" {
		ip = "unknown"
	}
	return "insights:" + req.TenantID + ":" + ip
}
