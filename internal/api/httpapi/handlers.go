// Package httpapi implements the tenant-scoped viewer API: trace reads,
// purges, and insight retrieval.
package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/api/middleware"
	"github.com/tracelens/tracelens/internal/api/ws"
	"github.com/tracelens/tracelens/internal/apperr"
	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/domain/insight"
	"github.com/tracelens/tracelens/internal/domain/trace"
	"github.com/tracelens/tracelens/internal/infrastructure/logging"
	"github.com/tracelens/tracelens/internal/infrastructure/monitoring"
	"github.com/tracelens/tracelens/internal/storage"
)

// Handlers carries the viewer API dependencies. store may be nil when no
// durable store is configured.
type Handlers struct {
	buffer   *event.Buffer
	store    storage.Store
	cache    *insight.Cache
	insights *insight.Orchestrator
	hub      *ws.Hub
	metrics  *monitoring.Metrics
	log      *logging.Logger

	queryLimit  int
	demoEnabled bool
	demoToken   string
}

// Config bundles the handler knobs.
type Config struct {
	QueryLimit  int
	DemoEnabled bool
	DemoToken   string
}

// NewHandlers wires the viewer API.
func NewHandlers(buffer *event.Buffer, store storage.Store, cache *insight.Cache, insights *insight.Orchestrator, hub *ws.Hub, metrics *monitoring.Metrics, log *logging.Logger, cfg Config) *Handlers {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 250
	}
	return &Handlers{
		buffer:      buffer,
		store:       store,
		cache:       cache,
		insights:    insights,
		hub:         hub,
		metrics:     metrics,
		log:         log.Named("api"),
		queryLimit:  cfg.QueryLimit,
		demoEnabled: cfg.DemoEnabled,
		demoToken:   cfg.DemoToken,
	}
}

// GetConfig is the public capability endpoint, reachable without the tenant
// gate.
func (h *Handlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"demoModeEnabled":   h.demoEnabled,
		"requiresDemoToken": h.demoToken != "",
	})
}

// GetTraces returns the tenant's recent events, newest first. With
// ?view=grouped the events come back grouped by correlation id.
func (h *Handlers) GetTraces(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	events := h.recentEvents(c.Request.Context(), tenantID)

	if c.Query("view") == "grouped" {
		groups := trace.GroupByTrace(events)
		if groups == nil {
			groups = []trace.Group{}
		}
		c.JSON(http.StatusOK, groups)
		return
	}
	c.JSON(http.StatusOK, events)
}

// PurgeTraces drops the tenant's non-demo events and insights, then pushes
// the refreshed history to the tenant's room.
func (h *Handlers) PurgeTraces(c *gin.Context) {
	h.purge(c, false)
}

// PurgeDemoTraces drops only demo-seeded events. Guarded by the demo token
// when one is configured.
func (h *Handlers) PurgeDemoTraces(c *gin.Context) {
	if !h.demoEnabled {
		Error(c, apperr.New(apperr.CodeBadRequest, "demo mode is not enabled"))
		return
	}
	if h.demoToken != "" && c.GetHeader("X-Demo-Token") != h.demoToken {
		Error(c, apperr.New(apperr.CodeUnauthorized, "invalid demo token"))
		return
	}
	h.purge(c, true)
}

func (h *Handlers) purge(c *gin.Context, demoOnly bool) {
	tenantID := middleware.TenantID(c)

	keep := func(e event.Event) bool { return e.IsDemo() != demoOnly }
	purged := int64(h.buffer.Purge(tenantID, keep))

	if h.store != nil {
		n, err := h.store.PurgeEvents(c.Request.Context(), tenantID, demoOnly)
		if err != nil {
			h.log.Warn("durable purge failed",
				zap.String("tenant", tenantID),
				zap.Bool("demoOnly", demoOnly),
				zap.Error(err),
			)
		} else if n > purged {
			purged = n
		}
	}
	if !demoOnly && h.cache != nil {
		h.cache.PurgeTenant(tenantID)
	}

	h.hub.Broadcast(tenantID, "eventHistory", h.buffer.Recent(tenantID, h.queryLimit))
	c.JSON(http.StatusOK, gin.H{"ok": true, "purged": purged})
}

// GetInsight resolves the insight for one trace, serving the cache when
// fresh.
func (h *Handlers) GetInsight(c *gin.Context) {
	h.insight(c, false)
}

// RegenerateInsight forces recomputation, bypassing sampling and cache but
// not rate limiting. Backend failures surface instead of degrading.
func (h *Handlers) RegenerateInsight(c *gin.Context) {
	h.insight(c, true)
}

func (h *Handlers) insight(c *gin.Context, regenerate bool) {
	req := insight.Request{
		TenantID:   middleware.TenantID(c),
		TraceID:    c.Param("traceId"),
		ClientIP:   c.ClientIP(),
		Regenerate: regenerate,
	}

	res, err := h.insights.GetOrCompute(c.Request.Context(), req)
	if res.RateLimit != nil {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.RateLimit.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.RateLimit.WindowEnd.Unix(), 10))
	}
	if err != nil {
		h.recordInsightOutcome(outcomeFor(err))
		if apperr.CodeOf(err) == apperr.CodeInternal {
			h.log.Error("insight resolution failed",
				zap.String("tenant", req.TenantID),
				zap.String("trace", req.TraceID),
				zap.Error(err),
			)
		}
		Error(c, err)
		return
	}

	switch {
	case res.Cached:
		h.recordInsightOutcome(monitoring.InsightOutcomeCacheHit)
	case res.Insight.Source == insight.SourceAI:
		h.recordInsightOutcome(monitoring.InsightOutcomeAI)
	default:
		h.recordInsightOutcome(monitoring.InsightOutcomeHeuristic)
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"insight":    res.Insight,
		"cached":     res.Cached,
		"computedAt": res.Insight.ComputedAt,
	})
}

// recentEvents serves from the buffer, falling back to the durable store
// when the buffer has nothing for the tenant (fresh process, rotated ring).
func (h *Handlers) recentEvents(ctx context.Context, tenantID string) []event.Event {
	events := h.buffer.Recent(tenantID, h.queryLimit)
	if len(events) == 0 && h.store != nil {
		stored, err := h.store.ListEvents(ctx, tenantID, h.queryLimit)
		if err != nil {
			h.log.Warn("durable event read failed", zap.String("tenant", tenantID), zap.Error(err))
		} else {
			events = stored
		}
	}
	if events == nil {
		events = []event.Event{}
	}
	return events
}

func (h *Handlers) recordInsightOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordInsight(outcome)
	}
}

func outcomeFor(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeTraceNotFound:
		return monitoring.InsightOutcomeNotFound
	case apperr.CodeRateLimited:
		return monitoring.InsightOutcomeLimited
	case apperr.CodeInsightSampledOut:
		return monitoring.InsightOutcomeSampled
	default:
		return monitoring.InsightOutcomeError
	}
}
