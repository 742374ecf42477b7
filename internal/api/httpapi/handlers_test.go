package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/tracelens/internal/api/middleware"
	"github.com/tracelens/tracelens/internal/api/ws"
	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/domain/insight"
	"github.com/tracelens/tracelens/internal/domain/tenant"
	"github.com/tracelens/tracelens/internal/domain/trace"
	"github.com/tracelens/tracelens/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const registryJSON = `{
	"t1": {
		"apps": {"shop": "k1"},
		"viewers": {"v1": "admin"}
	},
	"t2": {
		"apps": {"billing": "k2"},
		"viewers": {"v2": "admin"}
	}
}`

type bufferSource struct{ buffer *event.Buffer }

func (s bufferSource) EventsForTrace(_ context.Context, tenantID, traceID string) ([]event.Event, error) {
	return s.buffer.ForTrace(tenantID, traceID), nil
}

type fakeBackend struct {
	insight insight.Insight
	err     error
}

func (b fakeBackend) Generate(context.Context, trace.Group, insight.Insight) (insight.Insight, error) {
	return b.insight, b.err
}

type apiFixture struct {
	router *gin.Engine
	buffer *event.Buffer
	cache  *insight.Cache
}

type apiOptions struct {
	registry    string
	backend     insight.Backend
	aiEnabled   bool
	demoEnabled bool
	demoToken   string
}

func newAPI(t *testing.T, opts apiOptions) *apiFixture {
	t.Helper()

	registry := tenant.NewRegistry(opts.registry, nil)
	buffer := event.NewBuffer(100)
	cache := insight.NewCache(time.Hour)
	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(limiter.Close)

	orch := insight.NewOrchestrator(
		bufferSource{buffer}, opts.backend, func(error) bool { return false },
		cache, limiter,
		insight.Config{
			AIEnabled:       opts.aiEnabled,
			Sample:          insight.SampleConfig{Rate: 1},
			RateLimitMax:    2,
			RateLimitWindow: time.Minute,
		}, nil)

	h := NewHandlers(buffer, nil, cache, orch, ws.NewHub(nil, nil), nil, nil, Config{
		QueryLimit:  50,
		DemoEnabled: opts.demoEnabled,
		DemoToken:   opts.demoToken,
	})

	r := gin.New()
	r.GET("/api/config", h.GetConfig)
	gate := middleware.TenantAuth(registry)
	authed := r.Group("/api", gate)
	authed.GET("/traces", h.GetTraces)
	authed.DELETE("/traces", h.PurgeTraces)
	authed.DELETE("/traces/demo", h.PurgeDemoTraces)
	authed.GET("/insights/:traceId", h.GetInsight)
	authed.POST("/insights/:traceId/regenerate", h.RegenerateInsight)
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			gate(c)
			if c.IsAborted() {
				return
			}
		}
		c.Status(http.StatusNotFound)
	})

	return &apiFixture{router: r, buffer: buffer, cache: cache}
}

func (f *apiFixture) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func viewerHeaders(tenantID, token string) map[string]string {
	return map[string]string{
		"X-Tenant-Id":   tenantID,
		"Authorization": "Bearer " + token,
	}
}

func seedEvent(buffer *event.Buffer, tenantID, appName, traceID, source string) event.Event {
	e := event.Stamp(event.Incoming{
		Type:      event.TypeHTTP,
		Operation: "GET /x",
		TraceID:   traceID,
		Source:    source,
		Payload:   map[string]any{"statusCode": float64(200)},
	}, tenantID, appName, time.Now())
	buffer.Append(e)
	return e
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestGetConfigPublic(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON, demoEnabled: true, demoToken: "secret"})

	w := f.do(http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		DemoModeEnabled   bool `json:"demoModeEnabled"`
		RequiresDemoToken bool `json:"requiresDemoToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.DemoModeEnabled)
	assert.True(t, body.RequiresDemoToken)
}

func TestGetTracesTenantIsolation(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})
	seeded := seedEvent(f.buffer, "t1", "shop", "tr1", "")

	w := f.do(http.MethodGet, "/api/traces", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)
	var events []event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, seeded.ID, events[0].ID)
	assert.Equal(t, "t1", events[0].TenantID)

	w = f.do(http.MethodGet, "/api/traces", viewerHeaders("t2", "v2"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetTracesMissingTenantHeader(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})

	w := f.do(http.MethodGet, "/api/traces", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, w))
}

func TestUnknownAPIRouteStillGated(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})

	// Missing tenant header is rejected before the route miss is visible.
	w := f.do(http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, w))

	// With valid credentials the miss surfaces as a plain 404.
	w = f.do(http.MethodGet, "/api/nope", viewerHeaders("t1", "v1"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Paths outside the protected prefix skip the gate entirely.
	w = f.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTracesOpenMode(t *testing.T) {
	f := newAPI(t, apiOptions{registry: ""})

	// Any tenant header is accepted and yields an empty result set.
	w := f.do(http.MethodGet, "/api/traces", map[string]string{"X-Tenant-Id": "anyone"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	// The header itself stays required.
	w = f.do(http.MethodGet, "/api/traces", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTracesGrouped(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})
	seedEvent(f.buffer, "t1", "shop", "tr1", "")
	seedEvent(f.buffer, "t1", "shop", "tr1", "")
	seedEvent(f.buffer, "t1", "shop", "tr2", "")

	w := f.do(http.MethodGet, "/api/traces?view=grouped", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)

	var groups []trace.Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 2)
	total := len(groups[0].Events) + len(groups[1].Events)
	assert.Equal(t, 3, total)
}

func TestPurgeTracesKeepsDemoEvents(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})
	seedEvent(f.buffer, "t1", "shop", "tr1", "")
	demo := seedEvent(f.buffer, "t1", "shop", "tr2", "demo")
	seedEvent(f.buffer, "t2", "billing", "tr3", "")
	f.cache.Put("t1", insight.Insight{TraceID: "tr1", ComputedAt: time.Now()})

	w := f.do(http.MethodDelete, "/api/traces", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"purged":1`)

	remaining := f.buffer.Recent("t1", 10)
	require.Len(t, remaining, 1)
	assert.Equal(t, demo.ID, remaining[0].ID)

	// Insights for the tenant are gone; the other tenant is untouched.
	_, fresh := f.cache.Get("t1", "tr1")
	assert.False(t, fresh)
	assert.Equal(t, 1, f.buffer.Len("t2"))
}

func TestPurgeDemoTraces(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON, demoEnabled: true, demoToken: "secret"})
	kept := seedEvent(f.buffer, "t1", "shop", "tr1", "")
	seedEvent(f.buffer, "t1", "shop", "tr2", "demo")

	headers := viewerHeaders("t1", "v1")
	w := f.do(http.MethodDelete, "/api/traces/demo", headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	headers["X-Demo-Token"] = "secret"
	w = f.do(http.MethodDelete, "/api/traces/demo", headers)
	require.Equal(t, http.StatusOK, w.Code)

	remaining := f.buffer.Recent("t1", 10)
	require.Len(t, remaining, 1)
	assert.Equal(t, kept.ID, remaining[0].ID)
}

func TestPurgeDemoTracesDisabled(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})

	w := f.do(http.MethodDelete, "/api/traces/demo", viewerHeaders("t1", "v1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetInsightHeuristic(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})
	seedEvent(f.buffer, "t1", "shop", "tr1", "")

	w := f.do(http.MethodGet, "/api/insights/tr1", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		OK      bool            `json:"ok"`
		Cached  bool            `json:"cached"`
		Insight insight.Insight `json:"insight"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.False(t, body.Cached)
	assert.Equal(t, insight.SourceHeuristic, body.Insight.Source)
	assert.Equal(t, "tr1", body.Insight.TraceID)

	// Second read is served from cache.
	w = f.do(http.MethodGet, "/api/insights/tr1", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Cached)
}

func TestGetInsightNotFound(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})

	w := f.do(http.MethodGet, "/api/insights/missing", viewerHeaders("t1", "v1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TRACE_NOT_FOUND", errorCode(t, w))
}

func TestGetInsightRateLimitHeaders(t *testing.T) {
	f := newAPI(t, apiOptions{
		registry:  registryJSON,
		backend:   fakeBackend{insight: insight.Insight{Summary: "ok", Severity: insight.SeverityInfo}},
		aiEnabled: true,
	})
	seedEvent(f.buffer, "t1", "shop", "tr1", "")
	seedEvent(f.buffer, "t1", "shop", "tr2", "")
	seedEvent(f.buffer, "t1", "shop", "tr3", "")

	w := f.do(http.MethodGet, "/api/insights/tr1", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	// Limit is 2 per window; the third distinct trace is rejected.
	w = f.do(http.MethodGet, "/api/insights/tr2", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodGet, "/api/insights/tr3", viewerHeaders("t1", "v1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRegenerateWithAIDisabled(t *testing.T) {
	f := newAPI(t, apiOptions{registry: registryJSON})
	seedEvent(f.buffer, "t1", "shop", "tr1", "")

	w := f.do(http.MethodPost, "/api/insights/tr1/regenerate", viewerHeaders("t1", "v1"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "AI_DISABLED", errorCode(t, w))
}

func TestRegenerateBypassesCache(t *testing.T) {
	f := newAPI(t, apiOptions{
		registry:  registryJSON,
		backend:   fakeBackend{insight: insight.Insight{Summary: "from model", Severity: insight.SeverityInfo}},
		aiEnabled: true,
	})
	seedEvent(f.buffer, "t1", "shop", "tr1", "")

	w := f.do(http.MethodGet, "/api/insights/tr1", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/insights/tr1/regenerate", viewerHeaders("t1", "v1"))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Cached bool `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Cached, "regenerate never serves the cache")
}
