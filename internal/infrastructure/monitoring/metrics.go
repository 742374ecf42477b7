package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Insight request outcomes for the insight_requests_total counter.
const (
	InsightOutcomeCacheHit  = "cache_hit"
	InsightOutcomeAI        = "generated_ai"
	InsightOutcomeHeuristic = "generated_heuristic"
	InsightOutcomeSampled   = "sampled_out"
	InsightOutcomeLimited   = "rate_limited"
	InsightOutcomeNotFound  = "not_found"
	InsightOutcomeError     = "error"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Ingestion
	EventsIngested  *prometheus.CounterVec
	PersistFailures prometheus.Counter
	BufferedEvents  *prometheus.GaugeVec

	// Realtime
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	Broadcasts    prometheus.Counter

	// Insights
	InsightRequests *prometheus.CounterVec
	AIDuration      prometheus.Histogram

	// System
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates and registers all collectors on the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelens_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracelens_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelens_events_ingested_total",
				Help: "Total number of instrumentation events accepted",
			},
			[]string{"type"},
		),
		PersistFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracelens_event_persist_failures_total",
				Help: "Total number of events that failed durable persistence",
			},
		),
		BufferedEvents: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tracelens_buffered_events",
				Help: "Events currently held in the in-memory buffer per tenant",
			},
			[]string{"tenant"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracelens_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelens_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		Broadcasts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracelens_broadcasts_total",
				Help: "Total number of tenant room broadcasts",
			},
		),

		InsightRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracelens_insight_requests_total",
				Help: "Total number of insight requests by outcome",
			},
			[]string{"outcome"},
		),
		AIDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracelens_ai_call_duration_seconds",
				Help:    "Diagnostic backend call duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15},
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracelens_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEvent records one accepted instrumentation event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsIngested.WithLabelValues(eventType).Inc()
}

// RecordWSMessage records one WebSocket message in either direction.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordInsight records one insight request outcome.
func (m *Metrics) RecordInsight(outcome string) {
	m.InsightRequests.WithLabelValues(outcome).Inc()
}
