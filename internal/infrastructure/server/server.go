// Package server composes configuration, infrastructure, and the API
// surfaces into the running process.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/api/httpapi"
	"github.com/tracelens/tracelens/internal/api/middleware"
	"github.com/tracelens/tracelens/internal/api/ws"
	"github.com/tracelens/tracelens/internal/diagnostic"
	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/domain/insight"
	"github.com/tracelens/tracelens/internal/domain/tenant"
	"github.com/tracelens/tracelens/internal/infrastructure/config"
	"github.com/tracelens/tracelens/internal/infrastructure/logging"
	"github.com/tracelens/tracelens/internal/infrastructure/monitoring"
	"github.com/tracelens/tracelens/internal/infrastructure/resilience"
	"github.com/tracelens/tracelens/internal/ratelimit"
	"github.com/tracelens/tracelens/internal/storage"
	"github.com/tracelens/tracelens/internal/storage/postgres"
)

// Server wraps the HTTP server and its owned resources.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	logger     *logging.Logger
	config     *config.Config

	store   storage.Store
	limiter ratelimit.Limiter
}

// NewServer wires the whole process from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: false,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			return nil, err
		}
		logger = l
	}

	logger.Info("initializing tracelens",
		zap.String("port", cfg.Server.Port),
		zap.Bool("ai_enabled", cfg.AI.Enabled),
		zap.Bool("persistence", cfg.Database.URL != ""),
	)

	metrics := monitoring.NewMetrics()
	registry := tenant.NewRegistry(cfg.Auth.TenantsJSON, logger)
	buffer := event.NewBuffer(cfg.Buffer.EventBufferSize)

	var store storage.Store
	if cfg.Database.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgres.Migrate(ctx, cfg.Database.URL, cfg.Database.MigrationsDir, logger); err != nil {
			return nil, err
		}
		pg, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		store = pg
		logger.Info("durable event store connected")
	}

	limiter := newLimiter(cfg, logger)

	var backend insight.Backend
	if cfg.AI.Enabled {
		backend = diagnostic.NewClient(diagnostic.Config{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
		}, logger)
		logger.Info("diagnostic backend enabled", zap.String("model", cfg.AI.Model))
	}

	cache := insight.NewCache(cfg.Insight.CacheTTL())
	retryPolicy := resilience.DefaultRetryPolicy()
	retryPolicy.MaxRetries = cfg.AI.MaxRetries
	orchestrator := insight.NewOrchestrator(
		eventSource{buffer: buffer, store: store},
		backend,
		diagnostic.Retryable,
		cache,
		limiter,
		insight.Config{
			AIEnabled: cfg.AI.Enabled,
			Sample: insight.SampleConfig{
				Rate:       cfg.AI.SampleRate,
				ErrorsOnly: cfg.AI.SampleErrorsOnly,
			},
			RateLimitMax:    cfg.Insight.RateLimitMax,
			RateLimitWindow: cfg.Insight.RateLimitWindow(),
			Timeout:         cfg.AI.AITimeout(),
			Retry:           retryPolicy,
		},
		logger,
	)

	hub := ws.NewHub(logger, metrics)
	wsHandler := ws.NewHandler(hub, registry, buffer, store, metrics, logger, cfg.Buffer.TraceQueryLimit)
	handlers := httpapi.NewHandlers(buffer, store, cache, orchestrator, hub, metrics, logger, httpapi.Config{
		QueryLimit:  cfg.Buffer.TraceQueryLimit,
		DemoEnabled: cfg.Demo.Enabled,
		DemoToken:   cfg.Demo.Token,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(nil))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RequestRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"persistence": store != nil,
			"aiEnabled":   cfg.AI.Enabled,
			"configured":  registry.IsConfigured(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The capability endpoint must stay ahead of the tenant gate.
	router.GET("/api/config", handlers.GetConfig)

	gate := middleware.TenantAuth(registry)
	authed := router.Group("/api", gate)
	authed.GET("/traces", handlers.GetTraces)
	authed.DELETE("/traces", handlers.PurgeTraces)
	authed.DELETE("/traces/demo", handlers.PurgeDemoTraces)
	authed.GET("/insights/:traceId", handlers.GetInsight)
	authed.POST("/insights/:traceId/regenerate", handlers.RegenerateInsight)

	// Unknown routes under /api still pass through the tenant gate so a
	// missing header is rejected the same way on every protected path.
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			gate(c)
			if c.IsAborted() {
				return
			}
		}
		c.Status(http.StatusNotFound)
	})

	router.GET("/stream", wsHandler.HandleConnection)

	logger.Info("server initialized")

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router:  router,
		logger:  logger,
		config:  cfg,
		store:   store,
		limiter: limiter,
	}, nil
}

// newLimiter selects the distributed limiter when Redis is configured,
// falling back to the in-process one.
func newLimiter(cfg *config.Config, logger *logging.Logger) ratelimit.Limiter {
	if cfg.Insight.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter()
	}
	limiter, err := ratelimit.NewRedisLimiter(cfg.Insight.RedisAddr, cfg.Insight.RedisPassword, cfg.Insight.RedisDB, logger)
	if err != nil {
		logger.Warn("redis limiter unavailable, using in-memory limiter",
			zap.String("addr", cfg.Insight.RedisAddr),
			zap.Error(err),
		)
		return ratelimit.NewMemoryLimiter()
	}
	logger.Info("redis rate limiter connected", zap.String("addr", cfg.Insight.RedisAddr))
	return limiter
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	err := s.httpServer.Shutdown(ctx)

	if s.store != nil {
		s.store.Close()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	_ = s.logger.Sync()
	return err
}
