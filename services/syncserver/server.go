// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syncserver assembles the task sync server.
//
// # Description
//
// The server owns three collaborators:
//   - store: the badger-backed task collection (authority on state)
//   - hub: fans committed changes out to websocket sessions
//   - router: gin engine exposing the CRUD API, the sync socket and metrics
//
// Mutations go store first, then exactly one hub notification. Clients
// that miss notifications repair themselves with GET /v1/tasks after
// reconnecting.
//
// # Thread Safety
//
// Service is safe for concurrent use once New returns.
package syncserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianSync/pkg/telemetry"
	"github.com/AleutianAI/AleutianSync/services/syncserver/handlers"
	"github.com/AleutianAI/AleutianSync/services/syncserver/hub"
	"github.com/AleutianAI/AleutianSync/services/syncserver/observability"
	"github.com/AleutianAI/AleutianSync/services/syncserver/routes"
	"github.com/AleutianAI/AleutianSync/services/syncserver/store"
)

// Service is the sync server.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails.
	//
	// # Description
	//
	// On cancellation the server stops accepting, waits up to
	// ShutdownTimeout for in-flight requests, then closes every session,
	// the store and telemetry. Run returns nil after a clean shutdown.
	//
	// # Assumptions
	//
	//   - Run is called at most once.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine

	// Hub returns the broadcast hub.
	Hub() *hub.Hub

	// Close releases resources without serving. Used when Run is not called.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds sync server configuration. All fields have defaults.
type Config struct {
	// Port is the HTTP listen port. Default: 12310
	Port int

	// DataDir holds the badger database. Default: ./data
	DataDir string

	// InMemory runs the store without disk persistence.
	InMemory bool

	// SessionBuffer is the outbound queue length per session. Default: 256
	SessionBuffer int

	// PingInterval is the websocket keepalive period. Default: 30s
	PingInterval time.Duration

	// UpgradeRate is websocket upgrades admitted per second. Default: 50
	UpgradeRate float64

	// UpgradeBurst is the upgrade token bucket size. Default: 100
	UpgradeBurst int

	// ShutdownTimeout bounds graceful HTTP shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// Telemetry configures tracing and OTel metrics.
	Telemetry telemetry.Config

	// Registry receives all Prometheus metrics and backs /metrics.
	// Default: a fresh registry with Go and process collectors.
	Registry *prometheus.Registry

	// GinMode is passed to gin.SetMode when non-empty.
	GinMode string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return applyConfigDefaults(Config{Telemetry: telemetry.DefaultConfig()})
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.SessionBuffer <= 0 {
		cfg.SessionBuffer = 256
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.UpgradeRate <= 0 {
		cfg.UpgradeRate = 50
	}
	if cfg.UpgradeBurst <= 0 {
		cfg.UpgradeBurst = 100
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "syncserver"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config  Config
	logger  *slog.Logger
	store   store.TaskStore
	hub     *hub.Hub
	metrics *observability.SyncMetrics
	router  *gin.Engine
	started time.Time

	telemetryShutdown func(context.Context) error
	closeOnce         sync.Once
	closeErr          error
}

// New builds a Service.
//
// # Description
//
// Initializes telemetry, opens the store, creates the hub and registers
// routes. Nothing listens until Run.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Telemetry or store initialization failure.
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s := &service{
		config:  cfg,
		logger:  cfg.Logger,
		started: time.Now(),
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	telCfg := cfg.Telemetry
	telCfg.Registerer = registry
	shutdown, err := telemetry.Init(context.Background(), telCfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	storeCfg := store.DefaultConfig(cfg.DataDir)
	if cfg.InMemory {
		storeCfg = store.InMemoryConfig()
	}
	storeCfg.Logger = cfg.Logger.With("component", "badger")
	s.store, err = store.Open(storeCfg)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("open task store: %w", err)
	}

	s.metrics = observability.NewSyncMetrics(registry)
	s.hub = hub.New(hub.Config{
		SessionBuffer: cfg.SessionBuffer,
		PingInterval:  cfg.PingInterval,
		Logger:        cfg.Logger.With("component", "hub"),
		Metrics:       s.metrics,
	})

	if err := s.initRouter(registry); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) initRouter(registry *prometheus.Registry) error {
	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter("syncserver.http"))
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))
	router.Use(telemetry.GinMetrics(httpMetrics))

	taskDeps := handlers.TaskDeps{
		Store:    s.store,
		Notifier: s.hub,
		Metrics:  s.metrics,
		Logger:   s.logger,
	}
	syncDeps := handlers.SyncDeps{
		Hub:     s.hub,
		Limiter: rate.NewLimiter(rate.Limit(s.config.UpgradeRate), s.config.UpgradeBurst),
		Metrics: s.metrics,
		Logger:  s.logger,
		Started: s.started,
	}
	if s.config.PingInterval > 0 {
		syncDeps.PongWait = s.config.PingInterval * 2
	}

	routes.SetupRoutes(router, taskDeps, syncDeps, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.router = router
	return nil
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Hub() *hub.Hub { return s.hub }

// Run serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting sync server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down sync server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown.
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close shuts down the hub, store and telemetry. Safe to call twice.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		s.hub.Close()
		var errs []error
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
