package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/grantflow/internal/application/orchestrator"
	"github.com/aescanero/grantflow/internal/application/workers"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	store        ports.CheckpointStore
	workers      *workers.HealthMonitor
	degraded     bool
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	// Store is pinged by the health check when it implements ports.Pinger.
	Store ports.CheckpointStore
	// Workers is optional; without it the health check omits the pool.
	Workers *workers.HealthMonitor
	// Degraded marks a process that fell back to in-memory checkpoints.
	Degraded bool
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		store:        cfg.Store,
		workers:      cfg.Workers,
		degraded:     cfg.Degraded,
		logger:       logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/threads", s.handleInitThread)
		v1.POST("/threads/:id/start", s.handleStart)
		v1.POST("/threads/:id/messages", s.handleMessage)
		v1.GET("/threads/:id/state", s.handleGetState)
		v1.GET("/threads/:id/history", s.handleHistory)
		v1.GET("/threads/:id/interrupt", s.handleInterrupt)
		v1.POST("/threads/:id/feedback", s.handleFeedback)
		v1.POST("/threads/:id/resume", s.handleResume)
		v1.POST("/threads/:id/sections/:section/stale", s.handleResolveStale)
		v1.POST("/threads/:id/cancel", s.handleCancel)
	}
}

// SetupWebSocket adds the thread event stream to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleThreadStream(*gin.Context)
}) {
	s.router.GET("/api/v1/threads/:id/ws", handler.HandleThreadStream)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
