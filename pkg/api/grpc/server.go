package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aescanero/grantflow/pkg/ports"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the orchestrator.
const ServiceName = "grantflow.Orchestrator"

const defaultProbeInterval = 15 * time.Second

// Server represents the gRPC API server. It serves the standard health
// protocol, reflecting checkpoint store reachability.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	store    ports.CheckpointStore
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port int
	// Store is health-checked when it implements ports.Pinger.
	Store         ports.CheckpointStore
	ProbeInterval time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new gRPC server listening on cfg.Port
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	return NewServerWithListener(listener, cfg), nil
}

// NewServerWithListener creates a server on an existing listener
func NewServerWithListener(listener net.Listener, cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   hs,
		store:    cfg.Store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	s.checkStore(context.Background())
	return s
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start checks the store in the background and serves until Shutdown
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	go s.watch()

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkStore(context.Background())
		}
	}
}

func (s *Server) checkStore(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if pinger, ok := s.store.(ports.Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			s.logger.Warn("checkpoint store unreachable", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.health.Shutdown()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
