package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/grantflow/internal/application/executor"
	"github.com/aescanero/grantflow/internal/application/interrupt"
	"github.com/aescanero/grantflow/internal/application/orchestrator"
	"github.com/aescanero/grantflow/internal/application/workers"
	"github.com/aescanero/grantflow/internal/config"
	"github.com/aescanero/grantflow/internal/proposal"
	"github.com/aescanero/grantflow/pkg/adapters/documents/azblob"
	docmemory "github.com/aescanero/grantflow/pkg/adapters/documents/memory"
	eventmemory "github.com/aescanero/grantflow/pkg/adapters/events/memory"
	eventredis "github.com/aescanero/grantflow/pkg/adapters/events/redis"
	"github.com/aescanero/grantflow/pkg/adapters/llm"
	"github.com/aescanero/grantflow/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/grantflow/pkg/adapters/storage"
	storememory "github.com/aescanero/grantflow/pkg/adapters/storage/memory"
	"github.com/aescanero/grantflow/pkg/adapters/storage/postgres"
	storeredis "github.com/aescanero/grantflow/pkg/adapters/storage/redis"
	"github.com/aescanero/grantflow/pkg/api/grpc"
	"github.com/aescanero/grantflow/pkg/api/http"
	"github.com/aescanero/grantflow/pkg/api/websocket"
	"github.com/aescanero/grantflow/pkg/ports"

	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration service",
	Long:  `Starts the HTTP, WebSocket and gRPC APIs and the command worker pool. Configuration is read from the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := initLogger(cfg.LogLevel)
		defer func() { _ = logger.Sync() }()

		logger.Info("starting grantflow",
			zap.String("version", Version),
			zap.String("build_time", BuildTime))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// closers releases process resources in reverse order of acquisition
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close(logger *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var cleanup closers
	defer cleanup.close(logger)

	metrics := prometheus.NewCollector(promclient.DefaultRegisterer)
	policy := cfg.Retry.Policy()

	var redisClient *goredis.Client
	if cfg.Storage.Backend == config.StorageRedis || cfg.Events.Backend == config.EventsRedis {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		cleanup.add(redisClient.Close)
	}
	keyPrefix := cfg.Redis.KeyPrefix + ":"

	// Checkpoint store
	primary, err := openStore(cfg, redisClient, keyPrefix, logger)
	if err != nil {
		return err
	}
	if c, ok := primary.(interface{ Close() error }); ok {
		cleanup.add(c.Close)
	}
	store, durable := storage.Open(ctx, primary, policy, cfg.Storage.PingTimeout, logger)
	store = storage.NewRetrying(store, policy, metrics, logger)
	logger.Info("checkpoint store ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("durable", durable))

	// Event bus
	eventBus, err := openEventBus(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	cleanup.add(eventBus.Close)

	// Collaborators
	generator, err := llm.NewGenerator(&llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	documents, err := openDocuments(cfg, logger)
	if err != nil {
		return err
	}

	var catalog *proposal.Catalog
	if cfg.Documents.Catalog != "" {
		if catalog, err = proposal.LoadCatalog(cfg.Documents.Catalog); err != nil {
			return err
		}
	}

	workflow, err := proposal.NewWorkflow(proposal.Services{
		Generator: generator,
		Documents: documents,
		Catalog:   catalog,
		Retry:     policy,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// Engine
	execOpts := []executor.Option{
		executor.WithEventBus(eventBus),
		executor.WithMetrics(metrics),
		executor.WithRecursionLimit(cfg.Executor.RecursionLimit),
		executor.WithNodeTimeout(cfg.Executor.NodeTimeout),
	}
	if redisClient != nil && durable {
		execOpts = append(execOpts, executor.WithLocker(storeredis.NewLocker(redisClient, keyPrefix), cfg.Executor.LockTTL))
	}
	exec := executor.New(workflow.Graph, store, logger, execOpts...)

	controller, err := interrupt.NewController(exec, workflow.Routes, workflow.Dependencies, eventBus, logger)
	if err != nil {
		return err
	}

	manager := orchestrator.NewManager(exec, controller, eventBus, orchestrator.NewValidator(), logger, orchestrator.Config{
		MessageEntry: workflow.MessageEntry,
		RunTimeout:   cfg.Timeouts.RunTimeout,
	})

	pool := workers.NewPool(
		cfg.Workers.PoolSize,
		eventBus,
		manager,
		orchestrator.DecodeCommand,
		metrics,
		logger,
		cfg.Workers.HealthCheckInterval,
	)
	if err := pool.Start(); err != nil {
		return err
	}

	// APIs
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: manager,
		Store:        store,
		Workers:      pool.Health(),
		Degraded:     !durable,
		Logger:       logger,
	})

	wsHandler := websocket.NewHandler(eventBus, logger)
	if err := wsHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to subscribe websocket stream: %w", err)
	}
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	logger.Info("grantflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, httpServer.Shutdown(shutdownCtx))
		errs = append(errs, grpcServer.Shutdown(shutdownCtx))
		errs = append(errs, pool.Shutdown(shutdownCtx))
		errs = append(errs, manager.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("grantflow shut down complete")
	return err
}

func openStore(cfg *config.Config, client *goredis.Client, prefix string, logger *zap.Logger) (ports.CheckpointStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		return storeredis.NewCheckpointStore(client, logger,
			storeredis.WithPrefix(prefix),
			storeredis.WithTTL(cfg.Redis.CheckpointTTL)), nil
	case config.StoragePostgres:
		if cfg.Postgres.AutoMigrate {
			m, err := postgres.NewMigrator(cfg.Postgres.DSN)
			if err != nil {
				return nil, err
			}
			err = m.Up()
			_ = m.Close()
			if err != nil {
				return nil, err
			}
		}
		return postgres.Open(postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, logger)
	default:
		logger.Warn("using in-memory checkpoint store; thread state will not survive a restart")
		return storememory.NewCheckpointStore(), nil
	}
}

func openEventBus(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.EventBus, error) {
	if cfg.Events.Backend == config.EventsMemory {
		return eventmemory.NewEventBus(logger), nil
	}
	name := cfg.Events.ConsumerName
	if name == "" {
		name = fmt.Sprintf("grantflow-%d", os.Getpid())
	}
	bus, err := eventredis.NewStreamsEventBus(client, cfg.Events.ConsumerGroup, name, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	return bus, nil
}

func openDocuments(cfg *config.Config, logger *zap.Logger) (ports.DocumentSource, error) {
	if cfg.Documents.ConnectionString == "" {
		logger.Info("no document storage configured, only inline documents can be loaded")
		return docmemory.NewSource(), nil
	}
	source, err := azblob.New(azblob.Config{
		ConnectionString: cfg.Documents.ConnectionString,
		Container:        cfg.Documents.Container,
		Prefix:           cfg.Documents.Prefix,
		MaxBytes:         cfg.Documents.MaxBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create document source: %w", err)
	}
	return source, nil
}
