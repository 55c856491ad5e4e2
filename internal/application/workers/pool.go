package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommandExecutor runs a decoded thread command to completion or interrupt.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd domain.Command) (*domain.WorkflowState, error)
}

// CommandDecoder extracts a command from a bus event.
type CommandDecoder func(event domain.Event) (domain.Command, error)

// Pool manages a pool of worker goroutines
type Pool struct {
	size     int
	eventBus ports.EventBus
	executor CommandExecutor
	decode   CommandDecoder
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	jobs      chan domain.Command
	workers   []*worker
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	processed atomic.Int64
	failed    atomic.Int64
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(
	size int,
	eventBus ports.EventBus,
	executor CommandExecutor,
	decode CommandDecoder,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	if size < 1 {
		size = 1
	}
	if healthCheckInterval <= 0 {
		healthCheckInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:     size,
		eventBus: eventBus,
		executor: executor,
		decode:   decode,
		metrics:  metrics,
		logger:   logger,
		jobs:     make(chan domain.Command, size*4),
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Start subscribes to the command topic and starts the workers
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	if err := p.eventBus.Subscribe(p.ctx, domain.TopicThreadCommands, p.enqueue); err != nil {
		p.cancel()
		p.wg.Wait()
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// enqueue hands a command to the workers. It blocks while every worker is
// busy and the queue is full, which leaves backpressure to the bus.
func (p *Pool) enqueue(ctx context.Context, event domain.Event) error {
	cmd, err := p.decode(event)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("dropping malformed command",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return nil
	}

	select {
	case p.jobs <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))
	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case cmd := <-w.pool.jobs:
			w.handle(ctx, cmd)
		}
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	if status == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
}

// handle executes one command
func (w *worker) handle(ctx context.Context, cmd domain.Command) {
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	logger := w.pool.logger.With(
		zap.String("worker_id", w.id),
		zap.String("thread_id", cmd.ThreadID),
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)))
	logger.Info("executing command")

	startTime := time.Now()
	state, err := w.pool.executor.Execute(ctx, cmd)
	duration := time.Since(startTime)

	if err != nil {
		w.pool.failed.Add(1)
		logger.Error("command failed", zap.Duration("duration", duration), zap.Error(err))
		w.publishFailure(ctx, cmd, err)
		return
	}

	w.pool.processed.Add(1)
	fields := []zap.Field{zap.Duration("duration", duration)}
	if state != nil {
		fields = append(fields,
			zap.String("status", string(state.Status)),
			zap.String("current_step", state.CurrentStep))
	}
	logger.Info("command completed", fields...)
}

// publishFailure reports a rejected or failed command on the thread event topic
func (w *worker) publishFailure(ctx context.Context, cmd domain.Command, cause error) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventCommandFailed,
		ThreadID:  cmd.ThreadID,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"command_id": cmd.ID,
			"command":    string(cmd.Type),
			"error":      cause.Error(),
		},
	}

	if err := w.pool.eventBus.Publish(context.WithoutCancel(ctx), domain.TopicThreadEvents, event); err != nil {
		w.pool.logger.Error("failed to publish event",
			zap.String("worker_id", w.id),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
