package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/grantflow/internal/application/executor"
	"github.com/aescanero/grantflow/internal/application/interrupt"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoExecution is returned by Cancel when no command runs for the thread.
var ErrNoExecution = errors.New("no execution in flight")

// ThreadInfo describes a thread resolved from owner and subject keys
type ThreadInfo struct {
	ThreadID string                `json:"thread_id"`
	State    *domain.WorkflowState `json:"state"`
	IsNew    bool                  `json:"is_new"`
}

// Config holds manager settings
type Config struct {
	// WorkflowKind is the third component of thread ids.
	WorkflowKind string
	// MessageEntry is the node that handles user messages on idle threads.
	MessageEntry string
	// RunTimeout bounds asynchronous command execution.
	RunTimeout time.Duration
}

// Manager coordinates thread lifecycles
type Manager struct {
	executor   *executor.Executor
	interrupts *interrupt.Controller
	eventBus   ports.EventBus
	validator  *Validator
	logger     *zap.Logger
	config     Config

	// Track in-flight asynchronous commands
	executions sync.Map // map[string]*executionContext
}

// executionContext holds state for a single asynchronous command
type executionContext struct {
	commandID  string
	threadID   string
	startedAt  time.Time
	cancelFunc context.CancelFunc
}

// NewManager creates a new orchestrator manager
func NewManager(
	exec *executor.Executor,
	interrupts *interrupt.Controller,
	eventBus ports.EventBus,
	validator *Validator,
	logger *zap.Logger,
	config Config,
) *Manager {
	if config.WorkflowKind == "" {
		config.WorkflowKind = domain.WorkflowKindProposal
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 30 * time.Minute
	}
	return &Manager{
		executor:   exec,
		interrupts: interrupts,
		eventBus:   eventBus,
		validator:  validator,
		logger:     logger,
		config:     config,
	}
}

// InitOrGetThread resolves the thread of an owner and subject. The same key
// pair always resolves to the same thread id.
func (m *Manager) InitOrGetThread(ctx context.Context, owner, subject string) (*ThreadInfo, error) {
	if err := m.validator.ValidateKeys(owner, subject); err != nil {
		return nil, err
	}
	threadID := domain.ThreadID(owner, subject, m.config.WorkflowKind)

	cp, err := m.executor.Checkpoint(ctx, threadID)
	if errors.Is(err, domain.ErrThreadNotFound) {
		return &ThreadInfo{ThreadID: threadID, IsNew: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ThreadInfo{ThreadID: threadID, State: cp.ChannelValues}, nil
}

// Start seeds a new thread with input and runs it
func (m *Manager) Start(ctx context.Context, threadID string, input *domain.Update) (*domain.WorkflowState, error) {
	if err := m.validator.ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if err := m.validator.ValidateInput(input); err != nil {
		return nil, err
	}

	if input == nil {
		input = &domain.Update{}
	}
	m.logger.Info("starting thread", zap.String("thread_id", threadID))
	return m.executor.Run(ctx, threadID, executor.WithCreate(), executor.WithInput(input))
}

// SubmitMessage appends a message to a thread and re-runs it from its current
// checkpoint. Threads awaiting review only record the message.
func (m *Manager) SubmitMessage(ctx context.Context, threadID string, msg domain.Message) (*domain.WorkflowState, error) {
	if err := m.validator.ValidateMessage(msg); err != nil {
		return nil, err
	}
	if msg.Role == "" {
		msg.Role = "user"
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	return m.executor.Run(ctx, threadID, executor.WithTransition(msg.Role, func(cp *domain.Checkpoint) (*executor.Transition, error) {
		t := &executor.Transition{Update: &domain.Update{Messages: []domain.Message{msg}}}
		idle := len(cp.Pending) == 0 && len(cp.Next) == 0
		if idle && !cp.ChannelValues.InterruptStatus.IsInterrupted && m.config.MessageEntry != "" {
			t.Start = []string{m.config.MessageEntry}
		}
		return t, nil
	}))
}

// GetState returns the current state of a thread
func (m *Manager) GetState(ctx context.Context, threadID string) (*domain.WorkflowState, error) {
	cp, err := m.executor.Checkpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return cp.ChannelValues, nil
}

// History returns the checkpoints of a thread, most recent first
func (m *Manager) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	return m.executor.History(ctx, threadID)
}

// DetectInterrupt reports whether a thread awaits review
func (m *Manager) DetectInterrupt(ctx context.Context, threadID string) (bool, error) {
	return m.interrupts.Detect(ctx, threadID)
}

// InterruptDetails describes the active interrupt of a thread
func (m *Manager) InterruptDetails(ctx context.Context, threadID string) (*domain.InterruptDetails, error) {
	return m.interrupts.Details(ctx, threadID)
}

// SubmitFeedback records review feedback without resuming
func (m *Manager) SubmitFeedback(ctx context.Context, threadID string, feedback domain.Feedback) error {
	return m.interrupts.SubmitFeedback(ctx, threadID, feedback)
}

// Resume applies pending feedback and continues the thread
func (m *Manager) Resume(ctx context.Context, threadID string) (*domain.WorkflowState, error) {
	return m.interrupts.Resume(ctx, threadID)
}

// ResolveStale keeps or regenerates a stale section
func (m *Manager) ResolveStale(ctx context.Context, threadID, sectionID string, action domain.StaleAction) (*domain.WorkflowState, error) {
	return m.interrupts.ResolveStale(ctx, threadID, sectionID, action)
}

// Dispatch publishes a command for asynchronous execution by the worker pool
func (m *Manager) Dispatch(ctx context.Context, cmd domain.Command) (string, error) {
	if err := m.validator.ValidateCommand(cmd); err != nil {
		return "", err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Issued.IsZero() {
		cmd.Issued = time.Now().UTC()
	}

	event, err := EncodeCommand(cmd)
	if err != nil {
		return "", err
	}
	if err := m.eventBus.Publish(ctx, domain.TopicThreadCommands, event); err != nil {
		m.logger.Error("failed to publish command",
			zap.String("thread_id", cmd.ThreadID),
			zap.String("command_id", cmd.ID),
			zap.Error(err))
		return "", fmt.Errorf("failed to publish command: %w", err)
	}

	m.logger.Info("command dispatched",
		zap.String("thread_id", cmd.ThreadID),
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)))
	return cmd.ID, nil
}

// Execute runs a command synchronously under the run timeout. Workers call it
// for commands received from Dispatch.
func (m *Manager) Execute(ctx context.Context, cmd domain.Command) (*domain.WorkflowState, error) {
	if err := m.validator.ValidateCommand(cmd); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, m.config.RunTimeout)
	defer cancel()

	key := cmd.ThreadID + "/" + cmd.ID
	m.executions.Store(key, &executionContext{
		commandID:  cmd.ID,
		threadID:   cmd.ThreadID,
		startedAt:  time.Now(),
		cancelFunc: cancel,
	})
	defer m.executions.Delete(key)

	switch cmd.Type {
	case domain.CommandStart:
		return m.Start(execCtx, cmd.ThreadID, cmd.Input)
	case domain.CommandMessage:
		return m.SubmitMessage(execCtx, cmd.ThreadID, *cmd.Message)
	default:
		if cmd.Input != nil && cmd.Input.UserFeedback != nil {
			if err := m.SubmitFeedback(execCtx, cmd.ThreadID, *cmd.Input.UserFeedback); err != nil {
				return nil, err
			}
		}
		return m.Resume(execCtx, cmd.ThreadID)
	}
}

// Cancel cancels the in-flight asynchronous commands of a thread. The thread
// stays resumable from its last checkpoint.
func (m *Manager) Cancel(ctx context.Context, threadID string) error {
	cancelled := 0
	m.executions.Range(func(_, value any) bool {
		execCtx := value.(*executionContext)
		if execCtx.threadID == threadID {
			execCtx.cancelFunc()
			cancelled++
		}
		return true
	})
	if cancelled == 0 {
		return fmt.Errorf("%w for thread %s", ErrNoExecution, threadID)
	}

	m.logger.Info("thread execution cancelled",
		zap.String("thread_id", threadID),
		zap.Int("commands", cancelled))
	return nil
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	// Cancel all in-flight commands
	m.executions.Range(func(_, value any) bool {
		execCtx := value.(*executionContext)
		m.logger.Info("cancelling command",
			zap.String("thread_id", execCtx.threadID),
			zap.String("command_id", execCtx.commandID),
			zap.Duration("running_for", time.Since(execCtx.startedAt)))
		execCtx.cancelFunc()
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}
