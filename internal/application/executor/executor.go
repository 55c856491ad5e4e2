package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/aescanero/grantflow/internal/application/graph"
	"github.com/aescanero/grantflow/pkg/adapters/metrics/noop"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Executor runs workflow graphs against durable checkpoints.
type Executor struct {
	graph   *graph.Graph
	store   ports.CheckpointStore
	events  ports.EventBus
	metrics ports.MetricsCollector
	locker  ports.Locker
	logger  *zap.Logger

	recursionLimit int
	nodeTimeout    time.Duration
	lockTTL        time.Duration

	locks  *threadLocks
	active atomic.Int64
}

// New creates an executor for g persisting to store.
func New(g *graph.Graph, store ports.CheckpointStore, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		graph:          g,
		store:          store,
		metrics:        noop.NewCollector(),
		logger:         logger,
		recursionLimit: DefaultRecursionLimit,
		nodeTimeout:    DefaultNodeTimeout,
		lockTTL:        DefaultLockTTL,
		locks:          newThreadLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the executed graph.
func (e *Executor) Graph() *graph.Graph { return e.graph }

// execution is the mutable state of one Run.
type execution struct {
	threadID string
	state    *domain.WorkflowState
	last     *domain.Checkpoint
	steps    int
}

type outcome struct {
	node     string
	result   graph.Result
	err      error
	duration time.Duration
	skipped  bool
}

// Run drives threadID from its latest checkpoint until the graph completes,
// a node requests an interrupt, or a fatal error occurs. Node errors are
// recorded in the errors channel and never returned. Fatal errors leave the
// last persisted checkpoint untouched.
func (e *Executor) Run(ctx context.Context, threadID string, opts ...RunOption) (*domain.WorkflowState, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var state *domain.WorkflowState
	err := e.withLock(ctx, threadID, func(ctx context.Context) error {
		var err error
		state, err = e.run(ctx, threadID, cfg)
		return err
	})
	return state, err
}

func (e *Executor) run(ctx context.Context, threadID string, cfg runConfig) (*domain.WorkflowState, error) {
	started := time.Now()
	e.metrics.SetActiveRuns(int(e.active.Add(1)))
	defer func() { e.metrics.SetActiveRuns(int(e.active.Add(-1))) }()

	last, err := e.latest(ctx, threadID)
	if err != nil && !errors.Is(err, domain.ErrThreadNotFound) {
		return nil, err
	}
	if cfg.create && last != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadExists, threadID)
	}
	if last == nil && (cfg.input == nil || cfg.transition != nil) {
		return nil, err
	}

	x := &execution{threadID: threadID, state: domain.NewWorkflowState(), last: last}
	if last != nil {
		if x.state, err = last.ChannelValues.Clone(); err != nil {
			return nil, err
		}
	}

	if cfg.input != nil {
		if err := e.commit(ctx, x, cfg.input, domain.CheckpointMetadata{Source: domain.SourceInput}, pendingOf(last), nextOf(last)); err != nil {
			return x.state, err
		}
	}

	start := cfg.start
	if cfg.transition != nil {
		t, err := cfg.transition(x.last)
		if err != nil {
			return nil, err
		}
		if t == nil {
			t = &Transition{}
		}
		if t.Update != nil {
			meta := domain.CheckpointMetadata{Source: domain.SourceUpdate, Node: cfg.asNode}
			if err := e.commit(ctx, x, t.Update, meta, pendingOf(x.last), nextOf(x.last)); err != nil {
				return x.state, err
			}
		}
		if t.Committed != nil {
			t.Committed(x.state)
		}
		start = dedupe(start, t.Start)
	}

	frontier := dedupe(start, pendingOf(x.last), nextOf(x.last))
	if last == nil && len(frontier) == 0 {
		frontier = []string{e.graph.Entry()}
	}
	if len(start) == 0 && x.state.InterruptStatus.IsInterrupted {
		e.logger.Debug("Thread is awaiting review, nothing to run", zap.String("thread_id", threadID))
		return x.state, nil
	}
	if len(frontier) == 0 && x.state.Status != domain.WorkflowStatusRunning {
		return x.state, nil
	}

	logger := e.logger.With(zap.String("thread_id", threadID))
	logger.Info("Running thread", zap.Strings("frontier", frontier))

	for len(frontier) > 0 {
		// each node invocation is one step; nodes past the limit stay pending
		budget := e.recursionLimit - x.steps
		if budget <= 0 {
			err := fmt.Errorf("%w: limit of %d steps reached in thread %s", domain.ErrRecursionLimit, e.recursionLimit, threadID)
			e.fail(ctx, x, started, "recursion_limit", err)
			return x.state, err
		}
		runnable, deferred := frontier, []string(nil)
		if len(frontier) > budget {
			runnable, deferred = frontier[:budget], frontier[budget:]
		}

		next, interrupted, err := e.epoch(ctx, x, runnable, deferred)
		if err != nil {
			e.fail(ctx, x, started, "error", err)
			return x.state, err
		}
		if interrupted {
			point := x.state.InterruptStatus.InterruptionPoint
			logger.Info("Thread interrupted for review",
				zap.String("node", point),
				zap.Int("steps", x.steps),
			)
			e.publish(ctx, domain.EventThreadInterrupted, threadID, point, map[string]any{
				"sequence": x.last.Sequence,
			})
			e.metrics.RecordRun("interrupted", x.steps, time.Since(started))
			return x.state, nil
		}
		frontier = dedupe(deferred, next)
	}

	// a node that flagged the thread as failed or paused keeps that status
	final := domain.WorkflowStatusComplete
	switch x.state.Status {
	case domain.WorkflowStatusError, domain.WorkflowStatusPaused:
		final = x.state.Status
	}
	done := &domain.Update{Status: final}
	meta := domain.CheckpointMetadata{Source: domain.SourceLoop, Step: x.last.Metadata.Step}
	if err := e.commit(ctx, x, done, meta, nil, nil); err != nil {
		e.fail(ctx, x, started, "error", err)
		return x.state, err
	}

	switch final {
	case domain.WorkflowStatusError:
		logger.Warn("Thread finished with errors", zap.Int("steps", x.steps), zap.Strings("errors", x.state.Errors))
		e.publish(ctx, domain.EventThreadFailed, threadID, x.state.CurrentStep, map[string]any{"steps": x.steps})
		e.metrics.RecordRun("error", x.steps, time.Since(started))
		return x.state, nil
	case domain.WorkflowStatusPaused:
		logger.Info("Thread paused until its content is resolved", zap.Int("steps", x.steps))
		e.publish(ctx, domain.EventThreadPaused, threadID, x.state.CurrentStep, map[string]any{"steps": x.steps})
		e.metrics.RecordRun("paused", x.steps, time.Since(started))
		return x.state, nil
	}

	logger.Info("Thread completed", zap.Int("steps", x.steps))
	e.publish(ctx, domain.EventThreadCompleted, threadID, "", map[string]any{"steps": x.steps})
	e.metrics.RecordRun("complete", x.steps, time.Since(started))
	return x.state, nil
}

// epoch runs frontier concurrently and folds results into x as they arrive.
// deferred nodes are not run but stay pending in every checkpoint written.
// It returns the successors scheduled for the next epoch.
func (e *Executor) epoch(ctx context.Context, x *execution, frontier, deferred []string) ([]string, bool, error) {
	for _, name := range frontier {
		if _, ok := e.graph.Node(name); !ok {
			return nil, false, fmt.Errorf("%w: node %q is not registered", domain.ErrUnknownTransition, name)
		}
	}

	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome, len(frontier))
	grp, gctx := errgroup.WithContext(epochCtx)
	for _, name := range frontier {
		name := name
		snapshot, err := x.state.Clone()
		if err != nil {
			return nil, false, err
		}
		grp.Go(func() error {
			results <- e.invoke(gctx, name, snapshot)
			return nil
		})
	}
	go func() {
		_ = grp.Wait()
		close(results)
	}()

	pending := dedupe(frontier, deferred)
	var next []string
	interrupted := false
	for out := range results {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		pending = slices.DeleteFunc(pending, func(n string) bool { return n == out.node })
		if out.skipped {
			e.logger.Debug("Join not ready, passing through",
				zap.String("thread_id", x.threadID),
				zap.String("node", out.node),
			)
			continue
		}

		successors, interrupting, err := e.complete(ctx, x, out, pending, next)
		if err != nil {
			return nil, false, err
		}
		interrupted = interrupted || interrupting
		next = dedupe(next, successors)
	}
	return next, interrupted, nil
}

// invoke runs one node under the node timeout.
func (e *Executor) invoke(ctx context.Context, name string, state *domain.WorkflowState) outcome {
	node, _ := e.graph.Node(name)
	if node.IsJoin() && !e.graph.JoinReady(name, state) {
		return outcome{node: name, skipped: true}
	}

	start := time.Now()
	nodeCtx, cancel := context.WithTimeout(ctx, e.nodeTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{node: name, err: fmt.Errorf("node panicked: %v", r)}
			}
		}()
		res, err := node.Fn(nodeCtx, state)
		done <- outcome{node: name, result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-nodeCtx.Done():
		out = outcome{node: name, err: nodeCtx.Err()}
	}
	if errors.Is(out.err, context.DeadlineExceeded) && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
		out.err = domain.NewTransientIOError(fmt.Sprintf("node %s timed out after %s", name, e.nodeTimeout), out.err)
	}
	out.duration = time.Since(start)
	return out
}

// complete merges a node outcome, routes it and persists the checkpoint.
func (e *Executor) complete(ctx context.Context, x *execution, out outcome, pending, scheduled []string) ([]string, bool, error) {
	node, _ := e.graph.Node(out.node)
	update := &domain.Update{}
	update.Merge(out.result.Update)

	status := "success"
	if out.err != nil {
		status = "error"
		update.Errors = append(update.Errors, fmt.Sprintf("%s: %v", out.node, out.err))
		e.logger.Warn("Node failed",
			zap.String("thread_id", x.threadID),
			zap.String("node", out.node),
			zap.Error(out.err),
		)
		e.publish(ctx, domain.EventNodeFailed, x.threadID, out.node, map[string]any{"error": out.err.Error()})
	}
	e.metrics.RecordNodeExecuted(out.node, status, out.duration)

	requested := update.InterruptStatus != nil && update.InterruptStatus.IsInterrupted
	switch {
	case requested:
		is := *update.InterruptStatus
		if is.InterruptionPoint == "" {
			is.InterruptionPoint = out.node
		}
		update.InterruptStatus = &is
		update.Status = domain.WorkflowStatusInterrupted
	case update.Status == "" && x.state.Status != domain.WorkflowStatusRunning && !x.state.InterruptStatus.IsInterrupted:
		update.Status = domain.WorkflowStatusRunning
	}

	update.Completed = append(update.Completed, out.node)
	update.CurrentStep = out.node
	if node.IsJoin() {
		update.ResetBarriers = append(update.ResetBarriers, out.node)
	}
	for _, join := range e.graph.JoinsFedBy(out.node) {
		if update.Barriers == nil {
			update.Barriers = make(map[string][]string)
		}
		update.Barriers[join] = append(update.Barriers[join], out.node)
	}

	next, err := x.state.Clone()
	if err != nil {
		return nil, false, err
	}
	written := domain.Apply(next, update)

	var successors []string
	if !requested {
		targets, err := e.graph.Next(out.node, out.result, next)
		if err != nil {
			return nil, false, fmt.Errorf("failed to route from %s: %w", out.node, err)
		}
		successors = slices.DeleteFunc(targets, func(n string) bool { return n == graph.End })
	}

	meta := domain.CheckpointMetadata{Source: domain.SourceLoop, Step: x.last.Metadata.Step + 1, Node: out.node}
	cp := domain.NextCheckpoint(x.threadID, x.last, next, update, written, meta)
	cp.Pending = append([]string(nil), pending...)
	cp.Next = dedupe(scheduled, successors)
	if err := e.put(ctx, cp); err != nil {
		return nil, false, err
	}

	x.state = next
	x.last = cp
	x.steps++
	if requested {
		e.metrics.RecordInterrupt(out.node)
	}
	return successors, requested, nil
}

// commit applies an out-of-loop update to x and persists it.
func (e *Executor) commit(ctx context.Context, x *execution, update *domain.Update, meta domain.CheckpointMetadata, pending, next []string) error {
	state, err := x.state.Clone()
	if err != nil {
		return err
	}
	written := domain.Apply(state, update)
	if x.last != nil && meta.Source != domain.SourceLoop {
		meta.Step = x.last.Metadata.Step
	}
	cp := domain.NextCheckpoint(x.threadID, x.last, state, update, written, meta)
	cp.Pending = pending
	cp.Next = next
	if err := e.put(ctx, cp); err != nil {
		return err
	}
	x.state = state
	x.last = cp
	return nil
}

// UpdateState merges update into the thread's latest state and persists it
// as if written by asNode, without traversing the graph. The scheduled
// frontier is carried over unchanged.
func (e *Executor) UpdateState(ctx context.Context, threadID string, update *domain.Update, asNode string) (*domain.WorkflowState, error) {
	return e.UpdateStateFunc(ctx, threadID, asNode, func(*domain.WorkflowState) (*domain.Update, error) {
		return update, nil
	})
}

// UpdateStateFunc is UpdateState with the update computed by fn from the
// latest state while the thread lock is held. An error from fn is returned
// as is and nothing is written.
func (e *Executor) UpdateStateFunc(ctx context.Context, threadID, asNode string, fn func(*domain.WorkflowState) (*domain.Update, error)) (*domain.WorkflowState, error) {
	var state *domain.WorkflowState
	err := e.withLock(ctx, threadID, func(ctx context.Context) error {
		last, err := e.latest(ctx, threadID)
		if err != nil {
			return err
		}
		x := &execution{threadID: threadID, last: last}
		if x.state, err = last.ChannelValues.Clone(); err != nil {
			return err
		}
		update, err := fn(x.state)
		if err != nil {
			return err
		}
		if update == nil {
			state = x.state
			return nil
		}
		meta := domain.CheckpointMetadata{Source: domain.SourceUpdate, Node: asNode}
		if err := e.commit(ctx, x, update, meta, last.Pending, last.Next); err != nil {
			return err
		}
		state = x.state
		return nil
	})
	return state, err
}

// Checkpoint returns the latest checkpoint of a thread, or
// domain.ErrThreadNotFound.
func (e *Executor) Checkpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	return e.latest(ctx, threadID)
}

// History returns every checkpoint of a thread, most recent first.
func (e *Executor) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	history, err := e.store.List(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, threadID)
	}
	return history, nil
}

func (e *Executor) latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	cp, err := e.store.Get(ctx, threadID)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp.ChannelValues == nil {
		return nil, fmt.Errorf("%w: checkpoint %d has no state", domain.ErrMalformedCheckpoint, cp.Sequence)
	}
	return cp, nil
}

func (e *Executor) put(ctx context.Context, cp *domain.Checkpoint) error {
	start := time.Now()
	if err := e.store.Put(ctx, cp.ThreadID, cp, cp.Metadata); err != nil {
		return fmt.Errorf("failed to persist checkpoint %d: %w", cp.Sequence, err)
	}
	e.metrics.RecordCheckpoint(string(cp.Metadata.Source), time.Since(start))
	e.publish(ctx, domain.EventCheckpointSaved, cp.ThreadID, cp.Metadata.Node, map[string]any{
		"sequence": cp.Sequence,
		"step":     cp.Metadata.Step,
		"source":   string(cp.Metadata.Source),
	})
	return nil
}

func (e *Executor) fail(ctx context.Context, x *execution, started time.Time, status string, err error) {
	e.logger.Error("Run aborted",
		zap.String("thread_id", x.threadID),
		zap.Int("steps", x.steps),
		zap.Error(err),
	)
	e.publish(ctx, domain.EventThreadFailed, x.threadID, "", map[string]any{"error": err.Error()})
	e.metrics.RecordRun(status, x.steps, time.Since(started))
}

func (e *Executor) publish(ctx context.Context, eventType domain.EventType, threadID, nodeID string, data map[string]any) {
	if e.events == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := e.events.Publish(context.WithoutCancel(ctx), domain.TopicThreadEvents, event); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("thread_id", threadID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}

func pendingOf(cp *domain.Checkpoint) []string {
	if cp == nil {
		return nil
	}
	return cp.Pending
}

func nextOf(cp *domain.Checkpoint) []string {
	if cp == nil {
		return nil
	}
	return cp.Next
}

func dedupe(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, n := range list {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	return out
}
