package interrupt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/grantflow/internal/application/executor"
	"github.com/aescanero/grantflow/internal/application/graph"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Controller drives the review state machine of threads:
// Running -> Interrupted(pending feedback) -> Interrupted(processing) -> Running.
type Controller struct {
	executor *executor.Executor
	routes   Routes
	deps     *graph.DependencyMap
	events   ports.EventBus
	logger   *zap.Logger
}

// NewController creates a controller. deps maps content ids (section ids and
// result channel names) to the content derived from them.
func NewController(exec *executor.Executor, routes Routes, deps *graph.DependencyMap, events ports.EventBus, logger *zap.Logger) (*Controller, error) {
	if err := routes.validate(exec.Graph()); err != nil {
		return nil, err
	}
	if deps == nil {
		deps = graph.NewDependencyMap()
	}
	return &Controller{
		executor: exec,
		routes:   routes,
		deps:     deps,
		events:   events,
		logger:   logger,
	}, nil
}

// Detect reports whether the thread is waiting for review.
func (c *Controller) Detect(ctx context.Context, threadID string) (bool, error) {
	cp, err := c.executor.Checkpoint(ctx, threadID)
	if err != nil {
		return false, err
	}
	return cp.ChannelValues.InterruptStatus.IsInterrupted, nil
}

// Details describes the active interrupt.
func (c *Controller) Details(ctx context.Context, threadID string) (*domain.InterruptDetails, error) {
	state, err := c.interrupted(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if state.InterruptMetadata != nil {
		details := *state.InterruptMetadata
		if details.NodeID == "" {
			details.NodeID = state.InterruptStatus.InterruptionPoint
		}
		return &details, nil
	}
	return &domain.InterruptDetails{NodeID: state.InterruptStatus.InterruptionPoint}, nil
}

// SubmitFeedback records reviewer feedback on an interrupted thread and marks
// it pending. The graph is not advanced.
func (c *Controller) SubmitFeedback(ctx context.Context, threadID string, feedback domain.Feedback) error {
	if err := feedback.Validate(); err != nil {
		return err
	}
	if feedback.Timestamp.IsZero() {
		feedback.Timestamp = time.Now().UTC()
	}

	_, err := c.executor.UpdateStateFunc(ctx, threadID, "feedback", func(state *domain.WorkflowState) (*domain.Update, error) {
		if err := checkInterrupted(threadID, state); err != nil {
			return nil, err
		}
		if feedback.ContentReference == "" && state.InterruptMetadata != nil {
			feedback.ContentReference = state.InterruptMetadata.ContentReference
		}
		if feedback.ContentReference == "" {
			return nil, domain.NewValidationError("contentReference", "content reference is required")
		}
		if _, err := c.routes.Resolve(feedback.ContentReference); err != nil {
			return nil, err
		}

		status := state.InterruptStatus
		status.Feedback = &feedback
		status.ProcessingStatus = domain.ProcessingStatusPending
		return &domain.Update{
			InterruptStatus: &status,
			UserFeedback:    &feedback,
		}, nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("Feedback recorded",
		zap.String("thread_id", threadID),
		zap.String("type", string(feedback.Type)),
		zap.String("content_reference", feedback.ContentReference),
	)
	return nil
}

// Resume applies the pending feedback and re-runs the graph: approve
// continues after the interrupt node, revise returns to the content's
// generator, regenerate returns to its upstream generator. Only one of
// concurrent Resume calls applies the feedback; the others find the thread
// no longer interrupted.
func (c *Controller) Resume(ctx context.Context, threadID string) (*domain.WorkflowState, error) {
	var (
		point    string
		feedback domain.Feedback
		failed   error
	)
	state, err := c.executor.Run(ctx, threadID, executor.WithTransition("resume", func(cp *domain.Checkpoint) (*executor.Transition, error) {
		state := cp.ChannelValues
		if err := checkInterrupted(threadID, state); err != nil {
			return nil, err
		}
		pending := state.InterruptStatus.Feedback
		if pending == nil || state.InterruptStatus.ProcessingStatus != domain.ProcessingStatusPending {
			return nil, fmt.Errorf("%w: %s", domain.ErrFeedbackMissing, threadID)
		}
		point, feedback = state.InterruptStatus.InterruptionPoint, *pending

		update, start, err := c.transition(state, feedback)
		if err != nil {
			failed = err
			return nil, err
		}
		return &executor.Transition{
			Update: update,
			Start:  start,
			Committed: func(*domain.WorkflowState) {
				c.logger.Info("Resuming thread",
					zap.String("thread_id", threadID),
					zap.String("feedback", string(feedback.Type)),
					zap.Strings("start", start),
				)
				c.publish(ctx, threadID, point, map[string]any{
					"feedback": string(feedback.Type),
					"start":    start,
				})
			},
		}, nil
	}))
	if failed != nil {
		c.recordFailure(ctx, threadID, point, feedback)
	}
	return state, err
}

// recordFailure flags feedback that could not be applied, unless the thread
// moved on in the meantime.
func (c *Controller) recordFailure(ctx context.Context, threadID, point string, feedback domain.Feedback) {
	_, err := c.executor.UpdateStateFunc(ctx, threadID, point, func(state *domain.WorkflowState) (*domain.Update, error) {
		current := state.InterruptStatus
		if !current.IsInterrupted || current.Feedback == nil || !current.Feedback.Timestamp.Equal(feedback.Timestamp) {
			return nil, nil
		}
		current.ProcessingStatus = domain.ProcessingStatusFailed
		return &domain.Update{InterruptStatus: &current}, nil
	})
	if err != nil {
		c.logger.Warn("Failed to record feedback failure", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// ResolveStale settles a stale section: keep restores its previous status,
// regenerate queues the section and re-runs its generator.
func (c *Controller) ResolveStale(ctx context.Context, threadID, sectionID string, action domain.StaleAction) (*domain.WorkflowState, error) {
	if action != domain.StaleKeep && action != domain.StaleRegenerate {
		return nil, domain.NewValidationError("action", fmt.Sprintf("unsupported stale action %q", action))
	}
	route, err := c.routes.Resolve(SectionRef(sectionID))
	if err != nil {
		return nil, err
	}

	return c.executor.Run(ctx, threadID, executor.WithTransition("resolveStale", func(cp *domain.Checkpoint) (*executor.Transition, error) {
		state := cp.ChannelValues
		section, ok := state.Sections[sectionID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrSectionNotFound, sectionID)
		}
		if section.Status != domain.ContentStatusStale {
			return nil, domain.NewValidationError("status", fmt.Sprintf("section %s is %s, not stale", sectionID, section.Status))
		}

		if action == domain.StaleKeep {
			if section.PreviousStatus == "" {
				return nil, domain.NewValidationError("previousStatus", fmt.Sprintf("section %s has no previous status", sectionID))
			}
			section.Status, section.PreviousStatus = section.PreviousStatus, domain.ContentStatusStale
			t := &executor.Transition{Update: &domain.Update{Sections: map[string]domain.Section{sectionID: section}}}
			// the last stale section was settled, let the pipeline finish
			if !state.InterruptStatus.IsInterrupted && !staleRemaining(state, sectionID) {
				t.Start = []string{route.Generator}
			}
			return t, nil
		}

		if state.InterruptStatus.IsInterrupted {
			return nil, domain.NewValidationError("interruptStatus", "thread is awaiting review")
		}
		section.PreviousStatus, section.Status = domain.ContentStatusStale, domain.ContentStatusQueued
		return &executor.Transition{
			Update: &domain.Update{Sections: map[string]domain.Section{sectionID: section}},
			Start:  []string{route.Generator},
		}, nil
	}))
}

func staleRemaining(state *domain.WorkflowState, except string) bool {
	for id, sec := range state.Sections {
		if id != except && sec.Status == domain.ContentStatusStale {
			return true
		}
	}
	return false
}

// transition computes the state update and start nodes selected by feedback.
func (c *Controller) transition(state *domain.WorkflowState, feedback domain.Feedback) (*domain.Update, []string, error) {
	route, err := c.routes.Resolve(feedback.ContentReference)
	if err != nil {
		return nil, nil, err
	}
	key, sectionID := ParseRef(feedback.ContentReference)
	content := key
	if sectionID != "" {
		content = sectionID
	}

	update := &domain.Update{
		InterruptStatus: &domain.InterruptStatus{
			IsInterrupted:    false,
			ProcessingStatus: domain.ProcessingStatusProcessed,
		},
		ClearInterruptMetadata: true,
		Status:                 domain.WorkflowStatusRunning,
	}

	var start []string
	switch feedback.Type {
	case domain.FeedbackApprove:
		if err := mark(state, update, key, sectionID, domain.ContentStatusApproved, ""); err != nil {
			return nil, nil, err
		}
		after, err := state.Clone()
		if err != nil {
			return nil, nil, err
		}
		domain.Apply(after, update)
		targets, err := c.executor.Graph().Route(state.InterruptStatus.InterruptionPoint, after)
		if err != nil {
			return nil, nil, err
		}
		for _, t := range targets {
			if t != graph.End {
				start = append(start, t)
			}
		}

	case domain.FeedbackRevise:
		if err := mark(state, update, key, sectionID, domain.ContentStatusEdited, feedback.Comments); err != nil {
			return nil, nil, err
		}
		c.markStale(state, update, content)
		start = []string{route.Generator}

	case domain.FeedbackRegenerate:
		if err := mark(state, update, key, sectionID, domain.ContentStatusStale, feedback.Comments); err != nil {
			return nil, nil, err
		}
		c.markStale(state, update, content)
		if sectionID != "" {
			// a stale section is left alone by its generator; queue it so
			// it is drafted again from scratch
			section := update.Sections[sectionID]
			section.Status, section.PreviousStatus = domain.ContentStatusQueued, domain.ContentStatusStale
			update.Sections[sectionID] = section
		}
		start = []string{route.Generator}
		if route.Upstream != "" {
			start = []string{route.Upstream}
		}
	}
	return update, start, nil
}

// markStale flags every piece of content transitively derived from content.
func (c *Controller) markStale(state *domain.WorkflowState, update *domain.Update, content string) {
	for _, dep := range c.deps.Downstream(content) {
		if _, ok := state.Sections[dep]; ok {
			_ = mark(state, update, SectionRoute, dep, domain.ContentStatusStale, "")
			continue
		}
		_ = mark(state, update, dep, "", domain.ContentStatusStale, "")
	}
}

// mark sets the status of a piece of content in update, remembering its
// previous status and appending reviewer guidance.
func mark(state *domain.WorkflowState, update *domain.Update, key, sectionID string, status domain.ContentStatus, guidance string) error {
	if sectionID != "" {
		section, ok := state.Sections[sectionID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrSectionNotFound, sectionID)
		}
		if pending, ok := update.Sections[sectionID]; ok {
			section = pending
		}
		if section.Status != status {
			section.PreviousStatus = section.Status
		}
		section.Status = status
		section.Feedback = appendGuidance(section.Feedback, guidance)
		if update.Sections == nil {
			update.Sections = make(map[string]domain.Section)
		}
		update.Sections[sectionID] = section
		return nil
	}

	var target **domain.Result
	var current domain.Result
	switch key {
	case domain.ChannelResearch:
		target, current = &update.Research, state.Research
	case domain.ChannelSolution:
		target, current = &update.Solution, state.Solution
	case domain.ChannelConnections:
		target, current = &update.Connections, state.Connections
	default:
		return domain.NewValidationError("contentReference", fmt.Sprintf("unknown content %q", key))
	}
	if *target != nil {
		current = **target
	}
	current.Status = status
	current.Feedback = appendGuidance(current.Feedback, guidance)
	*target = &current
	return nil
}

func appendGuidance(existing, guidance string) string {
	guidance = strings.TrimSpace(guidance)
	switch {
	case guidance == "":
		return existing
	case existing == "":
		return guidance
	default:
		return existing + "\n" + guidance
	}
}

func (c *Controller) interrupted(ctx context.Context, threadID string) (*domain.WorkflowState, error) {
	cp, err := c.executor.Checkpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := checkInterrupted(threadID, cp.ChannelValues); err != nil {
		return nil, err
	}
	return cp.ChannelValues, nil
}

func checkInterrupted(threadID string, state *domain.WorkflowState) error {
	if !state.InterruptStatus.IsInterrupted {
		return fmt.Errorf("%w: %s", domain.ErrThreadNotInterrupted, threadID)
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, threadID, nodeID string, data map[string]any) {
	if c.events == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventThreadResumed,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := c.events.Publish(context.WithoutCancel(ctx), domain.TopicThreadEvents, event); err != nil {
		c.logger.Warn("Failed to publish event", zap.String("thread_id", threadID), zap.Error(err))
	}
}
