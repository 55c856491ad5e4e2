package interrupt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/grantflow/internal/application/executor"
	"github.com/aescanero/grantflow/internal/application/graph"
	"github.com/aescanero/grantflow/internal/application/interrupt"
	"github.com/aescanero/grantflow/pkg/adapters/storage/memory"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const threadID = "user-1::rfp-42::proposal"

var sectionIDs = []string{"need", "approach", "budget", "team"}

// research -> writer -> review -> publish
func reviewGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder().
		AddNode("research", func(context.Context, *domain.WorkflowState) (graph.Result, error) {
			return graph.Continue(&domain.Update{Research: &domain.Result{Status: domain.ContentStatusComplete}}), nil
		}).
		AddNode("writer", func(_ context.Context, s *domain.WorkflowState) (graph.Result, error) {
			sections := make(map[string]domain.Section)
			for _, id := range sectionIDs {
				sec, ok := s.Sections[id]
				if !ok {
					sec = domain.Section{ID: id, Title: id, Status: domain.ContentStatusQueued}
				}
				switch sec.Status {
				case domain.ContentStatusQueued, domain.ContentStatusEdited:
					sec.PreviousStatus = sec.Status
					sec.Status = domain.ContentStatusComplete
					sec.Content = "draft of " + id
					if sec.Feedback != "" {
						sec.Content += " revised"
					}
					sections[id] = sec
				}
			}
			return graph.Continue(&domain.Update{Sections: sections}), nil
		}).
		AddNode("review", func(context.Context, *domain.WorkflowState) (graph.Result, error) {
			return graph.Continue(&domain.Update{
				InterruptStatus: &domain.InterruptStatus{IsInterrupted: true},
				InterruptMetadata: &domain.InterruptMetadata{
					NodeID:           "review",
					Reason:           "review the statement of need",
					ContentReference: interrupt.SectionRef("need"),
				},
			}), nil
		}).
		AddNode("publish", func(context.Context, *domain.WorkflowState) (graph.Result, error) {
			return graph.Continue(&domain.Update{Extra: map[string]any{"published": true}}), nil
		}).
		AddEdge("research", "writer").
		AddEdge("writer", "review").
		AddEdge("review", "publish").
		SetEntry("research").
		Build()
	require.NoError(t, err)
	return g
}

// slowStore widens the window between loading a checkpoint and writing the
// next one.
type slowStore struct {
	*memory.CheckpointStore
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	time.Sleep(s.delay)
	return s.CheckpointStore.Get(ctx, threadID)
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, ports.EventHandler) error { return nil }
func (b *recordingBus) Unsubscribe(context.Context, string) error                  { return nil }
func (b *recordingBus) Close() error                                               { return nil }

func (b *recordingBus) count(eventType domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func newController(t *testing.T) (*interrupt.Controller, *executor.Executor) {
	t.Helper()
	return newControllerWith(t, memory.NewCheckpointStore(), nil)
}

func newControllerWith(t *testing.T, store ports.CheckpointStore, bus ports.EventBus) (*interrupt.Controller, *executor.Executor) {
	t.Helper()
	var opts []executor.Option
	if bus != nil {
		opts = append(opts, executor.WithEventBus(bus))
	}
	exec := executor.New(reviewGraph(t), store, zap.NewNop(), opts...)
	deps := graph.FromDependsOn(map[string][]string{
		"approach": {"need"},
		"budget":   {"approach"},
		"team":     nil,
	})
	ctrl, err := interrupt.NewController(exec, interrupt.Routes{
		interrupt.SectionRoute:  {Generator: "writer", Upstream: "research"},
		domain.ChannelResearch: {Generator: "research"},
	}, deps, bus, zap.NewNop())
	require.NoError(t, err)
	return ctrl, exec
}

func startInterrupted(t *testing.T, exec *executor.Executor) *domain.WorkflowState {
	t.Helper()
	state, err := exec.Run(context.Background(), threadID, executor.WithInput(&domain.Update{Extra: map[string]any{"rfpId": "42"}}))
	require.NoError(t, err)
	require.True(t, state.InterruptStatus.IsInterrupted)
	return state
}

func TestNewController_RejectsUnknownNodes(t *testing.T) {
	exec := executor.New(reviewGraph(t), memory.NewCheckpointStore(), zap.NewNop())
	_, err := interrupt.NewController(exec, interrupt.Routes{"research": {Generator: "ghost"}}, nil, nil, zap.NewNop())
	assert.ErrorIs(t, err, graph.ErrInvalidGraph)
}

func TestDetectAndDetails(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()

	_, err := ctrl.Detect(ctx, threadID)
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)

	startInterrupted(t, exec)

	interrupted, err := ctrl.Detect(ctx, threadID)
	require.NoError(t, err)
	assert.True(t, interrupted)

	details, err := ctrl.Details(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, "review", details.NodeID)
	assert.Equal(t, "section:need", details.ContentReference)
}

func TestResume_NotInterrupted(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	startInterrupted(t, exec)

	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove}))
	_, err := ctrl.Resume(ctx, threadID)
	require.NoError(t, err)

	_, err = ctrl.Resume(ctx, threadID)
	assert.ErrorIs(t, err, domain.ErrThreadNotInterrupted)

	err = ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove})
	assert.ErrorIs(t, err, domain.ErrThreadNotInterrupted)

	_, err = ctrl.Details(ctx, threadID)
	assert.ErrorIs(t, err, domain.ErrThreadNotInterrupted)
}

func TestSubmitFeedback_DoesNotAdvance(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	before := startInterrupted(t, exec)

	err := ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackRevise, Comments: "tighten it"})
	require.NoError(t, err)

	cp, err := exec.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	state := cp.ChannelValues
	assert.Equal(t, domain.SourceUpdate, cp.Metadata.Source)
	assert.True(t, state.InterruptStatus.IsInterrupted)
	assert.Equal(t, domain.ProcessingStatusPending, state.InterruptStatus.ProcessingStatus)
	require.NotNil(t, state.InterruptStatus.Feedback)
	assert.Equal(t, "section:need", state.InterruptStatus.Feedback.ContentReference)
	assert.False(t, state.InterruptStatus.Feedback.Timestamp.IsZero())
	assert.Equal(t, before.Completed, state.Completed)
	assert.Nil(t, state.Extra["published"])
}

func TestSubmitFeedback_Validation(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	startInterrupted(t, exec)

	var verr *domain.ValidationError
	err := ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: "shrug"})
	assert.ErrorAs(t, err, &verr)

	err = ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove, ContentReference: "unknown"})
	assert.ErrorAs(t, err, &verr)
}

func TestResume_WithoutFeedback(t *testing.T) {
	ctrl, exec := newController(t)
	startInterrupted(t, exec)

	_, err := ctrl.Resume(context.Background(), threadID)
	assert.ErrorIs(t, err, domain.ErrFeedbackMissing)
}

func TestResume_Approve(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	startInterrupted(t, exec)

	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove}))
	state, err := ctrl.Resume(ctx, threadID)
	require.NoError(t, err)

	assert.False(t, state.InterruptStatus.IsInterrupted)
	assert.Equal(t, domain.ProcessingStatusProcessed, state.InterruptStatus.ProcessingStatus)
	assert.Nil(t, state.InterruptMetadata)
	assert.Equal(t, domain.ContentStatusApproved, state.Sections["need"].Status)
	assert.Equal(t, domain.ContentStatusComplete, state.Sections["need"].PreviousStatus)
	assert.Equal(t, true, state.Extra["published"])
	assert.Equal(t, domain.WorkflowStatusComplete, state.Status)
	assert.Equal(t, 1, state.Completed["writer"])
}

func TestResume_ReviseMarksDependentsStale(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	startInterrupted(t, exec)

	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{
		Type:     domain.FeedbackRevise,
		Comments: "cite the county data",
	}))
	state, err := ctrl.Resume(ctx, threadID)
	require.NoError(t, err)

	// revise loops back through the writer to review again
	assert.True(t, state.InterruptStatus.IsInterrupted)
	assert.Equal(t, 2, state.Completed["writer"])
	assert.Equal(t, "draft of need revised", state.Sections["need"].Content)
	assert.Equal(t, "cite the county data", state.Sections["need"].Feedback)

	history, err := exec.History(ctx, threadID)
	require.NoError(t, err)
	var transition *domain.Checkpoint
	for _, cp := range history {
		if cp.Metadata.Source == domain.SourceUpdate && cp.Writes != nil && cp.Writes.ClearInterruptMetadata {
			transition = cp
			break
		}
	}
	require.NotNil(t, transition)

	sections := transition.ChannelValues.Sections
	assert.Equal(t, domain.ContentStatusEdited, sections["need"].Status)
	assert.Equal(t, domain.ContentStatusStale, sections["approach"].Status)
	assert.Equal(t, domain.ContentStatusComplete, sections["approach"].PreviousStatus)
	assert.Equal(t, domain.ContentStatusStale, sections["budget"].Status)
	assert.Equal(t, domain.ContentStatusComplete, sections["team"].Status, "independent sections are untouched")
}

func TestResume_RegenerateRoutesUpstream(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	startInterrupted(t, exec)

	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackRegenerate, Comments: "start over"}))
	state, err := ctrl.Resume(ctx, threadID)
	require.NoError(t, err)

	assert.Equal(t, 2, state.Completed["research"])
	assert.Equal(t, 2, state.Completed["writer"])
	assert.True(t, state.InterruptStatus.IsInterrupted)

	need := state.Sections["need"]
	assert.Equal(t, domain.ContentStatusComplete, need.Status, "the addressed section is drafted again")
	assert.Equal(t, domain.ContentStatusQueued, need.PreviousStatus)
	assert.Equal(t, "draft of need revised", need.Content)

	assert.Equal(t, domain.ContentStatusStale, state.Sections["approach"].Status)
	assert.Equal(t, domain.ContentStatusStale, state.Sections["budget"].Status)
	assert.Equal(t, "draft of budget", state.Sections["budget"].Content, "dependents wait for a stale decision")
	assert.Equal(t, domain.ContentStatusComplete, state.Sections["team"].Status)

	history, err := exec.History(ctx, threadID)
	require.NoError(t, err)
	for _, cp := range history {
		if cp.Metadata.Source == domain.SourceUpdate && cp.Metadata.Node == "resume" {
			queued := cp.ChannelValues.Sections["need"]
			assert.Equal(t, domain.ContentStatusQueued, queued.Status)
			assert.Equal(t, domain.ContentStatusStale, queued.PreviousStatus)
			return
		}
	}
	t.Fatal("no resume checkpoint recorded")
}

func TestResume_ConcurrentCallsApplyFeedbackOnce(t *testing.T) {
	bus := &recordingBus{}
	ctrl, exec := newControllerWith(t, &slowStore{CheckpointStore: memory.NewCheckpointStore(), delay: 20 * time.Millisecond}, bus)
	ctx := context.Background()
	startInterrupted(t, exec)
	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove}))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ctrl.Resume(ctx, threadID)
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrThreadNotInterrupted)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, bus.count(domain.EventThreadCompleted))
	assert.Equal(t, 1, bus.count(domain.EventThreadResumed))

	state, err := exec.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.ChannelValues.Completed["publish"])
}

func TestSubmitFeedback_RacingResumeNeverReinterrupts(t *testing.T) {
	ctrl, exec := newControllerWith(t, &slowStore{CheckpointStore: memory.NewCheckpointStore(), delay: 20 * time.Millisecond}, nil)
	ctx := context.Background()
	startInterrupted(t, exec)
	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove}))

	var (
		wg          sync.WaitGroup
		resumeErr   error
		feedbackErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, resumeErr = ctrl.Resume(ctx, threadID)
	}()
	go func() {
		defer wg.Done()
		feedbackErr = ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackRevise, Comments: "late"})
	}()
	wg.Wait()

	cp, err := exec.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	state := cp.ChannelValues

	if feedbackErr != nil {
		// resume won: the late feedback finds nothing to review
		require.NoError(t, resumeErr)
		assert.ErrorIs(t, feedbackErr, domain.ErrThreadNotInterrupted)
		assert.False(t, state.InterruptStatus.IsInterrupted)
		assert.Equal(t, domain.WorkflowStatusComplete, state.Status)
		return
	}
	// feedback won: resume applied the revision and the thread is back in review
	require.NoError(t, resumeErr)
	assert.True(t, state.InterruptStatus.IsInterrupted)
	assert.Equal(t, domain.WorkflowStatusInterrupted, state.Status)
	assert.Equal(t, "late", state.Sections["need"].Feedback)
}

func TestResolveStale(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	startInterrupted(t, exec)

	_, err := exec.UpdateState(ctx, threadID, &domain.Update{Sections: map[string]domain.Section{
		"budget": {Status: domain.ContentStatusStale, PreviousStatus: domain.ContentStatusApproved, Content: "numbers"},
		"team":   {Status: domain.ContentStatusStale, PreviousStatus: domain.ContentStatusEdited},
	}}, "test")
	require.NoError(t, err)

	state, err := ctrl.ResolveStale(ctx, threadID, "budget", domain.StaleKeep)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentStatusApproved, state.Sections["budget"].Status)
	assert.Equal(t, "numbers", state.Sections["budget"].Content)

	_, err = ctrl.ResolveStale(ctx, threadID, "budget", domain.StaleKeep)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = ctrl.ResolveStale(ctx, threadID, "ghost", domain.StaleKeep)
	assert.ErrorIs(t, err, domain.ErrSectionNotFound)

	_, err = ctrl.ResolveStale(ctx, threadID, "team", domain.StaleRegenerate)
	assert.ErrorAs(t, err, &verr, "regeneration waits for the review to finish")

	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove}))
	_, err = ctrl.Resume(ctx, threadID)
	require.NoError(t, err)

	state, err = ctrl.ResolveStale(ctx, threadID, "team", domain.StaleRegenerate)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentStatusComplete, state.Sections["team"].Status)
	assert.Equal(t, 2, state.Completed["writer"])
}

func TestResume_UnappliableFeedbackIsMarkedFailed(t *testing.T) {
	ctrl, exec := newController(t)
	ctx := context.Background()
	startInterrupted(t, exec)

	require.NoError(t, ctrl.SubmitFeedback(ctx, threadID, domain.Feedback{
		Type:             domain.FeedbackRevise,
		ContentReference: interrupt.SectionRef("ghost"),
	}))
	_, err := ctrl.Resume(ctx, threadID)
	assert.ErrorIs(t, err, domain.ErrSectionNotFound)

	cp, err := exec.Checkpoint(ctx, threadID)
	require.NoError(t, err)
	status := cp.ChannelValues.InterruptStatus
	assert.True(t, status.IsInterrupted)
	assert.Equal(t, domain.ProcessingStatusFailed, status.ProcessingStatus)
	assert.Equal(t, 1, cp.ChannelValues.Completed["writer"])

	_, err = ctrl.Resume(ctx, threadID)
	assert.ErrorIs(t, err, domain.ErrFeedbackMissing, "failed feedback is not retried")
}
