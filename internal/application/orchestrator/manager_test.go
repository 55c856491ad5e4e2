package orchestrator_test

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/grantflow/internal/application/executor"
	"github.com/aescanero/grantflow/internal/application/interrupt"
	"github.com/aescanero/grantflow/internal/application/orchestrator"
	"github.com/aescanero/grantflow/internal/proposal"
	"github.com/aescanero/grantflow/internal/proposal/proposaltest"
	"github.com/aescanero/grantflow/pkg/adapters/documents/memory"
	events "github.com/aescanero/grantflow/pkg/adapters/events/memory"
	storage "github.com/aescanero/grantflow/pkg/adapters/storage/memory"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/aescanero/grantflow/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const threadID = "user-1::rfp-42::proposal"

func newManager(t *testing.T) (*orchestrator.Manager, *events.EventBus) {
	t.Helper()
	return newManagerWith(t, storage.NewCheckpointStore())
}

func newManagerWith(t *testing.T, store ports.CheckpointStore) (*orchestrator.Manager, *events.EventBus) {
	t.Helper()
	docs := memory.NewSource()
	docs.Put("rfp-42", "The county funds rural health access programs.", nil)

	wf, err := proposal.NewWorkflow(proposal.Services{
		Generator: proposaltest.NewGenerator(),
		Documents: docs,
		Retry:     retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	bus := events.NewEventBus(zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	exec := executor.New(wf.Graph, store, zap.NewNop(), executor.WithEventBus(bus))
	ctrl, err := interrupt.NewController(exec, wf.Routes, wf.Dependencies, bus, zap.NewNop())
	require.NoError(t, err)

	m := orchestrator.NewManager(exec, ctrl, bus, orchestrator.NewValidator(), zap.NewNop(), orchestrator.Config{
		MessageEntry: wf.MessageEntry,
	})
	return m, bus
}

type slowStore struct {
	*storage.CheckpointStore
}

func (s slowStore) Get(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	time.Sleep(20 * time.Millisecond)
	return s.CheckpointStore.Get(ctx, threadID)
}

func TestManager_ConcurrentStartSeedsOnce(t *testing.T) {
	m, _ := newManagerWith(t, slowStore{storage.NewCheckpointStore()})
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Start(ctx, threadID, &domain.Update{RFPDocument: &domain.Document{ID: "rfp-42"}})
		}()
	}
	wg.Wait()

	var started int
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrThreadExists)
	}
	assert.Equal(t, 1, started)

	history, err := m.History(ctx, threadID)
	require.NoError(t, err)
	var inputs int
	for _, cp := range history {
		if cp.Metadata.Source == domain.SourceInput {
			inputs++
		}
	}
	assert.Equal(t, 1, inputs)

	state, err := m.GetState(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Completed[proposal.NodeLoadDocument])
}

func TestManager_ProposalReviewScenario(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	info, err := m.InitOrGetThread(ctx, "user-1", "rfp-42")
	require.NoError(t, err)
	assert.True(t, info.IsNew)
	assert.Equal(t, threadID, info.ThreadID)

	state, err := m.Start(ctx, info.ThreadID, &domain.Update{RFPDocument: &domain.Document{ID: "rfp-42"}})
	require.NoError(t, err)
	assert.Equal(t, domain.LoadStatusLoaded, state.RFPDocument.Status)
	assert.True(t, state.InterruptStatus.IsInterrupted)
	assert.Equal(t, proposal.NodeHumanReview, state.InterruptStatus.InterruptionPoint)

	_, err = m.Start(ctx, threadID, nil)
	assert.ErrorIs(t, err, domain.ErrThreadExists)

	info, err = m.InitOrGetThread(ctx, "user-1", "rfp-42")
	require.NoError(t, err)
	assert.False(t, info.IsNew)
	assert.True(t, info.State.InterruptStatus.IsInterrupted)

	interrupted, err := m.DetectInterrupt(ctx, threadID)
	require.NoError(t, err)
	assert.True(t, interrupted)

	details, err := m.InterruptDetails(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, proposal.NodeHumanReview, details.NodeID)
	assert.Equal(t, domain.ChannelResearch, details.ContentReference)

	_, err = m.Resume(ctx, threadID)
	assert.ErrorIs(t, err, domain.ErrFeedbackMissing)

	require.NoError(t, m.SubmitFeedback(ctx, threadID, domain.Feedback{Type: domain.FeedbackApprove}))
	state, err = m.GetState(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingStatusPending, state.InterruptStatus.ProcessingStatus)
	assert.Equal(t, proposal.NodeHumanReview, state.InterruptStatus.InterruptionPoint, "feedback alone does not advance")

	state, err = m.Resume(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentStatusApproved, state.Research.Status)
	assert.Equal(t, 1, state.Completed[proposal.NodePlanSections])
	assert.Equal(t, proposal.NodeSectionReview, state.InterruptStatus.InterruptionPoint)

	history, err := m.History(ctx, threadID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i-1].Sequence, history[i].Sequence)
	}
	want, err := json.Marshal(state)
	require.NoError(t, err)
	ascending := slices.Clone(history)
	slices.Reverse(ascending)
	got, err := json.Marshal(domain.Replay(ascending))
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestManager_SubmitMessage(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.SubmitMessage(ctx, threadID, domain.Message{Content: "hello"})
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)

	_, err = m.Start(ctx, threadID, &domain.Update{RFPDocument: &domain.Document{ID: "rfp-42"}})
	require.NoError(t, err)

	state, err := m.SubmitMessage(ctx, threadID, domain.Message{Content: "Please emphasise rural outreach"})
	require.NoError(t, err)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "user", state.Messages[0].Role)
	assert.True(t, state.InterruptStatus.IsInterrupted, "messages do not resume a paused thread")

	_, err = m.SubmitMessage(ctx, threadID, domain.Message{Role: "robot", Content: "x"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestManager_ExecuteCommands(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	state, err := m.Execute(ctx, domain.Command{
		ID:       "cmd-1",
		Type:     domain.CommandStart,
		ThreadID: threadID,
		Input:    &domain.Update{RFPDocument: &domain.Document{ID: "rfp-42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, proposal.NodeHumanReview, state.InterruptStatus.InterruptionPoint)

	state, err = m.Execute(ctx, domain.Command{
		ID:       "cmd-2",
		Type:     domain.CommandResume,
		ThreadID: threadID,
		Input:    &domain.Update{UserFeedback: &domain.Feedback{Type: domain.FeedbackApprove}},
	})
	require.NoError(t, err)
	assert.Equal(t, proposal.NodeSectionReview, state.InterruptStatus.InterruptionPoint)

	_, err = m.Execute(ctx, domain.Command{ID: "cmd-3", Type: "explode", ThreadID: threadID})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.ErrorIs(t, m.Cancel(ctx, threadID), orchestrator.ErrNoExecution)
	assert.NoError(t, m.Shutdown(ctx))
}

func TestManager_DispatchPublishesCommand(t *testing.T) {
	m, bus := newManager(t)
	ctx := context.Background()

	received := make(chan domain.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, domain.TopicThreadCommands, func(_ context.Context, e domain.Event) error {
		received <- e
		return nil
	}))

	id, err := m.Dispatch(ctx, domain.Command{
		Type:     domain.CommandMessage,
		ThreadID: threadID,
		Message:  &domain.Message{Content: "status?"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case e := <-received:
		cmd, err := orchestrator.DecodeCommand(e)
		require.NoError(t, err)
		assert.Equal(t, id, cmd.ID)
		assert.Equal(t, domain.CommandMessage, cmd.Type)
		assert.Equal(t, "status?", cmd.Message.Content)
		assert.False(t, cmd.Issued.IsZero())
	case <-time.After(time.Second):
		t.Fatal("command not published")
	}

	_, err = m.Dispatch(ctx, domain.Command{Type: domain.CommandMessage, ThreadID: "not-a-thread"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestManager_InitOrGetThreadValidatesKeys(t *testing.T) {
	m, _ := newManager(t)
	for _, keys := range [][2]string{{"", "rfp"}, {"user", " "}, {"a::b", "rfp"}} {
		_, err := m.InitOrGetThread(context.Background(), keys[0], keys[1])
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, keys)
	}
}
