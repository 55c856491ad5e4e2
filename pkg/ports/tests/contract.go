package tests

import (
	"context"
	"testing"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CheckpointStoreContractTest verifies that an adapter complies with
// ports.CheckpointStore.
func CheckpointStoreContractTest(t *testing.T, store ports.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	put := func(t *testing.T, threadID string, parent *domain.Checkpoint, u *domain.Update, meta domain.CheckpointMetadata) *domain.Checkpoint {
		t.Helper()
		state := domain.NewWorkflowState()
		if parent != nil {
			var err error
			state, err = parent.ChannelValues.Clone()
			require.NoError(t, err)
		}
		written := domain.Apply(state, u)
		cp := domain.NextCheckpoint(threadID, parent, state, u, written, meta)
		require.NoError(t, store.Put(ctx, threadID, cp, cp.Metadata))
		return cp
	}

	t.Run("Get_NotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "contract::missing::proposal")
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Put_Get_List", func(t *testing.T) {
		threadID := "contract::order::proposal"
		first := put(t, threadID, nil, &domain.Update{RFPDocument: &domain.Document{ID: "42", Status: domain.LoadStatusLoaded}}, domain.CheckpointMetadata{Source: domain.SourceInput})
		second := put(t, threadID, first, &domain.Update{Errors: []string{"e1"}, Completed: []string{"load"}}, domain.CheckpointMetadata{Source: domain.SourceLoop, Step: 1, Node: "load"})
		third := put(t, threadID, second, &domain.Update{Research: &domain.Result{Status: domain.ContentStatusComplete}}, domain.CheckpointMetadata{Source: domain.SourceLoop, Step: 2, Node: "research"})

		latest, err := store.Get(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, third.Sequence, latest.Sequence)
		assert.Equal(t, domain.SourceLoop, latest.Metadata.Source)
		assert.Equal(t, 2, latest.Metadata.Step)
		assert.Equal(t, second.Sequence, latest.Metadata.ParentSequence)
		assert.Equal(t, domain.LoadStatusLoaded, latest.ChannelValues.RFPDocument.Status)
		assert.Equal(t, []string{"e1"}, latest.ChannelValues.Errors)

		history, err := store.List(ctx, threadID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []int64{3, 2, 1}, []int64{history[0].Sequence, history[1].Sequence, history[2].Sequence})
	})

	t.Run("Put_IsIdempotent", func(t *testing.T) {
		threadID := "contract::idempotent::proposal"
		cp := put(t, threadID, nil, &domain.Update{Errors: []string{"once"}}, domain.CheckpointMetadata{Source: domain.SourceInput})
		require.NoError(t, store.Put(ctx, threadID, cp, cp.Metadata))

		history, err := store.List(ctx, threadID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("Threads_AreIsolated", func(t *testing.T) {
		a := "contract::a::proposal"
		b := "contract::b::proposal"
		put(t, a, nil, &domain.Update{Errors: []string{"from a"}}, domain.CheckpointMetadata{Source: domain.SourceInput})
		put(t, b, nil, &domain.Update{Errors: []string{"from b"}}, domain.CheckpointMetadata{Source: domain.SourceInput})

		gotA, err := store.Get(ctx, a)
		require.NoError(t, err)
		gotB, err := store.Get(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, []string{"from a"}, gotA.ChannelValues.Errors)
		assert.Equal(t, []string{"from b"}, gotB.ChannelValues.Errors)
	})

	t.Run("Put_RejectsMalformed", func(t *testing.T) {
		err := store.Put(ctx, "contract::bad::proposal", &domain.Checkpoint{Sequence: 0}, domain.CheckpointMetadata{})
		assert.ErrorIs(t, err, domain.ErrMalformedCheckpoint)
	})
}
