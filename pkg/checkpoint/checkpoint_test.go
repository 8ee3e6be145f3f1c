package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

func pausedState(sessionID string) *state.State {
	st := state.New(sessionID, "quarterly revenue review")
	st.Apply(&state.Delta{
		Reasoning:     []string{"analysis complete"},
		AwaitingInput: state.Bool(true),
		PendingPrompt: state.Str("approve the analysis?"),
	})
	return st
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	st := pausedState("sess-1")
	require.NoError(t, store.Save(&Checkpoint{
		SessionID:   "sess-1",
		PendingNode: "report",
		Prompt:      st.PendingPrompt,
		State:       st,
	}))

	cp, err := store.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "report", cp.PendingNode)
	assert.Equal(t, "approve the analysis?", cp.Prompt)
	assert.Equal(t, "quarterly revenue review", cp.State.Objective)
	assert.Equal(t, []string{"analysis complete"}, cp.State.Reasoning)
	assert.True(t, cp.State.AwaitingInput)
	assert.False(t, cp.CreatedAt.IsZero())
}

func TestStore_SaveOverwritesPriorPause(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Save(&Checkpoint{PendingNode: "report", State: pausedState("sess-1")}))
	require.NoError(t, store.Save(&Checkpoint{PendingNode: "export", State: pausedState("sess-1")}))

	cp, err := store.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "export", cp.PendingNode)

	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCheckpointMissing))
}

func TestStore_SaveRejectsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())

	assert.Error(t, store.Save(nil))
	assert.Error(t, store.Save(&Checkpoint{PendingNode: "x"}))
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Save(&Checkpoint{PendingNode: "report", State: pausedState("sess-1")}))
	require.NoError(t, store.Delete("sess-1"))
	require.NoError(t, store.Delete("sess-1"))

	_, err := store.Load("sess-1")
	assert.Error(t, err)
}

func TestStore_ListNewestFirstAndPrune(t *testing.T) {
	store := NewStore(t.TempDir())

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.Save(&Checkpoint{
			SessionID:   id,
			PendingNode: "report",
			State:       pausedState(id),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].SessionID)
	assert.Equal(t, "old", all[2].SessionID)

	deleted, err := store.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := store.List()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].SessionID)
}

func TestSessionSaver_RecordsPendingNode(t *testing.T) {
	store := NewStore(t.TempDir())
	saver := NewSessionSaver(store)

	st := pausedState("sess-9")
	require.NoError(t, saver.Save(st, "report"))

	cp, err := store.Load("sess-9")
	require.NoError(t, err)
	assert.Equal(t, "report", cp.PendingNode)
	assert.Equal(t, "approve the analysis?", cp.Prompt)
}
