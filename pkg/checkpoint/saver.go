package checkpoint

import (
	"github.com/parchment-ai/deckhand/pkg/state"
)

// SessionSaver adapts Store to the pipeline runner's save hook.
type SessionSaver struct {
	store *Store
}

func NewSessionSaver(store *Store) *SessionSaver {
	return &SessionSaver{store: store}
}

// Save records the paused state and the node waiting to run.
func (s *SessionSaver) Save(st *state.State, pendingNode string) error {
	return s.store.Save(&Checkpoint{
		SessionID:   st.SessionID,
		PendingNode: pendingNode,
		Prompt:      st.PendingPrompt,
		State:       st,
	})
}
