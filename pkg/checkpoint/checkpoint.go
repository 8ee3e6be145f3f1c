// Package checkpoint persists paused pipeline sessions so they can be
// resumed later, possibly by a different process.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

const (
	envDeckhandCheckpointsDir = "DECKHAND_CHECKPOINTS_DIR"
	envDeckhandDataDir        = "DECKHAND_DATA_DIR"
)

// Checkpoint captures everything needed to resume a paused session: the
// full state record and the node waiting to execute.
type Checkpoint struct {
	SessionID   string            `json:"session_id"`
	CreatedAt   time.Time         `json:"created_at"`
	PendingNode string            `json:"pending_node"`
	Prompt      string            `json:"prompt,omitempty"`
	State       *state.State      `json:"state"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// Recovery marks a checkpoint written after a transient failure rather
	// than a planned interrupt: the pending node already ran and raised, so
	// resuming may either retry it or skip past it.
	Recovery bool `json:"recovery,omitempty"`
}

// Store keeps one checkpoint file per session under baseDir. Saving again
// for the same session overwrites the previous pause point.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	if strings.TrimSpace(baseDir) == "" {
		if dir := strings.TrimSpace(os.Getenv(envDeckhandCheckpointsDir)); dir != "" {
			baseDir = expandHomePath(dir)
		} else if dir := strings.TrimSpace(os.Getenv(envDeckhandDataDir)); dir != "" {
			baseDir = filepath.Join(expandHomePath(dir), "checkpoints")
		} else if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			baseDir = filepath.Join(home, ".deckhand", "checkpoints")
		}
	}
	return &Store{baseDir: baseDir}
}

func expandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID+".json")
}

// Save writes the checkpoint for its session, replacing any earlier one.
func (s *Store) Save(cp *Checkpoint) error {
	if cp == nil || cp.State == nil {
		return errors.New(errors.ErrCodeInvalidInput, "checkpoint requires state")
	}
	if cp.SessionID == "" {
		cp.SessionID = cp.State.SessionID
	}
	if cp.SessionID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "checkpoint requires a session id")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeCheckpointWrite, "create checkpoint directory")
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCheckpointWrite, "marshal checkpoint")
	}

	tmp := s.path(cp.SessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeCheckpointWrite, "write checkpoint")
	}
	if err := os.Rename(tmp, s.path(cp.SessionID)); err != nil {
		return errors.Wrap(err, errors.ErrCodeCheckpointWrite, "finalize checkpoint")
	}
	return nil
}

// Load reads the checkpoint for a session.
func (s *Store) Load(sessionID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeCheckpointMissing,
				fmt.Sprintf("no checkpoint for session %s", sessionID))
		}
		return nil, errors.Wrap(err, errors.ErrCodeCheckpointRead, "read checkpoint")
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCheckpointRead, "parse checkpoint")
	}
	if cp.State == nil {
		return nil, errors.New(errors.ErrCodeCheckpointRead, "checkpoint has no state")
	}
	return &cp, nil
}

// Pending reports whether a session has a suspended node waiting for input
// and which node it is.
func (s *Store) Pending(sessionID string) (string, bool) {
	cp, err := s.Load(sessionID)
	if err != nil {
		return "", false
	}
	return cp.PendingNode, cp.PendingNode != ""
}

// List returns all checkpoints sorted newest first.
func (s *Store) List() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return []*Checkpoint{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCheckpointRead, "read checkpoint directory")
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		cp, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		checkpoints = append(checkpoints, cp)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

// Delete removes a session's checkpoint. Missing files are not an error.
func (s *Store) Delete(sessionID string) error {
	if err := os.Remove(s.path(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeCheckpointWrite, "delete checkpoint")
	}
	return nil
}

// Prune removes checkpoints beyond the keepCount newest, returning how
// many were deleted.
func (s *Store) Prune(keepCount int) (int, error) {
	all, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(all) <= keepCount {
		return 0, nil
	}

	deleted := 0
	for i := keepCount; i < len(all); i++ {
		if err := s.Delete(all[i].SessionID); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

// FormatCompact returns a one-line summary for checkpoint listings.
func (cp *Checkpoint) FormatCompact() string {
	age := formatAge(time.Since(cp.CreatedAt))
	objective := cp.State.Objective
	if len(objective) > 48 {
		objective = objective[:45] + "..."
	}
	return fmt.Sprintf("[%s] %q paused at %s (%s ago)",
		cp.SessionID, objective, cp.PendingNode, age)
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
