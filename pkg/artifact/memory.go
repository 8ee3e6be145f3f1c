package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parchment-ai/deckhand/pkg/errors"
)

type memoryEntry struct {
	meta    Meta
	content string
}

// MemoryStore is an in-process Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func memKey(sessionID, key string) string {
	return sessionID + "\x00" + key
}

func (m *MemoryStore) StoreText(ctx context.Context, sessionID, key, content string) (string, error) {
	if sessionID == "" || key == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "artifact session and key are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := Ref(content)
	sum := digest(content)
	if existing, ok := m.entries[memKey(sessionID, key)]; ok {
		if existing.meta.SHA256 == sum {
			return existing.meta.Ref, nil
		}
		return "", errors.New(errors.ErrCodeStoreWrite,
			fmt.Sprintf("artifact %q already stored with different content", key))
	}

	m.entries[memKey(sessionID, key)] = memoryEntry{
		meta: Meta{
			SessionID: sessionID,
			Key:       key,
			Ref:       ref,
			SHA256:    sum,
			Size:      len(content),
			CreatedAt: time.Now().UTC(),
		},
		content: content,
	}
	return ref, nil
}

func (m *MemoryStore) GetText(ctx context.Context, sessionID, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[memKey(sessionID, key)]
	if !ok {
		return "", errors.New(errors.ErrCodeArtifactMissing, fmt.Sprintf("artifact %q not found", key))
	}
	return entry.content, nil
}

func (m *MemoryStore) Meta(ctx context.Context, sessionID, key string) (*Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[memKey(sessionID, key)]
	if !ok {
		return nil, errors.New(errors.ErrCodeArtifactMissing, fmt.Sprintf("artifact %q not found", key))
	}
	meta := entry.meta
	return &meta, nil
}

func (m *MemoryStore) Keys(ctx context.Context, sessionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for _, entry := range m.entries {
		if entry.meta.SessionID == sessionID {
			keys = append(keys, entry.meta.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) PurgeSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, entry := range m.entries {
		if entry.meta.SessionID == sessionID {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
