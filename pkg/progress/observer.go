package progress

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/parchment-ai/deckhand/pkg/state"
	"github.com/parchment-ai/deckhand/pkg/telemetry"
)

// Observer mirrors the session plan to an external tracker. Sync is
// idempotent: syncing an unchanged plan with the same handle is a no-op.
// An empty handle means the plan has never been mirrored; the returned
// handle identifies the remote record for subsequent syncs.
type Observer interface {
	Sync(ctx context.Context, handle string, tasks []state.PlanTask) (string, error)
}

// MemoryObserver is an in-process Observer used in tests and when no
// external tracker is configured.
type MemoryObserver struct {
	mu        sync.Mutex
	snapshots map[string][]state.PlanTask
	syncCount int
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{snapshots: make(map[string][]state.PlanTask)}
}

func (m *MemoryObserver) Sync(ctx context.Context, handle string, tasks []state.PlanTask) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if handle == "" {
		handle = "plan_" + ulid.Make().String()
	}
	m.snapshots[handle] = state.ClonePlan(tasks)
	m.syncCount++
	return handle, nil
}

// Plan returns the last synced plan for a handle.
func (m *MemoryObserver) Plan(handle string) []state.PlanTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return state.ClonePlan(m.snapshots[handle])
}

// SyncCount returns how many syncs have been applied.
func (m *MemoryObserver) SyncCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncCount
}

// HubObserver mirrors plan syncs onto the telemetry hub so subscribers
// (the CLI, a dashboard) see task transitions live. It wraps an inner
// observer for the actual bookkeeping.
type HubObserver struct {
	inner Observer
	hub   *telemetry.Hub
}

func NewHubObserver(inner Observer, hub *telemetry.Hub) *HubObserver {
	if inner == nil {
		inner = NewMemoryObserver()
	}
	return &HubObserver{inner: inner, hub: hub}
}

func (o *HubObserver) Sync(ctx context.Context, handle string, tasks []state.PlanTask) (string, error) {
	handle, err := o.inner.Sync(ctx, handle, tasks)
	if err != nil {
		return handle, err
	}
	if o.hub != nil {
		summary := make(map[string]string, len(tasks))
		for _, t := range tasks {
			summary[t.ID] = string(t.Status)
		}
		o.hub.Publish(telemetry.Event{
			Type: telemetry.EventTaskSynced,
			Data: map[string]any{"handle": handle, "tasks": summary},
		})
	}
	return handle, nil
}
