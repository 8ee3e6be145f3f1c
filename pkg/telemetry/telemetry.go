package telemetry

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventSessionStarted  EventType = "session.started"
	EventSessionComplete EventType = "session.complete"
	EventSessionFailed   EventType = "session.failed"
	EventSessionPaused   EventType = "session.paused"
	EventSessionResumed  EventType = "session.resumed"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"

	EventRetryAttempt     EventType = "retry.attempt"
	EventValidationFailed EventType = "validation.failed"

	EventAnalysisStarted   EventType = "analysis.started"
	EventAnalysisCompleted EventType = "analysis.completed"
	EventReportStage       EventType = "report.stage"

	EventTaskSynced EventType = "task.synced"

	EventArtifactStored EventType = "artifact.stored"
)

// Event describes pipeline telemetry that observers and the CLI consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Node      string         `json:"node,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fans telemetry events out to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan Event),
		bufferSize:  64,
	}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if a
// subscriber's buffer is full so slow consumers cannot stall the pipeline.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel that receives future events plus the
// subscriber id for Unsubscribe.
func (h *Hub) Subscribe() (<-chan Event, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.bufferSize)
	id := ulid.Make().String()
	if h.closed {
		close(ch)
		return ch, id
	}
	h.subscribers[id] = ch
	return ch, id
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
