package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

const summaryLimit = 200

// Registry manages the tools available to pipeline units.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering two tools with the same name is an error.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return errors.New(errors.ErrCodeInvalidInput, "tool requires a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("tool %q already registered", t.Name()))
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool and returns its result along with a trace record of
// the call. The record is returned even when the tool fails, so failed
// invocations stay visible in the session trace.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (*Result, state.ToolCall, error) {
	call := state.ToolCall{
		Name:        name,
		ArgsSummary: summarizeParams(params),
	}

	t, ok := r.Get(name)
	if !ok {
		err := errors.New(errors.ErrCodeToolNotFound, fmt.Sprintf("tool %q not registered", name))
		call.Error = err.Error()
		return nil, call, err
	}

	start := time.Now()
	result, err := t.Execute(ctx, params)
	call.Latency = time.Since(start)

	if err != nil {
		wrapped := errors.Wrap(err, errors.ErrCodeToolExecution, fmt.Sprintf("tool %q failed", name))
		call.Error = err.Error()
		return nil, call, wrapped
	}
	if result != nil {
		call.ResultSummary = truncate(result.Content, summaryLimit)
		if result.IsError {
			call.Error = truncate(result.Content, summaryLimit)
		}
	}
	return result, call, nil
}

func summarizeParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%d params", len(params))
	}
	return truncate(string(data), summaryLimit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
