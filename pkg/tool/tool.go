// Package tool manages the callable tools analysis units use to query data
// and render visuals, and records each invocation for the session trace.
package tool

import (
	"context"
)

// Tool is a named capability an analysis unit can invoke.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool invocation. Content is the text handed
// back to the model; Data carries structured values for downstream units.
type Result struct {
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// Func adapts a function to the Tool interface.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, params map[string]any) (*Result, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	return f.Fn(ctx, params)
}
