// Package model defines the language-model client contract used by pipeline
// units, plus a resilient wrapper that classifies transient failures and
// recovers from them.
package model

import (
	"context"

	"github.com/parchment-ai/deckhand/pkg/state"
)

// Request is one completion call. Messages is the conversation history in
// order; System is prepended instruction text and is never trimmed.
type Request struct {
	System    string
	Messages  []state.Message
	MaxTokens int
}

// Response is a completed model call.
type Response struct {
	Content    string
	TokensUsed int
}

// Client produces completions. Implementations must be safe for concurrent
// use; parallel analysis units share one client.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ClientFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
