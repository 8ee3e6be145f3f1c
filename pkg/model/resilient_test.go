package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

type scriptedClient struct {
	calls     int
	responses []func(req *Request) (*Response, error)
}

func (s *scriptedClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx](req)
}

func newTestClient(inner Client, opts ...ResilientOption) *ResilientClient {
	opts = append([]ResilientOption{WithRateLimit(rate.Inf, 1)}, opts...)
	c := NewResilientClient(inner, opts...)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func ok(content string) func(*Request) (*Response, error) {
	return func(*Request) (*Response, error) {
		return &Response{Content: content}, nil
	}
}

func fail(code errors.ErrorCode) func(*Request) (*Response, error) {
	return func(*Request) (*Response, error) {
		return nil, errors.New(code, "provider error")
	}
}

func TestResilientClient_TimeoutRetriesThenSucceeds(t *testing.T) {
	inner := &scriptedClient{responses: []func(*Request) (*Response, error){
		fail(errors.ErrCodeModelTimeout),
		fail(errors.ErrCodeModelTimeout),
		ok("recovered"),
	}}

	resp, err := newTestClient(inner).Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientClient_ExhaustionIsRetryable(t *testing.T) {
	inner := &scriptedClient{responses: []func(*Request) (*Response, error){
		fail(errors.ErrCodeModelTimeout),
	}}

	_, err := newTestClient(inner).Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelAPIError))
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, defaultMaxAttempts, inner.calls)
}

func TestResilientClient_AuthHandlerInvokedOnce(t *testing.T) {
	inner := &scriptedClient{responses: []func(*Request) (*Response, error){
		fail(errors.ErrCodeModelAuth),
		ok("after refresh"),
	}}

	refreshes := 0
	client := newTestClient(inner, WithAuthHandler(func(ctx context.Context) error {
		refreshes++
		return nil
	}))

	resp, err := client.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "after refresh", resp.Content)
	assert.Equal(t, 1, refreshes)
}

func TestResilientClient_SecondAuthFailureIsFatal(t *testing.T) {
	inner := &scriptedClient{responses: []func(*Request) (*Response, error){
		fail(errors.ErrCodeModelAuth),
	}}

	refreshes := 0
	client := newTestClient(inner, WithAuthHandler(func(ctx context.Context) error {
		refreshes++
		return nil
	}))

	_, err := client.Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelAuth))
	assert.Equal(t, 1, refreshes)
}

func TestResilientClient_AuthWithoutHandlerIsFatal(t *testing.T) {
	inner := &scriptedClient{responses: []func(*Request) (*Response, error){
		fail(errors.ErrCodeModelAuth),
	}}

	_, err := newTestClient(inner).Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientClient_ContextLimitTrimsOldestHistory(t *testing.T) {
	var seen []*Request
	inner := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		seen = append(seen, req)
		if len(seen) == 1 {
			return nil, errors.New(errors.ErrCodeModelContextLimit, "context window exceeded")
		}
		return &Response{Content: "fits now"}, nil
	})

	req := &Request{
		System: "you are an analyst",
		Messages: []state.Message{
			{Role: "user", Content: "oldest message with plenty of text in it"},
			{Role: "assistant", Content: "middle"},
			{Role: "user", Content: "newest"},
		},
	}

	client := newTestClient(inner, WithTokenBudget(20))
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fits now", resp.Content)

	require.Len(t, seen, 2)
	assert.Less(t, len(seen[1].Messages), len(seen[0].Messages))
	assert.Equal(t, "newest", seen[1].Messages[len(seen[1].Messages)-1].Content)
	// Caller's request is left untouched.
	assert.Len(t, req.Messages, 3)
}

func TestResilientClient_APIErrorNotRetried(t *testing.T) {
	inner := &scriptedClient{responses: []func(*Request) (*Response, error){
		fail(errors.ErrCodeModelAPIError),
	}}

	_, err := newTestClient(inner).Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestTrimToBudget(t *testing.T) {
	req := &Request{
		Messages: []state.Message{
			{Role: "user", Content: "first message with a reasonable amount of content"},
			{Role: "assistant", Content: "second message also has some content in it"},
			{Role: "user", Content: "third"},
		},
	}

	trimmed := TrimToBudget(req, 15)
	assert.True(t, trimmed)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "third", req.Messages[len(req.Messages)-1].Content)

	// A request already within budget is untouched.
	small := &Request{Messages: []state.Message{{Role: "user", Content: "hi"}}}
	assert.False(t, TrimToBudget(small, 1000))
	assert.Len(t, small.Messages, 1)
}
