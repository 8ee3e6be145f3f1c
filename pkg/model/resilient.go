package model

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

const (
	defaultMaxAttempts = 3
	baseRetryDelay     = 1 * time.Second
	maxRetryDelay      = 30 * time.Second

	// Conservative request pacing shared by all units of one session.
	defaultRateLimit = rate.Limit(1)
	defaultBurstSize = 10
)

// AuthHandler is invoked when the provider rejects credentials. It should
// block until credentials are refreshed (or return an error to give up).
// After a successful return the failed call is repeated once.
type AuthHandler func(ctx context.Context) error

// ResilientClient wraps a Client with rate limiting and recovery from
// transient provider failures:
//
//   - timeouts and rate limits retry with exponential backoff
//   - auth failures invoke the AuthHandler once, then repeat the call
//   - context-limit failures trim the oldest history once, then repeat
//
// Exhausted retries surface as a retryable error so the session controller
// can pause rather than abort.
type ResilientClient struct {
	inner       Client
	limiter     *rate.Limiter
	maxAttempts int
	tokenBudget int
	onAuth      AuthHandler

	sleep func(ctx context.Context, d time.Duration) error
}

type ResilientOption func(*ResilientClient)

// WithRateLimit overrides the default request pacing.
func WithRateLimit(limit rate.Limit, burst int) ResilientOption {
	return func(c *ResilientClient) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithMaxAttempts overrides how many times a transient failure is retried.
func WithMaxAttempts(n int) ResilientOption {
	return func(c *ResilientClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithTokenBudget sets the context-window budget used when trimming
// history after a context-limit failure.
func WithTokenBudget(tokens int) ResilientOption {
	return func(c *ResilientClient) {
		c.tokenBudget = tokens
	}
}

// WithAuthHandler installs the credential-refresh hook.
func WithAuthHandler(h AuthHandler) ResilientOption {
	return func(c *ResilientClient) {
		c.onAuth = h
	}
}

func NewResilientClient(inner Client, opts ...ResilientOption) *ResilientClient {
	c := &ResilientClient{
		inner:       inner,
		limiter:     rate.NewLimiter(defaultRateLimit, defaultBurstSize),
		maxAttempts: defaultMaxAttempts,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResilientClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	authHandled := false
	historyTrimmed := false

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		switch errors.GetCode(err) {
		case errors.ErrCodeModelTimeout, errors.ErrCodeModelRateLimit:
			if attempt < c.maxAttempts-1 {
				if sleepErr := c.sleep(ctx, backoffDelay(attempt)); sleepErr != nil {
					return nil, sleepErr
				}
			}

		case errors.ErrCodeModelAuth:
			// Credentials are refreshed at most once per call.
			if authHandled || c.onAuth == nil {
				return nil, err
			}
			if handlerErr := c.onAuth(ctx); handlerErr != nil {
				return nil, errors.Wrap(handlerErr, errors.ErrCodeModelAuth, "credential refresh failed")
			}
			authHandled = true
			attempt--

		case errors.ErrCodeModelContextLimit:
			// Shed the oldest history once; a second overflow is fatal.
			if historyTrimmed || c.tokenBudget <= 0 {
				return nil, err
			}
			trimmedReq := &Request{
				System:    req.System,
				Messages:  append([]state.Message(nil), req.Messages...),
				MaxTokens: req.MaxTokens,
			}
			if !TrimToBudget(trimmedReq, c.tokenBudget) {
				return nil, err
			}
			req = trimmedReq
			historyTrimmed = true
			attempt--

		default:
			// Auth-less providers and genuine API errors are not retried.
			return nil, err
		}
	}

	return nil, errors.Wrap(lastErr, errors.ErrCodeModelAPIError,
		fmt.Sprintf("model call failed after %d attempts", c.maxAttempts)).
		WithRetryable(true)
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay)
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	// Jitter to avoid synchronized retries across parallel units.
	jitter := rand.Float64() * delay * 0.5
	return time.Duration(delay*0.75 + jitter)
}
