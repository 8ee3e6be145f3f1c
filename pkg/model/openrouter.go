package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/parchment-ai/deckhand/pkg/errors"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
)

// OpenRouterClient calls the OpenRouter chat completions API. Wrap it in a
// ResilientClient for retry, rate limiting, and budget trimming.
type OpenRouterClient struct {
	apiKey     string
	modelName  string
	baseURL    string
	httpClient *http.Client
}

// OpenRouterOption configures an OpenRouterClient.
type OpenRouterOption func(*OpenRouterClient)

// WithBaseURL overrides the API endpoint, e.g. for a proxy.
func WithBaseURL(url string) OpenRouterOption {
	return func(c *OpenRouterClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) OpenRouterOption {
	return func(c *OpenRouterClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewOpenRouterClient creates a client for one model.
func NewOpenRouterClient(apiKey, modelName string, opts ...OpenRouterOption) *OpenRouterClient {
	c := &OpenRouterClient{
		apiKey:     apiKey,
		modelName:  modelName,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends one chat completion request.
func (c *OpenRouterClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	payload := chatRequest{
		Model:     c.modelName,
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelAPIError, "marshal completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelAPIError, "build completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/parchment-ai/deckhand")
	httpReq.Header.Set("X-Title", "Deckhand")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, errors.ErrCodeModelTimeout, "completion request failed").WithRetryable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelAPIError, "read completion response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelAPIError, "decode completion response")
	}
	if parsed.Error != nil {
		return nil, errors.New(errors.ErrCodeModelAPIError, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New(errors.ErrCodeModelAPIError, "completion returned no choices")
	}

	return &Response{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

// classifyHTTPError maps API status codes to the error taxonomy the
// resilient wrapper recovers from.
func classifyHTTPError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.ErrCodeModelAuth, fmt.Sprintf("authentication rejected (%d): %s", status, msg))
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrCodeModelRateLimit, fmt.Sprintf("rate limited: %s", msg)).WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errors.New(errors.ErrCodeModelTimeout, fmt.Sprintf("request timed out (%d)", status)).WithRetryable(true)
	case status == http.StatusRequestEntityTooLarge || strings.Contains(msg, "context length"):
		return errors.New(errors.ErrCodeModelContextLimit, "request exceeds model context window")
	case status >= 500:
		return errors.New(errors.ErrCodeModelAPIError, fmt.Sprintf("upstream error (%d): %s", status, msg)).WithRetryable(true)
	default:
		return errors.New(errors.ErrCodeModelAPIError, fmt.Sprintf("completion failed (%d): %s", status, msg))
	}
}

// NewClientFromConfig builds the production client stack: an OpenRouter
// transport wrapped with rate limiting, retry, and token budget trimming.
func NewClientFromConfig(apiKey, modelName string, requestsPerMin, maxAttempts, tokenBudget int) Client {
	inner := NewOpenRouterClient(apiKey, modelName)
	opts := []ResilientOption{}
	if requestsPerMin > 0 {
		opts = append(opts, WithRateLimit(rate.Limit(float64(requestsPerMin)/60.0), requestsPerMin))
	}
	if maxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(maxAttempts))
	}
	if tokenBudget > 0 {
		opts = append(opts, WithTokenBudget(tokenBudget))
	}
	return NewResilientClient(inner, opts...)
}
