package model

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/parchment-ai/deckhand/pkg/state"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts tokens in a text, falling back to a length-based
// estimate if the encoder is unavailable.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return estimateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// CountRequestTokens counts the tokens a request will occupy, including
// per-message formatting overhead.
func CountRequestTokens(req *Request) int {
	if req == nil {
		return 0
	}

	total := CountTokens(req.System)
	for _, msg := range req.Messages {
		// Roughly 4 tokens of per-message framing.
		total += 4
		total += CountTokens(msg.Role)
		total += CountTokens(msg.Content)
	}
	total += 2
	return total
}

// TrimToBudget drops the oldest messages until the request fits within
// budget tokens. System text and the most recent message are always kept.
// It reports whether anything was dropped.
func TrimToBudget(req *Request, budget int) bool {
	if req == nil || budget <= 0 || CountRequestTokens(req) <= budget {
		return false
	}

	trimmed := false
	for len(req.Messages) > 1 && CountRequestTokens(req) > budget {
		req.Messages = append([]state.Message(nil), req.Messages[1:]...)
		trimmed = true
	}
	return trimmed
}

func estimateTokens(text string) int {
	// ~4 characters per token for English text.
	return (len(text) + 3) / 4
}
