// Package orchestrator contains the composite pipeline nodes: the
// retry-validate wrapper, the parallel fan-out analysis node, the sequential
// report node, and the session controller that wires them into a graph.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/graph"
	"github.com/parchment-ai/deckhand/pkg/logging"
	"github.com/parchment-ai/deckhand/pkg/state"
	"github.com/parchment-ai/deckhand/pkg/telemetry"
)

// DefaultRetryAttempts bounds retry-validate loops.
const DefaultRetryAttempts = 3

// Validator inspects a unit's delta and returns contract violations.
// Validators must be pure so retry behavior is reproducible.
type Validator func(delta *state.Delta) []string

// RetryConfig describes one retry-guarded unit.
type RetryConfig struct {
	UnitID string
	Unit   graph.Unit

	// RequiredCalls are tool names that must appear in each attempt's own
	// call slice. Calls from earlier attempts or earlier nodes never count.
	RequiredCalls []string

	Validate    Validator
	MaxAttempts int

	Logger *logging.Logger
	Hub    *telemetry.Hub
}

// attemptState is the explicit per-attempt record threaded through the loop.
type attemptState struct {
	attempt        int
	previousErrors []string
	requiredCalls  []string
}

// RetryValidate drives an unreliable unit through bounded attempts, feeding
// accumulated validation errors back into each retry. A unit error aborts
// immediately; validation exhaustion returns RETRIES_EXHAUSTED carrying the
// last attempt's error list.
func RetryValidate(ctx context.Context, cfg RetryConfig, snap *state.State) (*state.Delta, error) {
	if cfg.Unit == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "retry wrapper requires a unit")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryAttempts
	}

	att := attemptState{attempt: 1, requiredCalls: cfg.RequiredCalls}
	var lastErrors []string

	for ; att.attempt <= maxAttempts; att.attempt++ {
		attemptSnap := snap.Clone()
		attemptSnap.Messages = append(attemptSnap.Messages, state.Message{
			Role:      "system",
			Content:   attemptInstruction(att),
			Timestamp: time.Now(),
		})

		if att.attempt > 1 {
			telemetry.RecordRetryAttempt()
			if cfg.Hub != nil {
				cfg.Hub.Publish(telemetry.Event{
					Type:      telemetry.EventRetryAttempt,
					SessionID: snap.SessionID,
					Node:      cfg.UnitID,
					Data:      map[string]any{"attempt": att.attempt},
				})
			}
		}

		delta, err := cfg.Unit.Invoke(ctx, attemptSnap)
		if err != nil {
			return nil, err
		}

		attemptErrors := missingCalls(delta, cfg.RequiredCalls)
		if cfg.Validate != nil {
			attemptErrors = append(attemptErrors, cfg.Validate(delta)...)
		}
		if len(attemptErrors) == 0 {
			return delta, nil
		}

		lastErrors = attemptErrors
		att.previousErrors = append(att.previousErrors, attemptErrors...)

		telemetry.RecordValidationFailure()
		cfg.Logger.Warn(logging.CategoryValidation, "attempt_rejected",
			fmt.Sprintf("unit %s attempt %d failed validation", cfg.UnitID, att.attempt),
			map[string]any{"errors": attemptErrors})
		if cfg.Hub != nil {
			cfg.Hub.Publish(telemetry.Event{
				Type:      telemetry.EventValidationFailed,
				SessionID: snap.SessionID,
				Node:      cfg.UnitID,
				Data:      map[string]any{"attempt": att.attempt, "errors": attemptErrors},
			})
		}
	}

	return nil, errors.New(errors.ErrCodeRetriesExhausted,
		fmt.Sprintf("unit %s failed validation after %d attempts", cfg.UnitID, maxAttempts)).
		WithDetails(lastErrors...)
}

// attemptInstruction synthesizes the guidance message prepended to each
// attempt: attempt number, required calls, and every prior error.
func attemptInstruction(att attemptState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt %d.", att.attempt)
	if len(att.requiredCalls) > 0 {
		fmt.Fprintf(&b, " You must call: %s.", strings.Join(att.requiredCalls, ", "))
	}
	if len(att.previousErrors) > 0 {
		b.WriteString(" Previous attempts were rejected for the following reasons:")
		for _, e := range att.previousErrors {
			b.WriteString("\n- ")
			b.WriteString(e)
		}
	}
	return b.String()
}

// missingCalls reports which required tool calls are absent from the
// attempt's own delta.
func missingCalls(delta *state.Delta, required []string) []string {
	if len(required) == 0 {
		return nil
	}

	made := make(map[string]bool)
	if delta != nil {
		for _, call := range delta.ToolCalls {
			if call.Error == "" {
				made[call.Name] = true
			}
		}
	}

	var missing []string
	for _, name := range required {
		if !made[name] {
			missing = append(missing, fmt.Sprintf("required call %q was not made", name))
		}
	}
	return missing
}
