package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/logging"
	"github.com/parchment-ai/deckhand/pkg/state"
	"github.com/parchment-ai/deckhand/pkg/telemetry"
)

// Saver persists the session record when the runner suspends at an
// interrupt point. Implemented by the checkpoint store.
type Saver interface {
	Save(st *state.State, pendingNode string) error
}

// StepFunc observes each (node, delta) pair after the delta is applied.
type StepFunc func(node string, delta *state.Delta)

// Result is the outcome of a run: either a terminal state or a suspension
// at PendingNode with everything accumulated so far applied to State.
// FailedNode names the node whose unit raised when the run halted on error.
type Result struct {
	State       *state.State
	Paused      bool
	PendingNode string
	FailedNode  string
	Steps       int
}

// Runner advances a compiled graph over a session record. Each step clones
// the record for the unit, applies the returned delta, then routes. A unit
// error halts the run immediately; deltas applied before the failure remain
// valid.
type Runner struct {
	graph  *Graph
	saver  Saver
	logger *logging.Logger
	hub    *telemetry.Hub
	onStep StepFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSaver installs checkpoint persistence for interrupt points.
func WithSaver(s Saver) RunnerOption {
	return func(r *Runner) { r.saver = s }
}

// WithLogger installs structured logging.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithHub installs telemetry event publishing.
func WithHub(h *telemetry.Hub) RunnerOption {
	return func(r *Runner) { r.hub = h }
}

// WithStepFunc installs a per-step observer.
func WithStepFunc(f StepFunc) RunnerOption {
	return func(r *Runner) { r.onStep = f }
}

// NewRunner creates a runner for a compiled graph.
func NewRunner(g *Graph, opts ...RunnerOption) *Runner {
	r := &Runner{graph: g}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes from the entry node until End, an interrupt point, or a
// unit failure.
func (r *Runner) Run(ctx context.Context, st *state.State) (*Result, error) {
	return r.run(ctx, st, r.graph.entry, false)
}

// ResumeFrom continues a suspended run at the pending node. The pending
// node's interrupt marker is consumed once so the node executes; nodes that
// ran before the pause are not revisited unless routing sends control back.
func (r *Runner) ResumeFrom(ctx context.Context, st *state.State, pendingNode string) (*Result, error) {
	if !r.graph.HasNode(pendingNode) {
		return nil, errors.New(errors.ErrCodeUnknownRoute, "pending node not registered").WithContext("node", pendingNode)
	}
	telemetry.RecordSessionResumed()
	r.publish(telemetry.EventSessionResumed, st.SessionID, pendingNode, nil)
	return r.run(ctx, st, pendingNode, true)
}

// SkipFrom continues a halted run without re-executing the named node:
// control routes out of it as if it had completed, using the state as it
// stands. The caller must first apply whatever fields the node's outgoing
// edge reads, or a conditional edge will fail to route.
func (r *Runner) SkipFrom(ctx context.Context, st *state.State, node string) (*Result, error) {
	if !r.graph.HasNode(node) {
		return nil, errors.New(errors.ErrCodeUnknownRoute, "skipped node not registered").WithContext("node", node)
	}
	next, err := r.graph.route(node, st)
	if err != nil {
		return nil, err
	}
	telemetry.RecordSessionResumed()
	r.publish(telemetry.EventSessionResumed, st.SessionID, next, nil)
	return r.run(ctx, st, next, false)
}

func (r *Runner) run(ctx context.Context, st *state.State, start string, skipFirstInterrupt bool) (*Result, error) {
	tracer := telemetry.Tracer()
	current := start
	steps := 0

	for current != End {
		if err := ctx.Err(); err != nil {
			return &Result{State: st, Steps: steps}, err
		}
		if steps >= r.graph.maxSteps {
			return &Result{State: st, Steps: steps}, errors.New(errors.ErrCodeStepCeiling, "step ceiling reached").
				WithContext("max_steps", r.graph.maxSteps).
				WithContext("node", current)
		}

		if r.graph.interruptBefore[current] && !skipFirstInterrupt {
			if r.saver != nil {
				if err := r.saver.Save(st, current); err != nil {
					return &Result{State: st, Steps: steps}, errors.Wrap(err, errors.ErrCodeCheckpointWrite, "failed to persist suspension checkpoint")
				}
			}
			telemetry.RecordSessionPaused()
			r.publish(telemetry.EventSessionPaused, st.SessionID, current, nil)
			r.logger.Info(logging.CategoryGraph, "run_suspended", "suspended before node", map[string]any{
				"node": current,
			})
			return &Result{State: st, Paused: true, PendingNode: current, Steps: steps}, nil
		}
		skipFirstInterrupt = false

		unit, err := r.graph.unit(current)
		if err != nil {
			return &Result{State: st, Steps: steps}, err
		}

		spanCtx, span := tracer.Start(ctx, "node "+current)
		span.SetAttributes(
			attribute.String("deckhand.node", current),
			attribute.String("deckhand.session_id", st.SessionID),
		)
		r.publish(telemetry.EventNodeStarted, st.SessionID, current, nil)

		started := time.Now()
		delta, invokeErr := unit.Invoke(spanCtx, st.Clone())
		latency := time.Since(started)

		if invokeErr != nil {
			span.RecordError(invokeErr)
			span.SetStatus(codes.Error, invokeErr.Error())
			span.End()
			telemetry.RecordNodeExecuted(false)
			r.publish(telemetry.EventNodeFailed, st.SessionID, current, map[string]any{"error": invokeErr.Error()})
			r.logger.Error(logging.CategoryNode, "node_failed", invokeErr.Error(), map[string]any{
				"node":       current,
				"latency_ms": latency.Milliseconds(),
			})
			// State keeps all previously applied deltas; the failing
			// node's partial work is discarded with its delta.
			return &Result{State: st, FailedNode: current, Steps: steps}, invokeErr
		}
		span.End()

		st.Apply(delta)
		steps++
		if r.onStep != nil {
			r.onStep(current, delta)
		}
		telemetry.RecordNodeExecuted(true)
		r.publish(telemetry.EventNodeCompleted, st.SessionID, current, map[string]any{
			"latency_ms": latency.Milliseconds(),
		})
		r.logger.Debug(logging.CategoryNode, "node_completed", "", map[string]any{
			"node":       current,
			"latency_ms": latency.Milliseconds(),
		})

		next, routeErr := r.graph.route(current, st)
		if routeErr != nil {
			return &Result{State: st, Steps: steps}, routeErr
		}
		current = next
	}

	return &Result{State: st, Steps: steps}, nil
}

func (r *Runner) publish(eventType telemetry.EventType, sessionID, node string, data map[string]any) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(telemetry.Event{
		Type:      eventType,
		SessionID: sessionID,
		Node:      node,
		Data:      data,
	})
}
