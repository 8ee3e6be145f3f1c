package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parchment-ai/deckhand/pkg/artifact"
	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/graph"
	"github.com/parchment-ai/deckhand/pkg/logging"
	"github.com/parchment-ai/deckhand/pkg/progress"
	"github.com/parchment-ai/deckhand/pkg/state"
	"github.com/parchment-ai/deckhand/pkg/telemetry"
)

// AnalysisUnit is one catalog entry of the fan-out node. Description is the
// static curated line that goes into the reasoning log in place of raw model
// text.
type AnalysisUnit struct {
	ID          string
	Title       string
	Description string
	Unit        graph.Unit
}

// FanOut runs the selected analysis units concurrently, persists their
// output, and feeds a synthesis unit with the merged result.
type FanOut struct {
	catalog   []AnalysisUnit
	synthesis graph.Unit
	store     artifact.Store
	observer  progress.Observer
	logger    *logging.Logger
	hub       *telemetry.Hub

	handle string
}

func NewFanOut(catalog []AnalysisUnit, synthesis graph.Unit, store artifact.Store, observer progress.Observer) *FanOut {
	return &FanOut{
		catalog:   catalog,
		synthesis: synthesis,
		store:     store,
		observer:  observer,
	}
}

// WithObservability attaches the session logger and telemetry hub.
func (f *FanOut) WithObservability(logger *logging.Logger, hub *telemetry.Hub) *FanOut {
	f.logger = logger
	f.hub = hub
	return f
}

func (f *FanOut) Invoke(ctx context.Context, snap *state.State) (*state.Delta, error) {
	selected := f.resolveSelection(snap.SelectedDimensions)
	if len(selected) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "analysis catalog is empty")
	}

	f.publish(telemetry.EventAnalysisStarted, snap.SessionID, map[string]any{"selected": selected})
	f.syncTasks(ctx, selected, state.TaskInProgress)

	// Invoke every selected unit against an identical snapshot. Results are
	// kept in selection order so merged lists are deterministic regardless
	// of completion order.
	deltas := make([]*state.Delta, len(selected))
	g, groupCtx := errgroup.WithContext(ctx)
	for i, id := range selected {
		unit := f.unitByID(id)
		if unit == nil {
			// Unknown selections produce nothing; they surface via missing.
			continue
		}
		i, unit := i, unit
		g.Go(func() error {
			delta, err := unit.Unit.Invoke(groupCtx, snap.Clone())
			if err != nil {
				return fmt.Errorf("analysis unit %s: %w", unit.ID, err)
			}
			deltas[i] = delta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		f.syncTasks(ctx, selected, state.TaskFailed)
		return nil, err
	}

	merged := state.Merge(deltas...)

	// Persist per-unit output, keeping only references in state.
	refs := make(map[string]string)
	produced := make(map[string]bool)
	for _, id := range selected {
		output := merged.AnalysisResults[id]
		if strings.TrimSpace(output) == "" {
			continue
		}
		ref, err := f.store.StoreText(ctx, snap.SessionID, "analysis/"+id, output)
		if err != nil {
			return nil, err
		}
		refs["analysis/"+id] = ref
		produced[id] = true
		f.publish(telemetry.EventArtifactStored, snap.SessionID, map[string]any{"key": "analysis/" + id})
	}

	missing := make([]string, 0)
	for _, id := range selected {
		if !produced[id] {
			missing = append(missing, id)
		}
	}

	// Synthesis sees the original conversation plus everything the fan-out
	// merged, including where the full outputs live.
	synthSnap := snap.Clone()
	synthSnap.Apply(merged)
	synthSnap.Apply(&state.Delta{ArtifactRefs: refs})
	synthSnap.Messages = append(synthSnap.Messages, state.Message{
		Role:      "system",
		Content:   synthesisBrief(selected, refs),
		Timestamp: time.Now(),
	})

	synthDelta, err := f.synthesis.Invoke(ctx, synthSnap)
	if err != nil {
		return nil, fmt.Errorf("synthesis unit: %w", err)
	}
	if synthDelta == nil {
		synthDelta = &state.Delta{}
	}

	decision := "complete"
	synthesisText := synthesisTextOf(synthDelta)
	if len(missing) > 0 {
		decision = "incomplete"
		// Annotate, never regenerate.
		synthesisText += fmt.Sprintf("\n\nNote: no output was produced for: %s.",
			strings.Join(missing, ", "))
	}

	synthRef := ""
	if strings.TrimSpace(synthesisText) != "" {
		synthRef, err = f.store.StoreText(ctx, snap.SessionID, "synthesis", synthesisText)
		if err != nil {
			return nil, err
		}
		refs["synthesis"] = synthRef
	}

	f.syncTasks(ctx, selected, state.TaskDone)
	f.publish(telemetry.EventAnalysisCompleted, snap.SessionID, map[string]any{
		"decision": decision,
		"missing":  missing,
	})
	f.logger.Info(logging.CategoryAnalysis, "fanout_complete",
		fmt.Sprintf("%d/%d units produced output", len(selected)-len(missing), len(selected)),
		map[string]any{"missing": missing})

	// Curated reasoning from static descriptions bounds log growth; raw
	// model text stays in the store.
	reasoning := make([]string, 0, len(selected)+1)
	for _, id := range selected {
		if unit := f.unitByID(id); unit != nil && produced[id] {
			reasoning = append(reasoning, fmt.Sprintf("%s: %s", unit.ID, unit.Description))
		}
	}
	reasoning = append(reasoning, fmt.Sprintf("synthesis: decision %s", decision))

	completed := snap.CompletedUnits + len(selected) - len(missing)

	outward := &state.Delta{
		Trace:             append(append([]state.TraceEntry(nil), merged.Trace...), synthDelta.Trace...),
		ToolCalls:         append(append([]state.ToolCall(nil), merged.ToolCalls...), synthDelta.ToolCalls...),
		Reasoning:         reasoning,
		Messages:          synthDelta.Messages,
		AnalysisResults:   merged.AnalysisResults,
		ArtifactRefs:      refs,
		Decision:          state.Str(decision),
		MissingDimensions: missing,
		CompletedUnits:    state.Int(completed),
		Plan:              f.advancePlan(snap.Plan, selected, produced),
	}
	if synthRef != "" {
		outward.SynthesisRef = state.Str(synthRef)
	}
	return outward, nil
}

// resolveSelection dedupes the active subset preserving order, defaulting to
// the full catalog when no selection was made.
func (f *FanOut) resolveSelection(selection []string) []string {
	if len(selection) == 0 {
		out := make([]string, 0, len(f.catalog))
		for _, u := range f.catalog {
			out = append(out, u.ID)
		}
		return out
	}

	seen := make(map[string]bool, len(selection))
	out := make([]string, 0, len(selection))
	for _, id := range selection {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (f *FanOut) unitByID(id string) *AnalysisUnit {
	for i := range f.catalog {
		if f.catalog[i].ID == id {
			return &f.catalog[i]
		}
	}
	return nil
}

// syncTasks mirrors per-unit status to the progress observer. Sync failures
// never fail the node.
func (f *FanOut) syncTasks(ctx context.Context, selected []string, status state.TaskStatus) {
	if f.observer == nil {
		return
	}

	tasks := make([]state.PlanTask, 0, len(selected))
	for _, id := range selected {
		title := id
		if unit := f.unitByID(id); unit != nil {
			title = unit.Title
		}
		tasks = append(tasks, state.PlanTask{ID: "analysis/" + id, Title: title, Status: status})
	}

	handle, err := f.observer.Sync(ctx, f.handle, tasks)
	if err != nil {
		f.logger.Warn(logging.CategoryAnalysis, "progress_sync_failed", err.Error(), nil)
		return
	}
	f.handle = handle
	f.publish(telemetry.EventTaskSynced, "", map[string]any{"status": string(status)})
}

// advancePlan marks the plan rows belonging to produced units done and
// failed-silent units blocked.
func (f *FanOut) advancePlan(plan []state.PlanTask, selected []string, produced map[string]bool) []state.PlanTask {
	if len(plan) == 0 {
		return nil
	}
	out := state.ClonePlan(plan)
	for _, id := range selected {
		task := state.FindTask(out, "analysis/"+id)
		if task == nil {
			continue
		}
		if produced[id] {
			task.Status = state.TaskDone
		} else {
			task.Status = state.TaskBlocked
		}
	}
	if parent := state.FindTask(out, "analysis"); parent != nil {
		parent.Status = state.TaskDone
	}
	return out
}

func (f *FanOut) publish(eventType telemetry.EventType, sessionID string, data map[string]any) {
	if f.hub == nil {
		return
	}
	f.hub.Publish(telemetry.Event{Type: eventType, SessionID: sessionID, Data: data})
}

func synthesisBrief(selected []string, refs map[string]string) string {
	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize the findings across: %s.", strings.Join(selected, ", "))
	if len(keys) > 0 {
		b.WriteString(" Full outputs are stored under: ")
		b.WriteString(strings.Join(keys, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// synthesisTextOf extracts the synthesis unit's primary text: the dedicated
// result field if set, otherwise its last assistant message.
func synthesisTextOf(delta *state.Delta) string {
	if text, ok := delta.AnalysisResults["synthesis"]; ok && strings.TrimSpace(text) != "" {
		return text
	}
	for i := len(delta.Messages) - 1; i >= 0; i-- {
		if delta.Messages[i].Role == "assistant" {
			return delta.Messages[i].Content
		}
	}
	return ""
}
