package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parchment-ai/deckhand/pkg/artifact"
	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/graph"
	"github.com/parchment-ai/deckhand/pkg/model"
	"github.com/parchment-ai/deckhand/pkg/state"
	"github.com/parchment-ai/deckhand/pkg/tool"
)

// DefaultCatalog builds the standard analysis catalog. Each unit asks the
// model to analyze one dimension of the objective and records the result
// under its own dedicated field.
func DefaultCatalog(client model.Client, tools *tool.Registry) []AnalysisUnit {
	entries := []struct {
		id, title, description, prompt string
	}{
		{"trend", "Trend analysis",
			"examined movement of the core metrics over time",
			"Analyze how the key metrics have moved over time. Note direction, pace, and inflection points."},
		{"comparison", "Peer comparison",
			"benchmarked the subject against its peer group",
			"Compare the subject against its peer group. Note where it leads and where it lags."},
		{"drivers", "Driver decomposition",
			"decomposed the headline results into contributing drivers",
			"Break the headline results down into their main contributing drivers."},
		{"risks", "Risk scan",
			"scanned for concentrations and downside risks",
			"Identify concentrations, fragilities, and downside risks visible in the data."},
	}

	catalog := make([]AnalysisUnit, 0, len(entries))
	for _, e := range entries {
		e := e
		catalog = append(catalog, AnalysisUnit{
			ID:          e.id,
			Title:       e.title,
			Description: e.description,
			Unit:        newAnalysisUnit(client, tools, e.id, e.prompt),
		})
	}
	return catalog
}

// newAnalysisUnit builds one dimension unit: optionally query metrics
// through the tool registry, then complete against the model.
func newAnalysisUnit(client model.Client, tools *tool.Registry, id, prompt string) graph.Unit {
	return graph.UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		entry := state.NewTraceEntry("analysis/" + id)
		start := time.Now()

		var calls []state.ToolCall
		var metrics string
		if tools != nil {
			if _, ok := tools.Get("query_metrics"); ok {
				result, call, err := tools.Execute(ctx, "query_metrics", map[string]any{
					"dimension": id,
					"objective": snap.Objective,
				})
				calls = append(calls, call)
				if err == nil && result != nil {
					metrics = result.Content
					entry.Tools = append(entry.Tools, "query_metrics")
				}
			}
		}

		req := &model.Request{
			System: fmt.Sprintf("You are an analyst. Objective: %s", snap.Objective),
			Messages: append(append([]state.Message(nil), snap.Messages...), state.Message{
				Role:      "user",
				Content:   analysisPrompt(prompt, metrics),
				Timestamp: time.Now(),
			}),
		}
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		entry.InputSummary = firstLine(prompt)
		entry.OutputSummary = firstLine(resp.Content)
		entry.Latency = time.Since(start)
		entry.Success = true

		return &state.Delta{
			AnalysisResults: map[string]string{id: resp.Content},
			Trace:           []state.TraceEntry{entry},
			ToolCalls:       calls,
		}, nil
	})
}

func analysisPrompt(prompt, metrics string) string {
	if strings.TrimSpace(metrics) == "" {
		return prompt
	}
	return prompt + "\n\nRelevant metrics:\n" + metrics
}

// NewSynthesisUnit builds the follow-up unit that reads the fan-out's
// merged findings and produces one cross-dimension synthesis.
func NewSynthesisUnit(client model.Client) graph.Unit {
	return graph.UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		entry := state.NewTraceEntry("synthesis")
		start := time.Now()

		resp, err := client.Complete(ctx, &model.Request{
			System:   "You synthesize analytical findings into one coherent narrative.",
			Messages: snap.Messages,
		})
		if err != nil {
			return nil, err
		}

		entry.OutputSummary = firstLine(resp.Content)
		entry.Latency = time.Since(start)
		entry.Success = true

		return &state.Delta{
			AnalysisResults: map[string]string{"synthesis": resp.Content},
			Messages: []state.Message{{
				Role:      "assistant",
				Content:   resp.Content,
				Timestamp: time.Now(),
			}},
			Trace: []state.TraceEntry{entry},
		}, nil
	})
}

// NewDraftUnit builds the drafting unit. It must read the synthesis from the
// store through the read tool; the retry wrapper enforces that.
func NewDraftUnit(client model.Client, tools *tool.Registry) graph.Unit {
	return graph.UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		entry := state.NewTraceEntry("report/draft")
		start := time.Now()

		var calls []state.ToolCall
		synthesis := ""
		if snap.SynthesisRef != "" && tools != nil {
			result, call, err := tools.Execute(ctx, ReadArtifactTool, map[string]any{
				"key": "synthesis",
			})
			calls = append(calls, call)
			if err == nil && result != nil {
				synthesis = result.Content
				entry.Tools = append(entry.Tools, ReadArtifactTool)
			}
		}

		prompt := "Write the full report draft in markdown with clear section headings."
		if synthesis != "" {
			prompt += "\n\nSynthesis:\n" + synthesis
		}

		resp, err := client.Complete(ctx, &model.Request{
			System: fmt.Sprintf("You write analytical reports. Objective: %s", snap.Objective),
			Messages: append(append([]state.Message(nil), snap.Messages...), state.Message{
				Role: "user", Content: prompt, Timestamp: time.Now(),
			}),
		})
		if err != nil {
			return nil, err
		}

		entry.OutputSummary = firstLine(resp.Content)
		entry.Latency = time.Since(start)
		entry.Success = true

		return &state.Delta{
			AnalysisResults: map[string]string{"draft": resp.Content},
			Trace:           []state.TraceEntry{entry},
			ToolCalls:       calls,
		}, nil
	})
}

// NewStructureUnit builds the structuring unit producing the slide plan as JSON.
func NewStructureUnit(client model.Client) graph.Unit {
	return graph.UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		entry := state.NewTraceEntry("report/structure")
		start := time.Now()

		draft := snap.AnalysisResults["draft"]
		resp, err := client.Complete(ctx, &model.Request{
			System: "You turn report drafts into slide plans. Respond with a JSON array of " +
				`{"id", "title", "bullets", "visual_ref"} objects and nothing else.`,
			Messages: []state.Message{{
				Role:      "user",
				Content:   "Draft:\n" + draft,
				Timestamp: time.Now(),
			}},
		})
		if err != nil {
			return nil, err
		}

		entry.OutputSummary = firstLine(resp.Content)
		entry.Latency = time.Since(start)
		entry.Success = true

		return &state.Delta{
			AnalysisResults: map[string]string{"slide_plan": resp.Content},
			Trace:           []state.TraceEntry{entry},
		}, nil
	})
}

// NewApprovalGate builds the human-approval unit. Its delta flags the
// session as awaiting input; the node after it carries the interrupt.
func NewApprovalGate() graph.Unit {
	return graph.UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		prompt := "Analysis is complete. Approve report generation?"
		if snap.Decision == "incomplete" {
			prompt = fmt.Sprintf(
				"Analysis is incomplete (missing: %s). Proceed with report generation anyway?",
				strings.Join(snap.MissingDimensions, ", "))
		}
		return &state.Delta{
			AwaitingInput: state.Bool(true),
			PendingPrompt: state.Str(prompt),
			Reasoning:     []string{"awaiting approval before report generation"},
		}, nil
	})
}

// NewPlanUnit builds the deterministic planning unit: one task per selected
// dimension nested under an analysis task, plus the report task.
func NewPlanUnit(catalog []AnalysisUnit) graph.Unit {
	return graph.UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		selected := snap.SelectedDimensions
		if len(selected) == 0 {
			for _, u := range catalog {
				selected = append(selected, u.ID)
			}
		}

		subtasks := make([]state.PlanTask, 0, len(selected))
		for _, id := range selected {
			title := id
			if unit := unitIn(catalog, id); unit != nil {
				title = unit.Title
			}
			subtasks = append(subtasks, state.PlanTask{
				ID:     "analysis/" + id,
				Title:  title,
				Status: state.TaskReady,
			})
		}

		plan := []state.PlanTask{
			{ID: "analysis", Title: "Run dimension analysis", Status: state.TaskReady, Subtasks: subtasks},
			{ID: "report", Title: "Generate report", Status: state.TaskTodo},
		}

		return &state.Delta{
			Plan:       plan,
			TotalUnits: state.Int(len(selected)),
			Reasoning:  []string{fmt.Sprintf("planned %d analysis units", len(selected))},
		}, nil
	})
}

// NewReadArtifactTool exposes store reads to units through the registry.
func NewReadArtifactTool(store artifact.Store, sessionID string) tool.Tool {
	return &tool.Func{
		ToolName: ReadArtifactTool,
		Desc:     "Read a stored artifact by key",
		Fn: func(ctx context.Context, params map[string]any) (*tool.Result, error) {
			key, _ := params["key"].(string)
			if key == "" {
				return nil, errors.New(errors.ErrCodeInvalidInput, "key parameter required")
			}
			content, err := store.GetText(ctx, sessionID, key)
			if err != nil {
				return nil, err
			}
			return &tool.Result{Content: content}, nil
		},
	}
}
