package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parchment-ai/deckhand/pkg/artifact"
	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/graph"
	"github.com/parchment-ai/deckhand/pkg/logging"
	"github.com/parchment-ai/deckhand/pkg/render"
	"github.com/parchment-ai/deckhand/pkg/report"
	"github.com/parchment-ai/deckhand/pkg/state"
	"github.com/parchment-ai/deckhand/pkg/telemetry"
)

const (
	// ReadArtifactTool is the store-read tool the draft stage must call.
	ReadArtifactTool = "read_artifact"

	defaultMinHeadings       = 3
	defaultMinSlides         = 3
	defaultDraftAttempts     = DefaultRetryAttempts
	defaultStructureAttempts = 2
)

// ReportNode chains the three report stages: a retry-guarded draft, a
// retry-guarded structuring pass with a deterministic fallback, and a pure
// assembly stage that renders, exports, and verifies every output path.
type ReportNode struct {
	draft     graph.Unit
	structure graph.Unit

	required []string // dimensions that must have analysis results

	store   artifact.Store
	charts  render.ChartRenderer
	deck    render.DeckExporter
	table   render.TabularExporter
	catalog []AnalysisUnit
	outDir  string
	logger  *logging.Logger
	hub     *telemetry.Hub

	minHeadings       int
	minSlides         int
	draftAttempts     int
	structureAttempts int
}

// ReportDeps carries the external collaborators of the report node.
type ReportDeps struct {
	Draft     graph.Unit
	Structure graph.Unit
	Required  []string
	Store     artifact.Store
	Charts    render.ChartRenderer
	Deck      render.DeckExporter
	Table     render.TabularExporter
	Catalog   []AnalysisUnit
	OutDir    string
	Logger    *logging.Logger
	Hub       *telemetry.Hub

	MinHeadings       int
	MinSlides         int
	DraftAttempts     int
	StructureAttempts int
}

func NewReportNode(deps ReportDeps) *ReportNode {
	n := &ReportNode{
		draft:             deps.Draft,
		structure:         deps.Structure,
		required:          deps.Required,
		store:             deps.Store,
		charts:            deps.Charts,
		deck:              deps.Deck,
		table:             deps.Table,
		catalog:           deps.Catalog,
		outDir:            deps.OutDir,
		logger:            deps.Logger,
		hub:               deps.Hub,
		minHeadings:       deps.MinHeadings,
		minSlides:         deps.MinSlides,
		draftAttempts:     deps.DraftAttempts,
		structureAttempts: deps.StructureAttempts,
	}
	if n.minHeadings <= 0 {
		n.minHeadings = defaultMinHeadings
	}
	if n.minSlides <= 0 {
		n.minSlides = defaultMinSlides
	}
	if n.draftAttempts <= 0 {
		n.draftAttempts = defaultDraftAttempts
	}
	if n.structureAttempts <= 0 {
		n.structureAttempts = defaultStructureAttempts
	}
	return n
}

func (n *ReportNode) Invoke(ctx context.Context, snap *state.State) (*state.Delta, error) {
	// Precondition: never emit a partial report.
	if missing := n.missingPrerequisites(snap); len(missing) > 0 {
		return nil, errors.New(errors.ErrCodeMissingPrerequisite,
			fmt.Sprintf("analysis missing for: %s", strings.Join(missing, ", ")))
	}

	// Draft: free text under contract.
	n.stageEvent(snap.SessionID, "draft")
	draftDelta, err := RetryValidate(ctx, RetryConfig{
		UnitID:        "report/draft",
		Unit:          n.draft,
		RequiredCalls: []string{ReadArtifactTool},
		Validate:      n.validateDraft,
		MaxAttempts:   n.draftAttempts,
		Logger:        n.logger,
		Hub:           n.hub,
	}, snap)
	if err != nil {
		return nil, err
	}
	draftText := draftTextOf(draftDelta)

	// Structuring, with a deterministic fallback instead of abort.
	n.stageEvent(snap.SessionID, "structure")
	structSnap := snap.Clone()
	structSnap.Apply(draftDelta)
	var slides []state.Slide
	fallbackUsed := false

	structDelta, err := RetryValidate(ctx, RetryConfig{
		UnitID:      "report/structure",
		Unit:        n.structure,
		Validate:    n.validateStructure,
		MaxAttempts: n.structureAttempts,
		Logger:      n.logger,
		Hub:         n.hub,
	}, structSnap)
	switch {
	case err == nil:
		slides, err = report.ParseSlidePlan(slidePlanTextOf(structDelta))
		if err != nil {
			// The validator accepted it, so this should not happen; fall
			// back the same way an invalid plan does.
			slides = nil
		}
	case errors.IsCode(err, errors.ErrCodeRetriesExhausted):
		structDelta = &state.Delta{}
	default:
		return nil, err
	}
	if len(slides) == 0 {
		slides = report.FallbackSlidePlan(report.ScanHeadings(draftText), snap.Objective)
		fallbackUsed = true
	}

	// Assembly is deterministic. No model calls from here on.
	n.stageEvent(snap.SessionID, "assembly")
	chartPaths, err := n.renderCharts(ctx, snap)
	if err != nil {
		return nil, err
	}
	slides = report.ResolveVisuals(slides, chartPaths)

	draftRef, err := n.store.StoreText(ctx, snap.SessionID, "report/draft", draftText)
	if err != nil {
		return nil, err
	}

	deckPath, err := n.deck.Export(ctx, &render.Deck{
		Title:     deckTitle(snap.Objective, slides),
		Objective: snap.Objective,
		Slides:    slides,
	})
	if err != nil {
		return nil, err
	}
	tablePath, err := n.table.Export(ctx, n.summaryTable(snap))
	if err != nil {
		return nil, err
	}
	summaryPath, err := n.writeNarrative(draftText)
	if err != nil {
		return nil, err
	}
	for _, path := range append([]string{deckPath, tablePath, summaryPath}, chartPaths...) {
		if err := render.VerifyPath(path); err != nil {
			return nil, err
		}
	}

	summary := report.ExecutiveSummary(draftText)
	if summary == "" {
		summary = "Report generated for: " + snap.Objective
	}

	// Outward delta: the three stage deltas merged, except that the
	// conversation carries only the synthesized executive summary.
	reasoning := []string{"report: draft accepted"}
	if fallbackUsed {
		reasoning = append(reasoning, "report: structuring fell back to draft headings")
	}
	reasoning = append(reasoning, "report: deck and table exported")

	merged := state.Merge(draftDelta, structDelta)
	plan := n.advancePlan(snap.Plan)
	outward := &state.Delta{
		Trace:       merged.Trace,
		ToolCalls:   merged.ToolCalls,
		Reasoning:   reasoning,
		Messages:    []state.Message{{Role: "assistant", Content: summary, Timestamp: time.Now()}},
		DraftRef:    state.Str(draftRef),
		SlidePlan:   slides,
		DeckPath:    state.Str(deckPath),
		TablePath:   state.Str(tablePath),
		SummaryPath: state.Str(summaryPath),
		Plan:        plan,
	}
	if state.AllDone(plan) {
		outward.Complete = state.Bool(true)
		outward.CompletedUnits = state.Int(snap.TotalUnits)
	}
	return outward, nil
}

func (n *ReportNode) missingPrerequisites(snap *state.State) []string {
	required := n.required
	if len(required) == 0 {
		required = snap.SelectedDimensions
	}

	var missing []string
	for _, dim := range required {
		if strings.TrimSpace(snap.AnalysisResults[dim]) == "" {
			missing = append(missing, dim)
		}
	}
	return missing
}

// validateDraft requires enough structural markers and rejects output that
// reads as serialized data instead of prose.
func (n *ReportNode) validateDraft(delta *state.Delta) []string {
	text := draftTextOf(delta)

	var problems []string
	if strings.TrimSpace(text) == "" {
		return []string{"draft is empty"}
	}
	if report.LooksLikeStructuredData(text) {
		problems = append(problems, "draft looks like structured data, expected free text")
	}
	if count := len(report.ScanHeadings(text)); count < n.minHeadings {
		problems = append(problems,
			fmt.Sprintf("draft has %d headings, need at least %d", count, n.minHeadings))
	}
	return problems
}

// validateStructure requires a parseable slide plan with enough entries.
func (n *ReportNode) validateStructure(delta *state.Delta) []string {
	slides, err := report.ParseSlidePlan(slidePlanTextOf(delta))
	if err != nil {
		return []string{err.Error()}
	}
	if len(slides) < n.minSlides {
		return []string{fmt.Sprintf("slide plan has %d entries, need at least %d", len(slides), n.minSlides)}
	}
	return nil
}

// renderCharts re-derives one visual per analyzed dimension and validates
// the category set is complete.
func (n *ReportNode) renderCharts(ctx context.Context, snap *state.State) ([]string, error) {
	dims := n.required
	if len(dims) == 0 {
		dims = snap.SelectedDimensions
	}

	paths := make([]string, 0, len(dims))
	seen := make(map[string]bool, len(dims))
	for _, dim := range dims {
		title := dim
		if unit := unitIn(n.catalog, dim); unit != nil {
			title = unit.Title
		}
		path, err := n.charts.Render(ctx, render.ChartSpec{
			ID:    dim,
			Kind:  "summary",
			Title: title,
		})
		if err != nil {
			return nil, err
		}
		// Each dimension must get its own visual; a renderer handing back
		// an empty or reused path would silently drop a category.
		if path == "" || seen[path] {
			return nil, errors.New(errors.ErrCodeExportFailed,
				fmt.Sprintf("chart renderer produced no distinct visual for %q", dim))
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths, nil
}

func (n *ReportNode) summaryTable(snap *state.State) *render.Table {
	dims := n.required
	if len(dims) == 0 {
		dims = snap.SelectedDimensions
	}

	rows := make([][]string, 0, len(dims))
	for _, dim := range dims {
		rows = append(rows, []string{dim, firstLine(snap.AnalysisResults[dim])})
	}
	return &render.Table{
		Name:    "Dimension Summary",
		Headers: []string{"Dimension", "Finding"},
		Rows:    rows,
	}
}

// writeNarrative persists the draft narrative as the report's markdown file.
func (n *ReportNode) writeNarrative(draft string) (string, error) {
	dir := n.outDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "create output directory")
	}
	path := filepath.Join(dir, "report.md")
	if err := os.WriteFile(path, []byte(draft), 0o644); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "write narrative")
	}
	return path, nil
}

func (n *ReportNode) advancePlan(plan []state.PlanTask) []state.PlanTask {
	if len(plan) == 0 {
		return nil
	}
	out := state.ClonePlan(plan)
	if task := state.FindTask(out, "report"); task != nil {
		task.Status = state.TaskDone
	}
	return out
}

func (n *ReportNode) stageEvent(sessionID, stage string) {
	n.logger.Info(logging.CategoryReport, "stage_started", stage, nil)
	if n.hub != nil {
		n.hub.Publish(telemetry.Event{
			Type:      telemetry.EventReportStage,
			SessionID: sessionID,
			Data:      map[string]any{"stage": stage},
		})
	}
}

func unitIn(catalog []AnalysisUnit, id string) *AnalysisUnit {
	for i := range catalog {
		if catalog[i].ID == id {
			return &catalog[i]
		}
	}
	return nil
}

func deckTitle(objective string, slides []state.Slide) string {
	if len(slides) > 0 && strings.TrimSpace(slides[0].Title) != "" {
		return slides[0].Title
	}
	if strings.TrimSpace(objective) != "" {
		return objective
	}
	return "Report"
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// draftTextOf extracts the draft stage's primary text.
func draftTextOf(delta *state.Delta) string {
	if delta == nil {
		return ""
	}
	if text, ok := delta.AnalysisResults["draft"]; ok && strings.TrimSpace(text) != "" {
		return text
	}
	for i := len(delta.Messages) - 1; i >= 0; i-- {
		if delta.Messages[i].Role == "assistant" {
			return delta.Messages[i].Content
		}
	}
	return ""
}

// slidePlanTextOf extracts the structuring stage's raw output.
func slidePlanTextOf(delta *state.Delta) string {
	if delta == nil {
		return ""
	}
	if text, ok := delta.AnalysisResults["slide_plan"]; ok && strings.TrimSpace(text) != "" {
		return text
	}
	for i := len(delta.Messages) - 1; i >= 0; i-- {
		if delta.Messages[i].Role == "assistant" {
			return delta.Messages[i].Content
		}
	}
	return ""
}
