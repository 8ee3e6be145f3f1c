// Package state holds the shared session record that flows through the
// report pipeline, and the delta type nodes use to describe partial updates.
// Nodes never mutate the record directly; the graph runner applies merged
// deltas between steps.
package state

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Message is one turn of the session conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ToolCall records one named tool invocation made by a unit.
type ToolCall struct {
	Name          string        `json:"name"`
	ArgsSummary   string        `json:"args_summary,omitempty"`
	ResultSummary string        `json:"result_summary,omitempty"`
	Error         string        `json:"error,omitempty"`
	Latency       time.Duration `json:"latency_ns,omitempty"`
}

// TraceEntry records one unit invocation. Entries are immutable once
// appended to the execution trace.
type TraceEntry struct {
	ID            string        `json:"id"`
	Unit          string        `json:"unit"`
	InputSummary  string        `json:"input_summary,omitempty"`
	OutputSummary string        `json:"output_summary,omitempty"`
	Tools         []string      `json:"tools,omitempty"`
	Latency       time.Duration `json:"latency_ns"`
	Success       bool          `json:"success"`
}

// NewTraceEntry creates a trace entry with a fresh ULID.
func NewTraceEntry(unit string) TraceEntry {
	return TraceEntry{ID: ulid.Make().String(), Unit: unit}
}

// Slide is one entry of the structured deck plan produced by the report
// stages. VisualRef is resolved to a rendered artifact path during assembly.
type Slide struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Bullets   []string `json:"bullets,omitempty"`
	VisualRef string   `json:"visual_ref,omitempty"`
}

// State is the single mutable record shared by one pipeline run. Append-only
// fields (Messages, Reasoning, Trace, ToolCalls) only grow; scalar fields are
// last-writer-wins; the type of a field never changes across the run.
type State struct {
	SessionID string `json:"session_id"`
	Objective string `json:"objective"`

	// SelectedDimensions is the active analysis subset. Empty means the
	// full catalog.
	SelectedDimensions []string `json:"selected_dimensions,omitempty"`

	// Append-only logs.
	Messages  []Message    `json:"messages,omitempty"`
	Reasoning []string     `json:"reasoning,omitempty"`
	Trace     []TraceEntry `json:"trace,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`

	// Per-dimension analysis summaries and content-store references.
	AnalysisResults map[string]string `json:"analysis_results,omitempty"`
	ArtifactRefs    map[string]string `json:"artifact_refs,omitempty"`

	// Synthesis outcome.
	Decision          string   `json:"decision,omitempty"`
	MissingDimensions []string `json:"missing_dimensions,omitempty"`
	SynthesisRef      string   `json:"synthesis_ref,omitempty"`

	// Report stage outputs.
	DraftRef    string  `json:"draft_ref,omitempty"`
	SlidePlan   []Slide `json:"slide_plan,omitempty"`
	DeckPath    string  `json:"deck_path,omitempty"`
	TablePath   string  `json:"table_path,omitempty"`
	SummaryPath string  `json:"summary_path,omitempty"`

	// Checkpoint gate.
	AwaitingInput bool   `json:"awaiting_input,omitempty"`
	PendingPrompt string `json:"pending_prompt,omitempty"`

	// Plan tasks and progress counters.
	Plan           []PlanTask `json:"plan,omitempty"`
	CompletedUnits int        `json:"completed_units"`
	TotalUnits     int        `json:"total_units"`
	Complete       bool       `json:"complete"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates a session record with defaults.
func New(sessionID, objective string) *State {
	return &State{
		SessionID:       sessionID,
		Objective:       objective,
		AnalysisResults: make(map[string]string),
		ArtifactRefs:    make(map[string]string),
		CreatedAt:       time.Now(),
	}
}

// Clone returns a deep copy. Units receive clones so that a misbehaving unit
// cannot mutate the shared record.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.SelectedDimensions = append([]string(nil), s.SelectedDimensions...)
	out.Messages = append([]Message(nil), s.Messages...)
	out.Reasoning = append([]string(nil), s.Reasoning...)
	out.Trace = cloneTrace(s.Trace)
	out.ToolCalls = append([]ToolCall(nil), s.ToolCalls...)
	out.AnalysisResults = cloneStringMap(s.AnalysisResults)
	out.ArtifactRefs = cloneStringMap(s.ArtifactRefs)
	out.MissingDimensions = append([]string(nil), s.MissingDimensions...)
	out.SlidePlan = CloneSlides(s.SlidePlan)
	out.Plan = ClonePlan(s.Plan)
	return &out
}

func cloneTrace(entries []TraceEntry) []TraceEntry {
	if entries == nil {
		return nil
	}
	out := make([]TraceEntry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Tools = append([]string(nil), e.Tools...)
	}
	return out
}

// CloneSlides deep-copies a slide list.
func CloneSlides(slides []Slide) []Slide {
	if slides == nil {
		return nil
	}
	out := make([]Slide, len(slides))
	for i, sl := range slides {
		out[i] = sl
		out[i].Bullets = append([]string(nil), sl.Bullets...)
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
