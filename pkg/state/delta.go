package state

// Delta is a partial update produced by one unit invocation. Every field is
// optional: nil pointers and nil slices/maps mean "not set". Append-only
// fields (Messages, Reasoning, Trace, ToolCalls) concatenate on merge; maps
// merge key-wise with later writers winning; everything else is
// last-writer-wins when set.
//
// A non-nil but empty slice on an overwrite field is an explicit
// "set to empty", which matters for MissingDimensions.
type Delta struct {
	Objective          *string
	SelectedDimensions []string

	Messages  []Message
	Reasoning []string
	Trace     []TraceEntry
	ToolCalls []ToolCall

	AnalysisResults map[string]string
	ArtifactRefs    map[string]string

	Decision          *string
	MissingDimensions []string
	SynthesisRef      *string

	DraftRef    *string
	SlidePlan   []Slide
	DeckPath    *string
	TablePath   *string
	SummaryPath *string

	AwaitingInput *bool
	PendingPrompt *string

	Plan           []PlanTask
	CompletedUnits *int
	TotalUnits     *int
	Complete       *bool
}

// Str, Bool and Int build optional scalar fields for a Delta.
func Str(v string) *string { return &v }
func Bool(v bool) *bool    { return &v }
func Int(v int) *int       { return &v }

// Merge combines deltas in order into a single delta. Appending fields
// concatenate; scalar and overwrite fields take the last set value; maps
// merge key-wise. Merge is order-independent for keys that do not collide.
func Merge(deltas ...*Delta) *Delta {
	out := &Delta{}
	for _, d := range deltas {
		if d == nil {
			continue
		}
		out.apply(d)
	}
	return out
}

func (out *Delta) apply(d *Delta) {
	// Append-only fields.
	out.Messages = append(out.Messages, d.Messages...)
	out.Reasoning = append(out.Reasoning, d.Reasoning...)
	out.Trace = append(out.Trace, d.Trace...)
	out.ToolCalls = append(out.ToolCalls, d.ToolCalls...)

	// Key-wise map merges.
	if d.AnalysisResults != nil {
		if out.AnalysisResults == nil {
			out.AnalysisResults = make(map[string]string, len(d.AnalysisResults))
		}
		for k, v := range d.AnalysisResults {
			out.AnalysisResults[k] = v
		}
	}
	if d.ArtifactRefs != nil {
		if out.ArtifactRefs == nil {
			out.ArtifactRefs = make(map[string]string, len(d.ArtifactRefs))
		}
		for k, v := range d.ArtifactRefs {
			out.ArtifactRefs[k] = v
		}
	}

	// Last-writer-wins fields.
	if d.Objective != nil {
		out.Objective = d.Objective
	}
	if d.SelectedDimensions != nil {
		out.SelectedDimensions = d.SelectedDimensions
	}
	if d.Decision != nil {
		out.Decision = d.Decision
	}
	if d.MissingDimensions != nil {
		out.MissingDimensions = d.MissingDimensions
	}
	if d.SynthesisRef != nil {
		out.SynthesisRef = d.SynthesisRef
	}
	if d.DraftRef != nil {
		out.DraftRef = d.DraftRef
	}
	if d.SlidePlan != nil {
		out.SlidePlan = d.SlidePlan
	}
	if d.DeckPath != nil {
		out.DeckPath = d.DeckPath
	}
	if d.TablePath != nil {
		out.TablePath = d.TablePath
	}
	if d.SummaryPath != nil {
		out.SummaryPath = d.SummaryPath
	}
	if d.AwaitingInput != nil {
		out.AwaitingInput = d.AwaitingInput
	}
	if d.PendingPrompt != nil {
		out.PendingPrompt = d.PendingPrompt
	}
	if d.Plan != nil {
		out.Plan = d.Plan
	}
	if d.CompletedUnits != nil {
		out.CompletedUnits = d.CompletedUnits
	}
	if d.TotalUnits != nil {
		out.TotalUnits = d.TotalUnits
	}
	if d.Complete != nil {
		out.Complete = d.Complete
	}
}

// Apply folds a delta into the session record. Only the runner calls this;
// units work on clones and communicate through deltas.
func (s *State) Apply(d *Delta) {
	if d == nil {
		return
	}

	s.Messages = append(s.Messages, d.Messages...)
	s.Reasoning = append(s.Reasoning, d.Reasoning...)
	s.Trace = append(s.Trace, d.Trace...)
	s.ToolCalls = append(s.ToolCalls, d.ToolCalls...)

	if d.AnalysisResults != nil {
		if s.AnalysisResults == nil {
			s.AnalysisResults = make(map[string]string, len(d.AnalysisResults))
		}
		for k, v := range d.AnalysisResults {
			s.AnalysisResults[k] = v
		}
	}
	if d.ArtifactRefs != nil {
		if s.ArtifactRefs == nil {
			s.ArtifactRefs = make(map[string]string, len(d.ArtifactRefs))
		}
		for k, v := range d.ArtifactRefs {
			s.ArtifactRefs[k] = v
		}
	}

	if d.Objective != nil {
		s.Objective = *d.Objective
	}
	if d.SelectedDimensions != nil {
		s.SelectedDimensions = d.SelectedDimensions
	}
	if d.Decision != nil {
		s.Decision = *d.Decision
	}
	if d.MissingDimensions != nil {
		s.MissingDimensions = d.MissingDimensions
	}
	if d.SynthesisRef != nil {
		s.SynthesisRef = *d.SynthesisRef
	}
	if d.DraftRef != nil {
		s.DraftRef = *d.DraftRef
	}
	if d.SlidePlan != nil {
		s.SlidePlan = d.SlidePlan
	}
	if d.DeckPath != nil {
		s.DeckPath = *d.DeckPath
	}
	if d.TablePath != nil {
		s.TablePath = *d.TablePath
	}
	if d.SummaryPath != nil {
		s.SummaryPath = *d.SummaryPath
	}
	if d.AwaitingInput != nil {
		s.AwaitingInput = *d.AwaitingInput
	}
	if d.PendingPrompt != nil {
		s.PendingPrompt = *d.PendingPrompt
	}
	if d.Plan != nil {
		s.Plan = d.Plan
	}
	if d.CompletedUnits != nil {
		s.CompletedUnits = *d.CompletedUnits
	}
	if d.TotalUnits != nil {
		s.TotalUnits = *d.TotalUnits
	}
	if d.Complete != nil {
		s.Complete = *d.Complete
	}
}
