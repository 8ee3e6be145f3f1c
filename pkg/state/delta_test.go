package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_AppendFieldsConcatenate(t *testing.T) {
	merged := Merge(
		&Delta{Reasoning: []string{"first"}},
		&Delta{Reasoning: []string{"second"}},
	)

	assert.Equal(t, []string{"first", "second"}, merged.Reasoning)
}

func TestMerge_ScalarsLastWriterWins(t *testing.T) {
	merged := Merge(
		&Delta{Decision: Str("incomplete")},
		&Delta{Decision: Str("complete")},
	)

	require.NotNil(t, merged.Decision)
	assert.Equal(t, "complete", *merged.Decision)
}

func TestMerge_UnsetScalarDoesNotClobber(t *testing.T) {
	merged := Merge(
		&Delta{Decision: Str("complete")},
		&Delta{Reasoning: []string{"note"}},
	)

	require.NotNil(t, merged.Decision)
	assert.Equal(t, "complete", *merged.Decision)
}

func TestMerge_MapsMergeKeywise(t *testing.T) {
	merged := Merge(
		&Delta{AnalysisResults: map[string]string{"trend": "up"}},
		&Delta{AnalysisResults: map[string]string{"segment": "retail"}},
		&Delta{AnalysisResults: map[string]string{"trend": "flat"}},
	)

	assert.Equal(t, map[string]string{"trend": "flat", "segment": "retail"}, merged.AnalysisResults)
}

func TestMerge_OrderIndependentForDisjointKeys(t *testing.T) {
	a := &Delta{AnalysisResults: map[string]string{"trend": "up"}, DraftRef: Str("draft/1")}
	b := &Delta{AnalysisResults: map[string]string{"anomaly": "spike"}, DeckPath: Str("out/deck.json")}

	ab := Merge(a, b)
	ba := Merge(b, a)

	assert.Equal(t, ab.AnalysisResults, ba.AnalysisResults)
	assert.Equal(t, *ab.DraftRef, *ba.DraftRef)
	assert.Equal(t, *ab.DeckPath, *ba.DeckPath)
}

func TestMerge_CollidingListKeysPreserveMembership(t *testing.T) {
	a := &Delta{Reasoning: []string{"a1", "a2"}}
	b := &Delta{Reasoning: []string{"b1"}}

	ab := Merge(a, b).Reasoning
	ba := Merge(b, a).Reasoning

	assert.ElementsMatch(t, ab, ba)
	assert.Equal(t, []string{"a1", "a2", "b1"}, ab)
	assert.Equal(t, []string{"b1", "a1", "a2"}, ba)
}

func TestMerge_NilDeltasSkipped(t *testing.T) {
	merged := Merge(nil, &Delta{Reasoning: []string{"only"}}, nil)
	assert.Equal(t, []string{"only"}, merged.Reasoning)
}

func TestMerge_EmptyMissingDimensionsIsExplicit(t *testing.T) {
	merged := Merge(
		&Delta{MissingDimensions: []string{"forecast"}},
		&Delta{MissingDimensions: []string{}},
	)

	require.NotNil(t, merged.MissingDimensions)
	assert.Empty(t, merged.MissingDimensions)
}

func TestApply_FoldsDeltaIntoState(t *testing.T) {
	s := New("sess-1", "quarterly revenue review")
	s.Apply(&Delta{
		Messages:        []Message{{Role: "assistant", Content: "starting"}},
		Trace:           []TraceEntry{{ID: "t1", Unit: "planner", Success: true}},
		AnalysisResults: map[string]string{"trend": "up"},
		Decision:        Str("complete"),
		CompletedUnits:  Int(2),
		Complete:        Bool(true),
	})

	assert.Len(t, s.Messages, 1)
	assert.Len(t, s.Trace, 1)
	assert.Equal(t, "up", s.AnalysisResults["trend"])
	assert.Equal(t, "complete", s.Decision)
	assert.Equal(t, 2, s.CompletedUnits)
	assert.True(t, s.Complete)
}

func TestApply_AppendOnlyFieldsOnlyGrow(t *testing.T) {
	s := New("sess-1", "obj")
	s.Apply(&Delta{Reasoning: []string{"one"}})
	s.Apply(&Delta{Reasoning: []string{"two"}})
	s.Apply(&Delta{Decision: Str("complete")})

	assert.Equal(t, []string{"one", "two"}, s.Reasoning)
}

func TestClone_IsDeep(t *testing.T) {
	s := New("sess-1", "obj")
	s.Apply(&Delta{
		Reasoning:       []string{"note"},
		AnalysisResults: map[string]string{"trend": "up"},
		Plan:            []PlanTask{{ID: "p1", Title: "analyze", Status: TaskTodo}},
	})

	clone := s.Clone()
	clone.Reasoning[0] = "mutated"
	clone.AnalysisResults["trend"] = "down"
	clone.Plan[0].Status = TaskDone

	assert.Equal(t, "note", s.Reasoning[0])
	assert.Equal(t, "up", s.AnalysisResults["trend"])
	assert.Equal(t, TaskTodo, s.Plan[0].Status)
}

func TestPlanHelpers(t *testing.T) {
	plan := []PlanTask{
		{ID: "a", Status: TaskDone},
		{ID: "b", Status: TaskInProgress, Subtasks: []PlanTask{
			{ID: "b1", Status: TaskDone},
			{ID: "b2", Status: TaskTodo},
		}},
	}

	assert.Equal(t, 4, CountTasks(plan))
	assert.Equal(t, 2, CountByStatus(plan, TaskDone))
	assert.False(t, AllDone(plan))
	require.NotNil(t, FindTask(plan, "b2"))
	assert.Nil(t, FindTask(plan, "zz"))

	FindTask(plan, "b").Status = TaskDone
	FindTask(plan, "b2").Status = TaskDone
	assert.True(t, AllDone(plan))
}
