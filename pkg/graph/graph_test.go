package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

func noteUnit(note string) Unit {
	return UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		return &state.Delta{Reasoning: []string{note}}, nil
	})
}

func TestBuilder_AddNodeDuplicate(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("plan", noteUnit("plan")))

	err := b.AddNode("plan", noteUnit("again"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNodeDuplicate))
}

func TestBuilder_AddNodeReservedName(t *testing.T) {
	b := NewBuilder()
	assert.Error(t, b.AddNode(End, noteUnit("x")))
	assert.Error(t, b.AddNode("", noteUnit("x")))
	assert.Error(t, b.AddNode("ok", nil))
}

func TestBuilder_CompileValidatesEdges(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("plan", noteUnit("plan")))
	b.SetEntry("plan")
	b.AddEdge("plan", "missing")

	_, err := b.Compile()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeGraphInvalid))
}

func TestBuilder_CompileValidatesConditionalTargets(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("plan", noteUnit("plan")))
	b.SetEntry("plan")
	b.AddConditionalEdge("plan", func(s *state.State) string { return "go" }, map[string]string{
		"go": "missing",
	})

	_, err := b.Compile()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeGraphInvalid))
}

func TestBuilder_CompileRequiresEntry(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("plan", noteUnit("plan")))

	_, err := b.Compile()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeGraphInvalid))
}

func TestRunner_LinearChainAppliesDeltasInOrder(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("one", noteUnit("one")))
	require.NoError(t, b.AddNode("two", noteUnit("two")))
	b.SetEntry("one").AddEdge("one", "two").AddEdge("two", End)

	g, err := b.Compile()
	require.NoError(t, err)

	var steps []string
	runner := NewRunner(g, WithStepFunc(func(node string, delta *state.Delta) {
		steps = append(steps, node)
	}))

	res, err := runner.Run(context.Background(), state.New("s", "obj"))
	require.NoError(t, err)
	assert.False(t, res.Paused)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"one", "two"}, steps)
	assert.Equal(t, []string{"one", "two"}, res.State.Reasoning)
}

func TestRunner_ConditionalRoutingSeesFreshDelta(t *testing.T) {
	// The decision inspects a field the routed-from node just set.
	b := NewBuilder()
	require.NoError(t, b.AddNode("decide", UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		return &state.Delta{Decision: state.Str("incomplete")}, nil
	})))
	require.NoError(t, b.AddNode("redo", noteUnit("redo")))
	require.NoError(t, b.AddNode("finish", noteUnit("finish")))
	b.SetEntry("decide")
	b.AddConditionalEdge("decide", func(s *state.State) string { return s.Decision }, map[string]string{
		"complete":   "finish",
		"incomplete": "redo",
	})
	b.AddEdge("redo", End).AddEdge("finish", End)

	g, err := b.Compile()
	require.NoError(t, err)

	res, err := NewRunner(g).Run(context.Background(), state.New("s", "obj"))
	require.NoError(t, err)
	assert.Equal(t, []string{"redo"}, res.State.Reasoning)
}

func TestRunner_UnmappedDecisionLabelFails(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("decide", noteUnit("decide")))
	require.NoError(t, b.AddNode("next", noteUnit("next")))
	b.SetEntry("decide")
	b.AddConditionalEdge("decide", func(s *state.State) string { return "surprise" }, map[string]string{
		"expected": "next",
	})
	b.AddEdge("next", End)

	g, err := b.Compile()
	require.NoError(t, err)

	_, err = NewRunner(g).Run(context.Background(), state.New("s", "obj"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownRoute))
}

func TestRunner_StepCeilingStopsRoutingLoops(t *testing.T) {
	invocations := 0
	b := NewBuilder()
	require.NoError(t, b.AddNode("loop", UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		invocations++
		return &state.Delta{}, nil
	})))
	b.SetEntry("loop").AddEdge("loop", "loop")

	g, err := b.Compile()
	require.NoError(t, err)

	_, err = NewRunner(g).Run(context.Background(), state.New("s", "obj"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStepCeiling))
	assert.Equal(t, DefaultMaxSteps, invocations)
}

func TestRunner_NodeErrorHaltsKeepingAppliedDeltas(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("ok", noteUnit("ok")))
	require.NoError(t, b.AddNode("boom", UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		return nil, fmt.Errorf("unit exploded")
	})))
	require.NoError(t, b.AddNode("never", noteUnit("never")))
	b.SetEntry("ok").AddEdge("ok", "boom").AddEdge("boom", "never").AddEdge("never", End)

	g, err := b.Compile()
	require.NoError(t, err)

	res, err := NewRunner(g).Run(context.Background(), state.New("s", "obj"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit exploded")
	// The first node's delta remains applied, the failing node's is discarded.
	assert.Equal(t, []string{"ok"}, res.State.Reasoning)
}

func TestRunner_UnitsReceiveClones(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("mutator", UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		// A misbehaving unit mutates its snapshot. The shared record
		// must be unaffected.
		snap.Objective = "hijacked"
		snap.Reasoning = append(snap.Reasoning, "sneaky")
		return &state.Delta{}, nil
	})))
	b.SetEntry("mutator").AddEdge("mutator", End)

	g, err := b.Compile()
	require.NoError(t, err)

	res, err := NewRunner(g).Run(context.Background(), state.New("s", "original"))
	require.NoError(t, err)
	assert.Equal(t, "original", res.State.Objective)
	assert.Empty(t, res.State.Reasoning)
}

type recordingSaver struct {
	saved   []string
	pending string
}

func (r *recordingSaver) Save(st *state.State, pendingNode string) error {
	r.saved = append(r.saved, pendingNode)
	r.pending = pendingNode
	return nil
}

func TestRunner_InterruptAndResume(t *testing.T) {
	counts := map[string]int{}
	count := func(name string) Unit {
		return UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
			counts[name]++
			return &state.Delta{Reasoning: []string{name}}, nil
		})
	}

	b := NewBuilder()
	require.NoError(t, b.AddNode("gate", UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		counts["gate"]++
		return &state.Delta{
			Reasoning:     []string{"gate"},
			AwaitingInput: state.Bool(true),
			PendingPrompt: state.Str("approve the analysis?"),
		}, nil
	})))
	require.NoError(t, b.AddNode("report", count("report")))
	b.SetEntry("gate").AddEdge("gate", "report").AddEdge("report", End)
	b.InterruptBefore("report")

	g, err := b.Compile()
	require.NoError(t, err)

	saver := &recordingSaver{}
	runner := NewRunner(g, WithSaver(saver))

	st := state.New("s", "obj")
	res, err := runner.Run(context.Background(), st)
	require.NoError(t, err)
	require.True(t, res.Paused)
	assert.Equal(t, "report", res.PendingNode)
	assert.Equal(t, []string{"report"}, saver.saved)
	assert.True(t, res.State.AwaitingInput)
	assert.Equal(t, "approve the analysis?", res.State.PendingPrompt)
	assert.Equal(t, 1, counts["gate"])
	assert.Equal(t, 0, counts["report"])

	// Resume with external input appended to the conversation.
	res.State.Apply(&state.Delta{
		Messages:      []state.Message{{Role: "user", Content: "X"}},
		AwaitingInput: state.Bool(false),
	})
	final, err := runner.ResumeFrom(context.Background(), res.State, res.PendingNode)
	require.NoError(t, err)
	assert.False(t, final.Paused)
	assert.Equal(t, 1, counts["gate"], "pre-pause node must not re-execute")
	assert.Equal(t, 1, counts["report"], "pending node runs exactly once post-resume")
	assert.Equal(t, []string{"gate", "report"}, final.State.Reasoning)
}

func TestRunner_ResumeFromUnknownNode(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("only", noteUnit("only")))
	b.SetEntry("only").AddEdge("only", End)

	g, err := b.Compile()
	require.NoError(t, err)

	_, err = NewRunner(g).ResumeFrom(context.Background(), state.New("s", "obj"), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownRoute))
}

func TestRunner_NoEdgeMeansEnd(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("solo", noteUnit("solo")))
	b.SetEntry("solo")

	g, err := b.Compile()
	require.NoError(t, err)

	res, err := NewRunner(g).Run(context.Background(), state.New("s", "obj"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)
}

func TestRunner_SkipFromRoutesPastNode(t *testing.T) {
	counts := map[string]int{}
	count := func(name string) Unit {
		return UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
			counts[name]++
			return &state.Delta{Reasoning: []string{name}}, nil
		})
	}

	b := NewBuilder()
	require.NoError(t, b.AddNode("flaky", count("flaky")))
	require.NoError(t, b.AddNode("after", count("after")))
	b.SetEntry("flaky").AddEdge("flaky", "after").AddEdge("after", End)

	g, err := b.Compile()
	require.NoError(t, err)

	res, err := NewRunner(g).SkipFrom(context.Background(), state.New("s", "obj"), "flaky")
	require.NoError(t, err)
	assert.False(t, res.Paused)
	assert.Equal(t, 0, counts["flaky"], "skipped node must not execute")
	assert.Equal(t, 1, counts["after"])
	assert.Equal(t, []string{"after"}, res.State.Reasoning)
}

func TestRunner_SkipFromConditionalNeedsDecision(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("decide", noteUnit("decide")))
	require.NoError(t, b.AddNode("next", noteUnit("next")))
	b.SetEntry("decide")
	b.AddConditionalEdge("decide", func(s *state.State) string { return s.Decision }, map[string]string{
		"complete": "next",
	})
	b.AddEdge("next", End)

	g, err := b.Compile()
	require.NoError(t, err)

	// Without the decision field set the outgoing edge cannot route.
	st := state.New("s", "obj")
	_, err = NewRunner(g).SkipFrom(context.Background(), st, "decide")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownRoute))

	st.Apply(&state.Delta{Decision: state.Str("complete")})
	res, err := NewRunner(g).SkipFrom(context.Background(), st, "decide")
	require.NoError(t, err)
	assert.Equal(t, []string{"next"}, res.State.Reasoning)
}

func TestRunner_SkipFromUnknownNode(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddNode("only", noteUnit("only")))
	b.SetEntry("only").AddEdge("only", End)

	g, err := b.Compile()
	require.NoError(t, err)

	_, err = NewRunner(g).SkipFrom(context.Background(), state.New("s", "obj"), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownRoute))
}
