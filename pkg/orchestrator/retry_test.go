package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/graph"
	"github.com/parchment-ai/deckhand/pkg/state"
)

// scriptedUnit returns one canned delta per invocation, recording the
// snapshot it received each time.
type scriptedUnit struct {
	deltas    []*state.Delta
	snapshots []*state.State
	calls     int
}

func (u *scriptedUnit) Invoke(ctx context.Context, snap *state.State) (*state.Delta, error) {
	u.snapshots = append(u.snapshots, snap)
	d := u.deltas[u.calls%len(u.deltas)]
	u.calls++
	return d, nil
}

func draftDelta(text string) *state.Delta {
	return &state.Delta{AnalysisResults: map[string]string{"draft": text}}
}

func TestRetryValidate_SucceedsAfterFailures(t *testing.T) {
	unit := &scriptedUnit{deltas: []*state.Delta{
		draftDelta("bad"),
		draftDelta("bad"),
		draftDelta("good"),
	}}
	validate := func(d *state.Delta) []string {
		if d.AnalysisResults["draft"] != "good" {
			return []string{"draft rejected"}
		}
		return nil
	}

	delta, err := RetryValidate(context.Background(), RetryConfig{
		UnitID:      "draft",
		Unit:        unit,
		Validate:    validate,
		MaxAttempts: 3,
	}, state.New("s1", "objective"))

	require.NoError(t, err)
	assert.Equal(t, "good", delta.AnalysisResults["draft"])
	assert.Equal(t, 3, unit.calls)
}

func TestRetryValidate_AccumulatesPriorErrors(t *testing.T) {
	unit := &scriptedUnit{deltas: []*state.Delta{
		draftDelta("first"),
		draftDelta("second"),
		draftDelta("third"),
	}}
	validate := func(d *state.Delta) []string {
		if d.AnalysisResults["draft"] == "third" {
			return nil
		}
		return []string{fmt.Sprintf("%s rejected", d.AnalysisResults["draft"])}
	}

	_, err := RetryValidate(context.Background(), RetryConfig{
		UnitID:      "draft",
		Unit:        unit,
		Validate:    validate,
		MaxAttempts: 3,
	}, state.New("s1", "objective"))
	require.NoError(t, err)

	// The third snapshot's guidance message carries both prior rejections.
	require.Len(t, unit.snapshots, 3)
	last := unit.snapshots[2].Messages
	require.NotEmpty(t, last)
	guidance := last[len(last)-1]
	assert.Equal(t, "system", guidance.Role)
	assert.Contains(t, guidance.Content, "Attempt 3")
	assert.Contains(t, guidance.Content, "first rejected")
	assert.Contains(t, guidance.Content, "second rejected")
}

func TestRetryValidate_ExhaustionCarriesLastErrors(t *testing.T) {
	unit := &scriptedUnit{deltas: []*state.Delta{draftDelta("nope")}}
	validate := func(d *state.Delta) []string { return []string{"always rejected"} }

	_, err := RetryValidate(context.Background(), RetryConfig{
		UnitID:      "draft",
		Unit:        unit,
		Validate:    validate,
		MaxAttempts: 4,
	}, state.New("s1", "objective"))

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRetriesExhausted))
	assert.Equal(t, 4, unit.calls)

	var de *errors.Error
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Details, "always rejected")
}

func TestRetryValidate_UnitErrorAbortsImmediately(t *testing.T) {
	calls := 0
	unit := graph.UnitFunc(func(ctx context.Context, snap *state.State) (*state.Delta, error) {
		calls++
		return nil, fmt.Errorf("model unavailable")
	})

	_, err := RetryValidate(context.Background(), RetryConfig{
		UnitID:      "draft",
		Unit:        unit,
		MaxAttempts: 3,
	}, state.New("s1", "objective"))

	require.EqualError(t, err, "model unavailable")
	assert.Equal(t, 1, calls)
}

func TestRetryValidate_RequiredCallsPerAttempt(t *testing.T) {
	// Attempt 1 makes no call, attempt 2 makes a failed call, attempt 3
	// makes a clean one. Only the clean call satisfies the contract.
	unit := &scriptedUnit{deltas: []*state.Delta{
		draftDelta("text"),
		{
			AnalysisResults: map[string]string{"draft": "text"},
			ToolCalls:       []state.ToolCall{{Name: "read_artifact", Error: "boom"}},
		},
		{
			AnalysisResults: map[string]string{"draft": "text"},
			ToolCalls:       []state.ToolCall{{Name: "read_artifact"}},
		},
	}}

	delta, err := RetryValidate(context.Background(), RetryConfig{
		UnitID:        "draft",
		Unit:          unit,
		RequiredCalls: []string{"read_artifact"},
		MaxAttempts:   3,
	}, state.New("s1", "objective"))

	require.NoError(t, err)
	assert.Equal(t, 3, unit.calls)
	require.Len(t, delta.ToolCalls, 1)
	assert.Empty(t, delta.ToolCalls[0].Error)
}

func TestRetryValidate_GuidanceNamesRequiredCalls(t *testing.T) {
	unit := &scriptedUnit{deltas: []*state.Delta{
		{ToolCalls: []state.ToolCall{{Name: "read_artifact"}}},
	}}

	_, err := RetryValidate(context.Background(), RetryConfig{
		UnitID:        "draft",
		Unit:          unit,
		RequiredCalls: []string{"read_artifact"},
		MaxAttempts:   1,
	}, state.New("s1", "objective"))
	require.NoError(t, err)

	msgs := unit.snapshots[0].Messages
	guidance := msgs[len(msgs)-1].Content
	assert.True(t, strings.Contains(guidance, "read_artifact"))
}

func TestRetryValidate_SnapshotNotMutated(t *testing.T) {
	st := state.New("s1", "objective")
	st.Messages = []state.Message{{Role: "user", Content: "hello"}}

	unit := &scriptedUnit{deltas: []*state.Delta{draftDelta("ok")}}
	_, err := RetryValidate(context.Background(), RetryConfig{
		UnitID:      "draft",
		Unit:        unit,
		MaxAttempts: 2,
	}, st)
	require.NoError(t, err)

	// The guidance message went to the attempt clone, not the caller's state.
	assert.Len(t, st.Messages, 1)
}
