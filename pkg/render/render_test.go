package render

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

func TestXLSXExporter_WritesWorkbook(t *testing.T) {
	exporter := NewXLSXExporter(t.TempDir())

	path, err := exporter.Export(context.Background(), &Table{
		Name:    "Dimension Summary",
		Headers: []string{"Dimension", "Finding"},
		Rows: [][]string{
			{"trend", "revenue grew 12%"},
			{"comparison", "ahead of segment median"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, VerifyPath(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Dimension Summary")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Dimension", "Finding"}, rows[0])
	assert.Equal(t, "trend", rows[1][0])
}

func TestXLSXExporter_RequiresHeaders(t *testing.T) {
	exporter := NewXLSXExporter(t.TempDir())

	_, err := exporter.Export(context.Background(), &Table{Name: "empty"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestJSONDeckExporter_RoundTrip(t *testing.T) {
	exporter := NewJSONDeckExporter(t.TempDir())

	deck := &Deck{
		Title:     "Q2 Revenue Review",
		Objective: "quarterly revenue review",
		Slides: []state.Slide{
			{ID: "s1", Title: "Overview", Bullets: []string{"revenue grew 12%"}},
			{ID: "s2", Title: "Trend", VisualRef: "charts/trend.chart.json"},
		},
	}

	path, err := exporter.Export(context.Background(), deck)
	require.NoError(t, err)
	assert.Contains(t, path, "q2-revenue-review.deck.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Deck
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, deck.Title, decoded.Title)
	require.Len(t, decoded.Slides, 2)
	assert.Equal(t, "charts/trend.chart.json", decoded.Slides[1].VisualRef)
}

func TestJSONDeckExporter_RejectsEmptyDeck(t *testing.T) {
	exporter := NewJSONDeckExporter(t.TempDir())

	_, err := exporter.Export(context.Background(), &Deck{Title: "empty"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestFileChartRenderer_WritesSpec(t *testing.T) {
	renderer := NewFileChartRenderer(t.TempDir())

	path, err := renderer.Render(context.Background(), ChartSpec{
		ID:    "trend-q2",
		Kind:  "line",
		Title: "Quarterly trend",
		Series: map[string][]float64{
			"revenue": {10.2, 11.1, 12.4},
		},
		Labels: []string{"Q4", "Q1", "Q2"},
	})
	require.NoError(t, err)
	assert.Contains(t, path, "trend-q2.chart.json")
	require.NoError(t, VerifyPath(path))

	_, err = renderer.Render(context.Background(), ChartSpec{Kind: "line"})
	assert.Error(t, err)
}

func TestVerifyPath(t *testing.T) {
	dir := t.TempDir()

	assert.Error(t, VerifyPath(dir+"/missing.xlsx"))
	assert.Error(t, VerifyPath(dir))

	empty := dir + "/empty.txt"
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	err := VerifyPath(empty)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExportFailed))
}
