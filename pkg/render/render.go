// Package render turns assembled report content into files on disk: slide
// decks, tabular workbooks, and chart visuals.
package render

import (
	"context"
	"os"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

// Deck is a fully assembled slide deck ready for export.
type Deck struct {
	Title     string            `json:"title"`
	Objective string            `json:"objective"`
	Slides    []state.Slide     `json:"slides"`
	Visuals   map[string]string `json:"visuals,omitempty"`
}

// Table is tabular summary data destined for a workbook.
type Table struct {
	Name    string     `json:"name"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ChartSpec describes one visual to render.
type ChartSpec struct {
	ID     string               `json:"id"`
	Kind   string               `json:"kind"`
	Title  string               `json:"title"`
	Series map[string][]float64 `json:"series,omitempty"`
	Labels []string             `json:"labels,omitempty"`
}

// ChartRenderer produces a visual file from a spec and returns its path.
type ChartRenderer interface {
	Render(ctx context.Context, spec ChartSpec) (string, error)
}

// DeckExporter writes a deck to disk and returns the written path.
type DeckExporter interface {
	Export(ctx context.Context, deck *Deck) (string, error)
}

// TabularExporter writes a table to disk and returns the written path.
type TabularExporter interface {
	Export(ctx context.Context, table *Table) (string, error)
}

// VerifyPath confirms an exporter actually produced a non-empty file.
// Export paths feed directly into the final state record, so a claimed
// path that does not exist is an export failure, not a later surprise.
func VerifyPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExportFailed, "exported file missing")
	}
	if info.IsDir() || info.Size() == 0 {
		return errors.New(errors.ErrCodeExportFailed, "exported file is empty")
	}
	return nil
}
