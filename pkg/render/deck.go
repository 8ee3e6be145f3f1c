package render

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/parchment-ai/deckhand/pkg/errors"
)

// JSONDeckExporter writes decks as structured JSON under outDir. The JSON
// form is the interchange format downstream presentation tooling consumes.
type JSONDeckExporter struct {
	outDir string
}

func NewJSONDeckExporter(outDir string) *JSONDeckExporter {
	return &JSONDeckExporter{outDir: outDir}
}

func (e *JSONDeckExporter) Export(ctx context.Context, deck *Deck) (string, error) {
	if deck == nil || len(deck.Slides) == 0 {
		return "", errors.New(errors.ErrCodeInvalidInput, "deck requires slides")
	}
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "create export directory")
	}

	data, err := json.MarshalIndent(deck, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "marshal deck")
	}

	name := slugify(deck.Title)
	if name == "" {
		name = "deck"
	}
	path := filepath.Join(e.outDir, name+".deck.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "write deck")
	}
	if err := VerifyPath(path); err != nil {
		return "", err
	}
	return path, nil
}
