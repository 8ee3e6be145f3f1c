package render

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/parchment-ai/deckhand/pkg/errors"
)

// FileChartRenderer materializes chart specs as JSON visual files a
// presentation layer can render. Filenames derive from the spec ID so a
// slide plan can reference visuals before they exist.
type FileChartRenderer struct {
	outDir string
}

func NewFileChartRenderer(outDir string) *FileChartRenderer {
	return &FileChartRenderer{outDir: outDir}
}

func (r *FileChartRenderer) Render(ctx context.Context, spec ChartSpec) (string, error) {
	if spec.ID == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "chart spec requires an id")
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "create chart directory")
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "marshal chart spec")
	}

	path := filepath.Join(r.outDir, slugify(spec.ID)+".chart.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "write chart")
	}
	return path, nil
}
