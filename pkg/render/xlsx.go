package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/parchment-ai/deckhand/pkg/errors"
)

// XLSXExporter writes summary tables as .xlsx workbooks under outDir.
type XLSXExporter struct {
	outDir string
}

func NewXLSXExporter(outDir string) *XLSXExporter {
	return &XLSXExporter{outDir: outDir}
}

func (e *XLSXExporter) Export(ctx context.Context, table *Table) (string, error) {
	if table == nil || len(table.Headers) == 0 {
		return "", errors.New(errors.ErrCodeInvalidInput, "table requires headers")
	}
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "create export directory")
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := table.Name
	if sheet == "" {
		sheet = "Summary"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "name worksheet")
	}

	for col, header := range table.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeExportFailed, "resolve header cell")
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return "", errors.Wrap(err, errors.ErrCodeExportFailed, "write header")
		}
	}

	for rowIdx, row := range table.Rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return "", errors.Wrap(err, errors.ErrCodeExportFailed, "resolve data cell")
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return "", errors.Wrap(err, errors.ErrCodeExportFailed, "write cell")
			}
		}
	}

	path := filepath.Join(e.outDir, slugify(sheet)+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExportFailed, "save workbook")
	}
	if err := VerifyPath(path); err != nil {
		return "", err
	}
	return path, nil
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		out = fmt.Sprintf("table-%d", len(name))
	}
	return out
}
