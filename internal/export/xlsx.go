package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"crmsync/internal/config"
	"crmsync/internal/logging"
	"crmsync/internal/results"
)

const (
	maxSheetNameLen = 31
	defaultSheet    = "Sheet1"
	staleSheet      = "~crmsync-replacing"
)

// WorkbookPublisher writes every table to its own worksheet of one xlsx
// workbook. Sheets it does not publish are left as they are.
type WorkbookPublisher struct {
	path        string
	file        *excelize.File
	fresh       bool // the file still holds only the default sheet
	headerStyle int
	logger      *slog.Logger
}

// NewWorkbookPublisher opens the workbook at path, or starts a new one when
// it does not exist yet.
func NewWorkbookPublisher(path string, logger *slog.Logger) (*WorkbookPublisher, error) {
	if path == "" {
		return nil, config.NewConfigurationError("xlsx output path is empty", nil)
	}

	var (
		file  *excelize.File
		fresh bool
	)
	switch _, err := os.Stat(path); {
	case err == nil:
		file, err = excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		file = excelize.NewFile()
		fresh = true
	default:
		return nil, fmt.Errorf("failed to stat workbook %s: %w", path, err)
	}

	style, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	return &WorkbookPublisher{
		path:        path,
		file:        file,
		fresh:       fresh,
		headerStyle: style,
		logger:      logging.OrDiscard(logger),
	}, nil
}

func (p *WorkbookPublisher) Name() string {
	return config.SinkXLSX
}

// Publish replaces the worksheet named after the table and saves the
// workbook.
func (p *WorkbookPublisher) Publish(ctx context.Context, t *results.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sheet := SheetName(t.Name)
	if err := p.resetSheet(sheet); err != nil {
		return err
	}

	for r, row := range t.Values() {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := p.file.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", r+1, sheet, err)
		}
	}

	if len(t.Header) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(t.Header), 1)
		if err := p.file.SetCellStyle(sheet, "A1", last, p.headerStyle); err != nil {
			return fmt.Errorf("failed to style header of %s: %w", sheet, err)
		}
		// Freeze header row
		if err := p.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("failed to freeze header of %s: %w", sheet, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := p.file.SaveAs(p.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", p.path, err)
	}

	p.logger.Debug("wrote worksheet", "sink", p.Name(), "target", sheet, "rows", t.Len())
	return nil
}

// resetSheet leaves an empty worksheet called sheet in the workbook.
func (p *WorkbookPublisher) resetSheet(sheet string) error {
	if p.fresh {
		p.fresh = false
		if sheet == defaultSheet {
			return nil
		}
		return p.file.SetSheetName(defaultSheet, sheet)
	}

	idx, err := p.file.GetSheetIndex(sheet)
	if err != nil {
		return err
	}
	if idx == -1 {
		_, err := p.file.NewSheet(sheet)
		return err
	}

	// A workbook must keep at least one sheet, so the old one is renamed
	// away before its replacement exists.
	stale := staleSheet
	if strings.EqualFold(sheet, stale) {
		stale += "~"
	}
	if err := p.file.SetSheetName(sheet, stale); err != nil {
		return err
	}
	if _, err := p.file.NewSheet(sheet); err != nil {
		return err
	}
	return p.file.DeleteSheet(stale)
}

// Close releases the workbook. Published sheets are already saved.
func (p *WorkbookPublisher) Close() error {
	return p.file.Close()
}

// SheetName makes a table name acceptable as an Excel worksheet name.
func SheetName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	clean = strings.Trim(clean, "'")
	if clean == "" {
		clean = "Table"
	}
	if r := []rune(clean); len(r) > maxSheetNameLen {
		clean = string(r[:maxSheetNameLen])
	}
	return clean
}
