package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// WriteCSV writes the header and rows as CSV.
func WriteCSV(w io.Writer, t *Table, delimiter rune) error {
	writer := csv.NewWriter(w)
	if delimiter != 0 {
		writer.Comma = delimiter
	}

	if err := writer.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range t.Rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteJSON writes the table as an array of objects keyed by header.
func WriteJSON(w io.Writer, t *Table, prettify bool) error {
	encoder := json.NewEncoder(w)
	if prettify {
		encoder.SetIndent("", "  ")
	}

	objects := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		obj := make(map[string]string, len(t.Header))
		for i, col := range t.Header {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		objects = append(objects, obj)
	}

	if err := encoder.Encode(objects); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

// ExportToFile writes the table to outputPath in the given format,
// creating parent directories as needed.
func ExportToFile(t *Table, format ExportFormat, outputPath string) error {
	// Create output directory if needed
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s file: %w", format, err)
	}
	defer file.Close()

	switch format {
	case FormatCSV:
		err = WriteCSV(file, t, ',')
	case FormatTSV:
		err = WriteCSV(file, t, '\t')
	case FormatJSON:
		err = WriteJSON(file, t, true)
	default:
		err = fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// FormatTable formats a table for console display
func FormatTable(t *Table, opts TableDisplayOptions) []string {
	if t.Empty() {
		return []string{"No data returned"}
	}

	headers := t.Header
	if opts.MaxColumns > 0 && len(headers) > opts.MaxColumns {
		headers = headers[:opts.MaxColumns]
	}

	// Limit rows for display
	displayRows := t.Rows
	if opts.MaxRows > 0 && len(displayRows) > opts.MaxRows {
		displayRows = displayRows[:opts.MaxRows]
	}

	maxWidth := opts.MaxColWidth
	if maxWidth <= 0 {
		maxWidth = 30
	}

	// Format cells before measuring
	cells := make([][]string, len(displayRows))
	for r, row := range displayRows {
		cells[r] = make([]string, len(headers))
		for i := range headers {
			if i < len(row) {
				cells[r][i] = formatNumber(row[i])
			}
		}
	}

	// Calculate column widths
	colWidths := make([]int, len(headers))
	for i, header := range headers {
		colWidths[i] = min(utf8.RuneCountInString(header), maxWidth)
	}
	for _, row := range cells {
		for i, cell := range row {
			colWidths[i] = max(colWidths[i], min(utf8.RuneCountInString(cell), maxWidth))
		}
	}

	var lines []string

	// Header line
	headerParts := make([]string, len(headers))
	for i, header := range headers {
		headerParts[i] = padOrTruncate(header, colWidths[i])
	}
	lines = append(lines, "| "+strings.Join(headerParts, " | ")+" |")

	// Separator line
	separatorParts := make([]string, len(headers))
	for i, width := range colWidths {
		separatorParts[i] = strings.Repeat("-", width+2)
	}
	lines = append(lines, "|"+strings.Join(separatorParts, "|")+"|")

	// Data lines
	for _, row := range cells {
		rowParts := make([]string, len(row))
		for i, cell := range row {
			rowParts[i] = padOrTruncate(cell, colWidths[i])
		}
		lines = append(lines, "| "+strings.Join(rowParts, " | ")+" |")
	}

	// Add summary if rows or columns were truncated
	if len(displayRows) < len(t.Rows) || len(headers) < len(t.Header) {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("Showing %d of %d rows, %d of %d columns",
			len(displayRows), len(t.Rows), len(headers), len(t.Header)))
	}

	return lines
}

// formatNumber trims float noise such as "3.000000" from numeric cells.
func formatNumber(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if val == float64(int64(val)) {
		return fmt.Sprintf("%.0f", val)
	}
	return strconv.FormatFloat(val, 'f', -1, 64)
}

// Helper functions
func padOrTruncate(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n > width {
		r := []rune(s)
		if width > 3 {
			return string(r[:width-3]) + "..."
		}
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-n)
}
