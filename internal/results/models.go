package results

// Table is a named grid of cell text: one header row plus data rows. It is
// the unit every sink publishes.
type Table struct {
	Name   string     `json:"name"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Empty reports whether the table has no data rows.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// Values returns header and rows as one grid.
func (t *Table) Values() [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, t.Header)
	return append(out, t.Rows...)
}

// Width returns the widest row, header included.
func (t *Table) Width() int {
	w := len(t.Header)
	for _, row := range t.Rows {
		w = max(w, len(row))
	}
	return w
}

// ExportFormat represents supported export formats
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatTSV  ExportFormat = "tsv"
)

// TableOptions controls how records become rows.
type TableOptions struct {
	Flatten   bool
	Separator string
}

// TableDisplayOptions represents options for formatting console output
type TableDisplayOptions struct {
	MaxRows     int // Maximum rows to display
	MaxColWidth int // Maximum column width
	MaxColumns  int // Maximum columns to display, 0 for all
}

// DefaultDisplayOptions returns sensible defaults for table display
func DefaultDisplayOptions() TableDisplayOptions {
	return TableDisplayOptions{
		MaxRows:     20,
		MaxColWidth: 24,
		MaxColumns:  8,
	}
}
