package results

import (
	"strconv"

	"crmsync/internal/analysis"
	"crmsync/internal/normalize"
)

// FromRecords builds a table whose columns are the union of all record
// fields in first-seen order. Missing fields become empty cells.
func FromRecords(name string, records []normalize.Record, opts TableOptions) *Table {
	sep := opts.Separator
	if sep == "" {
		sep = "."
	}

	rows := records
	if opts.Flatten {
		rows = make([]normalize.Record, len(records))
		for i, rec := range records {
			rows[i] = normalize.Flatten(rec, sep)
		}
	}

	index := make(map[string]int)
	var header []string
	for _, rec := range rows {
		for _, k := range rec.Keys() {
			if _, ok := index[k]; !ok {
				index[k] = len(header)
				header = append(header, k)
			}
		}
	}

	table := &Table{Name: name, Header: header, Rows: make([][]string, 0, len(rows))}
	for _, rec := range rows {
		cells := make([]string, len(header))
		for _, k := range rec.Keys() {
			v, _ := rec.Get(k)
			cells[index[k]] = normalize.Stringify(v)
		}
		table.Rows = append(table.Rows, cells)
	}
	return table
}

// FromAnalysis renders aggregation rows with the Analysis header.
func FromAnalysis(name string, rows []analysis.Row) *Table {
	table := &Table{Name: name, Header: append([]string(nil), analysis.Header...), Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{
			r.Month.String(),
			r.OrganizationID.String(),
			nullable(r.OrganizationName),
			r.OwnerID.String(),
			nullable(r.OwnerName),
			strconv.Itoa(r.ActivitiesTotal),
			strconv.Itoa(r.ActivitiesLinked),
			strconv.Itoa(r.DealsCreated),
			strconv.Itoa(r.DealsWon),
			strconv.Itoa(r.DealsLost),
		})
	}
	return table
}

func nullable(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
