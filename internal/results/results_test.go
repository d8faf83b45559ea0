package results

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crmsync/internal/analysis"
	"crmsync/internal/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRecordsUnionsColumns(t *testing.T) {
	records, err := normalize.DecodeRecords([]byte(`[
		{"id": 1, "title": "A", "value": 10.0},
		{"id": 2, "org_id": {"value": 3, "name": "Acme"}, "title": null},
		{"id": 3, "extra": true}
	]`))
	require.NoError(t, err)

	table := FromRecords("Pipedrive Deals", records, TableOptions{})

	assert.Equal(t, "Pipedrive Deals", table.Name)
	assert.Equal(t, []string{"id", "title", "value", "org_id", "extra"}, table.Header)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, []string{"1", "A", "10.0", "", ""}, table.Rows[0])
	assert.Equal(t, []string{"2", "", "", `{"value":3,"name":"Acme"}`, ""}, table.Rows[1])
	assert.Equal(t, []string{"3", "", "", "", "true"}, table.Rows[2])
}

func TestFromRecordsFlatten(t *testing.T) {
	records := []normalize.Record{
		normalize.RecordOf("id", 1, "org_id", normalize.RecordOf("value", 3, "name", "Acme")),
		normalize.RecordOf("id", 2, "org_id", nil),
	}

	table := FromRecords("t", records, TableOptions{Flatten: true, Separator: "_"})
	assert.Equal(t, []string{"id", "org_id_value", "org_id_name", "org_id"}, table.Header)
	assert.Equal(t, []string{"1", "3", "Acme", ""}, table.Rows[0])
	assert.Equal(t, []string{"2", "", "", ""}, table.Rows[1])
}

func TestFromAnalysis(t *testing.T) {
	name := "Acme"
	rows := []analysis.Row{{
		BucketKey: analysis.BucketKey{
			Month:          normalize.Month{Year: 2024, Month: 3},
			OrganizationID: normalize.SomeID("1"),
			OwnerID:        normalize.NullID,
		},
		OrganizationName: &name,
		Counters:         analysis.Counters{ActivitiesTotal: 3, DealsWon: 1},
	}}

	table := FromAnalysis("Analysis", rows)
	assert.Equal(t, analysis.Header, table.Header)
	assert.Equal(t, []string{"2024-03", "1", "Acme", "", "", "3", "0", "0", "1", "0"}, table.Rows[0])
}

func TestWriteCSV(t *testing.T) {
	table := &Table{Header: []string{"id", "note"}, Rows: [][]string{{"1", "hello, world"}}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table, ','))
	assert.Equal(t, "id,note\n1,\"hello, world\"\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	table := &Table{Header: []string{"id", "name"}, Rows: [][]string{{"1", "a"}, {"2"}}}

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, table, false))

	var got []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []map[string]string{{"id": "1", "name": "a"}, {"id": "2"}}, got)
}

func TestExportToFile(t *testing.T) {
	table := &Table{Header: []string{"a", "b"}, Rows: [][]string{{"1", "2"}}}
	path := filepath.Join(t.TempDir(), "out", "table.tsv")

	require.NoError(t, ExportToFile(table, FormatTSV, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\tb\n1\t2\n", string(data))

	assert.Error(t, ExportToFile(table, "xml", filepath.Join(t.TempDir(), "x.xml")))
}

func TestFormatTable(t *testing.T) {
	table := &Table{
		Header: []string{"id", "title"},
		Rows: [][]string{
			{"1", "A very long deal title indeed"},
			{"2.0", "short"},
			{"3", "third"},
		},
	}

	lines := FormatTable(table, TableDisplayOptions{MaxRows: 2, MaxColWidth: 10})
	require.Len(t, lines, 6)
	assert.Equal(t, "| id | title      |", lines[0])
	assert.Equal(t, "| 1  | A very ... |", lines[2])
	assert.Equal(t, "| 2  | short      |", lines[3])
	assert.True(t, strings.HasPrefix(lines[5], "Showing 2 of 3 rows"))

	assert.Equal(t, []string{"No data returned"}, FormatTable(&Table{}, DefaultDisplayOptions()))
}
