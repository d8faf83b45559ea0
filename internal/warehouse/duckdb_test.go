package warehouse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/results"
)

func openMemory(t *testing.T) *Warehouse {
	t.Helper()
	w, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestPublishReplacesTable(t *testing.T) {
	w := openMemory(t)
	ctx := context.Background()

	require.NoError(t, w.Publish(ctx, &results.Table{
		Name:   "Pipedrive Deals",
		Header: []string{"id", "title", "org.name"},
		Rows:   [][]string{{"1", "First", "Acme"}, {"2", "Second"}},
	}))

	n, err := w.RowCount(ctx, "Pipedrive Deals")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := w.Query(ctx, "deals", `SELECT id, title, "org.name" FROM "Pipedrive Deals" ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "org.name"}, got.Header)
	assert.Equal(t, [][]string{{"1", "First", "Acme"}, {"2", "Second", ""}}, got.Rows)

	// a second publish with a different shape replaces the table
	require.NoError(t, w.Publish(ctx, &results.Table{
		Name:   "Pipedrive Deals",
		Header: []string{"id"},
		Rows:   [][]string{{"9"}},
	}))
	got, err = w.Query(ctx, "deals", `SELECT * FROM "Pipedrive Deals"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, got.Header)
	assert.Equal(t, [][]string{{"9"}}, got.Rows)
}

func TestPublishRejectsEmptyHeader(t *testing.T) {
	w := openMemory(t)
	err := w.Publish(context.Background(), &results.Table{Name: "Nothing"})
	assert.Error(t, err)
}

func TestColumnNames(t *testing.T) {
	assert.Equal(t,
		[]string{"id", "column_2", "ID_2", "name", "name_2"},
		columnNames([]string{"id", " ", "ID", "name", "name"}))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"Analysis"`, QuoteIdent("Analysis"))
	assert.Equal(t, `"say ""hi"""`, QuoteIdent(`say "hi"`))
}

func TestRecordAndListRuns(t *testing.T) {
	w := openMemory(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	first := RunRecord{
		RunID:       "run-1",
		StartedAt:   start,
		FinishedAt:  start.Add(time.Minute),
		EndpointsOK: 6,
		TargetsOK:   7,
		Records:     120,
		Targets: []TargetRecord{
			{Target: "Pipedrive Deals", Sink: "sheets", Rows: 40},
		},
	}
	second := RunRecord{
		RunID:           "run-2",
		StartedAt:       start.Add(24 * time.Hour),
		FinishedAt:      start.Add(24*time.Hour + time.Minute),
		EndpointsOK:     5,
		EndpointsFailed: 1,
		TargetsOK:       5,
		TargetsFailed:   1,
		Records:         100,
		AnalysisRows:    12,
		Targets: []TargetRecord{
			{Target: "Analysis", Sink: "sheets", Rows: 12},
			{Target: "Pipedrive Notes", Sink: "sheets", Error: "quota exceeded"},
		},
	}
	require.NoError(t, w.RecordRun(ctx, first))
	require.NoError(t, w.RecordRun(ctx, second))

	runs, err := w.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, 1, runs[0].EndpointsFailed)
	assert.Equal(t, 12, runs[0].AnalysisRows)
	assert.True(t, runs[0].StartedAt.Equal(second.StartedAt))
	require.Len(t, runs[0].Targets, 2)
	assert.ElementsMatch(t, second.Targets, runs[0].Targets)

	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Equal(t, first.Targets, runs[1].Targets)

	runs, err = w.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecordRunIsIdempotent(t *testing.T) {
	w := openMemory(t)
	ctx := context.Background()

	run := RunRecord{
		RunID:      "same",
		StartedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC),
		Targets:    []TargetRecord{{Target: "Analysis", Sink: "xlsx", Rows: 3}},
	}
	require.NoError(t, w.RecordRun(ctx, run))
	require.NoError(t, w.RecordRun(ctx, run))

	runs, err := w.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Targets, 1)
}

func TestOpenFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "crm.duckdb")
	w, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Publish(context.Background(), &results.Table{
		Name: "Analysis", Header: []string{"Month"}, Rows: [][]string{{"2024-03"}},
	}))
	require.NoError(t, w.Close())

	w, err = Open(path, nil)
	require.NoError(t, err)
	defer w.Close()
	n, err := w.RowCount(context.Background(), "Analysis")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
