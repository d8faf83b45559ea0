package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"crmsync/internal/results"
)

func dealsTable() *results.Table {
	return &results.Table{
		Name:   "Pipedrive Deals",
		Header: []string{"id", "title"},
		Rows:   [][]string{{"1", "First"}, {"2", "Second"}},
	}
}

func TestWorkbookPublisherWritesSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "crm.xlsx")

	pub, err := NewWorkbookPublisher(path, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, dealsTable()))
	require.NoError(t, pub.Publish(ctx, &results.Table{
		Name:   "Analysis",
		Header: []string{"Month", "Deals Won"},
		Rows:   [][]string{{"2024-03", "1"}},
	}))

	// republishing replaces the old contents
	smaller := dealsTable()
	smaller.Rows = smaller.Rows[:1]
	require.NoError(t, pub.Publish(ctx, smaller))
	require.NoError(t, pub.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Pipedrive Deals", "Analysis"}, f.GetSheetList())

	rows, err := f.GetRows("Pipedrive Deals")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "title"}, {"1", "First"}}, rows)

	rows, err = f.GetRows("Analysis")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Month", "Deals Won"}, {"2024-03", "1"}}, rows)
}

func TestWorkbookPublisherKeepsOtherSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Manual notes"))
	require.NoError(t, f.SetCellValue("Manual notes", "A1", "keep me"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	pub, err := NewWorkbookPublisher(path, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), dealsTable()))
	require.NoError(t, pub.Close())

	f, err = excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Manual notes", "A1")
	require.NoError(t, err)
	assert.Equal(t, "keep me", v)
	assert.Contains(t, f.GetSheetList(), "Pipedrive Deals")
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Deals_2024_Q1", SheetName("Deals/2024:Q1"))
	assert.Equal(t, "Table", SheetName("  "))
	assert.Len(t, []rune(SheetName("An extremely long worksheet name that overflows")), 31)
}

func TestCSVDirPublisher(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "csv")

	pub, err := NewCSVDirPublisher(dir, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), dealsTable()))

	path := pub.Path("Pipedrive Deals")
	assert.Equal(t, filepath.Join(dir, "pipedrive_deals.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,title\n1,First\n2,Second\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileSlug(t *testing.T) {
	assert.Equal(t, "pipedrive_deals", FileSlug("Pipedrive Deals"))
	assert.Equal(t, "analysis", FileSlug("  Analysis!! "))
	assert.Equal(t, "table", FileSlug("***"))
}

func TestPublishersHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub, err := NewCSVDirPublisher(t.TempDir(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, pub.Publish(ctx, dealsTable()), context.Canceled)
}
