package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"crmsync/internal/config"
	"crmsync/internal/logging"
	"crmsync/internal/results"
)

// Warehouse mirrors every published table into DuckDB and keeps the run
// history.
type Warehouse struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open connects to the DuckDB file at path. An empty path opens an
// in-memory database.
func Open(path string, logger *slog.Logger) (*Warehouse, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
		}
	}

	// Connect to DuckDB
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}

	w := &Warehouse{db: db, path: path, logger: logging.OrDiscard(logger)}

	// Initialize history tables
	if err := w.initializeTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize warehouse tables: %w", err)
	}
	return w, nil
}

// Close closes the database connection
func (w *Warehouse) Close() error {
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}

func (w *Warehouse) Name() string {
	return config.SinkDuckDB
}

// initializeTables creates the run history tables
func (w *Warehouse) initializeTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_runs (
			run_id VARCHAR PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			dry_run BOOLEAN NOT NULL,
			endpoints_ok INTEGER NOT NULL,
			endpoints_failed INTEGER NOT NULL,
			targets_ok INTEGER NOT NULL,
			targets_failed INTEGER NOT NULL,
			records INTEGER NOT NULL,
			analysis_rows INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sync_targets (
			run_id VARCHAR NOT NULL,
			target VARCHAR NOT NULL,   -- sheet / table name
			sink VARCHAR NOT NULL,     -- 'sheets', 'xlsx', 'csv', 'duckdb'
			row_count INTEGER NOT NULL,
			error TEXT,                -- NULL on success
			recorded_at TIMESTAMP DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := w.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Publish replaces the table named after t with its current contents. All
// columns are VARCHAR, matching what the spreadsheet receives.
func (w *Warehouse) Publish(ctx context.Context, t *results.Table) error {
	columns := columnNames(t.Header)
	if len(columns) == 0 {
		return fmt.Errorf("table %q has no columns", t.Name)
	}

	// Replace table and rows in one transaction
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = QuoteIdent(c) + " VARCHAR"
	}
	table := QuoteIdent(t.Name)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for r, row := range t.Rows {
		for i := range args {
			if i < len(row) {
				args[i] = row[i]
			} else {
				args[i] = ""
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", r+1, t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", t.Name, err)
	}

	w.logger.Debug("mirrored table", "sink", w.Name(), "target", t.Name, "rows", t.Len())
	return nil
}

// RowCount returns the number of rows in a mirrored table.
func (w *Warehouse) RowCount(ctx context.Context, table string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return n, nil
}

// Query runs a read-only SQL statement and returns the result as a table.
func (w *Warehouse) Query(ctx context.Context, name, query string, args ...any) (*results.Table, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &results.Table{Name: name, Header: columns}
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		cells := make([]string, len(columns))
		for i, v := range values {
			cells[i] = v.String
		}
		table.Rows = append(table.Rows, cells)
	}
	return table, rows.Err()
}

// QuoteIdent quotes a table or column name for DuckDB.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnNames fills blank header cells and makes duplicates unique, since
// DuckDB compares column names case-insensitively.
func columnNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int)
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(name)
		if n := seen[key]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[key]++
		out[i] = name
	}
	return out
}

// RunRecord is one row of the run history.
type RunRecord struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	DryRun          bool
	EndpointsOK     int
	EndpointsFailed int
	TargetsOK       int
	TargetsFailed   int
	Records         int
	AnalysisRows    int
	Targets         []TargetRecord
}

// TargetRecord is the outcome of publishing one table to one sink.
type TargetRecord struct {
	Target string
	Sink   string
	Rows   int
	Error  string
}

// RecordRun stores a finished run and its per-target outcomes.
func (w *Warehouse) RecordRun(ctx context.Context, run RunRecord) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_runs
		(run_id, started_at, finished_at, dry_run, endpoints_ok, endpoints_failed, targets_ok, targets_failed, records, analysis_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.StartedAt, run.FinishedAt, run.DryRun, run.EndpointsOK, run.EndpointsFailed,
		run.TargetsOK, run.TargetsFailed, run.Records, run.AnalysisRows)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_targets WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("failed to clear run targets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_targets (run_id, target, sink, row_count, error)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare target insert: %w", err)
	}
	defer stmt.Close()

	for _, target := range run.Targets {
		var errText sql.NullString
		if target.Error != "" {
			errText = sql.NullString{String: target.Error, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, run.RunID, target.Target, target.Sink, target.Rows, errText); err != nil {
			return fmt.Errorf("failed to record target %s: %w", target.Target, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs first, with their targets.
func (w *Warehouse) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := w.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, dry_run, endpoints_ok, endpoints_failed,
		       targets_ok, targets_failed, records, analysis_rows
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.DryRun, &r.EndpointsOK, &r.EndpointsFailed,
			&r.TargetsOK, &r.TargetsFailed, &r.Records, &r.AnalysisRows); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		targets, err := w.runTargets(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Targets = targets
	}
	return runs, nil
}

func (w *Warehouse) runTargets(ctx context.Context, runID string) ([]TargetRecord, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT target, sink, row_count, error
		FROM sync_targets
		WHERE run_id = ?
		ORDER BY recorded_at, target, sink
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run targets: %w", err)
	}
	defer rows.Close()

	var targets []TargetRecord
	for rows.Next() {
		var t TargetRecord
		var errText sql.NullString
		if err := rows.Scan(&t.Target, &t.Sink, &t.Rows, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan run target: %w", err)
		}
		t.Error = errText.String
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
