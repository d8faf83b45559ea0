package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"crmsync/internal/config"
	"crmsync/internal/logging"
	"crmsync/internal/results"
)

// CSVDirPublisher writes each table to <dir>/<slug>.csv, replacing the
// previous file atomically.
type CSVDirPublisher struct {
	dir    string
	logger *slog.Logger
}

func NewCSVDirPublisher(dir string, logger *slog.Logger) (*CSVDirPublisher, error) {
	if dir == "" {
		return nil, config.NewConfigurationError("csv output directory is empty", nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &CSVDirPublisher{dir: dir, logger: logging.OrDiscard(logger)}, nil
}

func (p *CSVDirPublisher) Name() string {
	return config.SinkCSV
}

// Path returns the file a table with the given name is written to.
func (p *CSVDirPublisher) Path(table string) string {
	return filepath.Join(p.dir, FileSlug(table)+".csv")
}

func (p *CSVDirPublisher) Publish(ctx context.Context, t *results.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := p.Path(t.Name)
	tmp, err := os.CreateTemp(p.dir, ".crmsync-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := results.WriteCSV(tmp, t, ','); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}

	p.logger.Debug("wrote csv", "sink", p.Name(), "target", t.Name, "path", target, "rows", t.Len())
	return nil
}

// FileSlug turns a table name into a lowercase file name.
func FileSlug(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	slug := strings.TrimRight(b.String(), "_")
	if slug == "" {
		return "table"
	}
	return slug
}
