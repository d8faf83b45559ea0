package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"crmsync/internal/config"
	"crmsync/internal/logging"
	"crmsync/internal/results"
)

const (
	// Size of a newly created worksheet; grown when a table needs more.
	DefaultRows    = 1000
	DefaultColumns = 50

	valueInputRaw = "RAW"
)

// grid is what the publisher knows about an existing worksheet.
type grid struct {
	sheetID int64
	rows    int64
	columns int64
}

// Publisher rewrites worksheets of one spreadsheet: each Publish clears the
// target sheet and writes the table at A1.
type Publisher struct {
	service       *gsheets.Service
	spreadsheetID string
	timeout       time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	grids  map[string]grid
	loaded bool
}

// New creates a publisher for the configured spreadsheet. Without opts the
// service authenticates with the configured service-account credentials.
func New(ctx context.Context, cfg config.GoogleConfig, logger *slog.Logger, opts ...option.ClientOption) (*Publisher, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, config.NewConfigurationError("spreadsheet id is not configured (set SPREADSHEET_ID)", nil)
	}
	if len(opts) == 0 {
		auth, err := ClientOptions(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = auth
	}

	service, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Publisher{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		timeout:       cfg.Timeout,
		logger:        logging.OrDiscard(logger),
		grids:         make(map[string]grid),
	}, nil
}

func (p *Publisher) Name() string {
	return config.SinkSheets
}

// Publish clears the worksheet named after t and writes its header and rows,
// creating or growing the worksheet first when needed.
func (p *Publisher) Publish(ctx context.Context, t *results.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := t.Values()
	width := int64(t.Width())
	height := int64(len(values))

	if err := p.ensureSheet(ctx, t.Name, height, width); err != nil {
		return err
	}

	rng := QuoteSheet(t.Name)
	callCtx, cancel := p.callContext(ctx)
	_, err := p.service.Spreadsheets.Values.Clear(p.spreadsheetID, rng, &gsheets.ClearValuesRequest{}).
		Context(callCtx).Do()
	cancel()
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", rng, err)
	}

	rows := make([][]interface{}, len(values))
	for i, row := range values {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		rows[i] = cells
	}

	callCtx, cancel = p.callContext(ctx)
	defer cancel()
	_, err = p.service.Spreadsheets.Values.Update(p.spreadsheetID, rng+"!A1", &gsheets.ValueRange{Values: rows}).
		ValueInputOption(valueInputRaw).
		Context(callCtx).Do()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", rng, err)
	}

	p.logger.Debug("wrote worksheet", "sink", p.Name(), "target", t.Name, "rows", t.Len())
	return nil
}

// ensureSheet makes sure the worksheet exists with at least rows x columns
// cells.
func (p *Publisher) ensureSheet(ctx context.Context, title string, rows, columns int64) error {
	if err := p.loadGrids(ctx); err != nil {
		return err
	}

	existing, ok := p.grids[title]
	if !ok {
		props := &gsheets.SheetProperties{
			Title: title,
			GridProperties: &gsheets.GridProperties{
				RowCount:    max(DefaultRows, rows),
				ColumnCount: max(DefaultColumns, columns),
			},
		}
		resp, err := p.batchUpdate(ctx, &gsheets.Request{AddSheet: &gsheets.AddSheetRequest{Properties: props}})
		if err != nil {
			return fmt.Errorf("failed to add worksheet %s: %w", title, err)
		}
		g := grid{rows: props.GridProperties.RowCount, columns: props.GridProperties.ColumnCount}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
			g.sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
		p.grids[title] = g
		p.logger.Info("created worksheet", "target", title)
		return nil
	}

	if existing.rows >= rows && existing.columns >= columns {
		return nil
	}

	grown := grid{
		sheetID: existing.sheetID,
		rows:    max(existing.rows, rows),
		columns: max(existing.columns, columns),
	}
	_, err := p.batchUpdate(ctx, &gsheets.Request{UpdateSheetProperties: &gsheets.UpdateSheetPropertiesRequest{
		Properties: &gsheets.SheetProperties{
			SheetId: grown.sheetID,
			GridProperties: &gsheets.GridProperties{
				RowCount:    grown.rows,
				ColumnCount: grown.columns,
			},
		},
		Fields: "gridProperties(rowCount,columnCount)",
	}})
	if err != nil {
		return fmt.Errorf("failed to resize worksheet %s: %w", title, err)
	}
	p.grids[title] = grown
	return nil
}

// loadGrids reads the worksheet list once per publisher.
func (p *Publisher) loadGrids(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	callCtx, cancel := p.callContext(ctx)
	defer cancel()
	spreadsheet, err := p.service.Spreadsheets.Get(p.spreadsheetID).
		Fields("sheets.properties").
		Context(callCtx).Do()
	if err != nil {
		return fmt.Errorf("failed to read spreadsheet %s: %w", p.spreadsheetID, err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties == nil {
			continue
		}
		g := grid{sheetID: sheet.Properties.SheetId}
		if gp := sheet.Properties.GridProperties; gp != nil {
			g.rows = gp.RowCount
			g.columns = gp.ColumnCount
		}
		p.grids[sheet.Properties.Title] = g
	}
	p.loaded = true
	return nil
}

func (p *Publisher) batchUpdate(ctx context.Context, req *gsheets.Request) (*gsheets.BatchUpdateSpreadsheetResponse, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()
	return p.service.Spreadsheets.BatchUpdate(p.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{req},
	}).Context(callCtx).Do()
}

func (p *Publisher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

// QuoteSheet quotes a worksheet title for use in A1 notation.
func QuoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
