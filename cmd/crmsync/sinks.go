package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"crmsync/internal/config"
	"crmsync/internal/export"
	"crmsync/internal/sheets"
	syncrun "crmsync/internal/sync"
	"crmsync/internal/warehouse"
)

// sinkSet holds the publishers selected by outputs.sinks. A nil set has no
// publishers.
type sinkSet struct {
	publishers []syncrun.Publisher
	warehouse  *warehouse.Warehouse
	closers    []func() error
}

func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sinkSet, error) {
	set := &sinkSet{}
	for _, name := range cfg.Outputs.Sinks {
		switch strings.ToLower(name) {
		case config.SinkSheets:
			pub, err := sheets.New(ctx, cfg.Google, logger)
			if err != nil {
				set.Close()
				return nil, err
			}
			set.publishers = append(set.publishers, pub)

		case config.SinkXLSX:
			pub, err := export.NewWorkbookPublisher(cfg.Outputs.XLSXPath, logger)
			if err != nil {
				set.Close()
				return nil, err
			}
			set.publishers = append(set.publishers, pub)
			set.closers = append(set.closers, pub.Close)

		case config.SinkCSV:
			pub, err := export.NewCSVDirPublisher(cfg.Outputs.CSVDir, logger)
			if err != nil {
				set.Close()
				return nil, err
			}
			set.publishers = append(set.publishers, pub)

		case config.SinkDuckDB:
			wh, err := warehouse.Open(cfg.Outputs.DuckDBPath, logger)
			if err != nil {
				set.Close()
				return nil, err
			}
			set.publishers = append(set.publishers, wh)
			set.warehouse = wh
			set.closers = append(set.closers, wh.Close)

		default:
			set.Close()
			return nil, config.NewConfigurationError(fmt.Sprintf("unknown sink %q", name), nil)
		}
	}
	return set, nil
}

func (s *sinkSet) Publishers() []syncrun.Publisher {
	if s == nil {
		return nil
	}
	return s.publishers
}

// Recorder returns the run history store, or nil when duckdb is not a sink.
func (s *sinkSet) Recorder() syncrun.RunRecorder {
	if s == nil || s.warehouse == nil {
		return nil
	}
	return s.warehouse
}

func (s *sinkSet) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}
