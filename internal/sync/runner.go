// Package sync runs one complete pass: fetch every endpoint, aggregate the
// Analysis table and publish each table to every configured sink.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmsync/internal/analysis"
	"crmsync/internal/config"
	"crmsync/internal/logging"
	"crmsync/internal/normalize"
	"crmsync/internal/results"
)

// Runner executes sync runs. Endpoints are fetched one after another and
// every table is written to the publishers in order.
type Runner struct {
	cfg        *config.Config
	fetcher    Fetcher
	publishers []Publisher
	recorder   RunRecorder
	logger     *slog.Logger
	now        func() time.Time
}

func NewRunner(cfg *config.Config, fetcher Fetcher, publishers []Publisher, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		fetcher:    fetcher,
		publishers: publishers,
		logger:     logging.OrDiscard(logger),
		now:        time.Now,
	}
}

// SetRecorder stores every non-dry run through rec.
func (r *Runner) SetRecorder(rec RunRecorder) {
	r.recorder = rec
}

// SetClock replaces the clock used for timings and the Analysis window.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// selection resolves Options.Only against the configuration.
type selection struct {
	publish  map[string]bool // endpoint names (lowercase) whose tables are published
	analysis bool
	fetch    []config.EndpointSpec
}

func (r *Runner) selectTargets(opts Options) (*selection, error) {
	sel := &selection{publish: make(map[string]bool)}

	only := make(map[string]bool)
	var unknown []string
	for _, name := range opts.Only {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if key != strings.ToLower(config.AnalysisTarget) {
			if _, ok := r.cfg.Endpoint(name); !ok {
				unknown = append(unknown, name)
			}
		}
		only[key] = true
	}
	if len(unknown) > 0 {
		return nil, config.NewConfigurationError(
			fmt.Sprintf("unknown endpoint(s) %s", strings.Join(unknown, ", ")), nil)
	}

	all := len(only) == 0
	sel.analysis = r.cfg.Analysis.Enabled && (all || only[strings.ToLower(config.AnalysisTarget)])

	inputs := make(map[string]bool)
	if sel.analysis {
		for _, name := range r.cfg.Analysis.InputEndpoints() {
			inputs[strings.ToLower(name)] = true
		}
	}

	for _, ep := range r.cfg.Endpoints {
		key := strings.ToLower(ep.Name)
		named := only[key]
		if ep.Disabled && !named {
			continue
		}
		publish := all || named
		if publish {
			sel.publish[key] = true
		}
		if publish || inputs[key] {
			sel.fetch = append(sel.fetch, ep)
		}
	}
	return sel, nil
}

// Run performs one sync pass. Endpoint and publish failures are reported in
// the Report; the returned error is non-nil only for an invalid selection.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	sel, err := r.selectTargets(opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
		DryRun:    opts.DryRun,
	}
	logger := r.logger.With("run_id", report.RunID)
	logger.Info("sync started", "endpoints", len(sel.fetch), "analysis", sel.analysis, "dry_run", opts.DryRun)

	tableOpts := results.TableOptions{Flatten: r.cfg.Tables.Flatten, Separator: r.cfg.Tables.FlattenSeparator}
	fetched := make(map[string][]normalize.Record)
	failed := make(map[string]bool)

	for _, ep := range sel.fetch {
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}

		res := r.fetcher.FetchAll(ctx, ep)
		key := strings.ToLower(ep.Name)
		outcome := EndpointOutcome{
			Name:      ep.Name,
			Sheet:     ep.Sheet,
			Records:   len(res.Records),
			Pages:     res.Pages,
			Requests:  res.Requests,
			Duration:  res.Duration,
			Published: sel.publish[key],
			Err:       res.Err,
		}
		report.Endpoints = append(report.Endpoints, outcome)
		fetched[key] = res.Records
		if res.Err != nil {
			failed[key] = true
			logger.Warn("endpoint ended early", "endpoint", ep.Name, "records", len(res.Records), "error", res.Err)
		}

		if !outcome.Published {
			continue
		}
		r.publish(ctx, report, results.FromRecords(ep.Sheet, res.Records, tableOpts), logger)
	}

	if sel.analysis && report.Err == nil {
		r.analyze(ctx, report, fetched, failed, logger)
	}

	report.FinishedAt = r.now()
	if r.recorder != nil && !opts.DryRun {
		if err := r.recorder.RecordRun(ctx, report.Record()); err != nil {
			logger.Warn("failed to record run", "error", err)
		}
	}

	logger.Info("sync finished",
		"duration", report.FinishedAt.Sub(report.StartedAt),
		"failed_endpoints", len(report.FailedEndpoints()),
		"failed_targets", len(report.PublishErrors()))
	return report, nil
}

func (r *Runner) analyze(ctx context.Context, report *Report, fetched map[string][]normalize.Record, failed map[string]bool, logger *slog.Logger) {
	a := r.cfg.Analysis
	input := func(name string) []normalize.Record {
		key := strings.ToLower(name)
		recs, ok := fetched[key]
		if !ok || failed[key] {
			report.Analysis.MissingInputs = append(report.Analysis.MissingInputs, name)
		}
		return recs
	}
	in := analysis.Input{
		Activities:    input(a.Activities),
		Deals:         input(a.Deals),
		Organizations: input(a.Organizations),
		Users:         input(a.Users),
	}

	agg := analysis.NewAggregator(analysis.Options{Fields: a.Fields, Now: r.now()})
	rows := agg.Aggregate(in)

	report.Analysis.Ran = true
	report.Analysis.Rows = len(rows)
	report.Analysis.Issues = agg.Issues()
	for _, issue := range report.Analysis.Issues {
		logger.Debug("data shape issue", "field", issue.Field, "index", issue.Index, "reason", issue.Reason)
	}
	if len(report.Analysis.MissingInputs) > 0 {
		logger.Warn("analysis inputs incomplete", "inputs", report.Analysis.MissingInputs)
	}

	r.publish(ctx, report, results.FromAnalysis(a.Sheet, rows), logger)
}

// publish writes t to every publisher. Empty tables are skipped so the
// target keeps its previous contents.
func (r *Runner) publish(ctx context.Context, report *Report, t *results.Table, logger *slog.Logger) {
	report.Tables = append(report.Tables, t)
	if t.Empty() {
		report.Skipped = append(report.Skipped, t.Name)
		logger.Info("no rows, target left unchanged", "target", t.Name)
		return
	}
	if report.DryRun {
		return
	}

	for _, p := range r.publishers {
		outcome := TargetOutcome{Target: t.Name, Sink: p.Name(), Rows: t.Len()}
		if err := p.Publish(ctx, t); err != nil {
			outcome.Err = &PublishError{Target: t.Name, Sink: p.Name(), Err: err}
			logger.Error("publish failed", "target", t.Name, "sink", p.Name(), "error", err)
		} else {
			logger.Info("published", "target", t.Name, "sink", p.Name(), "rows", t.Len())
		}
		report.Targets = append(report.Targets, outcome)
	}
}
