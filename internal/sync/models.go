package sync

import (
	"context"
	"fmt"
	"time"

	"crmsync/internal/api"
	"crmsync/internal/config"
	"crmsync/internal/normalize"
	"crmsync/internal/results"
	"crmsync/internal/warehouse"
)

// Fetcher returns every record of one endpoint. It never fails outright;
// FetchResult.Err says why a stream ended early.
type Fetcher interface {
	FetchAll(ctx context.Context, spec config.EndpointSpec) *api.FetchResult
}

// Publisher replaces one named target with a table.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, t *results.Table) error
}

// RunRecorder stores the outcome of a finished run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run warehouse.RunRecord) error
}

// Options select what a run does.
type Options struct {
	DryRun bool     // fetch and aggregate, publish nothing
	Only   []string // endpoint names and/or "Analysis"; empty means everything
}

// PublishError reports a failed write of one target to one sink.
type PublishError struct {
	Target string
	Sink   string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s to %s: %v", e.Target, e.Sink, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// EndpointOutcome is what happened to one endpoint during a run.
type EndpointOutcome struct {
	Name      string
	Sheet     string
	Records   int
	Pages     int
	Requests  int
	Duration  time.Duration
	Published bool // the endpoint's table was selected for publishing
	Err       *api.UpstreamError
}

// TargetOutcome is the result of publishing one table to one sink.
type TargetOutcome struct {
	Target string
	Sink   string
	Rows   int
	Err    *PublishError
}

// AnalysisOutcome describes the aggregation step.
type AnalysisOutcome struct {
	Ran           bool
	Rows          int
	MissingInputs []string // inputs that were not configured or ended early
	Issues        []*normalize.DataShapeError
}

// Report carries every outcome of a run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Endpoints  []EndpointOutcome
	Targets    []TargetOutcome
	Analysis   AnalysisOutcome
	Skipped    []string         // tables not published because they were empty
	Tables     []*results.Table // built tables, kept for dry-run previews
	Err        error            // set when the run was cancelled
}

// FailedEndpoints returns the endpoints whose stream ended early.
func (r *Report) FailedEndpoints() []EndpointOutcome {
	var out []EndpointOutcome
	for _, e := range r.Endpoints {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}

// PublishErrors returns every failed target write.
func (r *Report) PublishErrors() []*PublishError {
	var out []*PublishError
	for _, t := range r.Targets {
		if t.Err != nil {
			out = append(out, t.Err)
		}
	}
	return out
}

// OK reports whether every endpoint and every target succeeded.
func (r *Report) OK() bool {
	return r.Err == nil && len(r.FailedEndpoints()) == 0 && len(r.PublishErrors()) == 0
}

// Record converts the report into a run history row.
func (r *Report) Record() warehouse.RunRecord {
	run := warehouse.RunRecord{
		RunID:        r.RunID,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DryRun:       r.DryRun,
		AnalysisRows: r.Analysis.Rows,
	}
	for _, e := range r.Endpoints {
		if e.Err != nil {
			run.EndpointsFailed++
		} else {
			run.EndpointsOK++
		}
		run.Records += e.Records
	}
	for _, t := range r.Targets {
		target := warehouse.TargetRecord{Target: t.Target, Sink: t.Sink, Rows: t.Rows}
		if t.Err != nil {
			run.TargetsFailed++
			target.Error = t.Err.Err.Error()
		} else {
			run.TargetsOK++
		}
		run.Targets = append(run.Targets, target)
	}
	return run
}
