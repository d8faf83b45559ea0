// Package schedule repeats a job on a cron expression. A tick that fires
// while the previous run is still going is skipped.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"crmsync/internal/config"
	"crmsync/internal/logging"
)

// Job is one scheduled unit of work. ctx is cancelled when the scheduler
// stops.
type Job func(ctx context.Context)

// Scheduler runs a Job on a standard five-field cron expression or a
// descriptor such as @hourly or @every 30m.
type Scheduler struct {
	spec     string
	location *time.Location
	schedule cron.Schedule
	job      Job
	logger   *slog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New parses spec in the given IANA timezone; an empty timezone means the
// local one.
func New(spec, timezone string, job Job, logger *slog.Logger) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, config.NewConfigurationError(fmt.Sprintf("unknown timezone %q", timezone), err)
		}
		loc = l
	}

	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, config.NewConfigurationError(fmt.Sprintf("invalid cron expression %q", spec), err)
	}

	return &Scheduler{
		spec:     spec,
		location: loc,
		schedule: schedule,
		job:      job,
		logger:   logging.OrDiscard(logger),
	}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// Run blocks until ctx is cancelled, then waits for a running job to
// return.
func (s *Scheduler) Run(ctx context.Context) error {
	log := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.job(ctx)
	}))

	c.Start()
	s.logger.Info("scheduler started", "cron", s.spec, "timezone", s.location.String(), "next", s.Next(time.Now()))

	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
