package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// ExportRecorder receives export metrics.
type ExportRecorder interface {
	ExportRun(ok bool)
}

// ExportJob exports the previous UTC day on a cron schedule.
type ExportJob struct {
	exporter domain.Exporter
	schedule cron.Schedule
	spec     string
	timeout  time.Duration
	metrics  ExportRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// NewExportJob parses spec as a standard five-field cron expression
// evaluated in UTC. metrics may be nil.
func NewExportJob(exporter domain.Exporter, spec string, timeout time.Duration, metrics ExportRecorder, logger *slog.Logger) (*ExportJob, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("pipeline: export schedule %q: %w", spec, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ExportJob{
		exporter: exporter,
		schedule: sched,
		spec:     spec,
		timeout:  timeout,
		metrics:  metrics,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "export_job")),
	}, nil
}

// Run blocks until ctx is cancelled, exporting yesterday at every firing.
// A run still in progress when the next one fires causes that firing to be
// skipped.
func (j *ExportJob) Run(ctx context.Context) error {
	cl := cronLogger{j.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(j.schedule, cron.FuncJob(func() {
		yesterday := j.now().UTC().AddDate(0, 0, -1)
		if _, err := j.RunOnce(ctx, yesterday); err != nil {
			j.logger.Error("scheduled export failed", slog.String("error", err.Error()))
		}
	}))

	j.logger.Info("export job starting",
		slog.String("schedule", j.spec),
		slog.Time("next", j.schedule.Next(j.now().UTC())),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("export job stopped")
	return nil
}

// RunOnce exports day immediately.
func (j *ExportJob) RunOnce(ctx context.Context, day time.Time) (domain.ExportResult, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	res, err := j.exporter.ExportDay(ctx, day)
	if j.metrics != nil {
		j.metrics.ExportRun(err == nil)
	}
	if err != nil {
		return res, fmt.Errorf("pipeline: export %s: %w", day.UTC().Format(time.DateOnly), err)
	}
	return res, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	*slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.Logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.Logger.Error(msg, append(keysAndValues, "error", err.Error())...)
}
