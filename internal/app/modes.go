package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/notify"
	"github.com/alanyoungcy/basketbot/internal/pipeline"
	"github.com/alanyoungcy/basketbot/internal/report"
	"github.com/alanyoungcy/basketbot/internal/server"
	"github.com/alanyoungcy/basketbot/internal/server/handler"
	"github.com/alanyoungcy/basketbot/internal/server/ws"
	"github.com/alanyoungcy/basketbot/internal/service"
)

// RunMode runs the scheduler together with the API, the export job and the
// notifier until ctx is cancelled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	if err := a.seed(ctx, deps); err != nil {
		return err
	}

	extra := map[string]pipeline.Background{
		"notifier": notifierLoop{deps.Notifier},
	}
	if a.cfg.Server.Enabled {
		srv, hub := a.buildServer(deps)
		extra["api"] = srv
		extra["ws"] = hub
	}
	if a.cfg.Export.Enabled {
		job, err := a.exportJob(deps)
		if err != nil {
			return err
		}
		extra["export"] = job
	}

	return pipeline.NewOrchestrator(a.scheduler(deps), extra, a.logger).Run(ctx)
}

// APIMode serves the API without running cycles.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	if err := a.seed(ctx, deps); err != nil {
		return err
	}
	srv, hub := a.buildServer(deps)
	return pipeline.NewOrchestrator(nil, map[string]pipeline.Background{
		"api":      srv,
		"ws":       hub,
		"notifier": notifierLoop{deps.Notifier},
	}, a.logger).Run(ctx)
}

// OnceMode runs a single tick over every enabled bot and exits.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	if err := a.seed(ctx, deps); err != nil {
		return err
	}

	nctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		deps.Notifier.Run(nctx)
	}()
	defer func() {
		stop()
		<-done
	}()

	sum, err := a.scheduler(deps).Tick(ctx)
	if err != nil {
		return fmt.Errorf("app: once: %w", err)
	}
	outcomes := make([]any, 0, len(sum.Outcomes))
	for o, n := range sum.Outcomes {
		outcomes = append(outcomes, slog.Int(string(o), n))
	}
	a.logger.InfoContext(ctx, "tick complete",
		slog.Int("bots", sum.Bots),
		slog.Int("invalid", sum.Invalid),
		slog.Int("errors", sum.Errors),
		slog.Group("outcomes", outcomes...),
	)
	if sum.Errors > 0 {
		return fmt.Errorf("app: once: %d of %d cycles failed", sum.Errors, sum.Bots)
	}
	return nil
}

// StatusMode prints every bot with its snapshots and exits.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	st, err := a.status(deps)(ctx)
	if err != nil {
		return fmt.Errorf("app: status: %w", err)
	}
	bots, err := deps.Bots.List(ctx)
	if err != nil {
		return fmt.Errorf("app: status: %w", err)
	}
	views := make([]service.BotView, 0, len(bots))
	for _, b := range bots {
		v, err := deps.Bots.State(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("app: status: bot %d: %w", b.ID, err)
		}
		views = append(views, v)
	}
	report.Status(a.opts.Out, st, views)
	return nil
}

// ExportMode exports one day and exits.
func (a *App) ExportMode(ctx context.Context, deps *Dependencies) error {
	job, err := a.exportJob(deps)
	if err != nil {
		return err
	}
	day := a.opts.ExportDay
	if day.IsZero() {
		day = time.Now().UTC().AddDate(0, 0, -1)
	}
	res, err := job.RunOnce(ctx, day)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "export complete",
		slog.String("day", day.Format(time.DateOnly)),
		slog.Int("objects", len(res.Objects)),
		slog.Int("pruned", res.Pruned),
	)
	return nil
}

// seed upserts the [[bots]] entries. Invalid entries are logged and
// skipped; a store that accepts none of them aborts startup.
func (a *App) seed(ctx context.Context, deps *Dependencies) error {
	if len(a.cfg.Bots) == 0 {
		return nil
	}
	seeded, err := deps.Bots.Seed(ctx, a.cfg.SeedBots())
	if err == nil {
		return nil
	}
	if len(seeded) == 0 && !errors.Is(err, domain.ErrInvalidConfig) {
		return fmt.Errorf("app: seed bots: %w", err)
	}
	a.logger.WarnContext(ctx, "some configured bots were skipped", slog.String("error", err.Error()))
	return nil
}

func (a *App) scheduler(deps *Dependencies) *pipeline.Scheduler {
	return pipeline.NewScheduler(deps.Store.Bots(), deps.Engine, pipeline.SchedulerConfig{
		Interval:     a.cfg.Engine.TickInterval.Duration,
		Workers:      a.cfg.Engine.Workers,
		CycleTimeout: a.cfg.Engine.CycleTimeout.Duration,
	}, a.logger)
}

func (a *App) exportJob(deps *Dependencies) (*pipeline.ExportJob, error) {
	if deps.Exporter == nil {
		return nil, errors.New("app: export requires s3 configuration")
	}
	return pipeline.NewExportJob(deps.Exporter, a.cfg.Export.Cron, a.cfg.Export.Timeout.Duration, deps.Metrics, a.logger)
}

func (a *App) status(deps *Dependencies) func(context.Context) (domain.SystemStatus, error) {
	return func(ctx context.Context) (domain.SystemStatus, error) {
		return deps.Bots.Status(ctx, a.cfg.Mode, a.started, deps.Prices.SourceNames(), a.cfg.Paper.Enabled)
	}
}

// buildServer assembles the HTTP server and the websocket hub.
func (a *App) buildServer(deps *Dependencies) (*server.Server, *ws.Hub) {
	status := a.status(deps)
	checks := map[string]handler.Pinger{"database": deps.Store}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}
	if deps.S3 != nil {
		checks["s3"] = pingFunc(deps.S3.Health)
	}

	hub := ws.NewHub(deps.SignalBus, status, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Minute,
	}, server.Handlers{
		Health: handler.NewHealthHandler(checks, a.logger),
		Status: handler.NewStatusHandler(status, a.logger),
		Bots:   handler.NewBotHandler(deps.Bots, a.logger),
		Prices: handler.NewPriceHandler(deps.Prices, a.logger),
	}, hub, deps.RateLimiter, deps.Metrics, a.logger)
	return srv, hub
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// notifierLoop adapts the notifier's worker to pipeline.Background.
type notifierLoop struct{ n *notify.Notifier }

func (l notifierLoop) Run(ctx context.Context) error {
	l.n.Run(ctx)
	return nil
}
