// Package app wires the basketbot dependencies and runs the configured
// mode: run, api, once, status or export.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/basketbot/internal/config"
)

// Options carries command-line choices that are not part of the config
// file.
type Options struct {
	// ExportDay is the UTC day exported by the export mode. Zero means
	// yesterday.
	ExportDay time.Time
	// Out receives the status report. Defaults to os.Stdout.
	Out io.Writer
}

// App is the root application object. It owns the configuration, logger,
// and cleanup functions run in reverse order on Close.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	started time.Time
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &App{
		cfg:     cfg,
		opts:    opts,
		logger:  logger.With(slog.String("component", "app")),
		started: time.Now(),
	}
}

// Run wires the dependencies and runs the configured mode until it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("paper", a.cfg.Paper.Enabled),
		slog.String("database", a.cfg.Database.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "run":
		return a.RunMode(ctx, deps)
	case "api":
		return a.APIMode(ctx, deps)
	case "once":
		return a.OnceMode(ctx, deps)
	case "status":
		return a.StatusMode(ctx, deps)
	case "export":
		return a.ExportMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases every resource. Later calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
