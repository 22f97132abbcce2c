package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Background is a long-running loop that stops when its context ends.
type Background interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the scheduler alongside optional background loops such
// as the export job. If any loop fails, the others are cancelled.
type Orchestrator struct {
	scheduler *Scheduler
	extra     map[string]Background
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Nil entries in extra are ignored.
func NewOrchestrator(scheduler *Scheduler, extra map[string]Background, logger *slog.Logger) *Orchestrator {
	loops := make(map[string]Background, len(extra))
	for name, b := range extra {
		if b != nil {
			loops[name] = b
		}
	}
	return &Orchestrator{
		scheduler: scheduler,
		extra:     loops,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run blocks until ctx is cancelled or a loop returns an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	start := func(name string, b Background) {
		g.Go(func() error {
			err := b.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	if o.scheduler != nil {
		start("scheduler", o.scheduler)
	}
	for name, b := range o.extra {
		start(name, b)
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}
