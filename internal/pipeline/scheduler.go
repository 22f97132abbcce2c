// Package pipeline runs the background loops: the per-bot rebalance
// scheduler and the scheduled CSV export.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/rebalance"
)

// CycleRunner runs one rebalance cycle for a bot.
type CycleRunner interface {
	RunCycle(ctx context.Context, botID int64) (rebalance.CycleResult, error)
}

// SchedulerConfig tunes a Scheduler.
type SchedulerConfig struct {
	Interval     time.Duration // time between ticks
	Workers      int           // max concurrent cycles per tick
	CycleTimeout time.Duration // per-bot budget within a tick
}

// TickSummary reports what one tick did.
type TickSummary struct {
	Bots     int // cycles run
	Invalid  int // enabled bots skipped for bad configuration
	Errors   int
	Outcomes map[rebalance.Outcome]int
}

// Scheduler fans one cycle per enabled bot out to a bounded worker pool
// every tick. A tick waits for all its cycles, so ticks never overlap.
type Scheduler struct {
	bots   domain.BotStore
	runner CycleRunner
	cfg    SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	invalid map[int64]int64 // bot id -> version already reported as invalid
}

// NewScheduler creates a Scheduler.
func NewScheduler(bots domain.BotStore, runner CycleRunner, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = time.Minute
	}
	return &Scheduler{
		bots:    bots,
		runner:  runner,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scheduler")),
		invalid: make(map[int64]int64),
	}
}

// Run ticks immediately and then every Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("workers", s.cfg.Workers),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one cycle for every enabled bot with a valid configuration and
// returns once all of them have finished. A failing cycle is logged and
// left for the next tick; it never affects other bots.
func (s *Scheduler) Tick(ctx context.Context) (TickSummary, error) {
	sum := TickSummary{Outcomes: make(map[rebalance.Outcome]int)}

	bots, err := s.bots.ListEnabled(ctx)
	if err != nil {
		return sum, fmt.Errorf("pipeline: list enabled bots: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for _, bot := range bots {
		if err := bot.Validate(); err != nil {
			s.reportInvalid(bot, err)
			sum.Invalid++
			continue
		}
		s.clearInvalid(bot.ID)

		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
			defer cancel()

			res, err := s.runner.RunCycle(cctx, bot.ID)

			mu.Lock()
			defer mu.Unlock()
			sum.Bots++
			sum.Outcomes[res.Outcome]++
			if err != nil {
				sum.Errors++
				s.logger.Error("cycle failed",
					slog.Int64("bot_id", bot.ID),
					slog.String("bot", bot.Name),
					slog.String("outcome", string(res.Outcome)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if sum.Bots > 0 {
		s.logger.Debug("tick complete",
			slog.Int("bots", sum.Bots),
			slog.Int("errors", sum.Errors),
			slog.Int("invalid", sum.Invalid),
		)
	}
	return sum, nil
}

// reportInvalid logs a misconfigured bot once per configuration version.
func (s *Scheduler) reportInvalid(bot domain.Bot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, seen := s.invalid[bot.ID]; seen && v == bot.Version {
		return
	}
	s.invalid[bot.ID] = bot.Version
	s.logger.Warn("bot excluded from scheduling",
		slog.Int64("bot_id", bot.ID),
		slog.String("bot", bot.Name),
		slog.String("error", err.Error()),
	)
}

func (s *Scheduler) clearInvalid(id int64) {
	s.mu.Lock()
	delete(s.invalid, id)
	s.mu.Unlock()
}
