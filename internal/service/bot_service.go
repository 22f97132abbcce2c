package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// BotView is a bot together with its per-asset trackers and pending swap.
type BotView struct {
	Bot       domain.Bot             `json:"bot"`
	Snapshots []domain.AssetSnapshot `json:"snapshots"`
	Pending   *domain.SwapEvent      `json:"pending,omitempty"`
}

// BotService manages bot configuration and exposes bot history. The engine
// owns runtime state; this service never writes it.
type BotService struct {
	store   domain.Store
	gateway domain.TradeGateway
	logger  *slog.Logger
}

// NewBotService creates a BotService. gateway may be nil, which disables
// CancelTrade.
func NewBotService(store domain.Store, gateway domain.TradeGateway, logger *slog.Logger) *BotService {
	return &BotService{
		store:   store,
		gateway: gateway,
		logger:  logger.With(slog.String("component", "bot_service")),
	}
}

// Create validates and stores a new, uninitialised bot.
func (s *BotService) Create(ctx context.Context, b domain.Bot) (domain.Bot, error) {
	b.ApplyDefaults()
	if err := b.Validate(); err != nil {
		return domain.Bot{}, err
	}
	b.CurrentCoin = ""
	b.GlobalPeakValue, b.MinAcceptableValue = 0, 0
	b.ActiveTradeID = ""
	b.LastCheckTime = nil

	created, err := s.store.Bots().Create(ctx, b)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: create: %w", err)
	}
	s.audit(ctx, created.ID, "bot_created", fmt.Sprintf("bot %q created", created.Name), nil)
	s.logger.InfoContext(ctx, "bot created", slog.Int64("bot_id", created.ID), slog.String("name", created.Name))
	return created, nil
}

// Update replaces the configuration of bot id with cfg.
func (s *BotService) Update(ctx context.Context, id int64, cfg domain.Bot) (domain.Bot, error) {
	current, err := s.store.Bots().Get(ctx, id)
	if err != nil {
		return domain.Bot{}, err
	}
	cfg.ID = id
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return domain.Bot{}, err
	}
	if current.Initialized() && !cfg.InBasket(current.CurrentCoin) {
		return domain.Bot{}, fmt.Errorf("held asset %s must stay in the basket: %w", current.CurrentCoin, domain.ErrInvalidConfig)
	}

	updated, err := s.store.Bots().Update(ctx, cfg)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: update %d: %w", id, err)
	}
	s.audit(ctx, id, "bot_updated", "configuration updated", nil)
	return updated, nil
}

// Toggle flips the enabled flag and returns the updated bot.
func (s *BotService) Toggle(ctx context.Context, id int64) (domain.Bot, error) {
	b, err := s.store.Bots().Get(ctx, id)
	if err != nil {
		return domain.Bot{}, err
	}
	if err := s.store.Bots().SetEnabled(ctx, id, !b.Enabled); err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: toggle %d: %w", id, err)
	}
	event := "bot_enabled"
	if b.Enabled {
		event = "bot_disabled"
	}
	s.audit(ctx, id, event, event, nil)
	return s.store.Bots().Get(ctx, id)
}

// Delete removes bot id and its history.
func (s *BotService) Delete(ctx context.Context, id int64) error {
	if err := s.store.Bots().Delete(ctx, id); err != nil {
		return fmt.Errorf("bot_service: delete %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "bot deleted", slog.Int64("bot_id", id))
	return nil
}

// Get returns bot id.
func (s *BotService) Get(ctx context.Context, id int64) (domain.Bot, error) {
	return s.store.Bots().Get(ctx, id)
}

// List returns every bot.
func (s *BotService) List(ctx context.Context) ([]domain.Bot, error) {
	return s.store.Bots().List(ctx)
}

// State returns bot id with its snapshots and pending swap.
func (s *BotService) State(ctx context.Context, id int64) (BotView, error) {
	b, err := s.store.Bots().Get(ctx, id)
	if err != nil {
		return BotView{}, err
	}
	snaps, err := s.store.Snapshots().ListByBot(ctx, id)
	if err != nil {
		return BotView{}, fmt.Errorf("bot_service: state %d: %w", id, err)
	}
	view := BotView{Bot: b, Snapshots: snaps}
	if b.ActiveTradeID != "" {
		sw, err := s.store.Swaps().GetByTradeID(ctx, b.ActiveTradeID)
		switch {
		case err == nil:
			view.Pending = &sw
		case !errors.Is(err, domain.ErrNotFound):
			return BotView{}, fmt.Errorf("bot_service: state %d: %w", id, err)
		}
	}
	return view, nil
}

// Prices returns recorded observations of bot id.
func (s *BotService) Prices(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.PriceObservation, error) {
	if _, err := s.store.Bots().Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Observations().List(ctx, id, opts)
}

// RecentPrices returns up to depth latest observations per asset of bot id,
// newest first.
func (s *BotService) RecentPrices(ctx context.Context, id int64, depth int) ([]domain.PriceObservation, error) {
	if _, err := s.store.Bots().Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Observations().Recent(ctx, id, depth)
}

// Trades returns swaps of bot id.
func (s *BotService) Trades(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	if _, err := s.store.Bots().Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Swaps().ListByBot(ctx, id, opts)
}

// Logs returns audit entries of bot id.
func (s *BotService) Logs(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := s.store.Bots().Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Audit().List(ctx, id, opts)
}

// CancelTrade asks the gateway to cancel the bot's active trade. The next
// cycle observes the cancelled status and settles the swap.
func (s *BotService) CancelTrade(ctx context.Context, id int64) (string, error) {
	b, err := s.store.Bots().Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !b.HasActiveTrade() {
		return "", domain.ErrNoActiveTrade
	}
	if s.gateway == nil {
		return "", errors.New("bot_service: no trade gateway configured")
	}
	if err := s.gateway.Cancel(ctx, b.ActiveTradeID); err != nil {
		return "", fmt.Errorf("bot_service: cancel %s: %w", b.ActiveTradeID, err)
	}
	s.audit(ctx, id, "cancel_requested", "cancel requested for "+b.ActiveTradeID,
		map[string]any{"trade_id": b.ActiveTradeID})
	return b.ActiveTradeID, nil
}

// Seed upserts bots by name. Configuration fields are taken from bots;
// runtime state of existing bots is untouched. Invalid entries are skipped
// and reported in the returned error.
func (s *BotService) Seed(ctx context.Context, bots []domain.Bot) ([]domain.Bot, error) {
	var (
		out  []domain.Bot
		errs []error
	)
	for _, b := range bots {
		b.ApplyDefaults()
		if err := b.Validate(); err != nil {
			s.logger.ErrorContext(ctx, "seed bot rejected", slog.String("name", b.Name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("bot %q: %w", b.Name, err))
			continue
		}
		saved, err := s.store.Bots().UpsertByName(ctx, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("bot %q: %w", b.Name, err))
			continue
		}
		out = append(out, saved)
	}
	if len(out) > 0 {
		s.logger.InfoContext(ctx, "bots seeded", slog.Int("count", len(out)))
	}
	return out, errors.Join(errs...)
}

// Status summarises bots for the status endpoint.
func (s *BotService) Status(ctx context.Context, mode string, started time.Time, sources []string, paper bool) (domain.SystemStatus, error) {
	bots, err := s.store.Bots().List(ctx)
	if err != nil {
		return domain.SystemStatus{}, err
	}
	st := domain.SystemStatus{
		Mode:          mode,
		UptimeSeconds: int64(time.Since(started).Seconds()),
		Bots:          len(bots),
		Paper:         paper,
	}
	if len(sources) > 0 {
		st.PriceSource = sources[0]
	}
	for _, b := range bots {
		if b.Enabled {
			st.EnabledBots++
		}
		if b.HasActiveTrade() {
			st.ActiveTrades++
		}
	}
	return st, nil
}

func (s *BotService) audit(ctx context.Context, botID int64, event, msg string, detail map[string]any) {
	err := s.store.Audit().Log(ctx, domain.AuditEntry{
		BotID: botID, Level: domain.AuditInfo, Event: event, Message: msg, Detail: detail, CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit write failed", slog.Int64("bot_id", botID), slog.String("error", err.Error()))
	}
}
