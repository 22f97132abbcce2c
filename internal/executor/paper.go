// Package executor holds trade gateways that wrap or simulate an exchange.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const paperPrefix = "paper-"

type paperTrade struct {
	req       domain.SwapRequest
	status    domain.TradeStatus
	fillPrice float64
	createdAt time.Time
}

// PaperGateway simulates fills at the cached prices of both assets once
// FillDelay has passed, reporting the pair price like an exchange would.
// Trades live in memory only.
type PaperGateway struct {
	prices    domain.PriceCache
	fillDelay time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	trades map[string]*paperTrade
}

// NewPaperGateway creates a PaperGateway. prices may be nil, in which case
// fills use the request's quoted price.
func NewPaperGateway(prices domain.PriceCache, fillDelay time.Duration, logger *slog.Logger) *PaperGateway {
	return &PaperGateway{
		prices:    prices,
		fillDelay: fillDelay,
		logger:    logger.With(slog.String("component", "paper_gateway")),
		now:       time.Now,
		trades:    make(map[string]*paperTrade),
	}
}

// CreateSwap records a simulated trade and returns its id.
func (g *PaperGateway) CreateSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	if req.Quantity <= 0 || req.FromPrice <= 0 || req.ToPrice <= 0 {
		return "", fmt.Errorf("paper: create swap %s: quantity and prices must be positive", req.Pair())
	}

	fill := g.usd(ctx, req.To, req.ToPrice) / g.usd(ctx, req.From, req.FromPrice)

	id := paperPrefix + uuid.NewString()
	g.mu.Lock()
	g.trades[id] = &paperTrade{req: req, status: domain.TradeStatusPending, fillPrice: fill, createdAt: g.now()}
	g.mu.Unlock()

	g.logger.Info("paper swap created",
		slog.String("trade_id", id),
		slog.String("pair", req.Pair()),
		slog.Float64("quantity", req.Quantity),
		slog.Float64("fill_price", fill),
	)
	return id, nil
}

// usd returns the cached USD price of a, or quoted when the cache has none.
func (g *PaperGateway) usd(ctx context.Context, a domain.Asset, quoted float64) float64 {
	if g.prices == nil {
		return quoted
	}
	if p, _, err := g.prices.GetPrice(ctx, a); err == nil && p > 0 {
		return p
	}
	return quoted
}

// GetStatus fills pending trades whose delay has elapsed. A paper id this
// process never issued (for example after a restart) reports failed so the
// bot reverts to its source asset.
func (g *PaperGateway) GetStatus(_ context.Context, tradeID string) (domain.TradeState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.trades[tradeID]
	if !ok {
		if strings.HasPrefix(tradeID, paperPrefix) {
			return domain.TradeState{Status: domain.TradeStatusFailed}, nil
		}
		return domain.TradeState{}, fmt.Errorf("paper: trade %s: %w", tradeID, domain.ErrNotFound)
	}
	if t.status == domain.TradeStatusPending && g.now().Sub(t.createdAt) >= g.fillDelay {
		t.status = domain.TradeStatusCompleted
	}

	state := domain.TradeState{Status: t.status}
	if t.status == domain.TradeStatusCompleted {
		p := t.fillPrice
		state.FilledPrice = &p
	}
	return state, nil
}

// Cancel cancels a pending trade.
func (g *PaperGateway) Cancel(_ context.Context, tradeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.trades[tradeID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", tradeID, domain.ErrNotFound)
	}
	if t.status != domain.TradeStatusPending {
		return fmt.Errorf("paper: cancel %s in status %s: %w", tradeID, t.status, domain.ErrInvalidTransition)
	}
	t.status = domain.TradeStatusCancelled
	return nil
}

var _ domain.TradeGateway = (*PaperGateway)(nil)
