package threecommas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const smartTradesPath = "/public/api/v2/smart_trades"

// unitsPrecision is the decimal places sent for order sizes.
const unitsPrecision = 8

// Gateway executes swaps as market smart trades.
type Gateway struct {
	c *Client
}

// NewGateway wraps c as a domain.TradeGateway.
func NewGateway(c *Client) *Gateway {
	return &Gateway{c: c}
}

type smartTradeRequest struct {
	AccountID  string         `json:"account_id"`
	Pair       string         `json:"pair"`
	Instant    bool           `json:"instant"`
	SkipEnter  bool           `json:"skip_enter_step"`
	Position   positionParams `json:"position"`
	TakeProfit toggle         `json:"take_profit"`
	StopLoss   toggle         `json:"stop_loss"`
	Note       string         `json:"note"`
}

type positionParams struct {
	Type      string `json:"type"`
	OrderType string `json:"order_type"`
	Units     struct {
		Value string `json:"value"`
	} `json:"units"`
}

type toggle struct {
	Enabled bool `json:"enabled"`
}

type smartTrade struct {
	ID          json.Number      `json:"id"`
	Status      json.RawMessage  `json:"status"`
	FilledPrice *decimal.Decimal `json:"filled_price"`
}

// CreateSwap opens a market buy of To paid in From. The pair is quoted
// "FROM_TO" (quote first) and the size is the estimated units of To.
func (g *Gateway) CreateSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	if req.Quantity <= 0 || req.FromPrice <= 0 || req.ToPrice <= 0 {
		return "", fmt.Errorf("threecommas: create swap %s: quantity and prices must be positive", req.Pair())
	}
	units := decimal.NewFromFloat(req.Quantity).
		Mul(decimal.NewFromFloat(req.FromPrice)).
		Div(decimal.NewFromFloat(req.ToPrice)).
		Round(unitsPrecision)

	payload := smartTradeRequest{
		AccountID: req.AccountID,
		Pair:      req.Pair(),
		Instant:   true,
		SkipEnter: true,
		Note:      fmt.Sprintf("basket rotation %s -> %s", req.From, req.To),
	}
	payload.Position.Type = "buy"
	payload.Position.OrderType = "market"
	payload.Position.Units.Value = units.String()

	body, err := g.c.do(ctx, http.MethodPost, smartTradesPath, nil, payload)
	if err != nil {
		return "", fmt.Errorf("threecommas: create swap %s: %w", req.Pair(), err)
	}
	var st smartTrade
	if err := json.Unmarshal(body, &st); err != nil {
		return "", fmt.Errorf("threecommas: decode smart trade: %w", err)
	}
	if st.ID == "" {
		return "", errors.New("threecommas: smart trade created without id")
	}
	return st.ID.String(), nil
}

// GetStatus polls a smart trade.
func (g *Gateway) GetStatus(ctx context.Context, tradeID string) (domain.TradeState, error) {
	body, err := g.c.do(ctx, http.MethodGet, smartTradesPath+"/"+url.PathEscape(tradeID), nil, nil)
	if err != nil {
		return domain.TradeState{}, fmt.Errorf("threecommas: get trade %s: %w", tradeID, err)
	}
	var st smartTrade
	if err := json.Unmarshal(body, &st); err != nil {
		return domain.TradeState{}, fmt.Errorf("threecommas: decode trade %s: %w", tradeID, err)
	}

	// filled_price is quoted in the pair's first asset, which is From.
	state := domain.TradeState{Status: mapStatus(statusType(st.Status))}
	if st.FilledPrice != nil && st.FilledPrice.IsPositive() {
		p := st.FilledPrice.InexactFloat64()
		state.FilledPrice = &p
	}
	return state, nil
}

// Cancel cancels a smart trade.
func (g *Gateway) Cancel(ctx context.Context, tradeID string) error {
	path := smartTradesPath + "/" + url.PathEscape(tradeID) + "/cancel"
	if _, err := g.c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("threecommas: cancel trade %s: %w", tradeID, err)
	}
	return nil
}

// statusType accepts both a bare status string and the v2 object form
// {"type": "..."}.
func statusType(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Type
	}
	return ""
}

func mapStatus(s string) domain.TradeStatus {
	switch strings.ToLower(s) {
	case "created", "waiting_position", "waiting_targets", "buying", "selling", "panic_selling", "pending":
		return domain.TradeStatusPending
	case "completed", "closed", "finished":
		return domain.TradeStatusCompleted
	case "failed", "error":
		return domain.TradeStatusFailed
	case "cancelled", "canceled", "panic_sold":
		return domain.TradeStatusCancelled
	}
	return domain.TradeStatusUnknown
}

var _ domain.TradeGateway = (*Gateway)(nil)
