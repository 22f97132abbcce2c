package handler

import (
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/service"
)

// botRequest is the body of POST /api/bots and PUT /api/bots/{id}.
type botRequest struct {
	Name                string   `json:"name"`
	Enabled             *bool    `json:"enabled"`
	AccountID           string   `json:"account_id"`
	Coins               []string `json:"coins"`
	Threshold           float64  `json:"threshold"`
	CheckInterval       string   `json:"check_interval"` // Go duration, e.g. "5m"
	InitialCoin         string   `json:"initial_coin"`
	ReferenceCoin       string   `json:"reference_coin"`
	ExternalReference   bool     `json:"external_reference"`
	GlobalLossThreshold *float64 `json:"global_loss_threshold"` // omitted: default
	ReentryBuffer       *float64 `json:"reentry_buffer"`        // omitted: default
	FeeRate             float64  `json:"fee_rate"`
	InitialUnits        float64  `json:"initial_units"`
}

func (b botRequest) toDomain() (domain.Bot, error) {
	var interval time.Duration
	if b.CheckInterval != "" {
		d, err := time.ParseDuration(b.CheckInterval)
		if err != nil {
			return domain.Bot{}, err
		}
		interval = d
	}
	bot := domain.Bot{
		Name:              b.Name,
		Enabled:           b.Enabled == nil || *b.Enabled,
		AccountID:         b.AccountID,
		Coins:             domain.Assets(b.Coins...),
		Threshold:         b.Threshold,
		CheckInterval:     interval,
		InitialCoin:       domain.Asset(b.InitialCoin),
		ReferenceCoin:     domain.Asset(b.ReferenceCoin),
		ExternalReference: b.ExternalReference,
		FeeRate:           b.FeeRate,
		InitialUnits:      b.InitialUnits,
	}
	bot.SetProtection(b.GlobalLossThreshold, b.ReentryBuffer)
	return bot, nil
}

type botJSON struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled"`
	AccountID           string     `json:"account_id"`
	Coins               []string   `json:"coins"`
	Threshold           float64    `json:"threshold"`
	CheckInterval       string     `json:"check_interval"`
	InitialCoin         string     `json:"initial_coin"`
	CurrentCoin         string     `json:"current_coin,omitempty"`
	ReferenceCoin       string     `json:"reference_coin"`
	ExternalReference   bool       `json:"external_reference"`
	GlobalLossThreshold float64    `json:"global_loss_threshold"`
	ReentryBuffer       float64    `json:"reentry_buffer"`
	FeeRate             float64    `json:"fee_rate"`
	InitialUnits        float64    `json:"initial_units"`
	GlobalPeakValue     float64    `json:"global_peak_value"`
	MinAcceptableValue  float64    `json:"min_acceptable_value"`
	ActiveTradeID       string     `json:"active_trade_id,omitempty"`
	LastCheckTime       *time.Time `json:"last_check_time,omitempty"`
	Version             int64      `json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toBotJSON(b domain.Bot) botJSON {
	coins := make([]string, len(b.Coins))
	for i, c := range b.Coins {
		coins[i] = string(c)
	}
	return botJSON{
		ID:                  b.ID,
		Name:                b.Name,
		Enabled:             b.Enabled,
		AccountID:           b.AccountID,
		Coins:               coins,
		Threshold:           b.Threshold,
		CheckInterval:       b.CheckInterval.String(),
		InitialCoin:         string(b.InitialCoin),
		CurrentCoin:         string(b.CurrentCoin),
		ReferenceCoin:       string(b.ReferenceCoin),
		ExternalReference:   b.ExternalReference,
		GlobalLossThreshold: b.GlobalLossThreshold,
		ReentryBuffer:       b.ReentryBuffer,
		FeeRate:             b.FeeRate,
		InitialUnits:        b.InitialUnits,
		GlobalPeakValue:     b.GlobalPeakValue,
		MinAcceptableValue:  b.MinAcceptableValue,
		ActiveTradeID:       b.ActiveTradeID,
		LastCheckTime:       b.LastCheckTime,
		Version:             b.Version,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

func toBotsJSON(bots []domain.Bot) []botJSON {
	out := make([]botJSON, len(bots))
	for i, b := range bots {
		out[i] = toBotJSON(b)
	}
	return out
}

type snapshotJSON struct {
	Asset           string    `json:"asset"`
	Held            bool      `json:"held"`
	InitialPrice    float64   `json:"initial_price"`
	LastPrice       float64   `json:"last_price"`
	UnitsHeld       float64   `json:"units_held"`
	MaxUnitsReached float64   `json:"max_units_reached"`
	WasEverHeld     bool      `json:"was_ever_held"`
	EquivalentValue float64   `json:"equivalent_value"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type swapJSON struct {
	ID             int64      `json:"id"`
	TradeID        string     `json:"trade_id"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Change         float64    `json:"change"`
	Quantity       float64    `json:"quantity"`
	EstimatedUnits float64    `json:"estimated_units"`
	FromPrice      float64    `json:"from_price"`
	ToPrice        float64    `json:"to_price"`
	FilledPrice    *float64   `json:"filled_price,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
}

func toSwapJSON(s domain.SwapEvent) swapJSON {
	return swapJSON{
		ID:             s.ID,
		TradeID:        s.TradeID,
		From:           string(s.From),
		To:             string(s.To),
		Change:         s.Change,
		Quantity:       s.Quantity,
		EstimatedUnits: s.EstimatedUnits,
		FromPrice:      s.FromPrice,
		ToPrice:        s.ToPrice,
		FilledPrice:    s.FilledPrice,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		SettledAt:      s.SettledAt,
	}
}

type stateJSON struct {
	Bot       botJSON        `json:"bot"`
	Floor     float64        `json:"floor"`
	Snapshots []snapshotJSON `json:"snapshots"`
	Pending   *swapJSON      `json:"pending,omitempty"`
}

func toStateJSON(v service.BotView) stateJSON {
	out := stateJSON{
		Bot:       toBotJSON(v.Bot),
		Floor:     v.Bot.Floor(v.Bot.GlobalPeakValue),
		Snapshots: make([]snapshotJSON, len(v.Snapshots)),
	}
	for i, s := range v.Snapshots {
		out.Snapshots[i] = snapshotJSON{
			Asset:           string(s.Asset),
			Held:            s.Asset == v.Bot.CurrentCoin,
			InitialPrice:    s.InitialPrice,
			LastPrice:       s.LastPrice,
			UnitsHeld:       s.UnitsHeld,
			MaxUnitsReached: s.MaxUnitsReached,
			WasEverHeld:     s.WasEverHeld,
			EquivalentValue: s.EquivalentValue,
			UpdatedAt:       s.UpdatedAt,
		}
	}
	if v.Pending != nil {
		p := toSwapJSON(*v.Pending)
		out.Pending = &p
	}
	return out
}

type observationJSON struct {
	Asset      string    `json:"asset"`
	Price      float64   `json:"price"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

type auditJSON struct {
	ID        int64          `json:"id"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
