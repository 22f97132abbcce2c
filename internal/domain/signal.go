package domain

import "time"

// Signal bus channels.
const (
	ChannelPrices = "prices"
	ChannelSwaps  = "swaps"
	ChannelBots   = "bots"
)

// PriceEvent is published on ChannelPrices after each successful fetch.
type PriceEvent struct {
	Source string             `json:"source"`
	Prices map[string]float64 `json:"prices"`
	At     time.Time          `json:"at"`
}

// SwapNotice is published on ChannelSwaps when a swap is created or settles.
type SwapNotice struct {
	BotID   int64      `json:"bot_id"`
	TradeID string     `json:"trade_id"`
	From    Asset      `json:"from"`
	To      Asset      `json:"to"`
	Status  SwapStatus `json:"status"`
	Change  float64    `json:"change"`
	At      time.Time  `json:"at"`
}

// CycleNotice is published on ChannelBots at the end of each bot cycle.
type CycleNotice struct {
	BotID   int64     `json:"bot_id"`
	Outcome string    `json:"outcome"`
	Held    Asset     `json:"held"`
	Peak    float64   `json:"peak"`
	At      time.Time `json:"at"`
}

// SystemStatus summarises the running process.
type SystemStatus struct {
	Mode          string `json:"mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Bots          int    `json:"bots"`
	EnabledBots   int    `json:"enabled_bots"`
	ActiveTrades  int    `json:"active_trades"`
	PriceSource   string `json:"price_source"`
	Paper         bool   `json:"paper"`
}
