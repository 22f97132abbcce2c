package domain

import (
	"context"
	"strings"
)

// TradeStatus is the gateway's view of a trade.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusUnknown   TradeStatus = "unknown"
)

// SwapStatus maps a gateway status to a swap status. The second result is
// false for pending and unknown, which leave the swap untouched.
func (s TradeStatus) SwapStatus() (SwapStatus, bool) {
	switch s {
	case TradeStatusCompleted:
		return SwapStatusCompleted, true
	case TradeStatusFailed:
		return SwapStatusFailed, true
	case TradeStatusCancelled:
		return SwapStatusCancelled, true
	}
	return SwapStatusPending, false
}

// SwapRequest asks a gateway to rotate Quantity units of From into To.
type SwapRequest struct {
	AccountID string
	From      Asset
	To        Asset
	Quantity  float64
	FromPrice float64
	ToPrice   float64
}

// Pair returns the exchange pair spec "FROM_TO".
func (r SwapRequest) Pair() string {
	return strings.Join([]string{string(r.From), string(r.To)}, "_")
}

// TradeState is a status poll result. FilledPrice is the pair price of the
// fill: units of From paid per unit of To.
type TradeState struct {
	Status      TradeStatus
	FilledPrice *float64
}

// TradeGateway executes swaps on an exchange.
type TradeGateway interface {
	CreateSwap(ctx context.Context, req SwapRequest) (tradeID string, err error)
	GetStatus(ctx context.Context, tradeID string) (TradeState, error)
	Cancel(ctx context.Context, tradeID string) error
}

// PriceSource returns current USD prices. Partial results are allowed; a
// source that prices nothing returns ErrNoPrices.
type PriceSource interface {
	Name() string
	GetPrices(ctx context.Context, symbols []Asset) (PriceMap, error)
}
