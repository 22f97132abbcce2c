package domain

import "time"

// SwapStatus tracks a swap through its lifecycle.
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "pending"
	SwapStatusCompleted SwapStatus = "completed"
	SwapStatusFailed    SwapStatus = "failed"
	SwapStatusCancelled SwapStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s SwapStatus) IsTerminal() bool {
	switch s {
	case SwapStatusCompleted, SwapStatusFailed, SwapStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s SwapStatus) Valid() bool {
	return s == SwapStatusPending || s.IsTerminal()
}

// CanTransition reports whether a swap may move from s to next. Only
// pending → terminal is allowed.
func (s SwapStatus) CanTransition(next SwapStatus) bool {
	return s == SwapStatusPending && next.IsTerminal()
}

// SwapEvent records one rotation from one asset into another.
type SwapEvent struct {
	ID             int64
	BotID          int64
	TradeID        string
	From           Asset
	To             Asset
	Change         float64 // relative change that triggered the swap
	Quantity       float64 // units of From sent
	EstimatedUnits float64 // pre-trade estimate of To received
	FromPrice      float64
	ToPrice        float64
	FilledPrice    *float64 // units of From per unit of To
	Status         SwapStatus
	CreatedAt      time.Time
	SettledAt      *time.Time
}

// SwapUpdate moves a pending swap to a terminal state.
type SwapUpdate struct {
	TradeID     string
	Status      SwapStatus
	FilledPrice *float64
	SettledAt   time.Time
}

// ReceivedUnits returns the units of To obtained by the swap: Quantity
// divided by the pair fill price when one is known, else the pre-trade
// estimate.
func (e SwapEvent) ReceivedUnits(feeRate float64) float64 {
	if e.FilledPrice != nil && *e.FilledPrice > 0 {
		return e.Quantity / *e.FilledPrice * (1 - feeRate)
	}
	return e.EstimatedUnits
}
