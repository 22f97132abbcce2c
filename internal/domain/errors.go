package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrNoPrices          = errors.New("no prices returned")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrMissingPrice      = errors.New("missing price")
	ErrInvalidConfig     = errors.New("invalid bot configuration")
	ErrConflict          = errors.New("concurrent modification")
	ErrTradeActive       = errors.New("trade already active")
	ErrNoActiveTrade     = errors.New("no active trade")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateSwap     = errors.New("duplicate swap submission")
)
