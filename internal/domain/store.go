package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Status string // swap status or audit level, empty for all
	Asset  Asset  // observation asset, empty for all
}

// BotStore persists bot definitions.
type BotStore interface {
	Create(ctx context.Context, bot Bot) (Bot, error)
	Update(ctx context.Context, bot Bot) (Bot, error)
	// UpsertByName creates the bot or replaces its configuration fields,
	// leaving runtime state untouched.
	UpsertByName(ctx context.Context, bot Bot) (Bot, error)
	Get(ctx context.Context, id int64) (Bot, error)
	List(ctx context.Context) ([]Bot, error)
	ListEnabled(ctx context.Context) ([]Bot, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) error
}

// SnapshotStore reads per-asset trackers.
type SnapshotStore interface {
	Get(ctx context.Context, botID int64, asset Asset) (AssetSnapshot, error)
	ListByBot(ctx context.Context, botID int64) ([]AssetSnapshot, error)
}

// ObservationStore persists append-only price samples.
type ObservationStore interface {
	Append(ctx context.Context, obs []PriceObservation) error
	// Recent returns up to depth most recent observations per asset, newest
	// first.
	Recent(ctx context.Context, botID int64, depth int) ([]PriceObservation, error)
	List(ctx context.Context, botID int64, opts ListOpts) ([]PriceObservation, error)
}

// SwapStore persists swap events.
type SwapStore interface {
	GetByTradeID(ctx context.Context, tradeID string) (SwapEvent, error)
	ListByBot(ctx context.Context, botID int64, opts ListOpts) ([]SwapEvent, error)
	ListPending(ctx context.Context) ([]SwapEvent, error)
}

// AuditStore persists the per-bot audit log.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, botID int64, opts ListOpts) ([]AuditEntry, error)
}

// StateStore loads and commits the state one cycle works on.
type StateStore interface {
	LoadState(ctx context.Context, botID int64) (BotState, error)
	// CommitState applies the commit atomically. It returns ErrConflict when
	// the bot's version no longer matches ExpectedVersion.
	CommitState(ctx context.Context, commit CycleCommit) error
}

// Store bundles every persistence interface one backend provides.
type Store interface {
	Bots() BotStore
	Snapshots() SnapshotStore
	Observations() ObservationStore
	Swaps() SwapStore
	Audit() AuditStore
	State() StateStore
	Ping(ctx context.Context) error
	Close()
}
