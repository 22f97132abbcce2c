package domain

import "time"

// BotState is everything one cycle reads about a bot, loaded in one pass.
type BotState struct {
	Bot       Bot
	Snapshots map[Asset]AssetSnapshot
	// Seeds holds the most recent observed price per asset, used as a
	// baseline for assets whose snapshot has none.
	Seeds PriceMap
	// Pending is the swap referenced by Bot.ActiveTradeID, if any.
	Pending *SwapEvent
}

// Snapshot returns the snapshot for a, or a zero snapshot bound to the bot.
func (s BotState) Snapshot(a Asset) (AssetSnapshot, bool) {
	snap, ok := s.Snapshots[a]
	if !ok {
		return AssetSnapshot{BotID: s.Bot.ID, Asset: a}, false
	}
	return snap, true
}

// Baseline returns the change baseline: the snapshot last prices, with
// seeds filling assets that have none.
func (s BotState) Baseline() PriceMap {
	out := make(PriceMap, len(s.Snapshots))
	for a, snap := range s.Snapshots {
		out.Set(a, snap.LastPrice)
	}
	out.Merge(s.Seeds)
	return out
}

// CycleCommit is the complete mutation produced by one cycle. Stores apply
// it in a single transaction, guarded by ExpectedVersion.
type CycleCommit struct {
	BotID           int64
	ExpectedVersion int64
	Bot             *Bot // replaces the bot's mutable state when non-nil
	Snapshots       []AssetSnapshot
	Observations    []PriceObservation
	NewSwap         *SwapEvent
	SwapUpdate      *SwapUpdate
	Audit           []AuditEntry
}

// Empty reports whether the commit carries nothing to write.
func (c CycleCommit) Empty() bool {
	return c.Bot == nil && len(c.Snapshots) == 0 && len(c.Observations) == 0 &&
		c.NewSwap == nil && c.SwapUpdate == nil && len(c.Audit) == 0
}

// AuditLevel classifies audit entries.
type AuditLevel string

const (
	AuditInfo    AuditLevel = "info"
	AuditWarning AuditLevel = "warning"
	AuditError   AuditLevel = "error"
)

// AuditEntry is a single per-bot audit log row.
type AuditEntry struct {
	ID        int64
	BotID     int64
	Level     AuditLevel
	Event     string
	Message   string
	Detail    map[string]any
	CreatedAt time.Time
}
