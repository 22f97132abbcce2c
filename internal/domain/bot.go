package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// DefaultGlobalLossThreshold applies when a bot's configuration omits the
	// global-loss threshold.
	DefaultGlobalLossThreshold = 0.10
	// DefaultReentryBuffer applies when a bot's configuration omits the
	// re-entry buffer.
	DefaultReentryBuffer = 0.01
	// DefaultInitialUnits is the quantity of the initial asset a bot starts with.
	DefaultInitialUnits = 1.0
	// DefaultCheckInterval is the evaluation interval for bots that set none.
	DefaultCheckInterval = time.Minute
)

// Bot is one independently configured rotation strategy over a basket of
// assets.
type Bot struct {
	ID                  int64
	Name                string
	Enabled             bool
	AccountID           string
	Coins               []Asset // ordered candidate basket
	Threshold           float64 // swap threshold as a fraction, 0.05 = 5%
	CheckInterval       time.Duration
	InitialCoin         Asset
	CurrentCoin         Asset // empty until the first cycle initialises the bot
	ReferenceCoin       Asset
	ExternalReference   bool // reference may sit outside the basket
	GlobalLossThreshold float64
	ReentryBuffer       float64
	FeeRate             float64
	InitialUnits        float64
	GlobalPeakValue     float64 // reference units, never decreases
	MinAcceptableValue  float64
	ActiveTradeID       string
	LastCheckTime       *time.Time
	// Version guards the engine-owned fields above. Only a state commit
	// bumps it, so configuration edits never conflict with a running cycle.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApplyDefaults normalises symbols and fills unset optional fields. A zero
// global-loss threshold or re-entry buffer is a valid setting and is kept;
// callers decoding configuration resolve omitted values with SetProtection.
func (b *Bot) ApplyDefaults() {
	b.Name = strings.TrimSpace(b.Name)
	b.InitialCoin = NewAsset(string(b.InitialCoin))
	b.CurrentCoin = NewAsset(string(b.CurrentCoin))
	b.ReferenceCoin = NewAsset(string(b.ReferenceCoin))
	coins := make([]string, len(b.Coins))
	for i, c := range b.Coins {
		coins[i] = string(c)
	}
	b.Coins = Assets(coins...)
	if b.ReferenceCoin == "" {
		b.ReferenceCoin = b.InitialCoin
	}
	if b.InitialUnits == 0 {
		b.InitialUnits = DefaultInitialUnits
	}
	if b.CheckInterval == 0 {
		b.CheckInterval = DefaultCheckInterval
	}
}

// SetProtection sets the global-loss threshold and re-entry buffer, using the
// defaults for the ones that are nil.
func (b *Bot) SetProtection(globalLoss, reentryBuffer *float64) {
	b.GlobalLossThreshold = DefaultGlobalLossThreshold
	if globalLoss != nil {
		b.GlobalLossThreshold = *globalLoss
	}
	b.ReentryBuffer = DefaultReentryBuffer
	if reentryBuffer != nil {
		b.ReentryBuffer = *reentryBuffer
	}
}

// Validate checks the static configuration of the bot. The returned error
// wraps ErrInvalidConfig and lists every problem found.
func (b Bot) Validate() error {
	var problems []string
	if b.Name == "" {
		problems = append(problems, "name is required")
	}
	if len(b.Coins) == 0 {
		problems = append(problems, "coin basket is empty")
	}
	for _, c := range b.Coins {
		if !c.Valid() {
			problems = append(problems, fmt.Sprintf("coin %q is not a valid symbol", c))
		}
	}
	if !(b.Threshold > 0) || math.IsInf(b.Threshold, 0) {
		problems = append(problems, fmt.Sprintf("threshold must be > 0, got %v", b.Threshold))
	}
	if b.CheckInterval <= 0 {
		problems = append(problems, "check interval must be positive")
	}
	if b.InitialCoin == "" {
		problems = append(problems, "initial coin is required")
	} else if !b.InBasket(b.InitialCoin) {
		problems = append(problems, fmt.Sprintf("initial coin %s is not in the basket", b.InitialCoin))
	}
	if b.CurrentCoin != "" && !b.InBasket(b.CurrentCoin) {
		problems = append(problems, fmt.Sprintf("current coin %s is not in the basket", b.CurrentCoin))
	}
	ref := b.Reference()
	if ref != "" && !b.ExternalReference && !b.InBasket(ref) {
		problems = append(problems, fmt.Sprintf("reference coin %s is not in the basket and not flagged external", ref))
	}
	if b.GlobalLossThreshold < 0 || b.GlobalLossThreshold >= 1 {
		problems = append(problems, fmt.Sprintf("global loss threshold must be in [0,1), got %v", b.GlobalLossThreshold))
	}
	if b.ReentryBuffer < 0 {
		problems = append(problems, fmt.Sprintf("reentry buffer must be >= 0, got %v", b.ReentryBuffer))
	}
	if b.FeeRate < 0 || b.FeeRate >= 1 {
		problems = append(problems, fmt.Sprintf("fee rate must be in [0,1), got %v", b.FeeRate))
	}
	if b.InitialUnits < 0 {
		problems = append(problems, fmt.Sprintf("initial units must be >= 0, got %v", b.InitialUnits))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: bot %q: %s", ErrInvalidConfig, b.Name, strings.Join(problems, "; "))
}

// InBasket reports whether a is one of the bot's candidate coins.
func (b Bot) InBasket(a Asset) bool {
	for _, c := range b.Coins {
		if c == a {
			return true
		}
	}
	return false
}

// Reference returns the asset used to value holdings, falling back to the
// initial coin.
func (b Bot) Reference() Asset {
	if b.ReferenceCoin != "" {
		return b.ReferenceCoin
	}
	return b.InitialCoin
}

// Initialized reports whether the bot holds an asset.
func (b Bot) Initialized() bool { return b.CurrentCoin != "" }

// HasActiveTrade reports whether a swap is in flight.
func (b Bot) HasActiveTrade() bool { return b.ActiveTradeID != "" }

// LossThreshold returns the configured global-loss threshold, zero
// included. The default stands in only for a value outside [0,1).
func (b Bot) LossThreshold() float64 {
	if b.GlobalLossThreshold >= 0 && b.GlobalLossThreshold < 1 {
		return b.GlobalLossThreshold
	}
	return DefaultGlobalLossThreshold
}

// Buffer returns the configured re-entry buffer, zero included. The default
// stands in only for a negative or non-finite value.
func (b Bot) Buffer() float64 {
	if b.ReentryBuffer >= 0 && !math.IsInf(b.ReentryBuffer, 0) {
		return b.ReentryBuffer
	}
	return DefaultReentryBuffer
}

// Units returns the configured initial units or the default.
func (b Bot) Units() float64 {
	if b.InitialUnits > 0 {
		return b.InitialUnits
	}
	return DefaultInitialUnits
}

// Due reports whether the evaluation interval has elapsed at now.
func (b Bot) Due(now time.Time) bool {
	if b.LastCheckTime == nil {
		return true
	}
	return !now.Before(b.LastCheckTime.Add(b.CheckInterval))
}

// Symbols returns the basket plus the reference asset, in basket order.
func (b Bot) Symbols() []Asset {
	out := make([]Asset, 0, len(b.Coins)+1)
	out = append(out, b.Coins...)
	if ref := b.Reference(); ref != "" && !b.InBasket(ref) {
		out = append(out, ref)
	}
	return out
}

// Floor returns peak × (1 − loss threshold).
func (b Bot) Floor(peak float64) float64 {
	return peak * (1 - b.LossThreshold())
}
