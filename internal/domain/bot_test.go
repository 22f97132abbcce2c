package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBot() Bot {
	b := Bot{
		Name:        "majors",
		Enabled:     true,
		Coins:       []Asset{"BTC", "ETH", "SOL"},
		Threshold:   0.05,
		InitialCoin: "BTC",
	}
	b.ApplyDefaults()
	b.SetProtection(nil, nil)
	return b
}

func TestBot_ApplyDefaults(t *testing.T) {
	b := Bot{Name: " x ", Coins: []Asset{"btc", "eth", "BTC"}, InitialCoin: "eth"}
	b.ApplyDefaults()

	assert.Equal(t, "x", b.Name)
	assert.Equal(t, []Asset{"BTC", "ETH"}, b.Coins)
	assert.Equal(t, Asset("ETH"), b.ReferenceCoin)
	assert.Zero(t, b.GlobalLossThreshold)
	assert.Zero(t, b.ReentryBuffer)
	assert.Equal(t, DefaultInitialUnits, b.InitialUnits)
	assert.Equal(t, DefaultCheckInterval, b.CheckInterval)
}

func TestBot_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Bot)
		ok     bool
	}{
		{"valid", func(*Bot) {}, true},
		{"empty basket", func(b *Bot) { b.Coins = nil }, false},
		{"zero threshold", func(b *Bot) { b.Threshold = 0 }, false},
		{"negative threshold", func(b *Bot) { b.Threshold = -0.1 }, false},
		{"initial outside basket", func(b *Bot) { b.InitialCoin = "XRP" }, false},
		{"reference outside basket", func(b *Bot) { b.ReferenceCoin = "USDT" }, false},
		{"external reference", func(b *Bot) { b.ReferenceCoin = "USDT"; b.ExternalReference = true }, true},
		{"loss threshold of one", func(b *Bot) { b.GlobalLossThreshold = 1 }, false},
		{"fee rate too high", func(b *Bot) { b.FeeRate = 1 }, false},
		{"negative buffer", func(b *Bot) { b.ReentryBuffer = -0.01 }, false},
		{"zero loss threshold", func(b *Bot) { b.GlobalLossThreshold = 0 }, true},
		{"zero buffer", func(b *Bot) { b.ReentryBuffer = 0 }, true},
		{"zero interval", func(b *Bot) { b.CheckInterval = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBot()
			tt.mutate(&b)
			err := b.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestBot_Due(t *testing.T) {
	b := validBot()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, b.Due(now))

	last := now.Add(-30 * time.Second)
	b.LastCheckTime = &last
	assert.False(t, b.Due(now))
	assert.True(t, b.Due(now.Add(30*time.Second)))
}

func TestBot_FallbacksAndSymbols(t *testing.T) {
	b := Bot{Coins: []Asset{"BTC", "ETH"}, InitialCoin: "BTC", ReferenceCoin: "USDT", ExternalReference: true}
	b.SetProtection(nil, nil)
	assert.Equal(t, DefaultGlobalLossThreshold, b.LossThreshold())
	assert.Equal(t, DefaultReentryBuffer, b.Buffer())
	assert.Equal(t, []Asset{"BTC", "ETH", "USDT"}, b.Symbols())
	assert.InDelta(t, 1.8, b.Floor(2.0), 1e-12)

	b.GlobalLossThreshold = -1
	b.ReentryBuffer = -1
	assert.Equal(t, DefaultGlobalLossThreshold, b.LossThreshold())
	assert.Equal(t, DefaultReentryBuffer, b.Buffer())

	b.GlobalLossThreshold = 0.25
	b.ReentryBuffer = 0.05
	assert.Equal(t, 0.25, b.LossThreshold())
	assert.Equal(t, 0.05, b.Buffer())
}

func TestBot_ExplicitZeroProtection(t *testing.T) {
	zero := 0.0
	b := validBot()
	b.SetProtection(&zero, &zero)
	b.ApplyDefaults()

	require.NoError(t, b.Validate())
	assert.Zero(t, b.LossThreshold())
	assert.Zero(t, b.Buffer())
	// A zero loss threshold never lets value fall below the peak.
	assert.Equal(t, 2.0, b.Floor(2.0))
}
