package rebalance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func TestRankByDeviation(t *testing.T) {
	changes := Changes{
		{Asset: "A", Value: 0.06},
		{Asset: "B", Value: 0.05},
		{Asset: "C", Value: 0.10},
		{Asset: "D", Value: 0.06},
		{Asset: "E", Value: -0.2},
	}
	ranked := RankByDeviation(changes, 0.05)

	// Strictly greater than the threshold; ties keep basket order.
	assert.Equal(t, []domain.Asset{"C", "A", "D"}, ranked.Assets())
}

func TestRankByDeviation_NothingEligible(t *testing.T) {
	assert.Empty(t, RankByDeviation(Changes{{Asset: "A", Value: 0.01}}, 0.05))
}

func TestCheckReentry(t *testing.T) {
	never := domain.AssetSnapshot{Asset: "ETH", MaxUnitsReached: 100}
	assert.NoError(t, CheckReentry(never, 0.001, 0.01))

	held := domain.AssetSnapshot{Asset: "ETH", WasEverHeld: true, MaxUnitsReached: 10}
	assert.NoError(t, CheckReentry(held, 10.2, 0.01))

	err := CheckReentry(held, 10.05, 0.01)
	require.Error(t, err)
	var v *RuleViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, RuleReentry, v.Rule)
	assert.InDelta(t, 10.1, v.Required, 1e-12)
}

func TestCheckGlobalFloor(t *testing.T) {
	assert.NoError(t, CheckGlobalFloor("ETH", 1.8, 2.0, 0.10))
	assert.NoError(t, CheckGlobalFloor("ETH", 5, 0, 0.10))

	err := CheckGlobalFloor("ETH", 1.79, 2.0, 0.10)
	var v *RuleViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, RuleGlobalFloor, v.Rule)
}

func TestRatchet(t *testing.T) {
	peak, eq := Ratchet(1.0, 2, 50, 100)
	assert.Equal(t, 1.0, peak)
	assert.Equal(t, 1.0, eq)

	peak, eq = Ratchet(1.0, 3, 50, 100)
	assert.Equal(t, 1.5, peak)
	assert.Equal(t, 1.5, eq)

	peak, _ = Ratchet(1.5, 1, 50, 100)
	assert.Equal(t, 1.5, peak, "peak never decreases")

	peak, eq = Ratchet(1.5, 1, 50, 0)
	assert.Equal(t, 1.5, peak)
	assert.Zero(t, eq)
}
