package rebalance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func evalBot() domain.Bot {
	b := domain.Bot{
		Name:        "t",
		Coins:       []domain.Asset{"X", "A", "B"},
		Threshold:   0.05,
		InitialCoin: "X",
	}
	b.ApplyDefaults()
	b.SetProtection(nil, nil)
	return b
}

func TestEstimateUnits(t *testing.T) {
	assert.InDelta(t, 9.9, EstimateUnits(1, 100, 10, 0.01), 1e-12)
	assert.Zero(t, EstimateUnits(1, 100, 0, 0))
}

func TestEvaluate_NoCandidateAboveThreshold(t *testing.T) {
	d := NewEvaluator(nil).Evaluate(Input{
		Bot:     evalBot(),
		Held:    "X",
		Units:   1,
		Changes: Changes{{Asset: "A", Value: 0.01}, {Asset: "B", Value: 0.05}},
		Prices:  domain.PriceMap{"X": 1, "A": 1, "B": 1},
		Peak:    1,
	})
	assert.Nil(t, d.Target)
	assert.Empty(t, d.Ranked)
}

// Previously held at 10 units; re-entry would only give back 8.
func TestEvaluate_ReentryRejectsShrunkenPosition(t *testing.T) {
	bot := evalBot()
	d := NewEvaluator(nil).Evaluate(Input{
		Bot:     bot,
		Held:    "X",
		Units:   1,
		Changes: Changes{{Asset: "A", Value: 0.2}},
		Prices:  domain.PriceMap{"X": 8, "A": 1},
		Snapshots: map[domain.Asset]domain.AssetSnapshot{
			"A": {Asset: "A", WasEverHeld: true, MaxUnitsReached: 10},
		},
		Peak: 1,
	})

	require.Nil(t, d.Target)
	require.Len(t, d.Rejections, 1)
	assert.InDelta(t, 8.0, d.Rejections[0].Candidate.EstimatedUnits, 1e-12)
	var v *RuleViolation
	require.True(t, errors.As(d.Rejections[0].Reason, &v))
	assert.Equal(t, RuleReentry, v.Rule)
}

// Peak 2.0 with a 10% loss threshold puts the floor at 1.8: the top
// candidate worth 1.5 is rejected and the runner-up worth 1.85 is taken.
func TestEvaluate_GlobalFloorFirstFit(t *testing.T) {
	stub := func(_, _, candidatePrice, _ float64) float64 {
		if candidatePrice == 2 {
			return 0.75
		}
		return 0.4625
	}
	bot := evalBot()
	d := NewEvaluator(stub).Evaluate(Input{
		Bot:     bot,
		Held:    "X",
		Units:   1,
		Changes: Changes{{Asset: "A", Value: 0.30}, {Asset: "B", Value: 0.20}},
		Prices:  domain.PriceMap{"X": 1, "A": 2, "B": 4},
		Peak:    2.0,
	})

	require.NotNil(t, d.Target)
	assert.Equal(t, domain.Asset("B"), d.Target.Asset)
	assert.InDelta(t, 1.85, d.Target.Equivalent, 1e-9)
	require.Len(t, d.Rejections, 1)
	assert.Equal(t, domain.Asset("A"), d.Rejections[0].Candidate.Asset)
	assert.InDelta(t, 1.5, d.Rejections[0].Candidate.Equivalent, 1e-9)
	var v *RuleViolation
	require.True(t, errors.As(d.Rejections[0].Reason, &v))
	assert.Equal(t, RuleGlobalFloor, v.Rule)
}

func TestEvaluate_ReferenceOutsideBasket(t *testing.T) {
	bot := evalBot()
	bot.ReferenceCoin = "USDT"
	bot.ExternalReference = true
	d := NewEvaluator(nil).Evaluate(Input{
		Bot:     bot,
		Held:    "X",
		Units:   1,
		Changes: Changes{{Asset: "A", Value: 0.1}},
		Prices:  domain.PriceMap{"X": 100, "A": 10, "USDT": 1},
		Peak:    100,
	})
	require.NotNil(t, d.Target)
	assert.InDelta(t, 10.0, d.Target.EstimatedUnits, 1e-12)
	assert.InDelta(t, 100.0, d.Target.Equivalent, 1e-12)
}

func TestEvaluate_MissingReferencePrice(t *testing.T) {
	bot := evalBot()
	bot.ReferenceCoin = "USDT"
	bot.ExternalReference = true
	d := NewEvaluator(nil).Evaluate(Input{
		Bot:     bot,
		Held:    "X",
		Units:   1,
		Changes: Changes{{Asset: "A", Value: 0.1}},
		Prices:  domain.PriceMap{"X": 100, "A": 10},
		Peak:    1,
	})
	assert.Nil(t, d.Target)
	require.Len(t, d.Rejections, 1)
	assert.True(t, errors.Is(d.Rejections[0].Reason, domain.ErrMissingPrice))
}
