package rebalance

import (
	"fmt"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// UnitEstimator returns the units of the candidate a swap of amount held
// units would yield.
type UnitEstimator func(amount, heldPrice, candidatePrice, feeRate float64) float64

// EstimateUnits is the default estimator: value converted at current prices,
// less the estimated fee.
func EstimateUnits(amount, heldPrice, candidatePrice, feeRate float64) float64 {
	if candidatePrice <= 0 {
		return 0
	}
	return amount * heldPrice / candidatePrice * (1 - feeRate)
}

// Candidate is a ranked asset with its pre-trade estimates.
type Candidate struct {
	Asset          domain.Asset
	Change         float64
	EstimatedUnits float64
	Equivalent     float64 // estimated units valued in the reference asset
	Price          float64
}

// Rejection records a candidate that failed a rule.
type Rejection struct {
	Candidate Candidate
	Reason    error
}

// Decision is the evaluator's output. Target is nil when nothing survived.
type Decision struct {
	Target     *Candidate
	Ranked     Changes
	Rejections []Rejection
}

// Input is everything the evaluator reads for one bot.
type Input struct {
	Bot       domain.Bot
	Held      domain.Asset
	Units     float64 // units of Held
	Changes   Changes
	Prices    domain.PriceMap
	Snapshots map[domain.Asset]domain.AssetSnapshot
	Peak      float64 // peak after this cycle's ratchet
}

// Evaluator applies the three protection rules in a fixed order.
type Evaluator struct {
	estimate UnitEstimator
}

// NewEvaluator returns an Evaluator using est, or EstimateUnits when est is
// nil.
func NewEvaluator(est UnitEstimator) *Evaluator {
	if est == nil {
		est = EstimateUnits
	}
	return &Evaluator{estimate: est}
}

// Evaluate ranks candidates by deviation and returns the first that passes
// both the re-entry and the global floor rules.
func (e *Evaluator) Evaluate(in Input) Decision {
	d := Decision{Ranked: RankByDeviation(in.Changes, in.Bot.Threshold)}
	if len(d.Ranked) == 0 {
		return d
	}
	heldPrice, _ := in.Prices.Get(in.Held)
	ref := in.Bot.Reference()
	refPrice, refOK := in.Prices.Get(ref)

	for _, c := range d.Ranked {
		cand := Candidate{Asset: c.Asset, Change: c.Value}
		price, ok := in.Prices.Get(c.Asset)
		if !ok || !refOK {
			missing := c.Asset
			if ok {
				missing = ref
			}
			d.Rejections = append(d.Rejections, Rejection{Candidate: cand, Reason: fmt.Errorf("%s: %w", missing, domain.ErrMissingPrice)})
			continue
		}
		cand.Price = price
		cand.EstimatedUnits = e.estimate(in.Units, heldPrice, price, in.Bot.FeeRate)
		cand.Equivalent = cand.EstimatedUnits * price / refPrice

		snap, ok := in.Snapshots[c.Asset]
		if !ok {
			snap = domain.AssetSnapshot{Asset: c.Asset}
		}
		if err := CheckReentry(snap, cand.EstimatedUnits, in.Bot.Buffer()); err != nil {
			d.Rejections = append(d.Rejections, Rejection{Candidate: cand, Reason: err})
			continue
		}
		if err := CheckGlobalFloor(c.Asset, cand.Equivalent, in.Peak, in.Bot.LossThreshold()); err != nil {
			d.Rejections = append(d.Rejections, Rejection{Candidate: cand, Reason: err})
			continue
		}
		target := cand
		d.Target = &target
		return d
	}
	return d
}
