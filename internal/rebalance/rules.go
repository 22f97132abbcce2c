package rebalance

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Rule names a protection rule.
type Rule string

const (
	RuleDeviation   Rule = "deviation"
	RuleReentry     Rule = "reentry"
	RuleGlobalFloor Rule = "global_floor"
)

// RuleViolation explains why a candidate was rejected.
type RuleViolation struct {
	Rule     Rule
	Asset    domain.Asset
	Got      float64
	Required float64
}

func (v *RuleViolation) Error() string {
	return fmt.Sprintf("%s rule rejected %s: got %.8g against %.8g", v.Rule, v.Asset, v.Got, v.Required)
}

// RankByDeviation keeps candidates whose change exceeds threshold and orders
// them by change, largest first. Ties keep their input order.
func RankByDeviation(changes Changes, threshold float64) Changes {
	ranked := make(Changes, 0, len(changes))
	for _, c := range changes {
		if c.Value > threshold {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Value > ranked[j].Value })
	return ranked
}

// CheckReentry guards against returning to a previously held asset with
// fewer units than were once held there. Assets never held always pass.
func CheckReentry(snap domain.AssetSnapshot, estimatedUnits, buffer float64) error {
	if !snap.WasEverHeld {
		return nil
	}
	required := snap.MaxUnitsReached * (1 + buffer)
	if estimatedUnits > required {
		return nil
	}
	return &RuleViolation{Rule: RuleReentry, Asset: snap.Asset, Got: estimatedUnits, Required: required}
}

// CheckGlobalFloor rejects a swap whose resulting holding would be worth
// less than peak × (1 − lossThreshold) in reference units.
func CheckGlobalFloor(asset domain.Asset, equivalent, peak, lossThreshold float64) error {
	floor := peak * (1 - lossThreshold)
	if equivalent >= floor {
		return nil
	}
	return &RuleViolation{Rule: RuleGlobalFloor, Asset: asset, Got: equivalent, Required: floor}
}
