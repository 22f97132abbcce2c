// Package rebalance decides when a bot should rotate its held asset into
// another member of its basket.
package rebalance

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// ratioEpsilon is the smallest baseline ratio treated as meaningful.
const ratioEpsilon = 1e-12

// Change is the relative move of one candidate against the held asset.
type Change struct {
	Asset domain.Asset
	Value float64
}

// Changes holds candidate changes in basket order.
type Changes []Change

// Get returns the change for a and whether it was computed.
func (cs Changes) Get(a domain.Asset) (float64, bool) {
	for _, c := range cs {
		if c.Asset == a {
			return c.Value, true
		}
	}
	return 0, false
}

// Assets returns the candidates in order.
func (cs Changes) Assets() []domain.Asset {
	out := make([]domain.Asset, len(cs))
	for i, c := range cs {
		out[i] = c.Asset
	}
	return out
}

// DataGap names an asset that could not be evaluated and why. Reason wraps
// domain.ErrMissingPrice or domain.ErrInsufficientData.
type DataGap struct {
	Asset  domain.Asset
	Reason error
}

func (g DataGap) Error() string {
	return fmt.Sprintf("%s: %v", g.Asset, g.Reason)
}

// CalculateChanges computes, for every basket member other than held, the
// relative change of its price ratio against held between then and now.
//
//	change = (now[c]/now[held] - then[c]/then[held]) / (then[c]/then[held])
//
// Candidates missing from either map, or whose baseline ratio is too small to
// divide by, are reported as gaps instead of producing a value. When held
// itself is unpriced the result is empty and the single gap names held.
func CalculateChanges(held domain.Asset, basket []domain.Asset, then, now domain.PriceMap) (Changes, []DataGap) {
	var gaps []DataGap
	heldThen, okThen := then.Get(held)
	heldNow, okNow := now.Get(held)
	if !okThen || !okNow || heldThen <= 0 || heldNow <= 0 {
		return nil, []DataGap{{Asset: held, Reason: fmt.Errorf("held asset: %w", domain.ErrMissingPrice)}}
	}

	changes := make(Changes, 0, len(basket))
	for _, c := range basket {
		if c == held {
			continue
		}
		pThen, okThen := then.Get(c)
		pNow, okNow := now.Get(c)
		if !okThen || !okNow {
			gaps = append(gaps, DataGap{Asset: c, Reason: domain.ErrMissingPrice})
			continue
		}
		ratioThen := pThen / heldThen
		ratioNow := pNow / heldNow
		if math.Abs(ratioThen) < ratioEpsilon {
			gaps = append(gaps, DataGap{Asset: c, Reason: domain.ErrInsufficientData})
			continue
		}
		v := (ratioNow - ratioThen) / ratioThen
		if math.IsNaN(v) || math.IsInf(v, 0) {
			gaps = append(gaps, DataGap{Asset: c, Reason: domain.ErrInsufficientData})
			continue
		}
		changes = append(changes, Change{Asset: c, Value: v})
	}
	return changes, gaps
}
