package domain

import (
	"strings"
	"time"
)

// PriceObservation is one append-only price sample for a bot.
type PriceObservation struct {
	ID         int64
	BotID      int64
	Asset      Asset
	Price      float64
	Source     string
	ObservedAt time.Time
}

// PriceQuote is the result of one fetch through the source chain.
type PriceQuote struct {
	// Prices holds every price usable for a decision, cached ones included.
	Prices PriceMap
	// Live holds only the prices a source answered during this fetch.
	Live PriceMap
	// Sources names the sources that answered, in chain order.
	Sources []string
}

// LiveSource joins the names of the sources that answered.
func (q PriceQuote) LiveSource() string { return strings.Join(q.Sources, "+") }

// Source labels the whole quote, with "cache" appended when the cache filled
// any gap.
func (q PriceQuote) Source() string {
	names := q.Sources
	if len(q.Prices) > len(q.Live) {
		names = append(names[:len(names):len(names)], "cache")
	}
	return strings.Join(names, "+")
}

// Observations converts a price map into observations in lexical asset order.
func Observations(botID int64, prices PriceMap, source string, at time.Time) []PriceObservation {
	out := make([]PriceObservation, 0, len(prices))
	for _, a := range prices.Symbols() {
		out = append(out, PriceObservation{
			BotID:      botID,
			Asset:      a,
			Price:      prices[a],
			Source:     source,
			ObservedAt: at,
		})
	}
	return out
}
