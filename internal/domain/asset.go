package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Asset is an upper-case ticker symbol such as "BTC" or "USDT".
type Asset string

// NewAsset normalises a raw symbol: surrounding whitespace is dropped and the
// result is upper-cased.
func NewAsset(s string) Asset {
	return Asset(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether the symbol is non-empty and contains only
// alphanumerics.
func (a Asset) Valid() bool {
	if a == "" {
		return false
	}
	for _, r := range a {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (a Asset) String() string { return string(a) }

// Assets converts raw symbols to normalised assets, preserving order and
// dropping duplicates.
func Assets(raw ...string) []Asset {
	out := make([]Asset, 0, len(raw))
	seen := make(map[Asset]struct{}, len(raw))
	for _, s := range raw {
		a := NewAsset(s)
		if _, dup := seen[a]; dup || a == "" {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// PriceMap holds USD prices keyed by asset. Every value in a PriceMap built
// through Set or ValidatePrices is finite and strictly positive.
type PriceMap map[Asset]float64

// Get returns the price for a and whether it is present.
func (m PriceMap) Get(a Asset) (float64, bool) {
	p, ok := m[a]
	return p, ok
}

// Set stores p for a if it is a usable price and reports whether it was stored.
func (m PriceMap) Set(a Asset, p float64) bool {
	if !usablePrice(p) {
		return false
	}
	m[a] = p
	return true
}

// Has reports whether every asset in want has a price.
func (m PriceMap) Has(want ...Asset) bool {
	for _, a := range want {
		if _, ok := m[a]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the assets of want that have no price, in input order.
func (m PriceMap) Missing(want []Asset) []Asset {
	var out []Asset
	for _, a := range want {
		if _, ok := m[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// Merge copies every entry of other that is absent from m.
func (m PriceMap) Merge(other PriceMap) {
	for a, p := range other {
		if _, ok := m[a]; !ok {
			m[a] = p
		}
	}
}

// Symbols returns the priced assets in lexical order.
func (m PriceMap) Symbols() []Asset {
	out := make([]Asset, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a shallow copy.
func (m PriceMap) Clone() PriceMap {
	out := make(PriceMap, len(m))
	for a, p := range m {
		out[a] = p
	}
	return out
}

// ValidatePrices builds a PriceMap from raw source output. Entries with an
// invalid symbol or a non-positive, NaN or infinite price are dropped and
// returned as rejects so the caller can log them.
func ValidatePrices(raw map[string]float64) (PriceMap, []string) {
	out := make(PriceMap, len(raw))
	var rejects []string
	for sym, p := range raw {
		a := NewAsset(sym)
		if !a.Valid() || !out.Set(a, p) {
			rejects = append(rejects, fmt.Sprintf("%s=%v", sym, p))
		}
	}
	sort.Strings(rejects)
	return out, rejects
}

func usablePrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
