package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAsset(t *testing.T) {
	assert.Equal(t, Asset("BTC"), NewAsset(" btc "))
	assert.True(t, NewAsset("usdt").Valid())
	assert.False(t, Asset("").Valid())
	assert.False(t, Asset("BTC-USD").Valid())
}

func TestAssets_DedupKeepsOrder(t *testing.T) {
	got := Assets("eth", "BTC", "ETH", "", "sol")
	assert.Equal(t, []Asset{"ETH", "BTC", "SOL"}, got)
}

func TestValidatePrices(t *testing.T) {
	raw := map[string]float64{
		"btc":  65000,
		"ETH":  0,
		"SOL":  -1,
		"DOGE": math.NaN(),
		"ADA":  math.Inf(1),
		"X-Y":  3,
		"usdt": 1,
	}
	got, rejects := ValidatePrices(raw)

	assert.Equal(t, PriceMap{"BTC": 65000, "USDT": 1}, got)
	assert.Len(t, rejects, 5)
}

func TestPriceMap_Helpers(t *testing.T) {
	m := PriceMap{"BTC": 2, "ETH": 1}

	p, ok := m.Get("BTC")
	assert.True(t, ok)
	assert.Equal(t, 2.0, p)

	assert.False(t, m.Set("SOL", 0))
	assert.True(t, m.Has("BTC", "ETH"))
	assert.Equal(t, []Asset{"SOL"}, m.Missing([]Asset{"BTC", "SOL"}))

	m.Merge(PriceMap{"BTC": 99, "XRP": 0.5})
	assert.Equal(t, 2.0, m["BTC"])
	assert.Equal(t, 0.5, m["XRP"])
	assert.Equal(t, []Asset{"BTC", "ETH", "XRP"}, m.Symbols())
}
