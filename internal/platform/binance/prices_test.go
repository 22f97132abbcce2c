package binance

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func TestGetPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","price":"60000.10"},
			{"symbol":"ETHUSDT","price":"3000.00"},
			{"symbol":"ETHBTC","price":"0.05"},
			{"symbol":"BADUSDT","price":"0"}
		]`))
	}))
	defer srv.Close()

	src := NewPriceSource(Config{BaseURL: srv.URL})
	prices, err := src.GetPrices(t.Context(), domain.Assets("BTC", "ETH", "BAD", "USDT"))
	require.NoError(t, err)
	assert.Equal(t, domain.PriceMap{"BTC": 60000.10, "ETH": 3000, "USDT": 1}, prices)
	assert.Equal(t, "binance", src.Name())
}

func TestGetPricesNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewPriceSource(Config{BaseURL: srv.URL}).GetPrices(t.Context(), domain.Assets("BTC"))
	assert.ErrorIs(t, err, domain.ErrNoPrices)
}

func TestGetPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewPriceSource(Config{BaseURL: srv.URL}).GetPrices(t.Context(), domain.Assets("BTC"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoPrices)
}
