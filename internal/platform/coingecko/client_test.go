package coingecko

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func TestGetPrices(t *testing.T) {
	var listCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/coins/list":
			listCalls.Add(1)
			_, _ = w.Write([]byte(`[
				{"id":"frog-coin","symbol":"pepe","name":"Frog"},
				{"id":"pepe","symbol":"pepe","name":"Pepe"}
			]`))
		case "/simple/price":
			assert.Equal(t, "bitcoin,pepe", r.URL.Query().Get("ids"))
			assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
			_, _ = w.Write([]byte(`{"bitcoin":{"usd":60000},"pepe":{"usd":0.00001}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewPriceSource(Config{BaseURL: srv.URL, MinInterval: time.Millisecond})
	prices, err := src.GetPrices(t.Context(), domain.Assets("BTC", "PEPE"))
	require.NoError(t, err)
	assert.Equal(t, domain.PriceMap{"BTC": 60000, "PEPE": 0.00001}, prices)

	_, err = src.GetPrices(t.Context(), domain.Assets("BTC", "PEPE"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), listCalls.Load())
}

func TestGetPricesUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	src := NewPriceSource(Config{BaseURL: srv.URL, MinInterval: time.Millisecond})
	_, err := src.GetPrices(t.Context(), domain.Assets("ZZZ"))
	assert.ErrorIs(t, err, domain.ErrNoPrices)
}

func TestGetPricesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewPriceSource(Config{BaseURL: srv.URL, MinInterval: time.Millisecond})
	_, err := src.GetPrices(t.Context(), domain.Assets("BTC"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestPickID(t *testing.T) {
	coins := []coin{
		{ID: "alpha", Symbol: "x", Name: "Alpha"},
		{ID: "x-token", Symbol: "x", Name: "Token"},
	}
	assert.Equal(t, "x-token", pickID("X", coins))
	assert.Equal(t, "", pickID("Y", coins))
}
