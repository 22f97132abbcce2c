package threecommas

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/crypto"
	"github.com/alanyoungcy/basketbot/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:     srv.URL,
		Key:         "key",
		Secret:      "secret",
		MinInterval: time.Millisecond,
		Retries:     2,
		Backoff:     time.Millisecond,
	})
}

func TestGetPricesSignsRequests(t *testing.T) {
	auth := crypto.HMACAuth{Key: "key", Secret: "secret"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, currencyRatePath, r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APIKEY"))
		assert.Equal(t, auth.Sign(r.URL.RequestURI()), r.Header.Get("Signature"))
		assert.Equal(t, "binance", r.URL.Query().Get("market_code"))

		switch r.URL.Query().Get("pair") {
		case "USDT_BTC":
			_, _ = w.Write([]byte(`{"last":"60000.5"}`))
		case "USDT_ETH":
			_, _ = w.Write([]byte(`{"last":3000}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unknown_pair","error_description":"no such pair"}`))
		}
	})

	prices, err := NewPriceSource(c).GetPrices(t.Context(), domain.Assets("BTC", "ETH", "NOPE", "USDT"))
	require.NoError(t, err)
	assert.Equal(t, domain.PriceMap{"BTC": 60000.5, "ETH": 3000, "USDT": 1}, prices)
}

func TestGetPricesNothingPriced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"last":"0"}`))
	})
	_, err := NewPriceSource(c).GetPrices(t.Context(), domain.Assets("BTC"))
	assert.ErrorIs(t, err, domain.ErrNoPrices)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"last":"1.5"}`))
	})

	prices, err := NewPriceSource(c).GetPrices(t.Context(), domain.Assets("ADA"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, prices["ADA"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := NewGateway(c).GetStatus(t.Context(), "1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMissingKey(t *testing.T) {
	c := NewClient(Config{})
	_, err := NewGateway(c).GetStatus(t.Context(), "1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateSwap(t *testing.T) {
	auth := crypto.HMACAuth{Key: "key", Secret: "secret"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, smartTradesPath, r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, auth.Sign(smartTradesPath+string(body)), r.Header.Get("Signature"))

		var req smartTradeRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "acc-1", req.AccountID)
		assert.Equal(t, "BTC_ETH", req.Pair)
		assert.Equal(t, "buy", req.Position.Type)
		assert.Equal(t, "market", req.Position.OrderType)
		assert.Equal(t, "20", req.Position.Units.Value)

		_, _ = w.Write([]byte(`{"id":9876,"status":{"type":"created"}}`))
	})

	id, err := NewGateway(c).CreateSwap(t.Context(), domain.SwapRequest{
		AccountID: "acc-1", From: "BTC", To: "ETH", Quantity: 1, FromPrice: 60000, ToPrice: 3000,
	})
	require.NoError(t, err)
	assert.Equal(t, "9876", id)
}

func TestCreateSwapRejectsBadRequest(t *testing.T) {
	c := NewClient(Config{Key: "k", Secret: "s"})
	_, err := NewGateway(c).CreateSwap(t.Context(), domain.SwapRequest{From: "A", To: "B"})
	assert.Error(t, err)
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		body   string
		status domain.TradeStatus
		filled *float64
	}{
		{`{"id":1,"status":{"type":"waiting_targets"}}`, domain.TradeStatusPending, nil},
		{`{"id":1,"status":"completed","filled_price":"0.0498"}`, domain.TradeStatusCompleted, ptr(0.0498)},
		{`{"id":1,"status":{"type":"failed"}}`, domain.TradeStatusFailed, nil},
		{`{"id":1,"status":{"type":"panic_sold"}}`, domain.TradeStatusCancelled, nil},
		{`{"id":1,"status":{"type":"mystery"}}`, domain.TradeStatusUnknown, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, smartTradesPath+"/1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})
			st, err := NewGateway(c).GetStatus(t.Context(), "1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, st.Status)
			assert.Equal(t, tt.filled, st.FilledPrice)
		})
	}
}

func TestCancel(t *testing.T) {
	var hit bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hit = r.Method == http.MethodPost && r.URL.Path == smartTradesPath+"/5/cancel"
		_, _ = w.Write([]byte(`{}`))
	})
	require.NoError(t, NewGateway(c).Cancel(t.Context(), "5"))
	assert.True(t, hit)
}

func ptr(f float64) *float64 { return &f }
