package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSource struct {
	name   string
	prices domain.PriceMap
	err    error
	asked  [][]domain.Asset
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) GetPrices(_ context.Context, symbols []domain.Asset) (domain.PriceMap, error) {
	f.asked = append(f.asked, symbols)
	if f.err != nil {
		return nil, f.err
	}
	out := make(domain.PriceMap)
	for _, a := range symbols {
		if p, ok := f.prices[a]; ok {
			out[a] = p
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNoPrices
	}
	return out, nil
}

type memCache struct {
	mu     sync.Mutex
	prices domain.PriceMap
	set    []domain.PriceMap
}

func (c *memCache) SetPrices(_ context.Context, p domain.PriceMap, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = append(c.set, p.Clone())
	return nil
}

func (c *memCache) GetPrice(_ context.Context, a domain.Asset) (float64, time.Time, error) {
	p, ok := c.prices[a]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (c *memCache) GetPrices(_ context.Context, assets []domain.Asset, _ time.Duration) (domain.PriceMap, error) {
	out := make(domain.PriceMap)
	for _, a := range assets {
		if p, ok := c.prices[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

type recBus struct {
	msgs map[string][][]byte
}

func (b *recBus) Publish(_ context.Context, ch string, payload []byte) error {
	if b.msgs == nil {
		b.msgs = make(map[string][][]byte)
	}
	b.msgs[ch] = append(b.msgs[ch], payload)
	return nil
}

func (b *recBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type countRec struct{ ok, failed int }

func (r *countRec) PriceFetch(_ string, ok bool, _ time.Duration) {
	if ok {
		r.ok++
	} else {
		r.failed++
	}
}

func TestFetchPrimaryOnly(t *testing.T) {
	primary := &fakeSource{name: "3commas", prices: domain.PriceMap{"BTC": 60000, "ETH": 3000}}
	fallback := &fakeSource{name: "coingecko"}
	cache := &memCache{}
	bus := &recBus{}
	rec := &countRec{}
	svc := NewPriceService([]domain.PriceSource{primary, fallback}, cache, bus, rec, PriceConfig{}, discard())

	prices, source, err := svc.Fetch(t.Context(), domain.Assets("BTC", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, "3commas", source)
	assert.Equal(t, domain.PriceMap{"BTC": 60000, "ETH": 3000}, prices)
	assert.Empty(t, fallback.asked)

	require.Len(t, cache.set, 1)
	require.Len(t, bus.msgs[domain.ChannelPrices], 1)
	var evt domain.PriceEvent
	require.NoError(t, json.Unmarshal(bus.msgs[domain.ChannelPrices][0], &evt))
	assert.Equal(t, "3commas", evt.Source)
	assert.Equal(t, 60000.0, evt.Prices["BTC"])
	assert.Equal(t, 1, rec.ok)
}

func TestFetchFallsBackForMissingSymbols(t *testing.T) {
	primary := &fakeSource{name: "3commas", prices: domain.PriceMap{"BTC": 60000}}
	fallback := &fakeSource{name: "coingecko", prices: domain.PriceMap{"BTC": 1, "ETH": 3000}}
	svc := NewPriceService([]domain.PriceSource{primary, fallback}, nil, nil, nil, PriceConfig{}, discard())

	prices, source, err := svc.Fetch(t.Context(), domain.Assets("BTC", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, "3commas+coingecko", source)
	assert.Equal(t, domain.PriceMap{"BTC": 60000, "ETH": 3000}, prices)
	require.Len(t, fallback.asked, 1)
	assert.Equal(t, domain.Assets("ETH"), fallback.asked[0])
}

func TestFetchPrimaryErrorThenFallback(t *testing.T) {
	primary := &fakeSource{name: "3commas", err: errors.New("timeout")}
	fallback := &fakeSource{name: "binance", prices: domain.PriceMap{"BTC": 60000}}
	rec := &countRec{}
	svc := NewPriceService([]domain.PriceSource{primary, fallback}, nil, nil, rec, PriceConfig{}, discard())

	_, source, err := svc.Fetch(t.Context(), domain.Assets("BTC"))
	require.NoError(t, err)
	assert.Equal(t, "binance", source)
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, 1, rec.ok)
}

func TestFetchCacheFillsRemainder(t *testing.T) {
	primary := &fakeSource{name: "3commas", prices: domain.PriceMap{"BTC": 60000}}
	cache := &memCache{prices: domain.PriceMap{"ETH": 2990}}
	svc := NewPriceService([]domain.PriceSource{primary}, cache, nil, nil, PriceConfig{CacheMaxAge: time.Minute}, discard())

	prices, source, err := svc.Fetch(t.Context(), domain.Assets("BTC", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, "3commas+cache", source)
	assert.Equal(t, domain.PriceMap{"BTC": 60000, "ETH": 2990}, prices)

	require.Len(t, cache.set, 1)
	assert.Equal(t, domain.PriceMap{"BTC": 60000}, cache.set[0])

	q, err := svc.Quote(t.Context(), domain.Assets("BTC", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, domain.PriceMap{"BTC": 60000}, q.Live)
	assert.Equal(t, "3commas", q.LiveSource())
	assert.Equal(t, "3commas+cache", q.Source())
}

func TestFetchNothing(t *testing.T) {
	primary := &fakeSource{name: "3commas", err: errors.New("down")}
	svc := NewPriceService([]domain.PriceSource{primary}, nil, nil, nil, PriceConfig{}, discard())

	_, _, err := svc.Fetch(t.Context(), domain.Assets("BTC"))
	assert.ErrorIs(t, err, domain.ErrNoPrices)
	assert.Equal(t, []string{"3commas"}, svc.SourceNames())
}
