// Package binance prices assets from Binance spot tickers.
package binance

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Config configures the price source.
type Config struct {
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Quote is appended to each asset to form the ticker symbol.
	Quote string
}

// PriceSource reads the latest ticker price of ASSET+Quote, treating the
// quote (USDT by default) as USD.
type PriceSource struct {
	client *binance.Client
	quote  string
}

// NewPriceSource creates a price source on the public ticker endpoint.
func NewPriceSource(cfg Config) *PriceSource {
	client := binance.NewClient("", "")
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	quote := strings.ToUpper(cfg.Quote)
	if quote == "" {
		quote = "USDT"
	}
	return &PriceSource{client: client, quote: quote}
}

// Name identifies the source in observations.
func (s *PriceSource) Name() string { return "binance" }

// GetPrices lists all ticker prices in one call and keeps those of symbols.
func (s *PriceSource) GetPrices(ctx context.Context, symbols []domain.Asset) (domain.PriceMap, error) {
	tickers, err := s.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: list prices: %w", err)
	}

	want := make(map[string]domain.Asset, len(symbols))
	out := make(domain.PriceMap, len(symbols))
	for _, a := range symbols {
		if string(a) == s.quote {
			out.Set(a, 1)
			continue
		}
		want[string(a)+s.quote] = a
	}
	for _, t := range tickers {
		a, ok := want[t.Symbol]
		if !ok {
			continue
		}
		p, err := decimal.NewFromString(t.Price)
		if err != nil || !p.IsPositive() {
			continue
		}
		out.Set(a, p.InexactFloat64())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("binance: %w", domain.ErrNoPrices)
	}
	return out, nil
}

var _ domain.PriceSource = (*PriceSource)(nil)
