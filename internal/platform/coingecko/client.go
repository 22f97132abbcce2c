// Package coingecko prices assets with the CoinGecko simple price API.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const (
	defaultBaseURL     = "https://api.coingecko.com/api/v3"
	defaultMinInterval = 1500 * time.Millisecond
	defaultTimeout     = 10 * time.Second
)

// knownIDs maps common tickers to CoinGecko ids so most baskets never hit
// the coin list.
var knownIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"USDC": "usd-coin",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"SOL":  "solana",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
	"AVAX": "avalanche-2",
	"LINK": "chainlink",
	"LTC":  "litecoin",
	"TRX":  "tron",
}

// Config configures a PriceSource.
type Config struct {
	BaseURL     string
	APIKey      string
	MinInterval time.Duration
	Timeout     time.Duration
}

// PriceSource implements domain.PriceSource on CoinGecko.
type PriceSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu  sync.Mutex
	ids map[string]string
}

// NewPriceSource creates a CoinGecko price source.
func NewPriceSource(cfg Config) *PriceSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	ids := make(map[string]string, len(knownIDs))
	for k, v := range knownIDs {
		ids[k] = v
	}
	return &PriceSource{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		ids:        ids,
	}
}

// Name identifies the source in observations.
func (s *PriceSource) Name() string { return "coingecko" }

// GetPrices resolves ids for symbols and fetches their USD prices in one
// request. Symbols without an id or a price are left out.
func (s *PriceSource) GetPrices(ctx context.Context, symbols []domain.Asset) (domain.PriceMap, error) {
	bySymbol := make(map[string]domain.Asset, len(symbols))
	var ids []string
	for _, a := range symbols {
		id, err := s.coinID(ctx, string(a))
		if err != nil {
			return nil, err
		}
		if id == "" {
			continue
		}
		if _, dup := bySymbol[id]; !dup {
			ids = append(ids, id)
		}
		bySymbol[id] = a
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("coingecko: %w", domain.ErrNoPrices)
	}
	sort.Strings(ids)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	var resp map[string]struct {
		USD *float64 `json:"usd"`
	}
	if err := s.get(ctx, "/simple/price?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("coingecko: simple price: %w", err)
	}

	out := make(domain.PriceMap, len(resp))
	for id, v := range resp {
		a, ok := bySymbol[id]
		if !ok || v.USD == nil {
			continue
		}
		out.Set(a, *v.USD)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("coingecko: %w", domain.ErrNoPrices)
	}
	return out, nil
}

type coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// coinID returns the id for symbol, consulting the coin list once for
// symbols that are not already known. An unknown symbol yields "".
func (s *PriceSource) coinID(ctx context.Context, symbol string) (string, error) {
	symbol = strings.ToUpper(symbol)
	s.mu.Lock()
	id, ok := s.ids[symbol]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	var coins []coin
	if err := s.get(ctx, "/coins/list", &coins); err != nil {
		return "", fmt.Errorf("coingecko: coins list: %w", err)
	}
	id = pickID(symbol, coins)

	s.mu.Lock()
	s.ids[symbol] = id
	s.mu.Unlock()
	return id, nil
}

// pickID prefers a match whose name equals the symbol or whose id contains
// it, otherwise the first coin with the symbol.
func pickID(symbol string, coins []coin) string {
	var first string
	for _, c := range coins {
		if !strings.EqualFold(c.Symbol, symbol) {
			continue
		}
		if strings.EqualFold(c.Name, symbol) || strings.Contains(strings.ToUpper(c.ID), symbol) {
			return c.ID
		}
		if first == "" {
			first = c.ID
		}
	}
	return first
}

func (s *PriceSource) get(ctx context.Context, path string, v any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ domain.PriceSource = (*PriceSource)(nil)
