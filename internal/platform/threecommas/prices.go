package threecommas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const currencyRatePath = "/public/api/ver1/accounts/currency_rate"

// PriceSource prices assets with 3Commas currency rates against the quote
// currency, which is treated as USD.
type PriceSource struct {
	c *Client
}

// NewPriceSource wraps c as a domain.PriceSource.
func NewPriceSource(c *Client) *PriceSource {
	return &PriceSource{c: c}
}

// Name identifies the source in observations.
func (s *PriceSource) Name() string { return "3commas" }

type currencyRate struct {
	Last decimal.Decimal `json:"last"`
}

// GetPrices queries one rate per symbol. Symbols that fail are left out;
// domain.ErrNoPrices is returned when none could be priced.
func (s *PriceSource) GetPrices(ctx context.Context, symbols []domain.Asset) (domain.PriceMap, error) {
	out := make(domain.PriceMap, len(symbols))
	var firstErr error
	for _, sym := range symbols {
		if string(sym) == s.c.quote {
			out.Set(sym, 1)
			continue
		}
		p, err := s.rate(ctx, sym)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out.Set(sym, p)
	}
	if len(out) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("threecommas: %w: %v", domain.ErrNoPrices, firstErr)
		}
		return nil, fmt.Errorf("threecommas: %w", domain.ErrNoPrices)
	}
	return out, nil
}

func (s *PriceSource) rate(ctx context.Context, sym domain.Asset) (float64, error) {
	q := url.Values{}
	q.Set("pair", s.c.quote+"_"+string(sym))
	q.Set("market_code", s.c.marketCode)

	body, err := s.c.do(ctx, "GET", currencyRatePath, q, nil)
	if err != nil {
		return 0, fmt.Errorf("currency rate %s: %w", sym, err)
	}
	var r currencyRate
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, fmt.Errorf("decode currency rate %s: %w", sym, err)
	}
	if !r.Last.IsPositive() {
		return 0, fmt.Errorf("currency rate %s: non-positive last %s", sym, r.Last)
	}
	return r.Last.InexactFloat64(), nil
}

var _ domain.PriceSource = (*PriceSource)(nil)
