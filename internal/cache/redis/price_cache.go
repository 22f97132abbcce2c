package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// price lives at "price:{asset}" with fields "price" and "ts" (unix nanos).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. Entries expire after ttl; zero keeps
// them forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) priceKey(a domain.Asset) string {
	return pc.c.key("price", string(a))
}

// SetPrices stores every price in one pipeline, all stamped with ts.
func (pc *PriceCache) SetPrices(ctx context.Context, prices domain.PriceMap, ts time.Time) error {
	if len(prices) == 0 {
		return nil
	}
	stamp := strconv.FormatInt(ts.UnixNano(), 10)

	pipe := pc.c.rdb.TxPipeline()
	for a, p := range prices {
		key := pc.priceKey(a)
		pipe.HSet(ctx, key, "price", strconv.FormatFloat(p, 'f', -1, 64), "ts", stamp)
		if pc.ttl > 0 {
			pipe.Expire(ctx, key, pc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %d prices: %w", len(prices), err)
	}
	return nil
}

// GetPrice returns the cached price and its timestamp. It returns
// domain.ErrNotFound when the asset is not cached.
func (pc *PriceCache) GetPrice(ctx context.Context, a domain.Asset) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(a)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", a, err)
	}
	price, ts, err := parsePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", a, err)
	}
	return price, ts, nil
}

// GetPrices returns cached prices no older than maxAge. Missing, stale and
// malformed entries are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, assets []domain.Asset, maxAge time.Duration) (domain.PriceMap, error) {
	out := make(domain.PriceMap, len(assets))
	if len(assets) == 0 {
		return out, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[domain.Asset]*redis.MapStringStringCmd, len(assets))
	for _, a := range assets {
		cmds[a] = pipe.HGetAll(ctx, pc.priceKey(a))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	now := time.Now()
	for a, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		price, ts, err := parsePrice(vals)
		if err != nil {
			continue
		}
		if maxAge > 0 && now.Sub(ts) > maxAge {
			continue
		}
		out.Set(a, price)
	}
	return out, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, nanos), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
