// Package memory provides process-local stand-ins for the Redis price
// cache, signal bus and rate limiter, used when Redis is not configured.
package memory

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

var (
	_ domain.PriceCache = (*PriceCache)(nil)
	_ domain.SignalBus  = (*SignalBus)(nil)
)

type entry struct {
	price float64
	at    time.Time
}

// PriceCache keeps the latest price per asset.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[domain.Asset]entry
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[domain.Asset]entry)}
}

// SetPrices stores prices observed at ts.
func (c *PriceCache) SetPrices(_ context.Context, prices domain.PriceMap, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for a, p := range prices {
		c.prices[a] = entry{price: p, at: ts}
	}
	return nil
}

// GetPrice returns the cached price of asset, or domain.ErrNotFound.
func (c *PriceCache) GetPrice(_ context.Context, asset domain.Asset) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[asset]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return e.price, e.at, nil
}

// GetPrices returns the cached prices of assets no older than maxAge.
func (c *PriceCache) GetPrices(_ context.Context, assets []domain.Asset, maxAge time.Duration) (domain.PriceMap, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(domain.PriceMap, len(assets))
	now := time.Now()
	for _, a := range assets {
		e, ok := c.prices[a]
		if !ok || (maxAge > 0 && now.Sub(e.at) > maxAge) {
			continue
		}
		out.Set(a, e.price)
	}
	return out, nil
}

const (
	subscriberBuffer = 64
	streamCap        = 10000
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus fans published payloads out to subscribers whose pattern
// matches the channel (glob syntax, as Redis PSUBSCRIBE). Slow subscribers
// lose messages rather than block publishers. Streams are bounded in memory.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string][]domain.StreamMessage
	seq     int64
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every matching subscriber.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channels matching
// pattern. It is closed when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	s := &subscriber{pattern: pattern, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload to stream, trimming the oldest entries past
// the cap.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{ID: strconv.FormatInt(b.seq, 10), Payload: payload})
	if len(msgs) > streamCap {
		msgs = msgs[len(msgs)-streamCap:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID ("0" or "" for the
// beginning).
func (b *SignalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseInt(lastID, 10, 64)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}
