package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest price per asset.
type PriceCache interface {
	SetPrices(ctx context.Context, prices PriceMap, ts time.Time) error
	GetPrice(ctx context.Context, asset Asset) (float64, time.Time, error)
	// GetPrices returns the cached prices no older than maxAge. A zero maxAge
	// disables the age check.
	GetPrices(ctx context.Context, assets []Asset, maxAge time.Duration) (PriceMap, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides mutual exclusion keyed by name.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
