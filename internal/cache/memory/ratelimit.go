package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

var _ domain.RateLimiter = (*RateLimiter)(nil)

// RateLimiter keeps one token bucket per key. A bucket refills limit tokens
// per window and holds at most limit.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow consumes one token from key's bucket.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	every := rate.Every(window / time.Duration(limit))

	r.mu.Lock()
	lim, ok := r.buckets[key]
	if !ok {
		lim = rate.NewLimiter(every, limit)
		r.buckets[key] = lim
	} else if lim.Limit() != every || lim.Burst() != limit {
		lim.SetLimit(every)
		lim.SetBurst(limit)
	}
	r.mu.Unlock()

	return lim.Allow(), nil
}
