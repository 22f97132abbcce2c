package rebalance

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// LocalLocks is an in-process LockManager for single-instance deployments.
// Acquire never blocks: a held key yields domain.ErrLockHeld.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalLocks creates an empty LocalLocks.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]time.Time), now: time.Now}
}

// Acquire takes key until the returned unlock is called or ttl expires.
func (l *LocalLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, domain.ErrLockHeld
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(exp) {
			delete(l.held, key)
		}
	}, nil
}

var _ domain.LockManager = (*LocalLocks)(nil)
