package executor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Dedup remembers keys for a TTL window. Expired keys are pruned as new
// ones arrive, at most once per window. It is safe for concurrent use.
type Dedup struct {
	seen   map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	pruned time.Time
	mu     sync.Mutex
}

// NewDedup creates a Dedup that treats a key seen within ttl as a duplicate.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// IsDuplicate reports whether key was seen within the TTL, recording it
// when it was not.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	if now.Sub(d.pruned) >= d.ttl {
		d.prune(now)
	}
	d.seen[key] = now
	return false
}

// Forget drops key so it may be submitted again.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

func (d *Dedup) prune(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	d.pruned = now
}

// DedupGateway rejects a CreateSwap identical to one submitted within the
// window with domain.ErrDuplicateSwap. A failed submission is forgotten so
// the next cycle may retry it.
type DedupGateway struct {
	domain.TradeGateway
	dedup *Dedup
}

// NewDedupGateway wraps gw.
func NewDedupGateway(gw domain.TradeGateway, window time.Duration) *DedupGateway {
	return &DedupGateway{TradeGateway: gw, dedup: NewDedup(window)}
}

// CreateSwap forwards req unless it duplicates a recent submission.
func (g *DedupGateway) CreateSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	key := req.AccountID + "|" + req.Pair() + "|" + strconv.FormatFloat(req.Quantity, 'g', -1, 64)
	if g.dedup.IsDuplicate(key) {
		return "", domain.ErrDuplicateSwap
	}
	id, err := g.TradeGateway.CreateSwap(ctx, req)
	if err != nil {
		g.dedup.Forget(key)
		return "", err
	}
	return id, nil
}

var _ domain.TradeGateway = (*DedupGateway)(nil)
