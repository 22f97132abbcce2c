package rebalance

import (
	"context"
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

type memState struct {
	mu        sync.Mutex
	bot       domain.Bot
	snaps     map[domain.Asset]domain.AssetSnapshot
	swaps     map[string]domain.SwapEvent
	obs       []domain.PriceObservation
	audit     []domain.AuditEntry
	commits   int
	last      domain.CycleCommit
	commitErr error
}

func newMemState(bot domain.Bot) *memState {
	return &memState{
		bot:   bot,
		snaps: make(map[domain.Asset]domain.AssetSnapshot),
		swaps: make(map[string]domain.SwapEvent),
	}
}

func (m *memState) LoadState(_ context.Context, botID int64) (domain.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if botID != m.bot.ID {
		return domain.BotState{}, domain.ErrNotFound
	}
	st := domain.BotState{Bot: m.bot, Snapshots: make(map[domain.Asset]domain.AssetSnapshot)}
	for a, s := range m.snaps {
		st.Snapshots[a] = s
	}
	if m.bot.ActiveTradeID != "" {
		if sw, ok := m.swaps[m.bot.ActiveTradeID]; ok {
			st.Pending = &sw
		}
	}
	return st, nil
}

func (m *memState) CommitState(_ context.Context, c domain.CycleCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	if c.ExpectedVersion != m.bot.Version {
		return domain.ErrConflict
	}
	if c.Bot != nil {
		m.bot = *c.Bot
		m.bot.Version++
	}
	for _, s := range c.Snapshots {
		m.snaps[s.Asset] = s
	}
	m.obs = append(m.obs, c.Observations...)
	if c.NewSwap != nil {
		m.swaps[c.NewSwap.TradeID] = *c.NewSwap
	}
	if u := c.SwapUpdate; u != nil {
		sw := m.swaps[u.TradeID]
		if !sw.Status.CanTransition(u.Status) {
			return domain.ErrInvalidTransition
		}
		sw.Status = u.Status
		sw.FilledPrice = u.FilledPrice
		at := u.SettledAt
		sw.SettledAt = &at
		m.swaps[u.TradeID] = sw
	}
	m.audit = append(m.audit, c.Audit...)
	m.last = c
	m.commits++
	return nil
}

type fakeFeed struct {
	prices domain.PriceMap
	cached map[domain.Asset]bool
	err    error
	calls  int
}

func (f *fakeFeed) Quote(_ context.Context, symbols []domain.Asset) (domain.PriceQuote, error) {
	f.calls++
	if f.err != nil {
		return domain.PriceQuote{}, f.err
	}
	q := domain.PriceQuote{Prices: make(domain.PriceMap), Live: make(domain.PriceMap), Sources: []string{"fake"}}
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			q.Prices[s] = p
			if !f.cached[s] {
				q.Live[s] = p
			}
		}
	}
	return q, nil
}

type fakeGateway struct {
	createErr error
	status    domain.TradeState
	requests  []domain.SwapRequest
	cancelled []string
	onCreate  func()
}

func (g *fakeGateway) CreateSwap(_ context.Context, req domain.SwapRequest) (string, error) {
	if g.createErr != nil {
		return "", g.createErr
	}
	g.requests = append(g.requests, req)
	if g.onCreate != nil {
		g.onCreate()
	}
	return "trade-1", nil
}

func (g *fakeGateway) GetStatus(context.Context, string) (domain.TradeState, error) {
	return g.status, nil
}

func (g *fakeGateway) Cancel(_ context.Context, id string) error {
	g.cancelled = append(g.cancelled, id)
	return nil
}

type harness struct {
	engine  *Engine
	state   *memState
	feed    *fakeFeed
	gateway *fakeGateway
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bot := domain.Bot{
		ID:            7,
		Name:          "xy",
		Enabled:       true,
		Coins:         []domain.Asset{"X", "Y"},
		Threshold:     0.05,
		CheckInterval: time.Minute,
		InitialCoin:   "X",
	}
	bot.ApplyDefaults()
	bot.SetProtection(nil, nil)
	require.NoError(t, bot.Validate())

	h := &harness{
		state:   newMemState(bot),
		feed:    &fakeFeed{prices: domain.PriceMap{"X": 100, "Y": 10}},
		gateway: &fakeGateway{status: domain.TradeState{Status: domain.TradeStatusPending}},
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.engine = NewEngine(Deps{
		State:   h.state,
		Prices:  h.feed,
		Gateway: h.gateway,
		Now:     func() time.Time { return h.now },
	}, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) run(t *testing.T) CycleResult {
	t.Helper()
	res, err := h.engine.RunCycle(context.Background(), 7)
	require.NoError(t, err)
	return res
}

func (h *harness) tick() { h.now = h.now.Add(time.Minute) }

func TestEngine_Initialises(t *testing.T) {
	h := newHarness(t)

	res := h.run(t)

	assert.Equal(t, OutcomeInitialized, res.Outcome)
	assert.Equal(t, domain.Asset("X"), h.state.bot.CurrentCoin)
	assert.Equal(t, 1.0, h.state.bot.GlobalPeakValue)
	assert.InDelta(t, 0.9, h.state.bot.MinAcceptableValue, 1e-12)
	x := h.state.snaps["X"]
	assert.True(t, x.WasEverHeld)
	assert.Equal(t, 1.0, x.UnitsHeld)
	assert.Equal(t, 100.0, x.InitialPrice)
	assert.Equal(t, 10.0, h.state.snaps["Y"].LastPrice)
	assert.False(t, h.state.snaps["Y"].WasEverHeld)
	assert.Len(t, h.state.obs, 2)
}

func TestEngine_UnchangedPricesNoSwap(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	before := map[domain.Asset]domain.AssetSnapshot{"X": h.state.snaps["X"], "Y": h.state.snaps["Y"]}

	for i := 0; i < 2; i++ {
		h.tick()
		// Both assets move in lockstep, so the ratio is unchanged.
		h.feed.prices["X"] *= 1.1
		h.feed.prices["Y"] *= 1.1

		res := h.run(t)

		assert.Equal(t, OutcomeNoSwap, res.Outcome)
		assert.InDelta(t, 1.0, res.Equivalent, 1e-12)
		assert.Empty(t, h.state.last.Snapshots)
		assert.Len(t, h.state.last.Observations, 2)
	}
	assert.Empty(t, h.gateway.requests)
	assert.Empty(t, h.state.swaps)
	assert.Equal(t, h.now, *h.state.bot.LastCheckTime)
	assert.Equal(t, before["X"], h.state.snaps["X"])
	assert.Equal(t, before["Y"], h.state.snaps["Y"])
}

func TestEngine_RerunWithinIntervalIsNoop(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	commits := h.state.commits
	version := h.state.bot.Version

	res := h.run(t)

	assert.Equal(t, OutcomeNotDue, res.Outcome)
	assert.Equal(t, commits, h.state.commits)
	assert.Equal(t, version, h.state.bot.Version)
}

func TestEngine_SwapIntoNeverHeldAsset(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	h.feed.prices["Y"] = 12

	res := h.run(t)

	require.Equal(t, OutcomeSwapCreated, res.Outcome)
	require.Len(t, h.gateway.requests, 1)
	req := h.gateway.requests[0]
	assert.Equal(t, "X_Y", req.Pair())
	assert.Equal(t, 1.0, req.Quantity)
	assert.Equal(t, "trade-1", h.state.bot.ActiveTradeID)
	assert.Equal(t, domain.Asset("Y"), h.state.bot.CurrentCoin)
	assert.Equal(t, 12.0, h.state.snaps["Y"].LastPrice)
	sw := h.state.swaps["trade-1"]
	assert.Equal(t, domain.SwapStatusPending, sw.Status)
	assert.InDelta(t, 0.2, sw.Change, 1e-12)

	// Still pending: no evaluation, no price fetch.
	h.tick()
	calls := h.feed.calls
	res = h.run(t)
	assert.Equal(t, OutcomeAwaitingTrade, res.Outcome)
	assert.Equal(t, calls, h.feed.calls)

	h.gateway.status = domain.TradeState{Status: domain.TradeStatusCompleted}
	h.tick()
	res = h.run(t)

	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Empty(t, h.state.bot.ActiveTradeID)
	y := h.state.snaps["Y"]
	assert.True(t, y.WasEverHeld)
	assert.InDelta(t, 100.0/12, y.UnitsHeld, 1e-9)
	assert.InDelta(t, 100.0/12, y.MaxUnitsReached, 1e-9)
	assert.Zero(t, h.state.snaps["X"].UnitsHeld)
	assert.Equal(t, domain.SwapStatusCompleted, h.state.swaps["trade-1"].Status)
	assert.GreaterOrEqual(t, h.state.bot.GlobalPeakValue, 1.0)
}

func TestEngine_FilledPriceDrivesUnits(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	h.feed.prices["Y"] = 12
	h.run(t)

	// 1 X at 0.125 X per Y.
	filled := 0.125
	h.gateway.status = domain.TradeState{Status: domain.TradeStatusCompleted, FilledPrice: &filled}
	h.tick()
	h.run(t)

	assert.InDelta(t, 8.0, h.state.snaps["Y"].UnitsHeld, 1e-9)
	assert.InDelta(t, 8.0, h.state.snaps["Y"].MaxUnitsReached, 1e-9)
}

func TestEngine_FailedSettlementRestoresHeldAsset(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	h.feed.prices["Y"] = 12
	h.run(t)

	h.gateway.status = domain.TradeState{Status: domain.TradeStatusFailed}
	h.tick()
	res := h.run(t)

	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Equal(t, domain.Asset("X"), h.state.bot.CurrentCoin)
	assert.Empty(t, h.state.bot.ActiveTradeID)
	assert.Equal(t, 1.0, h.state.snaps["X"].UnitsHeld)
	assert.False(t, h.state.snaps["Y"].WasEverHeld)
	assert.Equal(t, domain.SwapStatusFailed, h.state.swaps["trade-1"].Status)
}

func TestEngine_TradeCreationFailureLeavesStateForRetry(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	h.feed.prices["Y"] = 12
	h.gateway.createErr = errors.New("exchange down")
	before := *h.state.bot.LastCheckTime

	res, err := h.engine.RunCycle(context.Background(), 7)

	require.Error(t, err)
	assert.Equal(t, OutcomeTradeFailed, res.Outcome)
	assert.Equal(t, domain.Asset("X"), h.state.bot.CurrentCoin)
	assert.Empty(t, h.state.bot.ActiveTradeID)
	assert.Equal(t, before, *h.state.bot.LastCheckTime)
	assert.Equal(t, 10.0, h.state.snaps["Y"].LastPrice)
	assert.Empty(t, h.state.swaps)

	h.gateway.createErr = nil
	res = h.run(t)
	assert.Equal(t, OutcomeSwapCreated, res.Outcome)
}

func TestEngine_UnrecordedSwapIsCancelled(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	h.feed.prices["Y"] = 12
	h.gateway.onCreate = func() { h.state.commitErr = domain.ErrConflict }

	_, err := h.engine.RunCycle(context.Background(), 7)

	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, []string{"trade-1"}, h.gateway.cancelled)
	assert.Empty(t, h.state.bot.ActiveTradeID)
	assert.Empty(t, h.state.swaps)
}

func TestEngine_CachedPricesAreNotObserved(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	h.feed.cached = map[domain.Asset]bool{"Y": true}

	res := h.run(t)

	assert.Equal(t, OutcomeNoSwap, res.Outcome)
	require.Len(t, h.state.last.Observations, 1)
	assert.Equal(t, domain.Asset("X"), h.state.last.Observations[0].Asset)
	assert.Equal(t, "fake", h.state.last.Observations[0].Source)
}

func TestEngine_PriceFailureAbortsWithoutCommit(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	h.feed.err = domain.ErrNoPrices
	commits := h.state.commits

	_, err := h.engine.RunCycle(context.Background(), 7)

	require.ErrorIs(t, err, domain.ErrNoPrices)
	assert.Equal(t, commits, h.state.commits)
}

func TestEngine_MissingHeldPriceIsInsufficientData(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.tick()
	delete(h.feed.prices, "X")

	res := h.run(t)

	assert.Equal(t, OutcomeInsufficientData, res.Outcome)
	assert.Empty(t, h.gateway.requests)
}

func TestEngine_DisabledBot(t *testing.T) {
	h := newHarness(t)
	h.state.bot.Enabled = false

	res := h.run(t)

	assert.Equal(t, OutcomeDisabled, res.Outcome)
	assert.Zero(t, h.feed.calls)
}

func TestEngine_InvalidBotRejected(t *testing.T) {
	h := newHarness(t)
	h.state.bot.Coins = nil

	_, err := h.engine.RunCycle(context.Background(), 7)

	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestEngine_LockHeldSkips(t *testing.T) {
	h := newHarness(t)
	locks := NewLocalLocks()
	h.engine.deps.Locks = locks
	unlock, err := locks.Acquire(context.Background(), "bot:7", time.Minute)
	require.NoError(t, err)
	defer unlock()

	res := h.run(t)

	assert.Equal(t, OutcomeLocked, res.Outcome)
	assert.Zero(t, h.feed.calls)
}

func TestEngine_CommitConflictSurfaces(t *testing.T) {
	h := newHarness(t)
	h.state.commitErr = domain.ErrConflict

	_, err := h.engine.RunCycle(context.Background(), 7)

	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestEngine_PeakNeverDecreases(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	peaks := []float64{h.state.bot.GlobalPeakValue}
	for _, x := range []float64{120, 90, 150, 80} {
		h.tick()
		h.feed.prices["X"] = x
		h.feed.prices["Y"] = x / 10
		h.run(t)
		peaks = append(peaks, h.state.bot.GlobalPeakValue)
	}
	for i := 1; i < len(peaks); i++ {
		assert.GreaterOrEqual(t, peaks[i], peaks[i-1])
	}
}

func TestLocalLocks(t *testing.T) {
	l := NewLocalLocks()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock2, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	unlock2()
}
