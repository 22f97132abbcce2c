package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func openTest(t *testing.T) *Client {
	t.Helper()
	c, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(context.Background()))
	return c
}

func sampleBot(name string) domain.Bot {
	b := domain.Bot{
		Name:          name,
		Enabled:       true,
		AccountID:     "acc-1",
		Coins:         []domain.Asset{"BTC", "ETH", "SOL"},
		Threshold:     0.05,
		CheckInterval: 90 * time.Second,
		InitialCoin:   "BTC",
	}
	b.ApplyDefaults()
	return b
}

func TestRunMigrations_Idempotent(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.RunMigrations(context.Background()))
	require.NoError(t, c.Ping(context.Background()))
}

func TestBotStore_CRUD(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	bots := c.Bots()

	created, err := bots.Create(ctx, sampleBot("majors"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, []domain.Asset{"BTC", "ETH", "SOL"}, created.Coins)
	assert.Equal(t, 90*time.Second, created.CheckInterval)
	assert.Equal(t, domain.Asset("BTC"), created.ReferenceCoin)
	assert.Nil(t, created.LastCheckTime)
	assert.False(t, created.Initialized())

	_, err = bots.Create(ctx, sampleBot("majors"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	created.Threshold = 0.08
	updated, err := bots.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, 0.08, updated.Threshold)
	assert.Equal(t, created.Version, updated.Version, "config edits leave the state version alone")

	require.NoError(t, bots.SetEnabled(ctx, created.ID, false))
	enabled, err := bots.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := bots.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, bots.Delete(ctx, created.ID))
	_, err = bots.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, bots.Delete(ctx, created.ID), domain.ErrNotFound)
}

func TestBotStore_UpsertByNameKeepsState(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	b, err := c.Bots().UpsertByName(ctx, sampleBot("alts"))
	require.NoError(t, err)

	now := time.Now().UTC()
	held := b
	held.CurrentCoin = "BTC"
	held.GlobalPeakValue = 2
	held.LastCheckTime = &now
	require.NoError(t, c.State().CommitState(ctx, domain.CycleCommit{BotID: b.ID, ExpectedVersion: b.Version, Bot: &held}))

	cfg := sampleBot("alts")
	cfg.Threshold = 0.1
	again, err := c.Bots().UpsertByName(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)
	assert.Equal(t, 0.1, again.Threshold)
	assert.Equal(t, domain.Asset("BTC"), again.CurrentCoin)
	assert.Equal(t, 2.0, again.GlobalPeakValue)
}

func TestStateStore_CommitAndLoad(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	b, err := c.Bots().Create(ctx, sampleBot("majors"))
	require.NoError(t, err)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	bot := b
	bot.CurrentCoin = "ETH"
	bot.ActiveTradeID = "t-1"
	bot.LastCheckTime = &now
	err = c.State().CommitState(ctx, domain.CycleCommit{
		BotID:           b.ID,
		ExpectedVersion: b.Version,
		Bot:             &bot,
		Snapshots: []domain.AssetSnapshot{
			{BotID: b.ID, Asset: "BTC", InitialPrice: 100, LastPrice: 100, UnitsHeld: 1, MaxUnitsReached: 1, WasEverHeld: true, UpdatedAt: now},
		},
		Observations: domain.Observations(b.ID, domain.PriceMap{"BTC": 100, "ETH": 10, "SOL": 1}, "test", now),
		NewSwap: &domain.SwapEvent{
			BotID: b.ID, TradeID: "t-1", From: "BTC", To: "ETH", Change: 0.2,
			Quantity: 1, EstimatedUnits: 10, FromPrice: 100, ToPrice: 10,
			Status: domain.SwapStatusPending, CreatedAt: now,
		},
		Audit: []domain.AuditEntry{{BotID: b.ID, Level: domain.AuditInfo, Event: "swap_created", Detail: map[string]any{"k": "v"}, CreatedAt: now}},
	})
	require.NoError(t, err)

	st, err := c.State().LoadState(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Asset("ETH"), st.Bot.CurrentCoin)
	assert.Equal(t, b.Version+1, st.Bot.Version)
	assert.Equal(t, now, *st.Bot.LastCheckTime)
	require.NotNil(t, st.Pending)
	assert.Equal(t, domain.SwapStatusPending, st.Pending.Status)
	assert.Equal(t, 1.0, st.Snapshots["BTC"].UnitsHeld)
	assert.Equal(t, domain.PriceMap{"BTC": 100, "ETH": 10, "SOL": 1}, st.Seeds)

	logs, err := c.Audit().List(ctx, b.ID, domain.ListOpts{Status: "info"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "v", logs[0].Detail["k"])
}

func TestStateStore_StaleVersionConflicts(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	b, err := c.Bots().Create(ctx, sampleBot("majors"))
	require.NoError(t, err)
	checked := time.Now()
	moved := b
	moved.LastCheckTime = &checked
	require.NoError(t, c.State().CommitState(ctx, domain.CycleCommit{BotID: b.ID, ExpectedVersion: b.Version, Bot: &moved}))

	err = c.State().CommitState(ctx, domain.CycleCommit{
		BotID:           b.ID,
		ExpectedVersion: b.Version,
		Bot:             &b,
		Observations:    domain.Observations(b.ID, domain.PriceMap{"BTC": 1}, "test", time.Now()),
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	obs, err := c.Observations().List(ctx, b.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, obs, "conflicting commit must write nothing")
}

func TestStateStore_SnapshotInvariants(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	b, err := c.Bots().Create(ctx, sampleBot("majors"))
	require.NoError(t, err)
	now := time.Now().UTC()

	commit := func(version int64, snap domain.AssetSnapshot) {
		t.Helper()
		snap.BotID = b.ID
		snap.UpdatedAt = now
		require.NoError(t, c.State().CommitState(ctx, domain.CycleCommit{
			BotID: b.ID, ExpectedVersion: version, Snapshots: []domain.AssetSnapshot{snap},
		}))
	}
	commit(b.Version, domain.AssetSnapshot{Asset: "ETH", InitialPrice: 10, LastPrice: 10, UnitsHeld: 5, MaxUnitsReached: 5, WasEverHeld: true})
	commit(b.Version, domain.AssetSnapshot{Asset: "ETH", InitialPrice: 20, LastPrice: 20, UnitsHeld: 0, MaxUnitsReached: 2})

	snap, err := c.Snapshots().Get(ctx, b.ID, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.InitialPrice, "initial price is written once")
	assert.Equal(t, 20.0, snap.LastPrice)
	assert.Equal(t, 5.0, snap.MaxUnitsReached, "high-water mark never decreases")
	assert.True(t, snap.WasEverHeld)
	assert.Zero(t, snap.UnitsHeld)
}

func TestStateStore_SwapTransitions(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	b, err := c.Bots().Create(ctx, sampleBot("majors"))
	require.NoError(t, err)
	now := time.Now().UTC()
	pending := func(id string) *domain.SwapEvent {
		return &domain.SwapEvent{BotID: b.ID, TradeID: id, From: "BTC", To: "ETH", Status: domain.SwapStatusPending, CreatedAt: now}
	}

	require.NoError(t, c.State().CommitState(ctx, domain.CycleCommit{BotID: b.ID, ExpectedVersion: b.Version, NewSwap: pending("t-1")}))

	err = c.State().CommitState(ctx, domain.CycleCommit{BotID: b.ID, ExpectedVersion: b.Version, NewSwap: pending("t-2")})
	require.ErrorIs(t, err, domain.ErrTradeActive, "one pending swap per bot")

	filled := 9.5
	settle := domain.SwapUpdate{TradeID: "t-1", Status: domain.SwapStatusCompleted, FilledPrice: &filled, SettledAt: now}
	require.NoError(t, c.State().CommitState(ctx, domain.CycleCommit{BotID: b.ID, ExpectedVersion: b.Version, SwapUpdate: &settle}))

	again := domain.SwapUpdate{TradeID: "t-1", Status: domain.SwapStatusFailed, SettledAt: now}
	err = c.State().CommitState(ctx, domain.CycleCommit{BotID: b.ID, ExpectedVersion: b.Version, SwapUpdate: &again})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	sw, err := c.Swaps().GetByTradeID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusCompleted, sw.Status)
	require.NotNil(t, sw.FilledPrice)
	assert.Equal(t, 9.5, *sw.FilledPrice)
	require.NotNil(t, sw.SettledAt)

	listed, err := c.Swaps().ListByBot(ctx, b.ID, domain.ListOpts{Status: "completed"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	pendingList, err := c.Swaps().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pendingList)
}

func TestObservationStore_Recent(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	b, err := c.Bots().Create(ctx, sampleBot("majors"))
	require.NoError(t, err)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, c.Observations().Append(ctx, domain.Observations(b.ID,
			domain.PriceMap{"BTC": float64(100 + i), "ETH": float64(10 + i)}, "test", at)))
	}

	recent, err := c.Observations().Recent(ctx, b.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, domain.Asset("BTC"), recent[0].Asset)
	assert.Equal(t, 103.0, recent[0].Price)
	assert.Equal(t, 102.0, recent[1].Price)

	since := base.Add(2 * time.Minute)
	listed, err := c.Observations().List(ctx, b.ID, domain.ListOpts{Asset: "ETH", Since: &since, Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 13.0, listed[0].Price)
}
