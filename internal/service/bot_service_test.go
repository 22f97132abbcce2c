package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(context.Background()))
	return c
}

func botConfig(name string) domain.Bot {
	return domain.Bot{
		Name:                name,
		Enabled:             true,
		Coins:               domain.Assets("BTC", "ETH", "SOL"),
		Threshold:           0.05,
		CheckInterval:       time.Minute,
		InitialCoin:         "BTC",
		GlobalLossThreshold: domain.DefaultGlobalLossThreshold,
		ReentryBuffer:       domain.DefaultReentryBuffer,
	}
}

type cancelGateway struct{ cancelled []string }

func (g *cancelGateway) CreateSwap(context.Context, domain.SwapRequest) (string, error) {
	return "", nil
}

func (g *cancelGateway) GetStatus(context.Context, string) (domain.TradeState, error) {
	return domain.TradeState{}, nil
}

func (g *cancelGateway) Cancel(_ context.Context, id string) error {
	g.cancelled = append(g.cancelled, id)
	return nil
}

func TestBotServiceLifecycle(t *testing.T) {
	store := openStore(t)
	svc := NewBotService(store, nil, discard())
	ctx := t.Context()

	b, err := svc.Create(ctx, botConfig("alpha"))
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultGlobalLossThreshold, b.GlobalLossThreshold)
	assert.Equal(t, domain.Asset("BTC"), b.ReferenceCoin)
	assert.False(t, b.Initialized())

	cfg := botConfig("alpha")
	cfg.Threshold = 0.08
	updated, err := svc.Update(ctx, b.ID, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.08, updated.Threshold)
	assert.Equal(t, b.Version, updated.Version)

	toggled, err := svc.Toggle(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)

	logs, err := svc.Logs(ctx, b.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	view, err := svc.State(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Snapshots)
	assert.Nil(t, view.Pending)

	require.NoError(t, svc.Delete(ctx, b.ID))
	_, err = svc.Get(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBotServiceRejectsInvalid(t *testing.T) {
	svc := NewBotService(openStore(t), nil, discard())

	bad := botConfig("bad")
	bad.Threshold = 0
	_, err := svc.Create(t.Context(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = svc.Update(t.Context(), 999, botConfig("x"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBotServiceSeed(t *testing.T) {
	store := openStore(t)
	svc := NewBotService(store, nil, discard())
	ctx := t.Context()

	bad := botConfig("broken")
	bad.Coins = nil
	seeded, err := svc.Seed(ctx, []domain.Bot{botConfig("alpha"), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	require.Len(t, seeded, 1)

	again := botConfig("alpha")
	again.Threshold = 0.2
	seeded, err = svc.Seed(ctx, []domain.Bot{again})
	require.NoError(t, err)
	require.Len(t, seeded, 1)
	assert.Equal(t, 0.2, seeded[0].Threshold)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBotServiceCancelTrade(t *testing.T) {
	store := openStore(t)
	gw := &cancelGateway{}
	svc := NewBotService(store, gw, discard())
	ctx := t.Context()

	b, err := svc.Create(ctx, botConfig("alpha"))
	require.NoError(t, err)

	_, err = svc.CancelTrade(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrNoActiveTrade)

	held := b
	held.CurrentCoin = "BTC"
	held.ActiveTradeID = "t-1"
	require.NoError(t, store.State().CommitState(ctx, domain.CycleCommit{
		BotID: b.ID, ExpectedVersion: b.Version, Bot: &held,
		NewSwap: &domain.SwapEvent{
			BotID: b.ID, TradeID: "t-1", From: "BTC", To: "ETH", Change: 0.1,
			Quantity: 1, EstimatedUnits: 20, Status: domain.SwapStatusPending, CreatedAt: time.Now(),
		},
	}))

	id, err := svc.CancelTrade(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "t-1", id)
	assert.Equal(t, []string{"t-1"}, gw.cancelled)

	view, err := svc.State(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Pending)
	assert.Equal(t, "t-1", view.Pending.TradeID)

	st, err := svc.Status(ctx, "run", time.Now(), []string{"3commas"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveTrades)
	assert.Equal(t, 1, st.EnabledBots)
	assert.Equal(t, "3commas", st.PriceSource)
}
