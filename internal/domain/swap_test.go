package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwapStatus_Transitions(t *testing.T) {
	assert.True(t, SwapStatusPending.CanTransition(SwapStatusCompleted))
	assert.True(t, SwapStatusPending.CanTransition(SwapStatusFailed))
	assert.True(t, SwapStatusPending.CanTransition(SwapStatusCancelled))
	assert.False(t, SwapStatusPending.CanTransition(SwapStatusPending))
	assert.False(t, SwapStatusCompleted.CanTransition(SwapStatusFailed))
	assert.False(t, SwapStatusCancelled.CanTransition(SwapStatusCompleted))
}

func TestTradeStatus_SwapStatus(t *testing.T) {
	for _, ts := range []TradeStatus{TradeStatusPending, TradeStatusUnknown} {
		_, terminal := ts.SwapStatus()
		assert.False(t, terminal, ts)
	}
	s, terminal := TradeStatusCompleted.SwapStatus()
	assert.True(t, terminal)
	assert.Equal(t, SwapStatusCompleted, s)
}

func TestSwapEvent_ReceivedUnits(t *testing.T) {
	ev := SwapEvent{Quantity: 1, FromPrice: 100, EstimatedUnits: 9.9}
	assert.Equal(t, 9.9, ev.ReceivedUnits(0.01))

	filled := 0.2
	ev.FilledPrice = &filled
	assert.InDelta(t, 5.0, ev.ReceivedUnits(0), 1e-12)

	// 1 BTC filled at 0.05 BTC per ETH buys 20 ETH, whatever the USD quotes.
	btcEth := SwapEvent{Quantity: 1, FromPrice: 60000, ToPrice: 3000, EstimatedUnits: 20}
	fill := 0.05
	btcEth.FilledPrice = &fill
	assert.InDelta(t, 20.0, btcEth.ReceivedUnits(0), 1e-9)
	assert.InDelta(t, 19.8, btcEth.ReceivedUnits(0.01), 1e-9)
}

func TestSwapRequest_Pair(t *testing.T) {
	assert.Equal(t, "BTC_ETH", SwapRequest{From: "BTC", To: "ETH"}.Pair())
}

func TestBotState_Baseline(t *testing.T) {
	st := BotState{
		Snapshots: map[Asset]AssetSnapshot{
			"BTC": {Asset: "BTC", LastPrice: 100},
			"ETH": {Asset: "ETH"},
		},
		Seeds: PriceMap{"ETH": 10, "BTC": 50},
	}
	assert.Equal(t, PriceMap{"BTC": 100, "ETH": 10}, st.Baseline())
}
