package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/cache/memory"
	"github.com/alanyoungcy/basketbot/internal/domain"
)

// readyBus reports each channel the hub subscribes to.
type readyBus struct {
	*memory.SignalBus
	subscribed chan string
}

func (b *readyBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch, err := b.SignalBus.Subscribe(ctx, channel)
	b.subscribed <- channel
	return ch, err
}

type frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	var f frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func TestHubForwardsBusMessages(t *testing.T) {
	bus := &readyBus{SignalBus: memory.NewSignalBus(), subscribed: make(chan string, len(Channels))}
	status := func(context.Context) (domain.SystemStatus, error) {
		return domain.SystemStatus{Mode: "run", Bots: 2}, nil
	}
	hub := NewHub(bus, status, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	for range Channels {
		select {
		case <-bus.subscribed:
		case <-time.After(5 * time.Second):
			t.Fatal("hub did not subscribe")
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	f := readFrame(t, conn)
	assert.Equal(t, "status", f.Channel)
	var st domain.SystemStatus
	require.NoError(t, json.Unmarshal(f.Data, &st))
	assert.Equal(t, 2, st.Bots)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Unsubscribe from prices, then publish on both channels: only the
	// swap notice should arrive.
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPrices}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.isSubscribed(domain.ChannelPrices)
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelPrices, []byte(`{"source":"x"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelSwaps, []byte(`{"trade_id":"t-1"}`)))

	f = readFrame(t, conn)
	assert.Equal(t, domain.ChannelSwaps, f.Channel)
	assert.JSONEq(t, `{"trade_id":"t-1"}`, string(f.Data))
}

func TestEncodeRejectsNonJSON(t *testing.T) {
	_, err := encode("swaps", []byte("not json"))
	assert.ErrorIs(t, err, errNotJSON)

	b, err := encode("bots", []byte(`{"bot_id":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"bots","data":{"bot_id":1}}`, string(b))
}
