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

	"github.com/alanyoungcy/poolledger/internal/events"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestClientFilters(t *testing.T) {
	c := &client{pools: map[string]bool{}, types: map[string]bool{}}
	head := eventHead{Type: "investment_created", PoolID: "P1"}
	assert.True(t, c.wants(head))

	c.applyFilter(filterMsg{Action: "subscribe", Pools: []string{"P2"}})
	assert.False(t, c.wants(head))
	c.applyFilter(filterMsg{Action: "subscribe", Pools: []string{"P1"}, Types: []string{"withdrawal_processed"}})
	assert.False(t, c.wants(head))
	assert.True(t, c.wants(eventHead{Type: "withdrawal_processed", PoolID: "P1"}))

	c.applyFilter(filterMsg{Action: "reset"})
	assert.True(t, c.wants(head))
}

func TestHubRelaysBusEvents(t *testing.T) {
	bus := events.NewMemoryBus()
	hub := NewHub(bus, Config{Channels: []string{events.Channel}}, nil, discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, hello, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(hello), "ledger_status")

	require.NoError(t, conn.WriteJSON(filterMsg{Action: "subscribe", Pools: []string{"P1"}}))

	frames := make(chan []byte, 64)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(frames)
				return
			}
			frames <- msg
		}
	}()

	// The filter is applied asynchronously; keep publishing until it shows.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, events.Channel, []byte(`{"type":"investment_created","pool_id":"P2"}`))
		_ = bus.Publish(ctx, events.Channel, []byte(`{"type":"investment_created","pool_id":"P1"}`))
		select {
		case msg := <-frames:
			var head eventHead
			return json.Unmarshal(msg, &head) == nil && head.PoolID == "P1"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
