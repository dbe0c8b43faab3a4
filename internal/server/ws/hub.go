// Package ws fans ledger events from the signal bus out to WebSocket
// clients. Clients may narrow the feed to certain pools or event types.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Config controls the hub.
type Config struct {
	// Channels are the signal bus channels relayed to clients.
	Channels []string
	// AllowedOrigins restricts the WebSocket Origin header. Empty allows all.
	AllowedOrigins []string
	StartedAt      time.Time
}

// Hub tracks connected clients and relays bus messages to them.
type Hub struct {
	bus        domain.SignalBus
	cfg        Config
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewHub creates a Hub reading from bus. m may be nil.
func NewHub(bus domain.SignalBus, cfg Config, m *metrics.Collector, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		bus:        bus,
		cfg:        cfg,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Run subscribes to the configured channels and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range h.cfg.Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return err
		}
		h.logger.InfoContext(ctx, "ws: subscribed", slog.String("channel", ch))
		go h.relay(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.metrics.SetWSClients(0)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)
			h.logger.InfoContext(ctx, "ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)
			h.logger.InfoContext(ctx, "ws: client disconnected", slog.Int("total_clients", n))

		case data := <-h.broadcast:
			var head eventHead
			if err := json.Unmarshal(data, &head); err != nil {
				h.logger.WarnContext(ctx, "ws: dropping undecodable message", slog.String("error", err.Error()))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(head) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.WarnContext(ctx, "ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		pools: make(map[string]bool),
		types: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// eventHead is the part of a ledger event used for routing.
type eventHead struct {
	Type   string `json:"type"`
	PoolID string `json:"pool_id"`
}

// filterMsg updates a client's filters. Empty lists match everything.
//
//	{"action":"subscribe","pools":["POOL_USD_001"],"types":["withdrawal_processed"]}
//	{"action":"reset"}
type filterMsg struct {
	Action string   `json:"action"`
	Pools  []string `json:"pools"`
	Types  []string `json:"types"`
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	mu    sync.RWMutex
	pools map[string]bool
	types map[string]bool
}

func (c *client) wants(head eventHead) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.pools) > 0 && !c.pools[head.PoolID] {
		return false
	}
	if len(c.types) > 0 && !c.types[head.Type] {
		return false
	}
	return true
}

func (c *client) applyFilter(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, p := range msg.Pools {
			c.pools[p] = true
		}
		for _, t := range msg.Types {
			c.types[t] = true
		}
	case "unsubscribe":
		for _, p := range msg.Pools {
			delete(c.pools, p)
		}
		for _, t := range msg.Types {
			delete(c.types, t)
		}
	case "reset":
		clear(c.pools)
		clear(c.types)
	}
}

func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type": "ledger_status",
		"payload": map[string]any{
			"channels":       c.hub.cfg.Channels,
			"uptime_seconds": max(0, int64(time.Since(c.hub.cfg.StartedAt).Seconds())),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if err := json.Unmarshal(message, &msg); err == nil && msg.Action != "" {
			c.applyFilter(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
