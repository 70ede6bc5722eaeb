// Package sim is the development backend: an HTTP surface shaped like the
// production one plus a websocket change feed, so the full client pipeline
// runs against a local process.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Tokioace/Runnit/internal/feed"
)

// HubConfig holds websocket settings for the change-feed hub.
type HubConfig struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultHubConfig returns default websocket configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Development backend, all origins allowed.
			return true
		},
	}
}

// Hub fans duel row events out to subscribed websocket connections.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	clock    clockwork.Clock
	log      zerolog.Logger

	mu    sync.RWMutex
	conns map[*hubConn]bool

	broadcastCh chan feed.Event
}

type hubConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subscribed bool
}

type subscribeMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

// NewHub creates a change-feed hub.
func NewHub(config HubConfig, clock clockwork.Clock, logger zerolog.Logger) *Hub {
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		clock:       clock,
		log:         logger,
		conns:       make(map[*hubConn]bool),
		broadcastCh: make(chan feed.Event, 256),
	}
}

// Start processes broadcasts until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	h.log.Info().Msg("feed hub started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("feed hub shutting down")
			return
		case ev := <-h.broadcastCh:
			h.handleBroadcast(ev)
		}
	}
}

// Broadcast queues a duel row event for delivery to all subscribers.
func (h *Hub) Broadcast(ev feed.Event) {
	select {
	case h.broadcastCh <- ev:
	default:
		h.log.Warn().Str("event_type", string(ev.Type)).Msg("broadcast channel full, dropping event")
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &hubConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	h.log.Info().Str("connection_id", c.id).Msg("feed connection established")
}

// ConnectionCount reports active connections, for the health endpoint.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
		h.log.Info().Str("connection_id", c.id).Msg("feed connection closed")
	}
}

func (h *Hub) setSubscribed(c *hubConn, subscribed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		c.subscribed = subscribed
	}
}

func (h *Hub) handleBroadcast(ev feed.Event) {
	payload, err := feed.MarshalEnvelope(uuid.NewString(), ev, h.clock.Now().UTC())
	if err != nil {
		h.log.Error().Err(err).Msg("marshal feed envelope failed")
		return
	}

	h.mu.RLock()
	var targets []*hubConn
	for c := range h.conns {
		if c.subscribed {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			// Slow consumer, drop the connection rather than the feed.
			h.log.Warn().Str("connection_id", c.id).Msg("send buffer full, closing connection")
			h.unregister(c)
			c.conn.Close()
		}
	}

	h.log.Debug().
		Str("event_type", string(ev.Type)).
		Str("duel_id", ev.RowID()).
		Int("connections", len(targets)).
		Msg("event broadcast")
}

func (c *hubConn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubConn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := c.handleMessage(message); err != nil {
			c.hub.log.Warn().Err(err).Str("connection_id", c.id).Msg("bad feed message")
		}
	}
}

func (c *hubConn) handleMessage(message []byte) error {
	var msg subscribeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("unmarshal subscribe message: %w", err)
	}
	switch msg.Action {
	case "subscribe":
		if msg.Table == "duels" {
			c.hub.setSubscribed(c, true)
		}
	case "unsubscribe":
		if msg.Table == "duels" {
			c.hub.setSubscribed(c, false)
		}
	}
	return nil
}
