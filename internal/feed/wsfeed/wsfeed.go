// Package wsfeed consumes duel row events over a websocket connection, for
// deployments where the backend pushes changes directly instead of through a
// message bus.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tokioace/Runnit/internal/feed"
)

// Config holds websocket feed connection settings.
type Config struct {
	URL            string // e.g., "ws://localhost:8080/realtime"
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns default websocket feed configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// subscribeMessage is sent once after dialing to scope the feed.
type subscribeMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

// Feed is a feed.Source backed by a single websocket connection.
type Feed struct {
	conn   *websocket.Conn
	config Config

	events chan feed.Event
	stop   chan struct{}
	done   chan struct{}
}

var _ feed.Source = (*Feed)(nil)

// Dial connects to the feed endpoint, subscribes to the duel table and starts
// the read and ping pumps.
func Dial(ctx context.Context, config Config) (*Feed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	f := &Feed{
		conn:   conn,
		config: config,
		events: make(chan feed.Event, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	sub, err := json.Marshal(subscribeMessage{Action: "subscribe", Table: "duels"})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal subscribe message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe message: %w", err)
	}

	go f.readPump()
	go f.pingPump()

	log.Info().Str("url", config.URL).Msg("websocket feed connected")
	return f, nil
}

// Events returns the decoded event stream. The channel is closed when the
// connection ends.
func (f *Feed) Events() <-chan feed.Event {
	return f.events
}

// Close tears down the connection. No events are delivered after Close
// returns.
func (f *Feed) Close() error {
	select {
	case <-f.stop:
		return nil
	default:
	}
	close(f.stop)

	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	_ = f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := f.conn.Close()

	<-f.done
	return err
}

// readPump owns the events channel: it is the only sender and closes it on
// exit.
func (f *Feed) readPump() {
	defer func() {
		close(f.events)
		close(f.done)
		f.conn.Close()
	}()

	f.conn.SetReadLimit(f.config.MaxMessageSize)
	f.conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stop:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Msg("unexpected websocket feed close")
				}
			}
			return
		}

		ev, ok, err := feed.ParseEnvelope(message)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed feed message")
			continue
		}
		if !ok {
			continue
		}

		select {
		case f.events <- ev:
		case <-f.stop:
			return
		}
	}
}

// pingPump keeps the connection alive.
func (f *Feed) pingPump() {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Msg("failed to send feed ping")
				return
			}
		}
	}
}
