// Package natsfeed consumes duel row events from a NATS JetStream stream.
package natsfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/Tokioace/Runnit/internal/feed"
)

// Config holds configuration for the JetStream feed consumer.
type Config struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string        // e.g., "duels.events.>"
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int           // Max messages pending ack
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default JetStream feed configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "DUEL_EVENTS",
		ConsumerName:  "runnit-client",
		SubjectFilter: "duels.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Consumer is a feed.Source backed by a durable JetStream consumer.
type Consumer struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	ctx      jetstream.ConsumeContext
	config   Config

	events chan feed.Event
	stop   chan struct{}
}

var _ feed.Source = (*Consumer)(nil)

// Connect dials NATS, ensures the durable consumer exists and starts
// delivering decoded events.
func Connect(ctx context.Context, config Config) (*Consumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{
		nc:     nc,
		js:     js,
		config: config,
		events: make(chan feed.Event, 64),
		stop:   make(chan struct{}),
	}

	if err := c.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	consumeCtx, err := c.consumer.Consume(c.handleMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("start consumer: %w", err)
	}
	c.ctx = consumeCtx

	return c, nil
}

// ensureConsumer creates or gets the durable JetStream consumer.
func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          c.config.ConsumerName,
		Durable:       c.config.ConsumerName,
		Description:   "Runnit duel feed consumer",
		FilterSubject: c.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.config.MaxDeliver,
		AckWait:       c.config.AckWait,
		MaxAckPending: c.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	c.consumer = consumer
	return nil
}

// handleMessage decodes one JetStream message and forwards it.
func (c *Consumer) handleMessage(msg jetstream.Msg) {
	ev, ok, err := feed.ParseEnvelope(msg.Data())
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to decode feed message")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
		return
	}
	if !ok {
		_ = msg.Ack()
		return
	}

	select {
	case c.events <- ev:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case <-c.stop:
		_ = msg.Nak()
	}
}

// Events returns the decoded event stream.
func (c *Consumer) Events() <-chan feed.Event {
	return c.events
}

// Close stops consumption and closes the connection. No events are delivered
// after Close returns.
func (c *Consumer) Close() error {
	select {
	case <-c.stop:
		return nil
	default:
	}
	close(c.stop)

	if c.ctx != nil {
		c.ctx.Stop()
	}
	if c.nc != nil {
		c.nc.Close()
	}
	log.Info().Msg("feed consumer stopped")
	return nil
}
