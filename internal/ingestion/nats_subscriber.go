package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// PriceStreamName holds spot price ticks from market venues.
	PriceStreamName = "LEND_PRICES"

	// PriceSubjectPrefix carries one subject per asset: lend.prices.<asset>.
	PriceSubjectPrefix = "lend.prices"

	// OperationStreamName holds the outbound operation events.
	OperationStreamName = "LEND_OPERATIONS"

	// OperationSubjectPrefix carries one subject per operation kind:
	// lend.ops.<kind>.
	OperationSubjectPrefix = "lend.ops"
)

// RawTick is a price tick straight off NATS, not yet parsed. AckFunc must be
// called after the tick is handed to the feeder; NakFunc triggers redelivery.
type RawTick struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func()
	NakFunc  func()
}

// PriceSubscriber consumes price ticks from JetStream and forwards them to
// the feeder channel. NATS is the high-throughput ingestion surface; admin
// operations go through the HTTP server instead.
type PriceSubscriber struct {
	js       jetstream.JetStream
	tickChan chan<- RawTick
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, tickChan chan<- RawTick, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:       js,
		tickChan: tickChan,
		log:      log,
	}
}

// Subscribe creates a durable explicit-ack consumer over lend.prices.>.
func (s *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       "lend-prices",
		FilterSubject: PriceSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawTick{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			AckFunc:  func() { msg.Ack() },
			NakFunc:  func() { msg.Nak() },
		}

		select {
		case s.tickChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	s.consumer = cc
	s.log.Info().Str("subject", PriceSubjectPrefix+".>").Msg("subscribed to price ticks")
	return nil
}

// Stop gracefully stops the consumer.
func (s *PriceSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("price subscriber stopped")
}

// EnsureStreams creates the price and operation streams if missing.
// FileStorage, limits retention, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStreamName,
			Subjects:  []string{PriceSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      OperationStreamName,
			Subjects:  []string{OperationSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
