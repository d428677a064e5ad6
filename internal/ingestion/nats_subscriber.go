package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TokenLottery/internal/core"
	"TokenLottery/internal/lottery"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream = "LOTTERY_CMD"
	OracleStream  = "LOTTERY_ORACLE"
	FundsStream   = "LOTTERY_FUNDS"
)

// pendingRedelivery is how long a RandomnessPending reveal waits before
// JetStream hands it back.
const pendingRedelivery = 2 * time.Second

// NATSSubscriber feeds JetStream messages into the core through the
// CommandService and acknowledges each one according to its outcome.
type NATSSubscriber struct {
	js        jetstream.JetStream
	commands  *CommandService
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// SubjectConfig binds a subject filter to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one consumer per feed. Each stream keeps its own
// order, and the oracle and funds feeds carry upstream sequences.
func DefaultSubjects(lotteryID string) []SubjectConfig {
	return []SubjectConfig{
		{Subject: "lottery.cmd.>", ConsumerName: "lottery-" + lotteryID + "-cmd", StreamName: CommandStream},
		{Subject: "lottery.oracle.>", ConsumerName: "lottery-" + lotteryID + "-oracle", StreamName: OracleStream},
		{Subject: "lottery.funds.>", ConsumerName: "lottery-" + lotteryID + "-funds", StreamName: FundsStream},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commands *CommandService, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:       js,
		commands: commands,
		logger:   logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s and one message
// in flight so each feed is applied in stream order.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: 1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// Disposition is what the subscriber does with a message after processing.
type Disposition int

const (
	Ack Disposition = iota
	NakLater
	Nak
	Term
)

// Dispose maps a processing result to a JetStream acknowledgement.
// Rejections are final and acknowledged; only pending reveals and
// infrastructure failures are redelivered.
func Dispose(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, core.ErrInvalidEvent):
		return Term
	case lottery.IsRetryable(err):
		return NakLater
	default:
		if _, ok := lottery.AsError(err); ok {
			return Ack
		}
		return Nak
	}
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	op, ok := OpForSubject(msg.Subject())
	if !ok {
		ns.logger.Warn().Str("subject", msg.Subject()).Msg("no operation for subject")
		_ = msg.Term()
		return
	}

	receipt, err := ns.commands.Execute(ctx, "nats", op, msg.Data())
	log := ns.logger.With().Str("subject", msg.Subject()).Str("op", op).Logger()

	var ackErr error
	switch Dispose(err) {
	case Ack:
		if err != nil {
			log.Info().Err(err).Msg("command rejected")
		} else if !receipt.Duplicate {
			log.Debug().Int64("sequence", receipt.Sequence).Msg("command applied")
		}
		ackErr = msg.Ack()
	case NakLater:
		log.Debug().Err(err).Msg("command pending, redelivering")
		ackErr = msg.NakWithDelay(pendingRedelivery)
	case Term:
		log.Warn().Err(err).Msg("malformed message terminated")
		ackErr = msg.Term()
	default:
		log.Error().Err(err).Msg("command failed, redelivering")
		ackErr = msg.Nak()
	}
	if ackErr != nil {
		log.Warn().Err(ackErr).Msg("ack failed")
	}
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{Name: CommandStream, Subjects: []string{"lottery.cmd.>"}},
		{Name: OracleStream, Subjects: []string{"lottery.oracle.>"}},
		{Name: FundsStream, Subjects: []string{"lottery.funds.>"}},
	}

	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		cfg.Duplicates = 10 * time.Minute
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
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
