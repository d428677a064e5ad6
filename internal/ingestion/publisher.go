package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"TokenLottery/internal/observability"
	"TokenLottery/internal/persistence"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const OutboundStream = "LOTTERY_EVENTS"

// Publish is the JetStream call the publisher needs.
type Publish func(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)

// OutboundPublisher announces committed events on lottery.events.<type>.
// It is fed from the persistence worker after each flush, so only durable
// events are published. The queue is lossy: when it is full the event is
// dropped and consumers fall back to the event log.
type OutboundPublisher struct {
	publish Publish
	queue   chan PublishableEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PublishableEvent is a committed event ready for outbound publishing.
type PublishableEvent struct {
	LotteryID      string          `json:"lottery_id"`
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Slot           uint64          `json:"slot"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(publish Publish, buffer int, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		publish: publish,
		queue:   make(chan PublishableEvent, buffer),
		metrics: metrics,
		logger:  logger,
	}
}

// Enqueue offers committed rows without blocking. Suitable as a
// PersistenceWorker.OnFlush callback.
func (op *OutboundPublisher) Enqueue(rows []persistence.EventRow) {
	for _, row := range rows {
		select {
		case op.queue <- ToPublishable(row):
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
		}
	}
	if op.metrics != nil {
		op.metrics.SetChannelMetrics("publish", len(op.queue), cap(op.queue))
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt := <-op.queue:
			if err := op.send(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
				continue
			}
			if op.metrics != nil {
				op.metrics.PublishedEvents.Inc()
			}
		}
	}
}

func (op *OutboundPublisher) send(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The message id lets JetStream drop republished sequences.
	msgID := evt.LotteryID + ":" + strconv.FormatInt(evt.Sequence, 10)
	_, err = op.publish(ctx, OutboundSubject(evt.EventType), data, jetstream.WithMsgID(msgID))
	return err
}

// OutboundSubject is lottery.events.<event_type>.
func OutboundSubject(eventType string) string {
	return "lottery.events." + eventType
}

// ToPublishable converts a committed event row to its outbound form.
func ToPublishable(row persistence.EventRow) PublishableEvent {
	return PublishableEvent{
		LotteryID:      row.LotteryID,
		Sequence:       row.Sequence,
		EventType:      row.EventType,
		IdempotencyKey: row.IdempotencyKey,
		Slot:           uint64(row.Slot),
		Payload:        json.RawMessage(row.Payload),
		StateHash:      hex.EncodeToString(row.StateHash),
		PrevHash:       hex.EncodeToString(row.PrevHash),
		Timestamp:      row.Timestamp,
	}
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStream,
		Subjects:   []string{"lottery.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Replicas:   1,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStream).Msg("ensured outbound stream")
	return nil
}
