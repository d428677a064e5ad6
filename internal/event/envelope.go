package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeLotteryConfigured
	EventTypeSaleOpened
	EventTypeTicketPurchased
	EventTypeRandomnessCommitted
	EventTypeWinnerRevealed
	EventTypePrizeClaimed
	EventTypeTicketTransferred
	EventTypeFundsDeposited
	EventTypeFundsWithdrawn
	EventTypeRandomnessRequested
	EventTypeRandomnessFulfilled
)

// AllEventTypes lists every concrete event type in discriminator order.
var AllEventTypes = []EventType{
	EventTypeLotteryConfigured,
	EventTypeSaleOpened,
	EventTypeTicketPurchased,
	EventTypeRandomnessCommitted,
	EventTypeWinnerRevealed,
	EventTypePrizeClaimed,
	EventTypeTicketTransferred,
	EventTypeFundsDeposited,
	EventTypeFundsWithdrawn,
	EventTypeRandomnessRequested,
	EventTypeRandomnessFulfilled,
}

// Unsequenced marks events that carry no upstream ordering key.
const Unsequenced int64 = -1

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Lottery instance the event applies to
	LotteryID string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Slot the event was stamped with
	Slot uint64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// LotteryID returns the lottery instance the event addresses
	LotteryID() string

	// SourceSequence returns upstream ordering key, or Unsequenced
	SourceSequence() int64

	// Partition names the upstream feed SourceSequence is ordered within
	Partition() string

	// Clock returns the versioned slot and timestamp of the event
	Clock() (uint64, time.Time)
}

// Meta carries the fields shared by every event.
type Meta struct {
	RequestID string    `json:"request_id"`
	Lottery   string    `json:"lottery_id"`
	Sequence  int64     `json:"sequence"`
	Slot      uint64    `json:"slot"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Meta) IdempotencyKey() string { return m.RequestID }

func (m Meta) LotteryID() string { return m.Lottery }

func (m Meta) SourceSequence() int64 { return m.Sequence }

func (m Meta) Partition() string { return "" }

func (m Meta) Clock() (uint64, time.Time) { return m.Slot, m.Timestamp }

func (et EventType) String() string {
	switch et {
	case EventTypeLotteryConfigured:
		return "LotteryConfigured"
	case EventTypeSaleOpened:
		return "SaleOpened"
	case EventTypeTicketPurchased:
		return "TicketPurchased"
	case EventTypeRandomnessCommitted:
		return "RandomnessCommitted"
	case EventTypeWinnerRevealed:
		return "WinnerRevealed"
	case EventTypePrizeClaimed:
		return "PrizeClaimed"
	case EventTypeTicketTransferred:
		return "TicketTransferred"
	case EventTypeFundsDeposited:
		return "FundsDeposited"
	case EventTypeFundsWithdrawn:
		return "FundsWithdrawn"
	case EventTypeRandomnessRequested:
		return "RandomnessRequested"
	case EventTypeRandomnessFulfilled:
		return "RandomnessFulfilled"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for _, et := range AllEventTypes {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
