package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty event of the given type, ready to be decoded into.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeLotteryConfigured:
		return &LotteryConfigured{}, nil
	case EventTypeSaleOpened:
		return &SaleOpened{}, nil
	case EventTypeTicketPurchased:
		return &TicketPurchased{}, nil
	case EventTypeRandomnessCommitted:
		return &RandomnessCommitted{}, nil
	case EventTypeWinnerRevealed:
		return &WinnerRevealed{}, nil
	case EventTypePrizeClaimed:
		return &PrizeClaimed{}, nil
	case EventTypeTicketTransferred:
		return &TicketTransferred{}, nil
	case EventTypeFundsDeposited:
		return &FundsDeposited{}, nil
	case EventTypeFundsWithdrawn:
		return &FundsWithdrawn{}, nil
	case EventTypeRandomnessRequested:
		return &RandomnessRequested{}, nil
	case EventTypeRandomnessFulfilled:
		return &RandomnessFulfilled{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Encode serializes an event for the event log.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode restores an event written by Encode.
func Decode(eventType string, payload []byte) (Event, error) {
	evt, err := New(ParseEventType(eventType))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", eventType, err)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %q: %w", eventType, err)
	}
	return evt, nil
}
