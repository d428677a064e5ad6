package ingestion

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"TokenLottery/internal/core"
	"TokenLottery/internal/event"
	"TokenLottery/internal/lottery"
	"TokenLottery/internal/observability"
)

// Submitter is the sequencer surface ingress needs.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (core.Outcome, error)
}

// TicketReceipt describes a ticket sold by buy_ticket.
type TicketReceipt struct {
	SequenceID uint64 `json:"sequence_id"`
	AssetID    string `json:"asset_id"`
	Name       string `json:"name"`
}

// Receipt is the answer to one command. Duplicates carry no sequence.
type Receipt struct {
	Duplicate       bool           `json:"duplicate"`
	Sequence        int64          `json:"sequence"`
	EventType       string         `json:"event_type,omitempty"`
	StateHash       string         `json:"state_hash,omitempty"`
	Ticket          *TicketReceipt `json:"ticket,omitempty"`
	Collection      string         `json:"collection,omitempty"`
	WinningTicketID *uint64        `json:"winning_ticket_id,omitempty"`
	Payout          uint64         `json:"payout,omitempty"`
	PotAmount       uint64         `json:"pot_amount"`
	TotalTickets    uint64         `json:"total_tickets"`
}

// CommandService is the single entry point for commands arriving over gRPC,
// the HTTP gateway and NATS: parse, submit to the sequencer, answer.
type CommandService struct {
	parser  *Parser
	seq     Submitter
	metrics *observability.Metrics
}

func NewCommandService(parser *Parser, seq Submitter, metrics *observability.Metrics) *CommandService {
	return &CommandService{parser: parser, seq: seq, metrics: metrics}
}

// Execute parses data as op and runs it through the core. Domain failures
// come back as *lottery.Error, malformed input wraps core.ErrInvalidEvent.
func (s *CommandService) Execute(ctx context.Context, source, op string, data []byte) (*Receipt, error) {
	evt, err := s.parser.Parse(op, data)
	if err != nil {
		s.count(source, "invalid")
		return nil, err
	}
	return s.Submit(ctx, source, evt)
}

// Submit runs an already typed event through the core.
func (s *CommandService) Submit(ctx context.Context, source string, evt event.Event) (*Receipt, error) {
	outcome, err := s.seq.Submit(ctx, evt)
	if err != nil {
		s.count(source, "unavailable")
		return nil, fmt.Errorf("submit %s: %w", evt.EventType(), err)
	}

	switch {
	case outcome.Err != nil:
		switch {
		case lottery.IsRetryable(outcome.Err):
			s.count(source, "pending")
		case errors.Is(outcome.Err, core.ErrInvalidEvent):
			s.count(source, "invalid")
		default:
			s.count(source, "rejected")
		}
		return nil, outcome.Err
	case outcome.Duplicate:
		s.count(source, "duplicate")
		return &Receipt{Duplicate: true, Sequence: -1}, nil
	default:
		s.count(source, "applied")
		return NewReceipt(outcome.Output), nil
	}
}

func (s *CommandService) count(source, outcome string) {
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues(source, outcome).Inc()
	}
}

// NewReceipt summarises an accepted event.
func NewReceipt(out *core.CoreOutput) *Receipt {
	env := out.Envelope
	res := out.Result
	r := &Receipt{
		Sequence:        env.Sequence,
		EventType:       env.EventType.String(),
		StateHash:       hex.EncodeToString(env.StateHash[:]),
		Collection:      string(res.Collection),
		WinningTicketID: res.Winner,
		Payout:          res.Payout,
		PotAmount:       res.Record.PotAmount,
		TotalTickets:    res.Record.TotalTickets,
	}
	if t := res.Ticket; t != nil {
		r.Ticket = &TicketReceipt{
			SequenceID: t.SequenceID,
			AssetID:    string(t.Asset),
			Name:       lottery.TicketName(t.SequenceID),
		}
	}
	return r
}
