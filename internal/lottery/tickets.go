package lottery

import "fmt"

// Ticket is the core's record of one purchase.
type Ticket struct {
	SequenceID  uint64  `json:"sequence_id"`
	Owner       string  `json:"owner"`
	Asset       AssetID `json:"asset"`
	PurchasedAt uint64  `json:"purchased_at"`
}

// TicketLedger allocates gapless, zero-based sequence ids. The slice index of
// a ticket is its sequence id.
type TicketLedger struct {
	tickets []Ticket
}

func NewTicketLedger() *TicketLedger {
	return &TicketLedger{}
}

// Next returns the sequence id the next purchase will receive.
func (l *TicketLedger) Next() uint64 {
	return uint64(len(l.tickets))
}

// Len returns the number of tickets issued.
func (l *TicketLedger) Len() uint64 {
	return uint64(len(l.tickets))
}

// Append records a ticket. Its sequence id must be exactly Next().
func (l *TicketLedger) Append(t Ticket) error {
	if t.SequenceID != l.Next() {
		return fmt.Errorf("ticket sequence %d out of order, next is %d", t.SequenceID, l.Next())
	}
	l.tickets = append(l.tickets, t)
	return nil
}

func (l *TicketLedger) Get(sequenceID uint64) (Ticket, bool) {
	if sequenceID >= uint64(len(l.tickets)) {
		return Ticket{}, false
	}
	return l.tickets[sequenceID], true
}

// All returns a copy of every issued ticket in sequence order.
func (l *TicketLedger) All() []Ticket {
	out := make([]Ticket, len(l.tickets))
	copy(out, l.tickets)
	return out
}

// Restore replaces the ledger contents, checking the sequence ids are gapless.
func (l *TicketLedger) Restore(tickets []Ticket) error {
	restored := make([]Ticket, 0, len(tickets))
	for i, t := range tickets {
		if t.SequenceID != uint64(i) {
			return fmt.Errorf("restore: ticket at index %d has sequence %d", i, t.SequenceID)
		}
		restored = append(restored, t)
	}
	l.tickets = restored
	return nil
}
