package projection

import (
	"sync"

	"TokenLottery/internal/lottery"
)

// OwnershipChange is one entry in a ticket's chain of custody.
type OwnershipChange struct {
	Asset      lottery.AssetID `json:"asset"`
	SequenceID uint64          `json:"sequence_id"`
	From       string          `json:"from,omitempty"` // empty for the purchase
	To         string          `json:"to"`
	Sequence   int64           `json:"sequence"`
	Slot       uint64          `json:"slot"`
}

// TicketHistoryProjection keeps ticket custody in memory so holders can list
// every ticket that ever passed through their hands.
type TicketHistoryProjection struct {
	mu         sync.RWMutex
	entries    []OwnershipChange
	sequenceOf map[lottery.AssetID]uint64
}

func NewTicketHistoryProjection() *TicketHistoryProjection {
	return &TicketHistoryProjection{
		entries:    make([]OwnershipChange, 0),
		sequenceOf: make(map[lottery.AssetID]uint64),
	}
}

// AddPurchase records the first holder of a ticket.
func (p *TicketHistoryProjection) AddPurchase(t lottery.Ticket, sequence int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequenceOf[t.Asset] = t.SequenceID
	p.entries = append(p.entries, OwnershipChange{
		Asset:      t.Asset,
		SequenceID: t.SequenceID,
		To:         t.Owner,
		Sequence:   sequence,
		Slot:       t.PurchasedAt,
	})
}

// AddTransfer records a ticket changing hands.
func (p *TicketHistoryProjection) AddTransfer(asset lottery.AssetID, from, to string, sequence int64, slot uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, OwnershipChange{
		Asset:      asset,
		SequenceID: p.sequenceOf[asset],
		From:       from,
		To:         to,
		Sequence:   sequence,
		Slot:       slot,
	})
}

// QueryByHolder returns the newest changes involving holder, most recent first.
func (p *TicketHistoryProjection) QueryByHolder(holder string, limit int) []OwnershipChange {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]OwnershipChange, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if e := p.entries[i]; e.To == holder || e.From == holder {
			result = append(result, e)
		}
	}
	return result
}

// QueryByAsset returns the full custody chain of one ticket, oldest first.
func (p *TicketHistoryProjection) QueryByAsset(asset lottery.AssetID) []OwnershipChange {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]OwnershipChange, 0)
	for _, e := range p.entries {
		if e.Asset == asset {
			result = append(result, e)
		}
	}
	return result
}

// Reset drops every entry, ahead of a rebuild.
func (p *TicketHistoryProjection) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = p.entries[:0]
	p.sequenceOf = make(map[lottery.AssetID]uint64)
}
