package lottery

import (
	"encoding/binary"
	"fmt"
)

const (
	TicketNamePrefix = "Token Lottery Ticket #"
	CollectionName   = "Token Lottery Collection"
	TicketSymbol     = "TICKET"
	TicketURI        = "Token Lottery"
)

// TicketName is the asset name minted for a ticket with the given sequence id.
func TicketName(sequenceID uint64) string {
	return fmt.Sprintf("%s%d", TicketNamePrefix, sequenceID)
}

// Config holds the parameters fixed at configuration time.
type Config struct {
	SaleStart uint64
	SaleEnd   uint64
	Price     uint64
	Authority string
}

// Record is the shared lottery state. Only Machine mutates it.
type Record struct {
	ID               string  `json:"id"`
	Configured       bool    `json:"configured"`
	Authority        string  `json:"authority"`
	SaleStart        uint64  `json:"sale_start"`
	SaleEnd          uint64  `json:"sale_end"`
	Price            uint64  `json:"price"`
	TotalTickets     uint64  `json:"total_tickets"`
	PotAmount        uint64  `json:"pot_amount"`
	RandomnessHandle string  `json:"randomness_handle,omitempty"`
	WinnerChosen     bool    `json:"winner_chosen"`
	WinningTicketID  uint64  `json:"winning_ticket_id"`
	Collection       AssetID `json:"collection,omitempty"`
	PrizeClaimed     bool    `json:"prize_claimed"`
}

// SaleOpen reports whether purchases are accepted at slot. Both bounds are inclusive.
func (r *Record) SaleOpen(slot uint64) bool {
	return r.Configured && r.Collection != "" && slot >= r.SaleStart && slot <= r.SaleEnd
}

// HasRandomness reports whether a randomness request has been committed.
func (r *Record) HasRandomness() bool {
	return r.RandomnessHandle != ""
}

// CheckInvariants verifies the record-level invariants that must hold between operations.
func (r *Record) CheckInvariants() error {
	if !r.Configured {
		if r.TotalTickets != 0 || r.PotAmount != 0 || r.WinnerChosen || r.HasRandomness() {
			return fmt.Errorf("unconfigured record %s carries state", r.ID)
		}
		return nil
	}
	if r.SaleStart > r.SaleEnd {
		return fmt.Errorf("sale window inverted: start=%d end=%d", r.SaleStart, r.SaleEnd)
	}
	if r.PrizeClaimed {
		if r.PotAmount != 0 {
			return fmt.Errorf("pot not empty after claim: %d", r.PotAmount)
		}
		if !r.WinnerChosen {
			return fmt.Errorf("prize claimed without a winner")
		}
	} else if r.PotAmount != r.Price*r.TotalTickets {
		return fmt.Errorf("pot mismatch: pot=%d price=%d tickets=%d", r.PotAmount, r.Price, r.TotalTickets)
	}
	if r.WinnerChosen {
		if r.WinningTicketID >= r.TotalTickets {
			return fmt.Errorf("winning ticket %d out of range [0,%d)", r.WinningTicketID, r.TotalTickets)
		}
		if !r.HasRandomness() {
			return fmt.Errorf("winner chosen without committed randomness")
		}
	}
	return nil
}

// Digest appends a canonical encoding of the record to buf for state hashing.
func (r *Record) Digest(buf []byte) []byte {
	buf = appendString(buf, r.ID)
	buf = appendBool(buf, r.Configured)
	buf = appendString(buf, r.Authority)
	buf = binary.LittleEndian.AppendUint64(buf, r.SaleStart)
	buf = binary.LittleEndian.AppendUint64(buf, r.SaleEnd)
	buf = binary.LittleEndian.AppendUint64(buf, r.Price)
	buf = binary.LittleEndian.AppendUint64(buf, r.TotalTickets)
	buf = binary.LittleEndian.AppendUint64(buf, r.PotAmount)
	buf = appendString(buf, r.RandomnessHandle)
	buf = appendBool(buf, r.WinnerChosen)
	buf = binary.LittleEndian.AppendUint64(buf, r.WinningTicketID)
	buf = appendString(buf, string(r.Collection))
	buf = appendBool(buf, r.PrizeClaimed)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}
