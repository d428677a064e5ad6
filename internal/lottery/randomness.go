package lottery

import (
	"encoding/binary"
	"fmt"
)

// RandomnessGateway adapts an Oracle to the commit-reveal rules of the lottery.
type RandomnessGateway struct {
	oracle Oracle
}

func NewRandomnessGateway(oracle Oracle) *RandomnessGateway {
	return &RandomnessGateway{oracle: oracle}
}

// CheckFresh accepts a handle only if its request was created in the round
// immediately preceding currentRound.
func (g *RandomnessGateway) CheckFresh(handle string, currentRound uint64) error {
	if g.oracle == nil {
		return fmt.Errorf("randomness gateway: no oracle")
	}
	created, err := g.oracle.RequestCreatedAt(handle)
	if err != nil {
		return ErrRandomnessStale.Withf("handle %s: %v", handle, err)
	}
	if currentRound == 0 || created != currentRound-1 {
		return ErrRandomnessStale.Withf("handle %s created at round %d, current round %d", handle, created, currentRound)
	}
	return nil
}

// ResolveOrPending returns the resolved value or ErrRandomnessPending.
func (g *RandomnessGateway) ResolveOrPending(handle string, atRound uint64) ([32]byte, error) {
	if g.oracle == nil {
		return [32]byte{}, fmt.Errorf("randomness gateway: no oracle")
	}
	value, resolved, err := g.oracle.Resolve(handle, atRound)
	if err != nil {
		return [32]byte{}, fmt.Errorf("resolve %s: %w", handle, err)
	}
	if !resolved {
		return [32]byte{}, ErrRandomnessPending.Withf("handle %s unresolved at round %d", handle, atRound)
	}
	return value, nil
}

// WinningTicket maps a resolved value onto [0, totalTickets). The first eight
// bytes are read little-endian, so a value whose first byte is 23 and whose
// remaining bytes are zero selects 23 mod totalTickets.
func WinningTicket(value [32]byte, totalTickets uint64) uint64 {
	if totalTickets == 0 {
		panic("WinningTicket: zero tickets")
	}
	return binary.LittleEndian.Uint64(value[:8]) % totalTickets
}
