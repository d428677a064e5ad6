package core

import (
	"encoding/hex"
	"fmt"

	"TokenLottery/internal/assets"
	"TokenLottery/internal/ledger"
	"TokenLottery/internal/lottery"
	"TokenLottery/internal/oracle"
)

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	LotteryID       string            `json:"lottery_id"`
	Sequence        int64             `json:"sequence"` // last processed sequence, -1 when empty
	StateHash       string            `json:"state_hash"`
	Balances        map[string]int64  `json:"balances"` // AccountPath -> balance
	Record          lottery.Record    `json:"record"`
	Tickets         []lottery.Ticket  `json:"tickets"`
	Assets          []assets.Holding  `json:"assets"`
	OracleRequests  []oracle.Request  `json:"oracle_requests"`
	SequenceState   map[string]int64  `json:"sequence_state"`
	SlotFloor       map[string]uint64 `json:"slot_floor,omitempty"`
	IdempotencyKeys []string          `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *LotteryCore) CreateSnapshotState() *SnapshotState {
	hash := c.hasher.GetPrevHash()

	balances := make(map[string]int64)
	for key, balance := range c.balanceTracker.Snapshot() {
		balances[key.AccountPath()] = balance
	}

	return &SnapshotState{
		LotteryID:       c.lotteryID,
		Sequence:        c.sequence - 1,
		StateHash:       hex.EncodeToString(hash[:]),
		Balances:        balances,
		Record:          c.machine.Record(),
		Tickets:         c.machine.Tickets().All(),
		Assets:          c.registry.Snapshot(),
		OracleRequests:  c.oracleBook.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		SlotFloor:       c.copySlotFloor(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load latest snapshot, then replay events after it.
func (c *LotteryCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if snap.LotteryID != c.lotteryID {
		return fmt.Errorf("snapshot is for lottery %q, core serves %q", snap.LotteryID, c.lotteryID)
	}

	raw, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("snapshot state hash %q is not 32 hex bytes", snap.StateHash)
	}
	var hash [32]byte
	copy(hash[:], raw)

	if err := c.machine.Restore(snap.Record, snap.Tickets); err != nil {
		return fmt.Errorf("restore record: %w", err)
	}
	if err := c.registry.Restore(snap.Assets); err != nil {
		return err
	}
	if err := c.oracleBook.Restore(snap.OracleRequests); err != nil {
		return err
	}

	for path, balance := range snap.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("restore balances: %w", err)
		}
		c.balanceTracker.SetBalance(key, balance)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	c.slotFloor = make(map[string]uint64, len(snap.SlotFloor))
	for domain, slot := range snap.SlotFloor {
		c.slotFloor[domain] = slot
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(hash)

	rec := c.machine.Record()
	if err := c.postCheckInvariants(nil); err != nil {
		return fmt.Errorf("restored state is inconsistent: %w", err)
	}
	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.PotAmount.Set(float64(rec.PotAmount))
	}
	return nil
}

func (c *LotteryCore) copySlotFloor() map[string]uint64 {
	out := make(map[string]uint64, len(c.slotFloor))
	for domain, slot := range c.slotFloor {
		out[domain] = slot
	}
	return out
}
