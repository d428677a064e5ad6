package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"TokenLottery/internal/core"
	"TokenLottery/internal/event"
	"TokenLottery/internal/observability"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// RecoveryResult describes how the core was brought back.
type RecoveryResult struct {
	FromSnapshot   bool
	SnapshotSeq    int64
	EventsReplayed int
	NextSequence   int64
}

// Recover restores c from the latest verified snapshot, if any, then replays
// every later event from the log, checking each recomputed state hash
// against the logged one.
func Recover(ctx context.Context, c *core.LotteryCore, sm *SnapshotManager, metrics *observability.Metrics, logger zerolog.Logger) (RecoveryResult, error) {
	start := time.Now()
	var res RecoveryResult

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return res, err
	}
	from := int64(0)
	if snap != nil {
		var state core.SnapshotState
		if err := json.Unmarshal(snap.State, &state); err != nil {
			return res, fmt.Errorf("decode snapshot at %d: %w", snap.Sequence, err)
		}
		if err := c.RestoreFromSnapshot(&state); err != nil {
			return res, fmt.Errorf("restore snapshot at %d: %w", snap.Sequence, err)
		}
		res.FromSnapshot = true
		res.SnapshotSeq = snap.Sequence
		from = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	}

	c.SetReplayMode(true)
	defer c.SetReplayMode(false)

	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return res, fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			if err := replayRow(c, row); err != nil {
				return res, err
			}
			res.EventsReplayed++
		}
		if len(rows) < replayPageSize {
			break
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	res.NextSequence = c.GetSequence()
	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Bool("from_snapshot", res.FromSnapshot).
		Int("events_replayed", res.EventsReplayed).
		Int64("next_sequence", res.NextSequence).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return res, nil
}

func replayRow(c *core.LotteryCore, row EventRow) error {
	evt, err := event.Decode(row.EventType, row.Payload)
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", row.Sequence, err)
	}
	env, err := row.Envelope()
	if err != nil {
		return err
	}
	if env.PrevHash != c.GetStateHash() {
		return fmt.Errorf("replay sequence %d: chain broken, prev hash %x, tip %x",
			row.Sequence, env.PrevHash, c.GetStateHash())
	}
	return c.ReplayEvent(evt, env)
}

// Envelope rebuilds the envelope a row was written from.
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: stored hashes are not 32 bytes", r.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      event.ParseEventType(r.EventType),
		LotteryID:      r.LotteryID,
		Timestamp:      r.Timestamp,
		Slot:           uint64(r.Slot),
		SourceSequence: r.SourceSequence,
		Payload:        r.Payload,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// VerifySnapshot marks the snapshot at sequence verified once the event
// log holds the same state hash at that sequence. It reports false when
// the event has not been persisted yet.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, sequence int64, stateHash []byte) (bool, error) {
	var logged []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE lottery_id = $1 AND sequence = $2
	`, sm.lotteryID, sequence).Scan(&logged)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(logged, stateHash) {
		return false, fmt.Errorf("snapshot at %d has hash %s, log has %s",
			sequence, hex.EncodeToString(stateHash), hex.EncodeToString(logged))
	}
	return true, sm.MarkVerified(ctx, sequence)
}
