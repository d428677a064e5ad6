package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1: State holds a JSON-encoded core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager stores state snapshots and reads the event log back for
// recovery.
type SnapshotManager struct {
	db        *sql.DB
	lotteryID string
}

// SnapshotData is one stored snapshot. State is opaque to this package.
type SnapshotData struct {
	LotteryID string          `json:"lottery_id"`
	Sequence  int64           `json:"sequence"`
	StateHash []byte          `json:"state_hash"`
	State     json.RawMessage `json:"state"`
	Verified  bool            `json:"verified"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB, lotteryID string) *SnapshotManager {
	return &SnapshotManager{db: db, lotteryID: lotteryID}
}

// SaveSnapshot persists a snapshot, unverified. It returns the encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	if snap.LotteryID != sm.lotteryID {
		return 0, fmt.Errorf("snapshot for %q saved through manager for %q", snap.LotteryID, sm.lotteryID)
	}

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, lottery_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (lottery_id, sequence) DO UPDATE
			SET data = EXCLUDED.data, state_hash = EXCLUDED.state_hash, size_bytes = EXCLUDED.size_bytes
	`, uuid.New(), snap.LotteryID, snap.Sequence, string(snap.State), snap.StateHash,
		snapshotFormatVersion, len(snap.State), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot at %d: %w", snap.Sequence, err)
	}
	return len(snap.State), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sequence, data, state_hash, format_version, created_at
		FROM event_log.snapshots
		WHERE lottery_id = $1 AND verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`, sm.lotteryID)

	snap := SnapshotData{LotteryID: sm.lotteryID, Verified: true}
	var data []byte
	var version int
	if err := row.Scan(&snap.Sequence, &data, &snap.StateHash, &version, &snap.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot at %d has format %d, want %d", snap.Sequence, version, snapshotFormatVersion)
	}
	snap.State = data
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE
		WHERE lottery_id = $1 AND sequence = $2
	`, sm.lotteryID, sequence)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no snapshot at sequence %d", sequence)
	}
	return nil
}

// LoadEventsFrom loads up to limit events starting at fromSequence, in order.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT lottery_id, sequence, event_type, idempotency_key, slot, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE lottery_id = $1 AND sequence >= $2
		ORDER BY sequence ASC
		LIMIT $3
	`, sm.lotteryID, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.LotteryID, &e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Slot, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events WHERE lottery_id = $1
	`, sm.lotteryID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
