package projection

import (
	"context"
	"fmt"

	"TokenLottery/internal/core"
	"TokenLottery/internal/event"
	"TokenLottery/internal/persistence"
)

const rebuildPageSize = 1000

// RebuildProjections truncates the projection rows of one lottery and
// rebuilds them by replaying its event log through a fresh core. Every
// recomputed state hash is checked against the log. Returns the number of
// events replayed.
func RebuildProjections(ctx context.Context, cfg core.Config, sm *persistence.SnapshotManager, pw *ProjectionWorker) (int, error) {
	for _, stmt := range []string{
		`DELETE FROM projection.lottery_state WHERE lottery_id = $1`,
		`DELETE FROM projection.tickets WHERE lottery_id = $1`,
		`DELETE FROM projection.balances WHERE lottery_id = $1`,
		`DELETE FROM projection.watermark WHERE lottery_id = $1`,
	} {
		if _, err := pw.db.ExecContext(ctx, stmt, cfg.LotteryID); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}
	if pw.history != nil {
		pw.history.Reset()
	}

	c, err := core.NewLotteryCore(cfg, nil, nil, nil, nil)
	if err != nil {
		return 0, err
	}
	c.SetReplayMode(true)

	replayed := 0
	from := int64(0)
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, rebuildPageSize)
		if err != nil {
			return replayed, err
		}
		for _, row := range rows {
			evt, err := event.Decode(row.EventType, row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("rebuild sequence %d: %w", row.Sequence, err)
			}
			env, err := row.Envelope()
			if err != nil {
				return replayed, err
			}
			out, err := c.ProcessEvent(evt)
			if err != nil {
				return replayed, fmt.Errorf("rebuild sequence %d: %w", row.Sequence, err)
			}
			if out == nil || out.Envelope.Sequence != env.Sequence || out.Envelope.StateHash != env.StateHash {
				return replayed, fmt.Errorf("rebuild sequence %d: replay does not reproduce the log", row.Sequence)
			}
			if err := pw.Apply(ctx, *out); err != nil {
				return replayed, err
			}
			replayed++
		}
		if len(rows) < rebuildPageSize {
			break
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	pw.logger.Info().Str("lottery_id", cfg.LotteryID).Int("events", replayed).Msg("projection rebuild complete")
	return replayed, nil
}
