package persistence

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"TokenLottery/internal/core"
	"TokenLottery/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotWorker periodically captures core state through the sequencer and
// stores it. A stored snapshot becomes usable for recovery once its state
// hash has been matched against the persisted event log.
type SnapshotWorker struct {
	seq       *core.Sequencer
	mgr       *SnapshotManager
	interval  time.Duration
	minEvents int64
	metrics   *observability.Metrics
	logger    zerolog.Logger

	lastSaved int64
	pending   []pendingSnapshot
	trigger   chan struct{}
}

type pendingSnapshot struct {
	sequence int64
	hash     []byte
}

func NewSnapshotWorker(seq *core.Sequencer, mgr *SnapshotManager, interval time.Duration, minEvents int64, metrics *observability.Metrics, logger zerolog.Logger) *SnapshotWorker {
	return &SnapshotWorker{
		seq:       seq,
		mgr:       mgr,
		interval:  interval,
		minEvents: minEvents,
		metrics:   metrics,
		logger:    logger,
		lastSaved: -1,
		trigger:   make(chan struct{}, 1),
	}
}

func (w *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.verifyPending(ctx)
			if err := w.take(ctx, false); err != nil {
				w.logger.Warn().Err(err).Msg("snapshot failed")
			}
		case <-w.trigger:
			w.verifyPending(ctx)
			if err := w.take(ctx, true); err != nil {
				w.logger.Warn().Err(err).Msg("requested snapshot failed")
			}
		}
	}
}

// Trigger asks Run to take a snapshot now regardless of the minimum event
// count. Requests made while one is queued are coalesced.
func (w *SnapshotWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *SnapshotWorker) take(ctx context.Context, force bool) error {
	start := time.Now()
	state, err := w.seq.Snapshot(ctx)
	if err != nil {
		return err
	}
	if state.Sequence < 0 || state.Sequence == w.lastSaved {
		return nil
	}
	if !force && state.Sequence-w.lastSaved < w.minEvents {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	hash, err := hex.DecodeString(state.StateHash)
	if err != nil {
		return err
	}

	size, err := w.mgr.SaveSnapshot(ctx, &SnapshotData{
		LotteryID: state.LotteryID,
		Sequence:  state.Sequence,
		StateHash: hash,
		State:     data,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	w.lastSaved = state.Sequence
	w.pending = append(w.pending, pendingSnapshot{sequence: state.Sequence, hash: hash})

	if w.metrics != nil {
		w.metrics.SnapshotTaken.Inc()
		w.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		w.metrics.SnapshotSizeBytes.Set(float64(size))
		w.metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	w.logger.Info().Int64("sequence", state.Sequence).Int("bytes", size).Msg("snapshot saved")
	return nil
}

func (w *SnapshotWorker) verifyPending(ctx context.Context) {
	remaining := w.pending[:0]
	for _, p := range w.pending {
		ok, err := w.mgr.VerifySnapshot(ctx, p.sequence, p.hash)
		if err != nil {
			w.logger.Error().Err(err).Int64("sequence", p.sequence).Msg("snapshot verification failed")
			continue
		}
		if !ok {
			remaining = append(remaining, p)
			continue
		}
		w.logger.Debug().Int64("sequence", p.sequence).Msg("snapshot verified")
	}
	w.pending = remaining
}

// Final takes and verifies one last snapshot on shutdown. Call it after Run
// has returned and the event log has caught up with the core.
func (w *SnapshotWorker) Final(ctx context.Context) error {
	if err := w.take(ctx, true); err != nil {
		return err
	}
	w.verifyPending(ctx)
	return nil
}
