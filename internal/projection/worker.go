package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TokenLottery/internal/core"
	"TokenLottery/internal/observability"

	"github.com/rs/zerolog"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ProjectionWorker updates projection tables from processed events. The
// projection channel is fed with non-blocking sends, so a lagging worker
// drops updates; every row carries absolute values, so the next update for
// the same row repairs it, and Rebuild restores everything from the log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	history   *TicketHistoryProjection
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	history *TicketHistoryProjection,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, output); err != nil {
				pw.logger.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
			}
		}
	}
}

// LastSequence returns the sequence of the last applied output.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Apply writes one core output to the projection tables in a transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	evtType := output.Envelope.EventType.String()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeOutput(ctx, tx, output); err != nil {
		return fmt.Errorf("%s at %d: %w", evtType, output.Envelope.Sequence, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	pw.record(output)
	pw.lastSeq = output.Envelope.Sequence
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("lottery").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (pw *ProjectionWorker) record(output core.CoreOutput) {
	if pw.history == nil {
		return
	}
	env := output.Envelope
	if t := output.Result.Ticket; t != nil {
		pw.history.AddPurchase(*t, env.Sequence)
	}
	if m := output.Result.Moved; m != nil {
		pw.history.AddTransfer(m.Asset, m.From, m.To, env.Sequence, env.Slot)
	}
}

func writeOutput(ctx context.Context, ex Execer, output core.CoreOutput) error {
	env := output.Envelope
	res := output.Result
	rec := res.Record

	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projection.lottery_state
			(lottery_id, configured, authority, sale_start, sale_end, price, total_tickets, pot_amount,
			 randomness_handle, winner_chosen, winning_ticket_id, collection, prize_claimed, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (lottery_id) DO UPDATE SET
			configured = EXCLUDED.configured, authority = EXCLUDED.authority,
			sale_start = EXCLUDED.sale_start, sale_end = EXCLUDED.sale_end, price = EXCLUDED.price,
			total_tickets = EXCLUDED.total_tickets, pot_amount = EXCLUDED.pot_amount,
			randomness_handle = EXCLUDED.randomness_handle, winner_chosen = EXCLUDED.winner_chosen,
			winning_ticket_id = EXCLUDED.winning_ticket_id, collection = EXCLUDED.collection,
			prize_claimed = EXCLUDED.prize_claimed, last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
		WHERE projection.lottery_state.last_sequence < EXCLUDED.last_sequence
	`, env.LotteryID, rec.Configured, rec.Authority, int64(rec.SaleStart), int64(rec.SaleEnd), int64(rec.Price),
		int64(rec.TotalTickets), int64(rec.PotAmount), rec.RandomnessHandle, rec.WinnerChosen,
		int64(rec.WinningTicketID), string(rec.Collection), rec.PrizeClaimed, env.Sequence, env.Timestamp,
	); err != nil {
		return fmt.Errorf("lottery state: %w", err)
	}

	if t := res.Ticket; t != nil {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projection.tickets (lottery_id, sequence_id, asset_id, buyer, holder, purchased_at, last_sequence)
			VALUES ($1, $2, $3, $4, $4, $5, $6)
			ON CONFLICT (lottery_id, sequence_id) DO NOTHING
		`, env.LotteryID, int64(t.SequenceID), string(t.Asset), t.Owner, int64(t.PurchasedAt), env.Sequence); err != nil {
			return fmt.Errorf("ticket: %w", err)
		}
	}

	if m := res.Moved; m != nil {
		if _, err := ex.ExecContext(ctx, `
			UPDATE projection.tickets SET holder = $1, last_sequence = $2
			WHERE asset_id = $3 AND last_sequence < $2
		`, m.To, env.Sequence, string(m.Asset)); err != nil {
			return fmt.Errorf("ticket transfer: %w", err)
		}
	}

	for path, balance := range res.Balances {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projection.balances (lottery_id, account_path, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (lottery_id, account_path) DO UPDATE
				SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
			WHERE projection.balances.last_sequence < EXCLUDED.last_sequence
		`, env.LotteryID, path, balance, env.Sequence); err != nil {
			return fmt.Errorf("balance %s: %w", path, err)
		}
	}

	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projection.watermark (lottery_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (lottery_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		WHERE projection.watermark.last_sequence < EXCLUDED.last_sequence
	`, env.LotteryID, env.Sequence); err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	return nil
}
