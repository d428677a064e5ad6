package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"TokenLottery/internal/ledger"
	"TokenLottery/internal/lottery"
	"TokenLottery/internal/observability"
)

// ErrNotFound is returned when the requested row has not been projected.
var ErrNotFound = errors.New("not found")

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// QueryService provides read-only access to the projection tables of one
// lottery. Every response carries as_of_sequence, the last event the
// projections reflect.
type QueryService struct {
	db        *sql.DB
	lotteryID string
	asset     ledger.AssetID
	metrics   *observability.Metrics
}

func NewQueryService(db *sql.DB, lotteryID string, asset ledger.AssetID, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, lotteryID: lotteryID, asset: asset, metrics: metrics}
}

// GetLottery returns the projected lottery record.
func (qs *QueryService) GetLottery(ctx context.Context) (_ *LotteryView, err error) {
	defer qs.observe("get_lottery", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	v := LotteryView{LotteryID: qs.lotteryID, AsOfSequence: asOf}
	var saleStart, saleEnd, price, total, pot, winning int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT configured, authority, sale_start, sale_end, price, total_tickets, pot_amount,
		       randomness_handle, winner_chosen, winning_ticket_id, collection, prize_claimed, updated_at
		FROM projection.lottery_state
		WHERE lottery_id = $1
	`, qs.lotteryID).Scan(
		&v.Configured, &v.Authority, &saleStart, &saleEnd, &price, &total, &pot,
		&v.RandomnessHandle, &v.WinnerChosen, &winning, &v.Collection, &v.PrizeClaimed, &v.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lottery %s: %w", qs.lotteryID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	v.SaleStart, v.SaleEnd, v.Price = uint64(saleStart), uint64(saleEnd), uint64(price)
	v.TotalTickets, v.PotAmount = uint64(total), uint64(pot)
	if v.WinnerChosen {
		w := uint64(winning)
		v.WinningTicketID = &w
	}
	return &v, nil
}

// GetTicket returns one ticket by sequence id.
func (qs *QueryService) GetTicket(ctx context.Context, sequenceID uint64) (_ *TicketView, err error) {
	defer qs.observe("get_ticket", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, ticketSelect+`
		WHERE t.lottery_id = $1 AND t.sequence_id = $2
	`, qs.lotteryID, int64(sequenceID))
	if err != nil {
		return nil, err
	}
	tickets, err := scanTickets(rows, qs.lotteryID, asOf)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("ticket %d: %w", sequenceID, ErrNotFound)
	}
	return &tickets[0], nil
}

// ListTickets returns tickets in sequence order, optionally only those held
// by holder, starting after the given sequence id.
func (qs *QueryService) ListTickets(ctx context.Context, holder string, limit int, after *uint64) (_ []TicketView, err error) {
	defer qs.observe("list_tickets", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := ticketSelect + ` WHERE t.lottery_id = $1`
	args := []interface{}{qs.lotteryID}
	argIdx := 2

	if holder != "" {
		query += fmt.Sprintf(" AND t.holder = $%d", argIdx)
		args = append(args, holder)
		argIdx++
	}
	if after != nil {
		query += fmt.Sprintf(" AND t.sequence_id > $%d", argIdx)
		args = append(args, int64(*after))
		argIdx++
	}

	query += " ORDER BY t.sequence_id ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows, qs.lotteryID, asOf)
}

// GetBalance returns a participant's wallet balance. Unknown owners have a
// zero balance.
func (qs *QueryService) GetBalance(ctx context.Context, owner string) (_ *BalanceView, err error) {
	defer qs.observe("get_balance", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.NewUserAccountKey(owner, qs.asset).AccountPath()
	balance, err := qs.getProjectedBalance(ctx, path)
	if err != nil {
		return nil, err
	}
	asset, _ := ledger.GetAssetName(qs.asset)
	return &BalanceView{
		LotteryID:    qs.lotteryID,
		Owner:        owner,
		Asset:        asset,
		AccountPath:  path,
		Balance:      balance,
		AsOfSequence: asOf,
	}, nil
}

// GetJournalHistory returns journal entries touching an owner's wallet,
// newest first, before the given sequence.
func (qs *QueryService) GetJournalHistory(ctx context.Context, owner string, limit int, beforeSequence *int64) (_ []JournalHistoryEntry, err error) {
	defer qs.observe("journal_history", time.Now(), &err)

	path := ledger.NewUserAccountKey(owner, qs.asset).AccountPath()
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journals
		WHERE lottery_id = $1 AND (debit_account = $2 OR credit_account = $2)
	`
	args := []interface{}{qs.lotteryID, path}
	argIdx := 3

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and the
// double-entry invariants of the projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (_ *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2
		       ON e2.lottery_id = e1.lottery_id AND e2.sequence = e1.sequence - 1
		WHERE e1.lottery_id = $1 AND e1.sequence > 0
		  AND (e2.sequence IS NULL OR e1.prev_hash <> e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`, qs.lotteryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projection.balances WHERE lottery_id = $1
	`, qs.lotteryID).Scan(&report.Imbalance); err != nil {
		return nil, err
	}

	potPath := ledger.NewPotAccountKey(qs.lotteryID, qs.asset).AccountPath()
	potBalance, err := qs.getProjectedBalance(ctx, potPath)
	if err != nil {
		return nil, err
	}
	var potAmount int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT pot_amount FROM projection.lottery_state WHERE lottery_id = $1
	`, qs.lotteryID).Scan(&potAmount)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	report.PotMismatch = potBalance - potAmount

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.Imbalance == 0 && report.PotMismatch == 0
	return report, nil
}

// --- helpers ---

const ticketSelect = `
	SELECT t.sequence_id, t.asset_id, t.buyer, t.holder, t.purchased_at,
	       COALESCE(s.winner_chosen AND s.winning_ticket_id = t.sequence_id, FALSE)
	FROM projection.tickets t
	LEFT JOIN projection.lottery_state s ON s.lottery_id = t.lottery_id
`

func scanTickets(rows *sql.Rows, lotteryID string, asOf int64) ([]TicketView, error) {
	defer rows.Close()

	var tickets []TicketView
	for rows.Next() {
		tv := TicketView{LotteryID: lotteryID}
		var seq, purchasedAt int64
		if err := rows.Scan(&seq, &tv.AssetID, &tv.Buyer, &tv.Holder, &purchasedAt, &tv.Winning); err != nil {
			return nil, err
		}
		tv.SequenceID = uint64(seq)
		tv.PurchasedAt = uint64(purchasedAt)
		tv.Name = lottery.TicketName(tv.SequenceID)
		tv.AsOfSequence = asOf
		tickets = append(tickets, tv)
	}
	return tickets, rows.Err()
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projection.watermark WHERE lottery_id = $1
	`, qs.lotteryID).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projection.balances
		WHERE lottery_id = $1 AND account_path = $2
	`, qs.lotteryID, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = "error"
		code := "internal"
		if errors.Is(*err, ErrNotFound) {
			code = "not_found"
		}
		qs.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
