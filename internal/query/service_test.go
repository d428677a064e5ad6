package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"TokenLottery/internal/core"
	"TokenLottery/internal/event"
	"TokenLottery/internal/ledger"
	"TokenLottery/internal/persistence"
	"TokenLottery/internal/projection"
	"TokenLottery/internal/query"
	"TokenLottery/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryService_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := zerolog.Nop()
	require.NoError(t, persistence.NewMigrator(db, "../../migrations", logger).Up(ctx))

	cfg := core.Config{LotteryID: "main", SettlementAsset: "USDT"}
	persistCh := make(chan core.CoreOutput, 16)
	c, err := core.NewLotteryCore(cfg, persistCh, nil, nil, nil)
	require.NoError(t, err)

	pw := projection.NewProjectionWorker(db, nil, nil, nil, logger)
	qs := query.NewQueryService(db, "main", 1, nil)

	_, err = qs.GetLottery(ctx)
	assert.True(t, errors.Is(err, query.ErrNotFound), "unconfigured lottery: %v", err)

	m := func(key string, slot uint64) event.Meta {
		return event.Meta{RequestID: key, Lottery: "main", Sequence: event.Unsequenced, Slot: slot, Timestamp: time.Unix(int64(slot), 0).UTC()}
	}
	for _, evt := range []event.Event{
		&event.LotteryConfigured{Meta: m("cfg", 0), SaleStart: 1, SaleEnd: 9, Price: 4, Authority: "admin"},
		&event.SaleOpened{Meta: m("open", 1), Caller: "admin"},
		&event.FundsDeposited{Meta: m("dep-a", 2), Owner: "alice", Amount: 10},
		&event.FundsDeposited{Meta: m("dep-b", 2), Owner: "bob", Amount: 10},
		&event.TicketPurchased{Meta: m("buy-1", 3), Buyer: "alice"},
		&event.TicketPurchased{Meta: m("buy-2", 4), Buyer: "bob"},
		&event.TicketPurchased{Meta: m("buy-3", 5), Buyer: "alice"},
	} {
		out, err := c.ProcessEvent(evt)
		require.NoError(t, err, evt.IdempotencyKey())
		require.NoError(t, pw.Apply(ctx, *out))
	}
	close(persistCh)
	require.NoError(t, persistence.NewPersistenceWorker(db, persistCh, 10, time.Millisecond, nil, logger).Run(ctx))

	lot, err := qs.GetLottery(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lot.TotalTickets)
	assert.Equal(t, uint64(12), lot.PotAmount)
	assert.Nil(t, lot.WinningTicketID)
	assert.Equal(t, int64(6), lot.AsOfSequence)

	tickets, err := qs.ListTickets(ctx, "alice", 0, nil)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, uint64(0), tickets[0].SequenceID)
	assert.Equal(t, uint64(2), tickets[1].SequenceID)

	after := uint64(0)
	page, err := qs.ListTickets(ctx, "", 1, &after)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bob", page[0].Holder)

	tk, err := qs.GetTicket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", tk.Buyer)
	assert.False(t, tk.Winning)

	_, err = qs.GetTicket(ctx, 99)
	assert.True(t, errors.Is(err, query.ErrNotFound))

	bal, err := qs.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bal.Balance)
	assert.Equal(t, "USDT", bal.Asset)

	nobody, err := qs.GetBalance(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, nobody.Balance)

	history, err := qs.GetJournalHistory(ctx, "alice", 10, nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ledger.JournalTypeTicketPurchase.String(), history[0].JournalType)
	assert.Equal(t, ledger.JournalTypeDeposit.String(), history[2].JournalType)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
}
