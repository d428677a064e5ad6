package lottery_test

import (
	"errors"
	"fmt"
	"testing"

	"TokenLottery/internal/lottery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLottery   = "lottery-1"
	testAuthority = "authority"
)

type harness struct {
	m      *lottery.Machine
	funds  *fakeFunds
	assets *fakeAssets
	oracle *fakeOracle
}

func (h *harness) env() lottery.Env {
	return lottery.Env{Funds: h.funds, Assets: h.assets, Oracle: h.oracle}
}

func (h *harness) fund(owner string, amount uint64) {
	h.funds.balances[lottery.Wallet(owner)] += amount
}

func (h *harness) buy(t *testing.T, buyer string, slot uint64) lottery.Ticket {
	t.Helper()
	h.fund(buyer, h.m.Record().Price)
	ticket, err := h.m.BuyTicket(buyer, slot, h.env())
	require.NoError(t, err)
	return ticket
}

// newOpenLottery configures start=100 end=200 price=10 and opens the sale.
func newOpenLottery(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		m:      lottery.NewMachine(testLottery),
		funds:  newFakeFunds(),
		assets: newFakeAssets(),
		oracle: newFakeOracle(),
	}
	require.NoError(t, h.m.Configure(lottery.Config{SaleStart: 100, SaleEnd: 200, Price: 10, Authority: testAuthority}))
	_, err := h.m.OpenSale(testAuthority, h.env())
	require.NoError(t, err)
	return h
}

// withWinner sells n tickets, commits a handle requested at round 209 and
// reveals at slot 210 with an oracle value whose first byte is first.
func withWinner(t *testing.T, n int, first byte) *harness {
	t.Helper()
	h := newOpenLottery(t)
	for i := 0; i < n; i++ {
		h.buy(t, fmt.Sprintf("buyer-%d", i), 150)
	}
	h.oracle.request("req-1", 209)
	require.NoError(t, h.m.CommitRandomness(testAuthority, "req-1", 210, h.env()))
	h.oracle.fulfil("req-1", first)
	_, err := h.m.RevealWinner(testAuthority, "req-1", 211, h.env())
	require.NoError(t, err)
	return h
}

func requireCode(t *testing.T, err error, want *lottery.Error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, want), "got %v, want %s", err, want.Code)
}

// =============================================================================
// Configuration
// =============================================================================

func TestConfigure(t *testing.T) {
	t.Run("fresh record", func(t *testing.T) {
		m := lottery.NewMachine(testLottery)
		require.NoError(t, m.Configure(lottery.Config{SaleStart: 100, SaleEnd: 200, Price: 10, Authority: testAuthority}))

		rec := m.Record()
		assert.True(t, rec.Configured)
		assert.Equal(t, uint64(0), rec.TotalTickets)
		assert.Equal(t, uint64(0), rec.PotAmount)
		assert.False(t, rec.WinnerChosen)
		assert.False(t, rec.HasRandomness())
		assert.NoError(t, rec.CheckInvariants())
	})

	t.Run("inverted window", func(t *testing.T) {
		m := lottery.NewMachine(testLottery)
		requireCode(t, m.Configure(lottery.Config{SaleStart: 201, SaleEnd: 200, Authority: testAuthority}), lottery.ErrInvalidConfig)
		assert.False(t, m.Record().Configured)
	})

	t.Run("single slot window", func(t *testing.T) {
		m := lottery.NewMachine(testLottery)
		assert.NoError(t, m.Configure(lottery.Config{SaleStart: 5, SaleEnd: 5, Authority: testAuthority}))
	})

	t.Run("twice", func(t *testing.T) {
		m := lottery.NewMachine(testLottery)
		require.NoError(t, m.Configure(lottery.Config{SaleStart: 1, SaleEnd: 2, Price: 1, Authority: testAuthority}))
		requireCode(t, m.Configure(lottery.Config{SaleStart: 3, SaleEnd: 4, Price: 7, Authority: "other"}), lottery.ErrAlreadyConfigured)
		assert.Equal(t, uint64(1), m.Record().Price)
	})
}

func TestOpenSale(t *testing.T) {
	m := lottery.NewMachine(testLottery)
	assets := newFakeAssets()
	env := lottery.Env{Assets: assets}

	_, err := m.OpenSale(testAuthority, env)
	requireCode(t, err, lottery.ErrNotConfigured)

	require.NoError(t, m.Configure(lottery.Config{SaleStart: 1, SaleEnd: 2, Authority: testAuthority}))

	_, err = m.OpenSale("mallory", env)
	requireCode(t, err, lottery.ErrNotAuthorized)

	collection, err := m.OpenSale(testAuthority, env)
	require.NoError(t, err)
	assert.Equal(t, collection, m.Record().Collection)

	info, ok := assets.Lookup(collection)
	require.True(t, ok)
	assert.True(t, info.IsCollection)
	assert.Equal(t, lottery.CollectionName, info.Name)
	assert.Equal(t, uint64(1), assets.BalanceOf(testLottery, collection))

	_, err = m.OpenSale(testAuthority, env)
	requireCode(t, err, lottery.ErrSaleAlreadyOpen)
}

// =============================================================================
// Ticket sale
// =============================================================================

func TestScenarioA_BuyInsideWindow(t *testing.T) {
	h := newOpenLottery(t)

	ticket := h.buy(t, "alice", 150)

	rec := h.m.Record()
	assert.Equal(t, uint64(1), rec.TotalTickets)
	assert.Equal(t, uint64(10), rec.PotAmount)
	assert.Equal(t, uint64(0), ticket.SequenceID)
	assert.Equal(t, uint64(10), h.funds.balances[lottery.Pot(testLottery)])

	info, ok := h.assets.Lookup(ticket.Asset)
	require.True(t, ok)
	assert.Equal(t, "Token Lottery Ticket #0", info.Name)
	assert.Equal(t, rec.Collection, info.Collection)
	assert.Equal(t, uint64(1), h.assets.BalanceOf("alice", ticket.Asset))
}

func TestScenarioB_BuyAfterWindow(t *testing.T) {
	h := newOpenLottery(t)
	h.fund("alice", 10)

	_, err := h.m.BuyTicket("alice", 201, h.env())
	requireCode(t, err, lottery.ErrSaleClosed)

	rec := h.m.Record()
	assert.Equal(t, uint64(0), rec.TotalTickets)
	assert.Equal(t, uint64(0), rec.PotAmount)
	assert.Equal(t, uint64(10), h.funds.balances[lottery.Wallet("alice")])
}

func TestBuyWindowBounds(t *testing.T) {
	tests := []struct {
		name string
		slot uint64
		ok   bool
	}{
		{"before start", 99, false},
		{"at start", 100, true},
		{"inside", 150, true},
		{"at end", 200, true},
		{"after end", 201, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newOpenLottery(t)
			h.fund("alice", 10)
			_, err := h.m.BuyTicket("alice", tt.slot, h.env())
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			requireCode(t, err, lottery.ErrSaleClosed)
			assert.Equal(t, uint64(0), h.m.Record().TotalTickets)
		})
	}
}

func TestBuyBeforeOpenSale(t *testing.T) {
	m := lottery.NewMachine(testLottery)
	require.NoError(t, m.Configure(lottery.Config{SaleStart: 100, SaleEnd: 200, Price: 10, Authority: testAuthority}))

	funds := newFakeFunds()
	funds.balances[lottery.Wallet("alice")] = 10
	_, err := m.BuyTicket("alice", 150, lottery.Env{Funds: funds, Assets: newFakeAssets()})
	requireCode(t, err, lottery.ErrSaleClosed)
}

func TestBuyAfterDrawStarted(t *testing.T) {
	// Every case buys at the last slot of the window, where reveal is already allowed.
	t.Run("after commit", func(t *testing.T) {
		h := newOpenLottery(t)
		h.buy(t, "alice", 150)
		h.oracle.request("req-1", 199)
		require.NoError(t, h.m.CommitRandomness(testAuthority, "req-1", 200, h.env()))

		h.fund("bob", 10)
		_, err := h.m.BuyTicket("bob", 200, h.env())
		requireCode(t, err, lottery.ErrSaleClosed)
		assert.Equal(t, uint64(1), h.m.Record().TotalTickets)
		assert.Equal(t, uint64(10), h.m.Record().PotAmount)
	})

	t.Run("after reveal", func(t *testing.T) {
		h := newOpenLottery(t)
		h.buy(t, "alice", 150)
		h.oracle.request("req-1", 199)
		require.NoError(t, h.m.CommitRandomness(testAuthority, "req-1", 200, h.env()))
		h.oracle.fulfil("req-1", 0)
		_, err := h.m.RevealWinner(testAuthority, "req-1", 200, h.env())
		require.NoError(t, err)

		h.fund("bob", 10)
		_, err = h.m.BuyTicket("bob", 200, h.env())
		requireCode(t, err, lottery.ErrSaleClosed)
		assert.Equal(t, uint64(1), h.m.Record().TotalTickets)
		assert.Equal(t, uint64(10), h.funds.balances[lottery.Wallet("bob")])
	})

	t.Run("after claim", func(t *testing.T) {
		h := newOpenLottery(t)
		ticket := h.buy(t, "alice", 150)
		h.oracle.request("req-1", 199)
		require.NoError(t, h.m.CommitRandomness(testAuthority, "req-1", 200, h.env()))
		h.oracle.fulfil("req-1", 0)
		_, err := h.m.RevealWinner(testAuthority, "req-1", 200, h.env())
		require.NoError(t, err)
		_, err = h.m.ClaimPrize("alice", ticket.Asset, h.env())
		require.NoError(t, err)

		h.fund("bob", 10)
		_, err = h.m.BuyTicket("bob", 200, h.env())
		requireCode(t, err, lottery.ErrSaleClosed)
		rec := h.m.Record()
		assert.Equal(t, uint64(0), rec.PotAmount)
		assert.NoError(t, rec.CheckInvariants())
	})
}

func TestSequenceIDsAreGapless(t *testing.T) {
	h := newOpenLottery(t)

	for i := 0; i < 25; i++ {
		ticket := h.buy(t, fmt.Sprintf("buyer-%d", i%4), 100+uint64(i))
		require.Equal(t, uint64(i), ticket.SequenceID)

		rec := h.m.Record()
		require.Equal(t, uint64(i+1), rec.TotalTickets)
		require.Equal(t, rec.Price*rec.TotalTickets, rec.PotAmount)
		require.NoError(t, rec.CheckInvariants())
	}

	for i, ticket := range h.m.Tickets().All() {
		assert.Equal(t, uint64(i), ticket.SequenceID)
	}
}

func TestBuyInsufficientFunds(t *testing.T) {
	h := newOpenLottery(t)
	h.fund("alice", 9)

	_, err := h.m.BuyTicket("alice", 150, h.env())
	requireCode(t, err, lottery.ErrInsufficientFunds)
	assert.Equal(t, uint64(0), h.m.Record().TotalTickets)
	assert.Empty(t, h.assets.holdings["alice"])
}

func TestBuyMintFailureLeavesRecordUntouched(t *testing.T) {
	h := newOpenLottery(t)
	h.fund("alice", 10)
	h.assets.failMint = true

	_, err := h.m.BuyTicket("alice", 150, h.env())
	require.Error(t, err)

	rec := h.m.Record()
	assert.Equal(t, uint64(0), rec.TotalTickets)
	assert.Equal(t, uint64(0), rec.PotAmount)
	assert.Equal(t, uint64(0), h.m.Tickets().Next())
	// Payment was attempted first; discarding it is the caller's job.
	assert.Equal(t, 1, h.funds.calls)
}

func TestFreeTicketsSkipPayment(t *testing.T) {
	m := lottery.NewMachine(testLottery)
	assets := newFakeAssets()
	funds := newFakeFunds()
	env := lottery.Env{Funds: funds, Assets: assets}
	require.NoError(t, m.Configure(lottery.Config{SaleStart: 0, SaleEnd: 10, Price: 0, Authority: testAuthority}))
	_, err := m.OpenSale(testAuthority, env)
	require.NoError(t, err)

	ticket, err := m.BuyTicket("alice", 3, env)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ticket.SequenceID)
	assert.Equal(t, 0, funds.calls)
	rec := m.Record()
	assert.NoError(t, rec.CheckInvariants())
}

// =============================================================================
// Randomness commit
// =============================================================================

func TestCommitRandomness(t *testing.T) {
	t.Run("fresh handle", func(t *testing.T) {
		h := newOpenLottery(t)
		h.oracle.request("req-1", 41)
		require.NoError(t, h.m.CommitRandomness(testAuthority, "req-1", 42, h.env()))
		assert.Equal(t, "req-1", h.m.Record().RandomnessHandle)
	})

	t.Run("not authority", func(t *testing.T) {
		h := newOpenLottery(t)
		h.oracle.request("req-1", 41)
		requireCode(t, h.m.CommitRandomness("mallory", "req-1", 42, h.env()), lottery.ErrNotAuthorized)
		rec := h.m.Record()
		assert.False(t, rec.HasRandomness())
	})

	t.Run("stale handle", func(t *testing.T) {
		h := newOpenLottery(t)
		h.oracle.request("req-1", 40)
		requireCode(t, h.m.CommitRandomness(testAuthority, "req-1", 42, h.env()), lottery.ErrRandomnessStale)
	})

	t.Run("handle from current round", func(t *testing.T) {
		h := newOpenLottery(t)
		h.oracle.request("req-1", 42)
		requireCode(t, h.m.CommitRandomness(testAuthority, "req-1", 42, h.env()), lottery.ErrRandomnessStale)
	})

	t.Run("unknown handle", func(t *testing.T) {
		h := newOpenLottery(t)
		requireCode(t, h.m.CommitRandomness(testAuthority, "nope", 42, h.env()), lottery.ErrRandomnessStale)
	})

	t.Run("second commit", func(t *testing.T) {
		h := newOpenLottery(t)
		h.oracle.request("req-1", 41)
		h.oracle.request("req-2", 42)
		require.NoError(t, h.m.CommitRandomness(testAuthority, "req-1", 42, h.env()))
		requireCode(t, h.m.CommitRandomness(testAuthority, "req-2", 43, h.env()), lottery.ErrRandomnessAlreadyCommitted)
		assert.Equal(t, "req-1", h.m.Record().RandomnessHandle)
	})
}

// =============================================================================
// Winner reveal
// =============================================================================

func TestScenarioC_WinnerFromOracleValue(t *testing.T) {
	h := withWinner(t, 5, 23)

	rec := h.m.Record()
	assert.True(t, rec.WinnerChosen)
	assert.Equal(t, uint64(3), rec.WinningTicketID)
	assert.NoError(t, rec.CheckInvariants())
}

func TestScenarioD_SecondRevealRejected(t *testing.T) {
	h := withWinner(t, 5, 23)

	_, err := h.m.RevealWinner(testAuthority, "req-1", 300, h.env())
	requireCode(t, err, lottery.ErrWinnerAlreadyChosen)
	assert.Equal(t, uint64(3), h.m.Record().WinningTicketID)
}

func TestRevealPreconditions(t *testing.T) {
	setup := func(t *testing.T, tickets int) *harness {
		h := newOpenLottery(t)
		for i := 0; i < tickets; i++ {
			h.buy(t, "alice", 150)
		}
		h.oracle.request("req-1", 149)
		require.NoError(t, h.m.CommitRandomness(testAuthority, "req-1", 150, h.env()))
		return h
	}

	t.Run("not authority", func(t *testing.T) {
		h := setup(t, 1)
		_, err := h.m.RevealWinner("mallory", "req-1", 250, h.env())
		requireCode(t, err, lottery.ErrNotAuthorized)
	})

	t.Run("wrong handle", func(t *testing.T) {
		h := setup(t, 1)
		_, err := h.m.RevealWinner(testAuthority, "req-2", 250, h.env())
		requireCode(t, err, lottery.ErrWrongRandomnessHandle)
	})

	t.Run("nothing committed", func(t *testing.T) {
		h := newOpenLottery(t)
		h.buy(t, "alice", 150)
		_, err := h.m.RevealWinner(testAuthority, "", 250, h.env())
		requireCode(t, err, lottery.ErrWrongRandomnessHandle)
	})

	t.Run("sale still running", func(t *testing.T) {
		h := setup(t, 1)
		_, err := h.m.RevealWinner(testAuthority, "req-1", 199, h.env())
		requireCode(t, err, lottery.ErrSaleNotComplete)
	})

	t.Run("no tickets", func(t *testing.T) {
		h := setup(t, 0)
		h.oracle.fulfil("req-1", 1)
		_, err := h.m.RevealWinner(testAuthority, "req-1", 250, h.env())
		requireCode(t, err, lottery.ErrNoTickets)
	})

	t.Run("pending is retryable", func(t *testing.T) {
		h := setup(t, 2)
		_, err := h.m.RevealWinner(testAuthority, "req-1", 250, h.env())
		requireCode(t, err, lottery.ErrRandomnessPending)
		assert.True(t, lottery.IsRetryable(err))
		assert.False(t, h.m.Record().WinnerChosen)

		h.oracle.fulfil("req-1", 7)
		winner, err := h.m.RevealWinner(testAuthority, "req-1", 251, h.env())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), winner)
	})
}

func TestWinningTicketAlwaysInRange(t *testing.T) {
	for n := uint64(1); n <= 64; n++ {
		for b := 0; b < 256; b += 7 {
			var v [32]byte
			v[0] = byte(b)
			v[5] = byte(255 - b)
			got := lottery.WinningTicket(v, n)
			require.Less(t, got, n)
		}
	}
	assert.Equal(t, uint64(3), lottery.WinningTicket([32]byte{23}, 5))
}

// =============================================================================
// Prize claim
// =============================================================================

func TestClaimBeforeReveal(t *testing.T) {
	h := newOpenLottery(t)
	ticket := h.buy(t, "alice", 150)

	_, err := h.m.ClaimPrize("alice", ticket.Asset, h.env())
	requireCode(t, err, lottery.ErrWinnerNotChosen)
}

func TestScenarioE_ClaimWithoutHolding(t *testing.T) {
	h := withWinner(t, 5, 23)
	winning, ok := h.m.Tickets().Get(3)
	require.True(t, ok)

	_, err := h.m.ClaimPrize("mallory", winning.Asset, h.env())
	requireCode(t, err, lottery.ErrWrongTicket)
	assert.Equal(t, uint64(50), h.m.Record().PotAmount)
	assert.False(t, h.m.Record().PrizeClaimed)
}

func TestClaimLosingTicket(t *testing.T) {
	h := withWinner(t, 5, 23)
	losing, _ := h.m.Tickets().Get(1)

	_, err := h.m.ClaimPrize(losing.Owner, losing.Asset, h.env())
	requireCode(t, err, lottery.ErrWrongTicket)
}

func TestClaimForeignAsset(t *testing.T) {
	h := withWinner(t, 5, 23)

	foreign, err := h.assets.Mint("buyer-3", lottery.AssetSpec{Identity: 3, Name: lottery.TicketName(3), Collection: "other-collection"})
	require.NoError(t, err)
	_, err = h.m.ClaimPrize("buyer-3", foreign, h.env())
	requireCode(t, err, lottery.ErrWrongCollection)

	_, err = h.m.ClaimPrize("buyer-3", "missing", h.env())
	requireCode(t, err, lottery.ErrUnverifiedTicket)

	unverified, err := h.assets.Mint("buyer-3", lottery.AssetSpec{Identity: 3, Name: lottery.TicketName(3), Collection: h.m.Record().Collection})
	require.NoError(t, err)
	a := h.assets.assets[unverified]
	a.Verified = false
	h.assets.assets[unverified] = a
	_, err = h.m.ClaimPrize("buyer-3", unverified, h.env())
	requireCode(t, err, lottery.ErrUnverifiedTicket)
}

func TestClaimPaysPotOnce(t *testing.T) {
	h := withWinner(t, 5, 23)
	winning, _ := h.m.Tickets().Get(3)

	payout, err := h.m.ClaimPrize(winning.Owner, winning.Asset, h.env())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), payout)
	assert.Equal(t, uint64(50), h.funds.balances[lottery.Wallet(winning.Owner)])

	rec := h.m.Record()
	assert.Equal(t, uint64(0), rec.PotAmount)
	assert.True(t, rec.PrizeClaimed)
	assert.NoError(t, rec.CheckInvariants())

	_, err = h.m.ClaimPrize(winning.Owner, winning.Asset, h.env())
	requireCode(t, err, lottery.ErrPrizeAlreadyClaimed)
	assert.Equal(t, uint64(50), h.funds.balances[lottery.Wallet(winning.Owner)])
}

func TestClaimAfterTicketTransfer(t *testing.T) {
	h := withWinner(t, 5, 23)
	winning, _ := h.m.Tickets().Get(3)
	h.assets.move(winning.Owner, "carol", winning.Asset)

	_, err := h.m.ClaimPrize(winning.Owner, winning.Asset, h.env())
	requireCode(t, err, lottery.ErrWrongTicket)

	payout, err := h.m.ClaimPrize("carol", winning.Asset, h.env())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), payout)
}

func TestRestore(t *testing.T) {
	h := withWinner(t, 3, 2)

	m := lottery.NewMachine(testLottery)
	require.NoError(t, m.Restore(h.m.Record(), h.m.Tickets().All()))
	assert.Equal(t, h.m.Record(), m.Record())

	bad := h.m.Record()
	bad.TotalTickets = 4
	assert.Error(t, lottery.NewMachine(testLottery).Restore(bad, h.m.Tickets().All()))
}
