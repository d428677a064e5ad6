package ledger_test

import (
	"errors"
	"math"
	"testing"

	"TokenLottery/internal/ledger"
	"TokenLottery/internal/lottery"

	"github.com/google/uuid"
)

func usdt(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDT")
	if !ok {
		t.Fatal("USDT should be a known asset")
	}
	return id
}

func deposit(bt *ledger.BalanceTracker, owner string, assetID ledger.AssetID, amount int64) {
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(owner, assetID),
		CreditAccount: ledger.NewExternalAccountKey(assetID),
		AssetID:       assetID,
		Amount:        amount,
	})
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey("alice", usdt(t))

	path := key.AccountPath()
	if path != "user:wallet:USDT:alice" {
		t.Errorf("got %q, want %q", path, "user:wallet:USDT:alice")
	}
}

func TestAccountKey_PotPath(t *testing.T) {
	key := ledger.NewPotAccountKey("main", usdt(t))

	path := key.AccountPath()
	if path != "lottery:pot:USDT:main" {
		t.Errorf("got %q, want %q", path, "lottery:pot:USDT:main")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(usdt(t))

	path := key.AccountPath()
	if path != "external:custody:USDT" {
		t.Errorf("got %q, want %q", path, "external:custody:USDT")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	assetID := usdt(t)
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey("alice", assetID),
		ledger.NewUserAccountKey("did:key:z6Mk", assetID),
		ledger.NewPotAccountKey("main", assetID),
		ledger.NewExternalAccountKey(assetID),
	}
	for _, want := range keys {
		got, err := ledger.ParseAccountPath(want.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", want.AccountPath(), err)
		}
		if got != want {
			t.Errorf("parse %q: got %+v, want %+v", want.AccountPath(), got, want)
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{"", "user", "user:wallet:DOGE:alice", "system:insurance_fund:USDT", "user:pot:USDT:alice"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

func TestKeyFor_MapsTransferParties(t *testing.T) {
	assetID := usdt(t)
	if got := ledger.KeyFor(lottery.Wallet("bob"), assetID); got != ledger.NewUserAccountKey("bob", assetID) {
		t.Errorf("wallet mapped to %s", got.AccountPath())
	}
	if got := ledger.KeyFor(lottery.Pot("main"), assetID); got != ledger.NewPotAccountKey("main", assetID) {
		t.Errorf("pot mapped to %s", got.AccountPath())
	}
	if got := ledger.KeyFor(lottery.External(), assetID); !got.MayGoNegative() {
		t.Errorf("external mapped to %s", got.AccountPath())
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	balance := bt.GetWalletBalance("alice", usdt(t))
	if balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := usdt(t)

	deposit(bt, "alice", assetID, 1_000_000)

	// Ticket purchase
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPotAccountKey("main", assetID),
		CreditAccount: ledger.NewUserAccountKey("alice", assetID),
		AssetID:       assetID,
		Amount:        300_000,
	})

	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
	if got := bt.GetPotBalance("main", assetID); got != 300_000 {
		t.Errorf("pot: got %d, want 300_000", got)
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := usdt(t)
	deposit(bt, "alice", assetID, 999)

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetWalletBalance("alice", assetID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_Rejects(t *testing.T) {
	assetID := usdt(t)
	batchID := uuid.New()
	wallet := ledger.NewUserAccountKey("alice", assetID)
	pot := ledger.NewPotAccountKey("main", assetID)

	cases := map[string]ledger.Journal{
		"zero amount":     {BatchID: batchID, DebitAccount: pot, CreditAccount: wallet, AssetID: assetID, Amount: 0},
		"negative amount": {BatchID: batchID, DebitAccount: pot, CreditAccount: wallet, AssetID: assetID, Amount: -100},
		"self transfer":   {BatchID: batchID, DebitAccount: wallet, CreditAccount: wallet, AssetID: assetID, Amount: 100},
		"batch mismatch":  {BatchID: uuid.New(), DebitAccount: pot, CreditAccount: wallet, AssetID: assetID, Amount: 100},
		"asset mismatch":  {BatchID: batchID, DebitAccount: pot, CreditAccount: wallet, AssetID: assetID + 1, Amount: 100},
	}
	for name, j := range cases {
		j.JournalID = uuid.New()
		batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
		if err := batch.Validate(); err == nil {
			t.Errorf("%s should fail validation", name)
		}
	}
}

// ============================================================================
// Test: Posting
// ============================================================================

func TestPosting_StagesWithoutMutating(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := usdt(t)
	deposit(bt, "alice", assetID, 100)
	gen := ledger.NewJournalGenerator(assetID, bt)

	p := gen.Begin("req-1", 7, 0, ledger.JournalTypeTicketPurchase)
	if err := p.Transfer(lottery.Wallet("alice"), lottery.Pot("main"), 60); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if bt.GetWalletBalance("alice", assetID) != 100 {
		t.Error("staged transfer must not touch the tracker")
	}

	batch := p.Batch()
	if batch == nil || len(batch.Journals) != 1 {
		t.Fatalf("expected one journal, got %+v", batch)
	}
	if batch.Sequence != 7 || batch.Journals[0].JournalType != ledger.JournalTypeTicketPurchase {
		t.Errorf("unexpected batch %+v", batch)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := bt.GetPotBalance("main", assetID); got != 60 {
		t.Errorf("pot: got %d, want 60", got)
	}
}

func TestPosting_InsufficientFundsCountsPendingLegs(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := usdt(t)
	deposit(bt, "alice", assetID, 100)
	gen := ledger.NewJournalGenerator(assetID, bt)

	p := gen.Begin("req-2", 1, 0, ledger.JournalTypeTicketPurchase)
	if err := p.Transfer(lottery.Wallet("alice"), lottery.Pot("main"), 70); err != nil {
		t.Fatalf("first leg: %v", err)
	}
	err := p.Transfer(lottery.Wallet("alice"), lottery.Pot("main"), 31)
	if !errors.Is(err, lottery.ErrInsufficientFunds) {
		t.Fatalf("got %v, want InsufficientFunds", err)
	}
}

func TestPosting_ExternalMayGoNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := usdt(t)
	gen := ledger.NewJournalGenerator(assetID, bt)

	dep := gen.Begin("dep-1", 1, 0, ledger.JournalTypeDeposit)
	if err := dep.Deposit("bob", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	batch := dep.Batch()
	if batch.Journals[0].DebitAccount != ledger.NewUserAccountKey("bob", assetID) {
		t.Errorf("deposit should credit bob's wallet, got %s", batch.Journals[0].DebitAccount.AccountPath())
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := bt.GetBalance(ledger.NewExternalAccountKey(assetID)); got != -500 {
		t.Errorf("custody: got %d, want -500", got)
	}

	wd := gen.Begin("wd-1", 2, 0, ledger.JournalTypeWithdrawal)
	if err := wd.Withdraw("bob", 501); !errors.Is(err, lottery.ErrInsufficientFunds) {
		t.Errorf("overdraw: got %v, want InsufficientFunds", err)
	}
	if err := wd.Withdraw("bob", 500); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := wd.Batch().Journals[0].CreditAccount; got != ledger.NewUserAccountKey("bob", assetID) {
		t.Errorf("withdrawal should debit bob's wallet, got %s", got.AccountPath())
	}
}

func TestPosting_RejectsAmountBeyondLedgerRange(t *testing.T) {
	gen := ledger.NewJournalGenerator(usdt(t), ledger.NewBalanceTracker())
	p := gen.Begin("req-3", 1, 0, ledger.JournalTypeDeposit)

	err := p.Transfer(lottery.External(), lottery.Wallet("alice"), math.MaxInt64+1)
	if !errors.Is(err, lottery.ErrInsufficientFunds) {
		t.Errorf("got %v, want InsufficientFunds", err)
	}
}

func TestPosting_ZeroAmountIsNoop(t *testing.T) {
	gen := ledger.NewJournalGenerator(usdt(t), ledger.NewBalanceTracker())
	p := gen.Begin("req-4", 1, 0, ledger.JournalTypeTicketPurchase)

	if err := p.Transfer(lottery.Wallet("alice"), lottery.Pot("main"), 0); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if p.Batch() != nil {
		t.Error("zero transfer should stage nothing")
	}
}

func TestPosting_DeterministicIDs(t *testing.T) {
	assetID := usdt(t)
	stage := func() *ledger.Batch {
		p := ledger.NewJournalGenerator(assetID, ledger.NewBalanceTracker()).Begin("dep-9", 1, 0, ledger.JournalTypeDeposit)
		if err := p.Deposit("carol", 10); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		return p.Batch()
	}
	a, b := stage(), stage()

	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("same event ref should yield the same batch and journal ids")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	deposit(bt, "alice", usdt(t), 1_000_000)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_PotMatches(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := usdt(t)
	v := ledger.NewInvariantValidator(bt)
	bt.SetBalance(ledger.NewPotAccountKey("main", assetID), 20)

	if err := v.ValidatePotMatches("main", assetID, 20); err != nil {
		t.Errorf("matching pot: %v", err)
	}
	if err := v.ValidatePotMatches("main", assetID, 30); err == nil {
		t.Error("expected mismatch error")
	}
}
