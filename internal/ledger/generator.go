package ledger

import (
	"fmt"
	"math"

	"TokenLottery/internal/lottery"

	"github.com/google/uuid"
)

// journalNamespace seeds deterministic batch and journal ids so a replay
// produces byte-identical journals.
var journalNamespace = uuid.MustParse("6f1c2d9e-3b4a-5c6d-8e7f-0a1b2c3d4e5f")

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	assetID        AssetID
	balanceTracker *BalanceTracker // pre-checks only, never mutated here
}

func NewJournalGenerator(assetID AssetID, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		assetID:        assetID,
		balanceTracker: tracker,
	}
}

// AssetID returns the settlement asset all lottery funds move in.
func (jg *JournalGenerator) AssetID() AssetID {
	return jg.assetID
}

// Begin opens a staged posting for one event. Nothing reaches the balance
// tracker until the caller applies the posting's batch.
func (jg *JournalGenerator) Begin(eventRef string, sequence int64, timestampMicros int64, jt JournalType) *Posting {
	return &Posting{
		gen:       jg,
		eventRef:  eventRef,
		sequence:  sequence,
		timestamp: timestampMicros,
		kind:      jt,
		batchID:   uuid.NewSHA1(journalNamespace, []byte(eventRef+":batch")),
		pending:   make(map[AccountKey]int64),
	}
}

// Posting stages the transfers of a single event. It implements
// lottery.ValueTransfer; balance checks see earlier legs of the same posting.
type Posting struct {
	gen       *JournalGenerator
	eventRef  string
	sequence  int64
	timestamp int64
	kind      JournalType
	batchID   uuid.UUID
	journals  []Journal
	pending   map[AccountKey]int64
}

var _ lottery.ValueTransfer = (*Posting)(nil)

func (p *Posting) Transfer(from, to lottery.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if amount > math.MaxInt64 {
		return lottery.ErrInsufficientFunds.Withf("amount %d exceeds ledger range", amount)
	}

	credit := KeyFor(from, p.gen.assetID)
	debit := KeyFor(to, p.gen.assetID)
	if credit == debit {
		return fmt.Errorf("transfer from %s to itself", credit.AccountPath())
	}

	if !credit.MayGoNegative() {
		available := p.gen.balanceTracker.GetBalance(credit) + p.pending[credit]
		if available < int64(amount) {
			return lottery.ErrInsufficientFunds.Withf("%s holds %d, needs %d", credit.AccountPath(), available, amount)
		}
	}

	leg := len(p.journals)
	p.journals = append(p.journals, Journal{
		JournalID:     uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("%s:%d", p.eventRef, leg))),
		BatchID:       p.batchID,
		EventRef:      p.eventRef,
		Sequence:      p.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       p.gen.assetID,
		Amount:        int64(amount),
		JournalType:   p.kind,
		Timestamp:     p.timestamp,
	})
	p.pending[credit] -= int64(amount)
	p.pending[debit] += int64(amount)
	return nil
}

// Deposit moves funds: external:custody → user:wallet
func (p *Posting) Deposit(owner string, amount uint64) error {
	return p.Transfer(lottery.External(), lottery.Wallet(owner), amount)
}

// Withdraw moves funds: user:wallet → external:custody
func (p *Posting) Withdraw(owner string, amount uint64) error {
	return p.Transfer(lottery.Wallet(owner), lottery.External(), amount)
}

// Batch returns the staged journals, or nil when the posting moved nothing.
func (p *Posting) Batch() *Batch {
	if len(p.journals) == 0 {
		return nil
	}
	journals := make([]Journal, len(p.journals))
	copy(journals, p.journals)
	return &Batch{
		BatchID:   p.batchID,
		EventRef:  p.eventRef,
		Sequence:  p.sequence,
		Timestamp: p.timestamp,
		Journals:  journals,
	}
}

// Touched lists the accounts the posting moved funds on, in first-touch order.
func (p *Posting) Touched() []AccountKey {
	seen := make(map[AccountKey]bool, len(p.pending))
	var keys []AccountKey
	for _, j := range p.journals {
		for _, k := range []AccountKey{j.CreditAccount, j.DebitAccount} {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}
