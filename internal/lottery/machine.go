package lottery

import (
	"fmt"
	"math"
)

// Machine runs the lottery lifecycle against one Record. It is not safe for
// concurrent use; the caller serializes operations. Every operation validates
// and calls out to its collaborators before touching the record, so a failed
// operation leaves the record unchanged.
type Machine struct {
	record  Record
	tickets *TicketLedger
}

func NewMachine(lotteryID string) *Machine {
	return &Machine{
		record:  Record{ID: lotteryID},
		tickets: NewTicketLedger(),
	}
}

// Record returns a copy of the current record.
func (m *Machine) Record() Record {
	return m.record
}

func (m *Machine) Tickets() *TicketLedger {
	return m.tickets
}

// Restore loads a previously captured record and ticket set.
func (m *Machine) Restore(rec Record, tickets []Ticket) error {
	if rec.TotalTickets != uint64(len(tickets)) {
		return fmt.Errorf("restore: record has %d tickets, ledger has %d", rec.TotalTickets, len(tickets))
	}
	if err := m.tickets.Restore(tickets); err != nil {
		return err
	}
	m.record = rec
	return nil
}

// Configure creates the lottery. It may succeed only once per instance.
func (m *Machine) Configure(cfg Config) error {
	if m.record.Configured {
		return ErrAlreadyConfigured
	}
	if cfg.SaleStart > cfg.SaleEnd {
		return ErrInvalidConfig.Withf("start %d after end %d", cfg.SaleStart, cfg.SaleEnd)
	}
	if cfg.Authority == "" {
		return ErrInvalidConfig.Withf("authority is required")
	}
	if cfg.Price > math.MaxInt64 {
		return ErrInvalidConfig.Withf("price %d exceeds ledger range", cfg.Price)
	}

	m.record = Record{
		ID:         m.record.ID,
		Configured: true,
		Authority:  cfg.Authority,
		SaleStart:  cfg.SaleStart,
		SaleEnd:    cfg.SaleEnd,
		Price:      cfg.Price,
	}
	return nil
}

// OpenSale mints the ticket collection asset. Tickets can only be bought once
// the collection exists.
func (m *Machine) OpenSale(caller string, env Env) (AssetID, error) {
	if !m.record.Configured {
		return "", ErrNotConfigured
	}
	if caller != m.record.Authority {
		return "", ErrNotAuthorized
	}
	if m.record.Collection != "" {
		return "", ErrSaleAlreadyOpen
	}

	collection, err := env.Assets.Mint(m.record.ID, AssetSpec{
		Name:         CollectionName,
		Symbol:       TicketSymbol,
		URI:          TicketURI,
		IsCollection: true,
	})
	if err != nil {
		return "", fmt.Errorf("mint collection: %w", err)
	}

	m.record.Collection = collection
	return collection, nil
}

// BuyTicket sells the next ticket to caller at slot. Payment is taken before
// the ticket is minted; if minting fails the operation fails as a whole and
// the caller must discard the staged payment.
//
// Committing randomness closes the sale even inside the window, so the draw
// always covers the final ticket set.
func (m *Machine) BuyTicket(caller string, slot uint64, env Env) (Ticket, error) {
	if !m.record.SaleOpen(slot) {
		return Ticket{}, ErrSaleClosed.Withf("slot %d outside [%d,%d]", slot, m.record.SaleStart, m.record.SaleEnd)
	}
	if m.record.HasRandomness() {
		return Ticket{}, ErrSaleClosed.Withf("randomness %s committed", m.record.RandomnessHandle)
	}
	if caller == "" {
		return Ticket{}, ErrNotAuthorized.Withf("anonymous buyer")
	}

	sequenceID := m.tickets.Next()
	if sequenceID != m.record.TotalTickets {
		panic(fmt.Sprintf("FATAL: ticket ledger at %d, record at %d", sequenceID, m.record.TotalTickets))
	}
	if m.record.Price > 0 && m.record.PotAmount > math.MaxInt64-m.record.Price {
		return Ticket{}, ErrSaleClosed.Withf("pot capacity reached")
	}

	if m.record.Price > 0 {
		if err := env.Funds.Transfer(Wallet(caller), Pot(m.record.ID), m.record.Price); err != nil {
			return Ticket{}, err
		}
	}

	asset, err := env.Assets.Mint(caller, AssetSpec{
		Identity:   sequenceID,
		Name:       TicketName(sequenceID),
		Symbol:     TicketSymbol,
		URI:        TicketURI,
		Collection: m.record.Collection,
	})
	if err != nil {
		return Ticket{}, fmt.Errorf("mint ticket %d: %w", sequenceID, err)
	}

	ticket := Ticket{
		SequenceID:  sequenceID,
		Owner:       caller,
		Asset:       asset,
		PurchasedAt: slot,
	}
	if err := m.tickets.Append(ticket); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}
	m.record.TotalTickets++
	m.record.PotAmount += m.record.Price
	return ticket, nil
}

// CommitRandomness binds the lottery to an oracle request created in the round
// before currentRound. A committed handle can never be replaced.
func (m *Machine) CommitRandomness(caller, handle string, currentRound uint64, env Env) error {
	if !m.record.Configured {
		return ErrNotConfigured
	}
	if caller != m.record.Authority {
		return ErrNotAuthorized
	}
	if m.record.HasRandomness() {
		return ErrRandomnessAlreadyCommitted.Withf("handle %s already bound", m.record.RandomnessHandle)
	}
	if handle == "" {
		return ErrRandomnessStale.Withf("empty handle")
	}
	if err := NewRandomnessGateway(env.Oracle).CheckFresh(handle, currentRound); err != nil {
		return err
	}

	m.record.RandomnessHandle = handle
	return nil
}

// RevealWinner resolves the committed request and selects the winning ticket.
// ErrRandomnessPending means the oracle has not answered yet; the caller may
// retry the same operation later.
func (m *Machine) RevealWinner(caller, handle string, slot uint64, env Env) (uint64, error) {
	if !m.record.Configured {
		return 0, ErrNotConfigured
	}
	if caller != m.record.Authority {
		return 0, ErrNotAuthorized
	}
	if !m.record.HasRandomness() || handle != m.record.RandomnessHandle {
		return 0, ErrWrongRandomnessHandle.Withf("presented %q", handle)
	}
	if slot < m.record.SaleEnd {
		return 0, ErrSaleNotComplete.Withf("slot %d before end %d", slot, m.record.SaleEnd)
	}
	if m.record.WinnerChosen {
		return 0, ErrWinnerAlreadyChosen
	}
	if m.record.TotalTickets == 0 {
		return 0, ErrNoTickets
	}

	value, err := NewRandomnessGateway(env.Oracle).ResolveOrPending(handle, slot)
	if err != nil {
		return 0, err
	}

	winner := WinningTicket(value, m.record.TotalTickets)
	m.record.WinningTicketID = winner
	m.record.WinnerChosen = true
	return winner, nil
}

// ClaimPrize pays the whole pot to the holder of the winning ticket asset and
// returns the amount paid.
func (m *Machine) ClaimPrize(caller string, asset AssetID, env Env) (uint64, error) {
	if !m.record.WinnerChosen {
		return 0, ErrWinnerNotChosen
	}
	if m.record.PrizeClaimed {
		return 0, ErrPrizeAlreadyClaimed
	}

	info, ok := env.Assets.Lookup(asset)
	if !ok || info.IsCollection {
		return 0, ErrUnverifiedTicket.Withf("asset %s", asset)
	}
	if info.Collection != m.record.Collection {
		return 0, ErrWrongCollection.Withf("asset %s belongs to %q", asset, info.Collection)
	}
	if !env.Assets.VerifyMembership(asset, m.record.Collection) {
		return 0, ErrUnverifiedTicket.Withf("asset %s membership not verified", asset)
	}
	if info.Identity != m.record.WinningTicketID || info.Name != TicketName(m.record.WinningTicketID) {
		return 0, ErrWrongTicket.Withf("ticket %d is not the winner %d", info.Identity, m.record.WinningTicketID)
	}
	if env.Assets.BalanceOf(caller, asset) == 0 {
		return 0, ErrWrongTicket.Withf("%s does not hold ticket %d", caller, info.Identity)
	}

	payout := m.record.PotAmount
	if payout > 0 {
		if err := env.Funds.Transfer(Pot(m.record.ID), Wallet(caller), payout); err != nil {
			return 0, fmt.Errorf("pay prize: %w", err)
		}
	}

	m.record.PotAmount = 0
	m.record.PrizeClaimed = true
	return payout, nil
}
