package query

import "time"

// LotteryView is the projected lottery record.
type LotteryView struct {
	LotteryID        string    `json:"lottery_id"`
	Configured       bool      `json:"configured"`
	Authority        string    `json:"authority"`
	SaleStart        uint64    `json:"sale_start"`
	SaleEnd          uint64    `json:"sale_end"`
	Price            uint64    `json:"price"`
	TotalTickets     uint64    `json:"total_tickets"`
	PotAmount        uint64    `json:"pot_amount"`
	RandomnessHandle string    `json:"randomness_handle,omitempty"`
	WinnerChosen     bool      `json:"winner_chosen"`
	WinningTicketID  *uint64   `json:"winning_ticket_id,omitempty"` // nil until revealed
	Collection       string    `json:"collection,omitempty"`
	PrizeClaimed     bool      `json:"prize_claimed"`
	UpdatedAt        time.Time `json:"updated_at"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// TicketView is one sold ticket and its current holder.
type TicketView struct {
	LotteryID    string `json:"lottery_id"`
	SequenceID   uint64 `json:"sequence_id"`
	Name         string `json:"name"`
	AssetID      string `json:"asset_id"`
	Buyer        string `json:"buyer"`
	Holder       string `json:"holder"`
	PurchasedAt  uint64 `json:"purchased_at"`
	Winning      bool   `json:"winning"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// BalanceView is a participant's wallet balance in the settlement asset.
type BalanceView struct {
	LotteryID    string `json:"lottery_id"`
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	AccountPath  string `json:"account_path"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Imbalance is the sum of every projected balance; double entry keeps it at zero.
	Imbalance int64 `json:"imbalance"`
	// PotMismatch is projected pot balance minus the record's pot_amount.
	PotMismatch int64 `json:"pot_mismatch"`
}
