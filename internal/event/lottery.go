package event

// LotteryConfigured creates the lottery record.
type LotteryConfigured struct {
	Meta
	SaleStart uint64 `json:"sale_start"`
	SaleEnd   uint64 `json:"sale_end"`
	Price     uint64 `json:"price"`
	Authority string `json:"authority"`
}

func (e *LotteryConfigured) EventType() EventType { return EventTypeLotteryConfigured }

// SaleOpened mints the ticket collection and opens purchases.
type SaleOpened struct {
	Meta
	Caller string `json:"caller"`
}

func (e *SaleOpened) EventType() EventType { return EventTypeSaleOpened }

// TicketPurchased sells the next ticket to Buyer at Meta.Slot.
type TicketPurchased struct {
	Meta
	Buyer string `json:"buyer"`
}

func (e *TicketPurchased) EventType() EventType { return EventTypeTicketPurchased }

// RandomnessCommitted binds an oracle request; Meta.Slot is the current round.
type RandomnessCommitted struct {
	Meta
	Caller string `json:"caller"`
	Handle string `json:"handle"`
}

func (e *RandomnessCommitted) EventType() EventType { return EventTypeRandomnessCommitted }

// WinnerRevealed resolves the committed request at Meta.Slot.
type WinnerRevealed struct {
	Meta
	Caller string `json:"caller"`
	Handle string `json:"handle"`
}

func (e *WinnerRevealed) EventType() EventType { return EventTypeWinnerRevealed }

// PrizeClaimed pays the pot to the holder of Asset.
type PrizeClaimed struct {
	Meta
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

func (e *PrizeClaimed) EventType() EventType { return EventTypePrizeClaimed }

// TicketTransferred moves a ticket asset between holders.
type TicketTransferred struct {
	Meta
	From  string `json:"from"`
	To    string `json:"to"`
	Asset string `json:"asset"`
}

func (e *TicketTransferred) EventType() EventType { return EventTypeTicketTransferred }
