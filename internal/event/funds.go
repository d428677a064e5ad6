package event

// FundsPartition orders deposits and withdrawals confirmed by custody.
const FundsPartition = "funds"

// FundsDeposited credits a participant wallet from custody.
type FundsDeposited struct {
	Meta
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

func (e *FundsDeposited) EventType() EventType { return EventTypeFundsDeposited }

func (e *FundsDeposited) Partition() string { return FundsPartition }

// FundsWithdrawn returns wallet funds to custody.
type FundsWithdrawn struct {
	Meta
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

func (e *FundsWithdrawn) EventType() EventType { return EventTypeFundsWithdrawn }

func (e *FundsWithdrawn) Partition() string { return FundsPartition }
