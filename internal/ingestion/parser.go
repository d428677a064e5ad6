package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"TokenLottery/internal/core"
	"TokenLottery/internal/event"

	"github.com/go-playground/validator/v10"
)

// Operation names shared by the NATS subjects, the gRPC methods and the
// HTTP routes.
const (
	OpConfigure           = "configure"
	OpOpenSale            = "open_sale"
	OpBuyTicket           = "buy_ticket"
	OpCommitRandomness    = "commit_randomness"
	OpRevealWinner        = "reveal_winner"
	OpClaimPrize          = "claim_prize"
	OpTransferTicket      = "transfer_ticket"
	OpDeposit             = "deposit"
	OpWithdraw            = "withdraw"
	OpRandomnessRequested = "randomness_requested"
	OpRandomnessFulfilled = "randomness_fulfilled"
)

// CommandOps are the lifecycle operations published on lottery.cmd.<op>.
var CommandOps = []string{
	OpConfigure,
	OpOpenSale,
	OpBuyTicket,
	OpCommitRandomness,
	OpRevealWinner,
	OpClaimPrize,
	OpTransferTicket,
}

// SlotClock supplies the current slot for commands that do not carry one.
type SlotClock interface {
	Now() (slot uint64, at time.Time)
}

// WallClock derives slots from wall time: one slot per SlotDuration since
// Genesis.
type WallClock struct {
	Genesis      time.Time
	SlotDuration time.Duration
}

func (c WallClock) Now() (uint64, time.Time) {
	now := time.Now().UTC()
	if c.SlotDuration <= 0 || now.Before(c.Genesis) {
		return 0, now
	}
	return uint64(now.Sub(c.Genesis) / c.SlotDuration), now
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type header struct {
	RequestID string `json:"request_id" validate:"required,max=128"`
	LotteryID string `json:"lottery_id" validate:"omitempty,max=64"`
	Sequence  *int64 `json:"sequence" validate:"omitempty,min=0"`
}

// feedClock is the oracle's own round and time. Only the oracle feed may
// carry them; everything else is stamped from the server clock.
type feedClock struct {
	Slot        *uint64 `json:"slot"`
	TimestampUs int64   `json:"timestamp_us" validate:"min=0"`
}

type configureRequest struct {
	header
	SaleStart uint64 `json:"sale_start"`
	SaleEnd   uint64 `json:"sale_end"`
	Price     uint64 `json:"price"`
	Authority string `json:"authority" validate:"required,max=128"`
}

type callerRequest struct {
	header
	Caller string `json:"caller" validate:"required,max=128"`
}

type buyTicketRequest struct {
	header
	Buyer string `json:"buyer" validate:"required,max=128"`
}

type randomnessRequest struct {
	header
	Caller string `json:"caller" validate:"required,max=128"`
	Handle string `json:"handle" validate:"required,max=128"`
}

type claimPrizeRequest struct {
	header
	Caller string `json:"caller" validate:"required,max=128"`
	Asset  string `json:"asset" validate:"required,uuid"`
}

type transferTicketRequest struct {
	header
	From  string `json:"from" validate:"required,max=128"`
	To    string `json:"to" validate:"required,max=128,nefield=From"`
	Asset string `json:"asset" validate:"required,uuid"`
}

type fundsRequest struct {
	header
	Owner  string `json:"owner" validate:"required,max=128"`
	Amount uint64 `json:"amount" validate:"gt=0"`
}

type randomnessRequestedRequest struct {
	header
	feedClock
	Handle         string `json:"handle" validate:"required,max=128"`
	SeedCommitment string `json:"seed_commitment" validate:"omitempty,hexadecimal,len=64"`
}

type randomnessFulfilledRequest struct {
	header
	feedClock
	Handle     string `json:"handle" validate:"required,max=128"`
	Value      string `json:"value" validate:"required,hexadecimal,len=64"`
	ServerSeed string `json:"server_seed" validate:"omitempty,hexadecimal"`
}

// Parser validates wire payloads and converts them into typed events.
// Commands and fund movements are stamped from the clock; a slot in their
// payload is ignored. Stamped slots never go backwards, even if the clock does.
type Parser struct {
	lotteryID string
	clock     SlotClock
	validate  *validator.Validate

	mu       sync.Mutex
	lastSlot uint64
}

func NewParser(lotteryID string, clock SlotClock) *Parser {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Parser{lotteryID: lotteryID, clock: clock, validate: v}
}

// Parse converts the payload of op into an event. Every failure wraps
// core.ErrInvalidEvent.
func (p *Parser) Parse(op string, data []byte) (event.Event, error) {
	switch op {
	case OpConfigure:
		var r configureRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.LotteryConfigured{
			Meta:      p.meta(r.header),
			SaleStart: r.SaleStart,
			SaleEnd:   r.SaleEnd,
			Price:     r.Price,
			Authority: r.Authority,
		}, nil

	case OpOpenSale:
		var r callerRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.SaleOpened{Meta: p.meta(r.header), Caller: r.Caller}, nil

	case OpBuyTicket:
		var r buyTicketRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.TicketPurchased{Meta: p.meta(r.header), Buyer: r.Buyer}, nil

	case OpCommitRandomness:
		var r randomnessRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.RandomnessCommitted{Meta: p.meta(r.header), Caller: r.Caller, Handle: r.Handle}, nil

	case OpRevealWinner:
		var r randomnessRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.WinnerRevealed{Meta: p.meta(r.header), Caller: r.Caller, Handle: r.Handle}, nil

	case OpClaimPrize:
		var r claimPrizeRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.PrizeClaimed{Meta: p.meta(r.header), Caller: r.Caller, Asset: r.Asset}, nil

	case OpTransferTicket:
		var r transferTicketRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.TicketTransferred{Meta: p.meta(r.header), From: r.From, To: r.To, Asset: r.Asset}, nil

	case OpDeposit:
		var r fundsRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.FundsDeposited{Meta: p.meta(r.header), Owner: r.Owner, Amount: r.Amount}, nil

	case OpWithdraw:
		var r fundsRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.FundsWithdrawn{Meta: p.meta(r.header), Owner: r.Owner, Amount: r.Amount}, nil

	case OpRandomnessRequested:
		var r randomnessRequestedRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.RandomnessRequested{
			Meta:           p.feedMeta(r.header, r.feedClock),
			Handle:         r.Handle,
			SeedCommitment: strings.ToLower(r.SeedCommitment),
		}, nil

	case OpRandomnessFulfilled:
		var r randomnessFulfilledRequest
		if err := p.decode(op, data, &r); err != nil {
			return nil, err
		}
		return &event.RandomnessFulfilled{
			Meta:       p.feedMeta(r.header, r.feedClock),
			Handle:     r.Handle,
			Value:      strings.ToLower(r.Value),
			ServerSeed: strings.ToLower(r.ServerSeed),
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", core.ErrInvalidEvent, op)
	}
}

func (p *Parser) decode(op string, data []byte, dst interface{}) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: parse %s: %v", core.ErrInvalidEvent, op, err)
	}
	if err := p.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s: %s", core.ErrInvalidEvent, op, describe(verrs))
		}
		return fmt.Errorf("%w: %s: %v", core.ErrInvalidEvent, op, err)
	}
	return nil
}

func (p *Parser) meta(h header) event.Meta {
	slot, at := p.now()
	return p.stamp(h, slot, at)
}

func (p *Parser) feedMeta(h header, c feedClock) event.Meta {
	slot, at := p.now()
	if c.Slot != nil {
		slot = *c.Slot
	}
	if c.TimestampUs > 0 {
		at = time.UnixMicro(c.TimestampUs).UTC()
	}
	return p.stamp(h, slot, at)
}

func (p *Parser) now() (uint64, time.Time) {
	slot, at := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < p.lastSlot {
		slot = p.lastSlot
	}
	p.lastSlot = slot
	return slot, at
}

func (p *Parser) stamp(h header, slot uint64, at time.Time) event.Meta {
	lotteryID := h.LotteryID
	if lotteryID == "" {
		lotteryID = p.lotteryID
	}
	seq := event.Unsequenced
	if h.Sequence != nil {
		seq = *h.Sequence
	}
	return event.Meta{
		RequestID: h.RequestID,
		Lottery:   lotteryID,
		Sequence:  seq,
		Slot:      slot,
		Timestamp: at,
	}
}

func describe(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", err.Field()))
		case "nefield":
			msgs = append(msgs, fmt.Sprintf("field %s must differ from %s", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", err.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}

// SubjectFor returns the inbound NATS subject for op.
func SubjectFor(op string) string {
	switch op {
	case OpDeposit, OpWithdraw:
		return "lottery.funds." + op
	case OpRandomnessRequested:
		return "lottery.oracle.requested"
	case OpRandomnessFulfilled:
		return "lottery.oracle.fulfilled"
	default:
		return "lottery.cmd." + op
	}
}

// OpForSubject is the inverse of SubjectFor. Tokens after the third are
// ignored, so publishers may append a routing suffix.
func OpForSubject(subject string) (string, bool) {
	tokens := strings.Split(subject, ".")
	if len(tokens) < 3 || tokens[0] != "lottery" {
		return "", false
	}
	switch tokens[1] {
	case "cmd":
		for _, op := range CommandOps {
			if op == tokens[2] {
				return op, true
			}
		}
	case "funds":
		switch tokens[2] {
		case OpDeposit, OpWithdraw:
			return tokens[2], true
		}
	case "oracle":
		switch tokens[2] {
		case "requested":
			return OpRandomnessRequested, true
		case "fulfilled":
			return OpRandomnessFulfilled, true
		}
	}
	return "", false
}
