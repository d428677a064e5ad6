package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"TokenLottery/internal/assets"
	"TokenLottery/internal/event"
	"TokenLottery/internal/ledger"
	"TokenLottery/internal/lottery"
	"TokenLottery/internal/observability"
	"TokenLottery/internal/oracle"
)

// ErrInvalidEvent marks events the core refuses before any lifecycle rule
// runs: wrong lottery, malformed feed payloads, zero fund movements.
var ErrInvalidEvent = errors.New("invalid event")

// GlobalPartition orders sequenced events that name no feed partition.
const GlobalPartition = "global"

// Config fixes the lottery instance a core serves.
type Config struct {
	LotteryID           string
	SettlementAsset     string
	IdempotencyCapacity int
	// AllowUncommittedRandomness accepts oracle requests without a seed
	// commitment. Their values are taken on trust from the feed.
	AllowUncommittedRandomness bool
}

// Clock domains. Commands and fund movements are stamped by the server
// clock; the oracle feed carries its own rounds.
const (
	serverClock = "server"
	oracleClock = event.OraclePartition
)

// LotteryCore is the single-threaded event processor for one lottery
type LotteryCore struct {
	lotteryID         string
	assetID           ledger.AssetID
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	registry          *assets.Registry
	oracleBook        *oracle.Book
	machine           *lottery.Machine
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	replaying         bool
	slotFloor         map[string]uint64 // highest accepted slot per clock domain

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything an accepted event produced.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	Result     Result
	StateDelta []byte
}

// AssetMove records a ticket changing hands.
type AssetMove struct {
	From  string
	To    string
	Asset lottery.AssetID
}

// Result summarises the effect of an accepted event for callers and
// projections.
type Result struct {
	Record     lottery.Record
	Ticket     *lottery.Ticket
	Collection lottery.AssetID
	Winner     *uint64
	Payout     uint64
	Minted     []lottery.Asset
	Moved      *AssetMove
	Balances   map[string]int64 // account path -> balance after the event
}

func NewLotteryCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*LotteryCore, error) {
	if cfg.LotteryID == "" {
		return nil, fmt.Errorf("lottery id is required")
	}
	assetID, ok := ledger.GetAssetID(cfg.SettlementAsset)
	if !ok {
		return nil, fmt.Errorf("unknown settlement asset %q", cfg.SettlementAsset)
	}
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	balanceTracker := ledger.NewBalanceTracker()
	var bookOpts []oracle.BookOption
	if cfg.AllowUncommittedRandomness {
		bookOpts = append(bookOpts, oracle.WithUncommittedRequests())
	}

	return &LotteryCore{
		lotteryID:         cfg.LotteryID,
		assetID:           assetID,
		sequence:          0,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(assetID, balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		registry:          assets.NewRegistry(cfg.LotteryID),
		oracleBook:        oracle.NewBook(bookOpts...),
		machine:           lottery.NewMachine(cfg.LotteryID),
		idempotency:       NewIdempotencyChecker(capacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		slotFloor:         make(map[string]uint64),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline. A duplicate returns
// (nil, nil). A rejected event leaves every piece of state untouched and is
// not marked processed, so the same idempotency key may be retried.
func (c *LotteryCore) ProcessEvent(evt event.Event) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if idempotencyKey == "" {
		return nil, c.reject(eventType, "invalid", fmt.Errorf("%w: missing idempotency key", ErrInvalidEvent))
	}
	if evt.LotteryID() != c.lotteryID {
		return nil, c.reject(eventType, "invalid", fmt.Errorf("%w: lottery %q, core serves %q", ErrInvalidEvent, evt.LotteryID(), c.lotteryID))
	}

	// Step 1: Idempotency check (two-tier, LRU only while replaying)
	var isDuplicate bool
	if c.replaying {
		isDuplicate = c.idempotency.Seen(eventType, idempotencyKey)
	} else {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: Sequence validation for sequenced feeds
	// The log holds accepted events only; sequences consumed by rejected
	// events show up as gaps on replay, so replay just advances.
	sourceSequence := evt.SourceSequence()
	if sourceSequence >= 0 && c.replaying {
		c.sequenceValidator.Advance(partitionOf(evt), sourceSequence)
	} else if sourceSequence >= 0 {
		if err := c.sequenceValidator.ValidateSequence(partitionOf(evt), sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return nil, c.reject(eventType, "sequence", fmt.Errorf("sequence validation failed: %w", err))
		}
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	// Step 3: Slots never move backwards within a clock domain
	slot, ts := evt.Clock()
	domain := clockDomainOf(evt)
	if floor := c.slotFloor[domain]; slot < floor {
		return nil, c.reject(eventType, "clock", fmt.Errorf("%w: slot %d behind %s clock at %d", ErrInvalidEvent, slot, domain, floor))
	}

	// Step 4: Dispatch against staged collaborators
	posting := c.journalGen.Begin(idempotencyKey, c.sequence, ts.UnixMicro(), journalTypeFor(evt))
	tx := c.registry.Begin()
	env := lottery.Env{Funds: posting, Assets: tx, Oracle: c.oracleBook}

	result, err := c.dispatchEvent(evt, slot, env, posting, tx)
	if err != nil {
		reason := string(lottery.CodeOf(err))
		if reason == "" {
			reason = "invalid"
		}
		if c.metrics != nil && errors.Is(err, lottery.ErrRandomnessPending) {
			c.metrics.RevealPending.Inc()
		}
		return nil, c.reject(eventType, reason, err)
	}

	// Step 5: Validate and apply the staged batch, publish staged assets
	batch := posting.Batch()
	if !batch.Empty() {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed after validation: %v", err))
		}
		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}
	tx.Commit()
	c.slotFloor[domain] = slot

	// Step 6: Post-checks
	if err := c.postCheckInvariants(batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s %s: %v", eventType, idempotencyKey, err))
	}

	result.Record = c.machine.Record()
	result.Minted = tx.Minted()
	result.Balances = make(map[string]int64)
	for _, key := range posting.Touched() {
		result.Balances[key.AccountPath()] = c.balanceTracker.GetBalance(key)
	}

	// Step 7: Digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(result, posting.Touched())
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode accepted event %s: %v", idempotencyKey, err))
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			LotteryID:      c.lotteryID,
			Timestamp:      ts,
			Slot:           slot,
			SourceSequence: sourceSequence,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:      batch,
		Result:     result,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Step 8: Emit. Persist blocks (backpressure), projections drop on full.
	// Replayed events are already in the log.
	if !c.replaying {
		c.emit(output)
	}

	// Step 9: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.PotAmount.Set(float64(result.Record.PotAmount))
	}

	return &output, nil
}

func (c *LotteryCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("lottery").Inc()
			}
		}
	}
}

func (c *LotteryCore) reject(eventType, reason string, err error) error {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
	return err
}

func clockDomainOf(evt event.Event) string {
	if evt.Partition() == event.OraclePartition {
		return oracleClock
	}
	return serverClock
}

func partitionOf(evt event.Event) string {
	if p := evt.Partition(); p != "" {
		return p
	}
	return GlobalPartition
}

func journalTypeFor(evt event.Event) ledger.JournalType {
	switch evt.(type) {
	case *event.FundsDeposited:
		return ledger.JournalTypeDeposit
	case *event.FundsWithdrawn:
		return ledger.JournalTypeWithdrawal
	case *event.TicketPurchased:
		return ledger.JournalTypeTicketPurchase
	case *event.PrizeClaimed:
		return ledger.JournalTypePrizePayout
	default:
		return ledger.JournalTypeAdjustment
	}
}

func (c *LotteryCore) dispatchEvent(evt event.Event, slot uint64, env lottery.Env, posting *ledger.Posting, tx *assets.Tx) (Result, error) {
	switch e := evt.(type) {
	case *event.LotteryConfigured:
		return Result{}, c.machine.Configure(lottery.Config{
			SaleStart: e.SaleStart,
			SaleEnd:   e.SaleEnd,
			Price:     e.Price,
			Authority: e.Authority,
		})

	case *event.SaleOpened:
		collection, err := c.machine.OpenSale(e.Caller, env)
		return Result{Collection: collection}, err

	case *event.TicketPurchased:
		ticket, err := c.machine.BuyTicket(e.Buyer, slot, env)
		if err != nil {
			return Result{}, err
		}
		if c.metrics != nil {
			c.metrics.TicketsSold.Inc()
		}
		return Result{Ticket: &ticket}, nil

	case *event.RandomnessCommitted:
		return Result{}, c.machine.CommitRandomness(e.Caller, e.Handle, slot, env)

	case *event.WinnerRevealed:
		winner, err := c.machine.RevealWinner(e.Caller, e.Handle, slot, env)
		if err != nil {
			return Result{}, err
		}
		if c.metrics != nil {
			c.metrics.WinnersRevealed.Inc()
		}
		return Result{Winner: &winner}, nil

	case *event.PrizeClaimed:
		paid, err := c.machine.ClaimPrize(e.Caller, lottery.AssetID(e.Asset), env)
		if err != nil {
			return Result{}, err
		}
		if c.metrics != nil {
			c.metrics.PrizesPaid.Add(float64(paid))
		}
		return Result{Payout: paid}, nil

	case *event.TicketTransferred:
		return c.handleTicketTransferred(e, tx)

	case *event.FundsDeposited:
		if e.Amount == 0 {
			return Result{}, fmt.Errorf("%w: zero deposit", ErrInvalidEvent)
		}
		return Result{}, posting.Deposit(e.Owner, e.Amount)

	case *event.FundsWithdrawn:
		if e.Amount == 0 {
			return Result{}, fmt.Errorf("%w: zero withdrawal", ErrInvalidEvent)
		}
		return Result{}, posting.Withdraw(e.Owner, e.Amount)

	case *event.RandomnessRequested:
		if err := c.oracleBook.Request(e.Handle, slot, e.SeedCommitment); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		c.recordFeed("requested")
		return Result{}, nil

	case *event.RandomnessFulfilled:
		return Result{}, c.handleRandomnessFulfilled(e, slot)

	default:
		return Result{}, fmt.Errorf("%w: unknown event type %T", ErrInvalidEvent, evt)
	}
}

func (c *LotteryCore) handleTicketTransferred(e *event.TicketTransferred, tx *assets.Tx) (Result, error) {
	id := lottery.AssetID(e.Asset)
	rec := c.machine.Record()
	if !tx.VerifyMembership(id, rec.Collection) || rec.Collection == "" {
		return Result{}, lottery.ErrWrongTicket.Withf("%s is not a ticket of %s", id, c.lotteryID)
	}
	if err := tx.Transfer(e.From, e.To, id); err != nil {
		return Result{}, lottery.ErrWrongTicket.Withf("%v", err)
	}
	return Result{Moved: &AssetMove{From: e.From, To: e.To, Asset: id}}, nil
}

func (c *LotteryCore) handleRandomnessFulfilled(e *event.RandomnessFulfilled, slot uint64) error {
	raw, err := hex.DecodeString(e.Value)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("%w: value for %s must be 32 hex-encoded bytes", ErrInvalidEvent, e.Handle)
	}
	var value [32]byte
	copy(value[:], raw)

	var seed []byte
	if e.ServerSeed != "" {
		if seed, err = hex.DecodeString(e.ServerSeed); err != nil {
			return fmt.Errorf("%w: server seed for %s: %v", ErrInvalidEvent, e.Handle, err)
		}
	}
	if err := c.oracleBook.Fulfil(e.Handle, value, seed, slot); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	c.recordFeed("fulfilled")
	return nil
}

func (c *LotteryCore) recordFeed(kind string) {
	if c.metrics != nil {
		c.metrics.OracleFeedEvents.WithLabelValues(kind).Inc()
	}
}

// computeStateDigest creates canonical bytes for state hash: the lottery
// record, then every touched balance sorted by path, then minted and moved
// assets in order.
func (c *LotteryCore) computeStateDigest(result Result, touched []ledger.AccountKey) []byte {
	digest := make([]byte, 0, 256)
	digest = result.Record.Digest(digest)

	accounts := make([]ledger.AccountKey, len(touched))
	copy(accounts, touched)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	for _, a := range result.Minted {
		digest = append(digest, byte(len(a.ID)))
		digest = append(digest, []byte(a.ID)...)
	}
	if m := result.Moved; m != nil {
		for _, s := range []string{string(m.Asset), m.From, m.To} {
			digest = append(digest, byte(len(s)))
			digest = append(digest, []byte(s)...)
		}
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *LotteryCore) postCheckInvariants(batch *ledger.Batch) error {
	rec := c.machine.Record()
	if err := rec.CheckInvariants(); err != nil {
		return err
	}
	if got := c.machine.Tickets().Len(); got != rec.TotalTickets {
		return fmt.Errorf("ticket ledger holds %d, record says %d", got, rec.TotalTickets)
	}
	if err := c.validator.ValidatePotMatches(c.lotteryID, c.assetID, rec.PotAmount); err != nil {
		return err
	}
	if err := c.validator.ValidateTouchedNonNegative(batch); err != nil {
		return err
	}
	return c.validator.ValidateGlobalBalance()
}

// --- Replay ---

// SetReplayMode toggles replay. While replaying the core emits nothing and
// deduplicates against the LRU only.
func (c *LotteryCore) SetReplayMode(on bool) {
	c.replaying = on
}

// ReplayEvent re-applies a logged event and checks the recomputed hash
// against the one recorded when it was first accepted.
func (c *LotteryCore) ReplayEvent(evt event.Event, want *event.EventEnvelope) error {
	if want.Sequence != c.sequence {
		return fmt.Errorf("replay: log sequence %d, core expects %d", want.Sequence, c.sequence)
	}
	out, err := c.ProcessEvent(evt)
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", want.Sequence, err)
	}
	if out == nil {
		return fmt.Errorf("replay sequence %d: logged event deduplicated", want.Sequence)
	}
	if out.Envelope.StateHash != want.StateHash {
		return fmt.Errorf("replay sequence %d: state hash %x, log has %x",
			want.Sequence, out.Envelope.StateHash, want.StateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// --- Read accessors (core goroutine only) ---

// GetSequence returns the next global sequence number to assign.
func (c *LotteryCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *LotteryCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

func (c *LotteryCore) LotteryID() string {
	return c.lotteryID
}

func (c *LotteryCore) Record() lottery.Record {
	return c.machine.Record()
}

func (c *LotteryCore) Tickets() []lottery.Ticket {
	return c.machine.Tickets().All()
}

// Holder returns the current holder of a ticket asset.
func (c *LotteryCore) Holder(id lottery.AssetID) (string, bool) {
	return c.registry.HolderOf(id)
}

func (c *LotteryCore) Balance(acct lottery.Account) int64 {
	return c.balanceTracker.GetBalance(ledger.KeyFor(acct, c.assetID))
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *LotteryCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}
