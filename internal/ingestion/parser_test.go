package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"TokenLottery/internal/assets"
	"TokenLottery/internal/core"
	"TokenLottery/internal/event"
	"TokenLottery/internal/ingestion"
	"TokenLottery/internal/lottery"
	"TokenLottery/internal/persistence"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

type fixedClock struct {
	slot uint64
	at   time.Time
}

func (c fixedClock) Now() (uint64, time.Time) { return c.slot, c.at }

var clockAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newParser() *ingestion.Parser {
	return ingestion.NewParser("main", fixedClock{slot: 150, at: clockAt})
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseConfigure(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "cfg-1",
		"sale_start": 100,
		"sale_end":   200,
		"price":      10,
		"authority":  "admin",
	}

	evt, err := newParser().Parse(ingestion.OpConfigure, mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cfg, ok := evt.(*event.LotteryConfigured)
	if !ok {
		t.Fatalf("expected *event.LotteryConfigured, got %T", evt)
	}
	if cfg.SaleStart != 100 || cfg.SaleEnd != 200 || cfg.Price != 10 {
		t.Errorf("window: got %d..%d price %d, want 100..200 price 10", cfg.SaleStart, cfg.SaleEnd, cfg.Price)
	}
	if cfg.Authority != "admin" {
		t.Errorf("authority: got %s, want admin", cfg.Authority)
	}
	if cfg.LotteryID() != "main" {
		t.Errorf("lottery: got %s, want main", cfg.LotteryID())
	}
	if cfg.SourceSequence() != event.Unsequenced {
		t.Errorf("sequence: got %d, want Unsequenced", cfg.SourceSequence())
	}
	slot, at := cfg.Clock()
	if slot != 150 || !at.Equal(clockAt) {
		t.Errorf("clock: got %d %v, want 150 %v", slot, at, clockAt)
	}
}

func TestParseBuyTicket_IgnoresCallerSlot(t *testing.T) {
	p := ingestion.NewParser("main", fixedClock{slot: 10000, at: clockAt})
	payload := map[string]interface{}{
		"request_id":   "r1",
		"buyer":        "mallory",
		"slot":         150,
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := p.Parse(ingestion.OpBuyTicket, mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	buy := evt.(*event.TicketPurchased)
	slot, at := buy.Clock()
	if slot != 10000 {
		t.Errorf("slot: got %d, want server slot 10000", slot)
	}
	if !at.Equal(clockAt) {
		t.Errorf("timestamp: got %v, want %v", at, clockAt)
	}
	if buy.Buyer != "mallory" {
		t.Errorf("buyer: got %s, want mallory", buy.Buyer)
	}
}

func TestParseCommands_IgnoreCallerSlot(t *testing.T) {
	p := ingestion.NewParser("main", fixedClock{slot: 10000, at: clockAt})
	asset := string(assets.TicketAssetID("main", 0))
	cases := map[string]string{
		ingestion.OpConfigure:        `{"request_id":"a","slot":1,"sale_start":1,"sale_end":2,"authority":"admin"}`,
		ingestion.OpOpenSale:         `{"request_id":"b","slot":1,"caller":"admin"}`,
		ingestion.OpCommitRandomness: `{"request_id":"c","slot":1,"caller":"admin","handle":"old"}`,
		ingestion.OpRevealWinner:     `{"request_id":"d","slot":1,"caller":"admin","handle":"old"}`,
		ingestion.OpClaimPrize:       `{"request_id":"e","slot":1,"caller":"bob","asset":"` + asset + `"}`,
		ingestion.OpTransferTicket:   `{"request_id":"f","slot":1,"from":"a","to":"b","asset":"` + asset + `"}`,
		ingestion.OpDeposit:          `{"request_id":"g","slot":1,"owner":"a","amount":5}`,
		ingestion.OpWithdraw:         `{"request_id":"h","slot":1,"owner":"a","amount":5}`,
	}
	for op, payload := range cases {
		evt, err := p.Parse(op, []byte(payload))
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if slot, _ := evt.Clock(); slot != 10000 {
			t.Errorf("%s: got slot %d, want 10000", op, slot)
		}
	}
}

type steppingClock struct {
	slots []uint64
}

func (c *steppingClock) Now() (uint64, time.Time) {
	slot := c.slots[0]
	if len(c.slots) > 1 {
		c.slots = c.slots[1:]
	}
	return slot, clockAt
}

func TestParse_StampedSlotsNeverGoBackwards(t *testing.T) {
	p := ingestion.NewParser("main", &steppingClock{slots: []uint64{200, 190, 205}})
	var got []uint64
	for _, id := range []string{"a", "b", "c"} {
		evt, err := p.Parse(ingestion.OpBuyTicket, []byte(`{"request_id":"`+id+`","buyer":"alice"}`))
		if err != nil {
			t.Fatalf("parse %s: %v", id, err)
		}
		slot, _ := evt.Clock()
		got = append(got, slot)
	}
	want := []uint64{200, 200, 205}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slots: got %v, want %v", got, want)
		}
	}
}

func TestParseOracleFeed_KeepsFeedRound(t *testing.T) {
	p := ingestion.NewParser("main", fixedClock{slot: 10000, at: clockAt})
	evt, err := p.Parse(ingestion.OpRandomnessRequested, mustJSON(t, map[string]interface{}{
		"request_id":      "req-1",
		"handle":          "h1",
		"slot":            9998,
		"timestamp_us":    int64(1700000000000000),
		"seed_commitment": strings.Repeat("ab", 32),
	}))
	if err != nil {
		t.Fatalf("parse requested: %v", err)
	}
	slot, at := evt.Clock()
	if slot != 9998 {
		t.Errorf("slot: got %d, want feed round 9998", slot)
	}
	if at.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", at.UnixMicro())
	}
}

func TestParseFeedEvents(t *testing.T) {
	p := newParser()
	value := strings.Repeat("AB", 32)

	evt, err := p.Parse(ingestion.OpRandomnessFulfilled, mustJSON(t, map[string]interface{}{
		"request_id": "ful-1",
		"sequence":   4,
		"handle":     "h1",
		"value":      value,
	}))
	if err != nil {
		t.Fatalf("parse fulfilled: %v", err)
	}
	ful := evt.(*event.RandomnessFulfilled)
	if ful.Value != strings.ToLower(value) {
		t.Errorf("value not normalised: %s", ful.Value)
	}
	if ful.SourceSequence() != 4 || ful.Partition() != event.OraclePartition {
		t.Errorf("ordering: got %d/%s", ful.SourceSequence(), ful.Partition())
	}

	evt, err = p.Parse(ingestion.OpDeposit, mustJSON(t, map[string]interface{}{
		"request_id": "dep-1",
		"owner":      "bob",
		"amount":     50,
	}))
	if err != nil {
		t.Fatalf("parse deposit: %v", err)
	}
	if dep := evt.(*event.FundsDeposited); dep.Owner != "bob" || dep.Amount != 50 {
		t.Errorf("deposit: got %+v", dep)
	}
}

func TestParse_Rejections(t *testing.T) {
	asset := string(assets.TicketAssetID("main", 0))

	cases := []struct {
		name    string
		op      string
		payload string
		want    string
	}{
		{"missing request id", ingestion.OpOpenSale, `{"caller":"admin"}`, "request_id is required"},
		{"missing buyer", ingestion.OpBuyTicket, `{"request_id":"b"}`, "buyer is required"},
		{"zero deposit", ingestion.OpDeposit, `{"request_id":"d","owner":"a","amount":0}`, "amount is invalid"},
		{"short value", ingestion.OpRandomnessFulfilled, `{"request_id":"f","handle":"h","value":"abcd"}`, "value is invalid"},
		{"non-hex value", ingestion.OpRandomnessFulfilled, `{"request_id":"f","handle":"h","value":"` + strings.Repeat("zz", 32) + `"}`, "value is invalid"},
		{"asset not an id", ingestion.OpClaimPrize, `{"request_id":"c","caller":"bob","asset":"ticket-3"}`, "asset is invalid"},
		{"self transfer", ingestion.OpTransferTicket, `{"request_id":"x","from":"a","to":"a","asset":"` + asset + `"}`, "to must differ from From"},
		{"bad json", ingestion.OpConfigure, `{"request_id":`, "parse configure"},
		{"unknown op", "mint", `{}`, "unknown operation"},
	}

	p := newParser()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Parse(tc.op, []byte(tc.payload))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, core.ErrInvalidEvent) {
				t.Errorf("error should wrap ErrInvalidEvent: %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSubjectRoundTrip(t *testing.T) {
	ops := append([]string{}, ingestion.CommandOps...)
	ops = append(ops, ingestion.OpDeposit, ingestion.OpWithdraw, ingestion.OpRandomnessRequested, ingestion.OpRandomnessFulfilled)

	for _, op := range ops {
		got, ok := ingestion.OpForSubject(ingestion.SubjectFor(op))
		if !ok || got != op {
			t.Errorf("%s: got %q (%v)", op, got, ok)
		}
	}

	if op, ok := ingestion.OpForSubject("lottery.cmd.buy_ticket.main"); !ok || op != ingestion.OpBuyTicket {
		t.Errorf("suffix not ignored: %q", op)
	}
	for _, subject := range []string{"lottery.cmd.mint", "lottery.funds", "perp.cmd.buy_ticket", "lottery.oracle.deposit"} {
		if _, ok := ingestion.OpForSubject(subject); ok {
			t.Errorf("%s should not map to an operation", subject)
		}
	}
}

func TestDispose(t *testing.T) {
	cases := []struct {
		err  error
		want ingestion.Disposition
	}{
		{nil, ingestion.Ack},
		{lottery.ErrSaleClosed, ingestion.Ack},
		{lottery.ErrRandomnessPending, ingestion.NakLater},
		{core.ErrInvalidEvent, ingestion.Term},
		{core.ErrSequencerStopped, ingestion.Nak},
		{context.DeadlineExceeded, ingestion.Nak},
	}
	for _, tc := range cases {
		if got := ingestion.Dispose(tc.err); got != tc.want {
			t.Errorf("Dispose(%v): got %d, want %d", tc.err, got, tc.want)
		}
	}
}

type stubSubmitter struct {
	outcome core.Outcome
	err     error
	got     []event.Event
}

func (s *stubSubmitter) Submit(_ context.Context, evt event.Event) (core.Outcome, error) {
	s.got = append(s.got, evt)
	return s.outcome, s.err
}

func TestCommandService_Outcomes(t *testing.T) {
	ctx := context.Background()
	buy := []byte(`{"request_id":"buy-1","buyer":"alice"}`)

	asset := assets.TicketAssetID("main", 0)
	applied := &stubSubmitter{outcome: core.Outcome{Output: &core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 7, EventType: event.EventTypeTicketPurchased},
		Result: core.Result{
			Record: lottery.Record{TotalTickets: 1, PotAmount: 10},
			Ticket: &lottery.Ticket{SequenceID: 0, Owner: "alice", Asset: asset},
		},
	}}}
	r, err := ingestion.NewCommandService(newParser(), applied, nil).Execute(ctx, "test", ingestion.OpBuyTicket, buy)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Sequence != 7 || r.EventType != "TicketPurchased" || r.Ticket == nil || r.Ticket.Name != "Token Lottery Ticket #0" {
		t.Errorf("receipt: %+v", r)
	}
	if len(applied.got) != 1 || applied.got[0].IdempotencyKey() != "buy-1" {
		t.Errorf("submitted: %+v", applied.got)
	}

	dup := &stubSubmitter{outcome: core.Outcome{Duplicate: true}}
	r, err = ingestion.NewCommandService(newParser(), dup, nil).Execute(ctx, "test", ingestion.OpBuyTicket, buy)
	if err != nil || !r.Duplicate || r.Sequence != -1 {
		t.Errorf("duplicate: %+v %v", r, err)
	}

	rejected := &stubSubmitter{outcome: core.Outcome{Err: lottery.ErrSaleClosed}}
	_, err = ingestion.NewCommandService(newParser(), rejected, nil).Execute(ctx, "test", ingestion.OpBuyTicket, buy)
	if !errors.Is(err, lottery.ErrSaleClosed) {
		t.Errorf("rejection: got %v, want SaleClosed", err)
	}

	stopped := &stubSubmitter{err: core.ErrSequencerStopped}
	_, err = ingestion.NewCommandService(newParser(), stopped, nil).Execute(ctx, "test", ingestion.OpBuyTicket, buy)
	if !errors.Is(err, core.ErrSequencerStopped) {
		t.Errorf("stopped: got %v", err)
	}

	invalid := &stubSubmitter{}
	if _, err := ingestion.NewCommandService(newParser(), invalid, nil).Execute(ctx, "test", ingestion.OpBuyTicket, []byte(`{}`)); err == nil {
		t.Error("expected parse failure")
	}
	if len(invalid.got) != 0 {
		t.Error("malformed command must not reach the sequencer")
	}
}

func TestOutboundPublisher_DropsWhenFull(t *testing.T) {
	var subjects []string
	publish := func(_ context.Context, subject string, _ []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
		subjects = append(subjects, subject)
		return &jetstream.PubAck{}, nil
	}

	pub := ingestion.NewOutboundPublisher(publish, 2, nil, zerolog.Nop())
	rows := []persistence.EventRow{
		{LotteryID: "main", Sequence: 0, EventType: "LotteryConfigured", Payload: []byte(`{}`)},
		{LotteryID: "main", Sequence: 1, EventType: "SaleOpened", Payload: []byte(`{}`)},
		{LotteryID: "main", Sequence: 2, EventType: "TicketPurchased", Payload: []byte(`{}`)},
	}
	pub.Enqueue(rows)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := pub.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}

	if len(subjects) != 2 {
		t.Fatalf("published %d, want 2 (third dropped)", len(subjects))
	}
	if subjects[0] != "lottery.events.LotteryConfigured" || subjects[1] != "lottery.events.SaleOpened" {
		t.Errorf("subjects: %v", subjects)
	}
}

func TestToPublishable(t *testing.T) {
	row := persistence.EventRow{
		LotteryID: "main", Sequence: 3, EventType: "TicketPurchased", IdempotencyKey: "buy-1",
		Slot: 150, Payload: []byte(`{"buyer":"alice"}`), StateHash: []byte{0xab}, PrevHash: []byte{0x01},
	}
	evt := ingestion.ToPublishable(row)
	if evt.StateHash != "ab" || evt.PrevHash != "01" || evt.Slot != 150 {
		t.Errorf("got %+v", evt)
	}
	out, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"payload":{"buyer":"alice"}`) {
		t.Errorf("payload should be embedded raw: %s", out)
	}
}
