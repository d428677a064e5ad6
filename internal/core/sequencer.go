package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TokenLottery/internal/event"
	"TokenLottery/internal/observability"

	"github.com/rs/zerolog"
)

// ErrSequencerStopped is returned to submissions made after Run has exited.
var ErrSequencerStopped = errors.New("sequencer stopped")

// Outcome is the per-event answer the sequencer hands back to ingress.
type Outcome struct {
	Output    *CoreOutput
	Duplicate bool
	Err       error
}

type submission struct {
	evt        event.Event
	receivedAt time.Time
	reply      chan Outcome
}

type inspection struct {
	fn   func(*LotteryCore)
	done chan struct{}
}

// Sequencer owns the core goroutine. NATS consumers, gRPC handlers and the
// snapshot loop all reach the core through it, one request at a time.
type Sequencer struct {
	core    *LotteryCore
	in      chan submission
	inspect chan inspection
	stopped chan struct{}
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewSequencer(core *LotteryCore, buffer int, metrics *observability.Metrics, logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		core:    core,
		in:      make(chan submission, buffer),
		inspect: make(chan inspection),
		stopped: make(chan struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// Run processes submissions until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sub := <-s.in:
			out, err := s.core.ProcessEvent(sub.evt)
			outcome := Outcome{Output: out, Duplicate: out == nil && err == nil, Err: err}
			s.observe(sub, outcome)
			sub.reply <- outcome

		case req := <-s.inspect:
			req.fn(s.core)
			close(req.done)
		}
	}
}

func (s *Sequencer) observe(sub submission, o Outcome) {
	evtType := sub.evt.EventType().String()
	if s.metrics != nil {
		s.metrics.IngestToApply.WithLabelValues(evtType).Observe(time.Since(sub.receivedAt).Seconds())
		s.metrics.SetChannelMetrics("sequencer", len(s.in), cap(s.in))
	}

	switch {
	case o.Err != nil:
		s.logger.Debug().
			Str("event_type", evtType).
			Str("request_id", sub.evt.IdempotencyKey()).
			Err(o.Err).
			Msg("event rejected")
	case o.Duplicate:
		s.logger.Debug().
			Str("event_type", evtType).
			Str("request_id", sub.evt.IdempotencyKey()).
			Msg("duplicate event skipped")
	default:
		s.logger.Info().
			Str("event_type", evtType).
			Str("request_id", sub.evt.IdempotencyKey()).
			Int64("sequence", o.Output.Envelope.Sequence).
			Msg("event applied")
	}
}

// Submit hands evt to the core and waits for its outcome. Once accepted by
// the core goroutine an event runs to completion even if ctx is cancelled.
func (s *Sequencer) Submit(ctx context.Context, evt event.Event) (Outcome, error) {
	sub := submission{evt: evt, receivedAt: time.Now(), reply: make(chan Outcome, 1)}

	select {
	case s.in <- sub:
	case <-s.stopped:
		return Outcome{}, ErrSequencerStopped
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case o := <-sub.reply:
		return o, nil
	case <-s.stopped:
		// Run may have answered just before exiting.
		select {
		case o := <-sub.reply:
			return o, nil
		default:
			return Outcome{}, ErrSequencerStopped
		}
	}
}

// View runs fn on the core goroutine between events.
func (s *Sequencer) View(ctx context.Context, fn func(*LotteryCore)) error {
	req := inspection{fn: fn, done: make(chan struct{})}
	select {
	case s.inspect <- req:
	case <-s.stopped:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

// Snapshot captures core state between events.
func (s *Sequencer) Snapshot(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	if err := s.View(ctx, func(c *LotteryCore) { snap = c.CreateSnapshotState() }); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}
