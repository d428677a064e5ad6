package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TokenLottery/internal/ingestion"
	"TokenLottery/internal/observability"
	"TokenLottery/internal/oracle"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "beacon"
	app.Usage = "provably-fair randomness beacon for TokenLottery"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "seeds", Value: "beacon.db", EnvVar: "BEACON_SEEDS", Usage: "bbolt file holding server seeds"},
		cli.StringFlag{Name: "nats", Value: "nats://localhost:4222", EnvVar: "LOTTERY_NATS_URL", Usage: "NATS server URL"},
		cli.StringFlag{Name: "lottery-id", Value: "main", EnvVar: "LOTTERY_ID"},
		cli.StringFlag{Name: "genesis", EnvVar: "LOTTERY_SLOT_GENESIS", Usage: "RFC3339 time of slot 0"},
		cli.DurationFlag{Name: "slot-duration", Value: 400 * time.Millisecond, EnvVar: "LOTTERY_SLOT_DURATION"},
		cli.StringFlag{Name: "log-level", Value: "info", EnvVar: "LOTTERY_LOG_LEVEL"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "issue requests on a schedule and fulfil them once due",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "request-every", Usage: "issue a request every N rounds (0: never)"},
				cli.Uint64Flag{Name: "reveal-delay", Value: 2, Usage: "rounds between a request and its fulfilment"},
				cli.StringFlag{Name: "handle-prefix", Value: "draw"},
			},
			Action: run,
		},
		{
			Name:      "request",
			Usage:     "issue one request at the current round",
			ArgsUsage: "<handle>",
			Action:    request,
		},
		{
			Name:      "reveal",
			Usage:     "publish the fulfilment of a request, again if needed",
			ArgsUsage: "<handle>",
			Action:    reveal,
		},
		{
			Name:   "pending",
			Usage:  "list requests whose seed has not been revealed",
			Action: pending,
		},
		{
			Name:  "verify",
			Usage: "check a revealed seed against its commitment and value",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "seed"},
				cli.StringFlag{Name: "commitment"},
				cli.StringFlag{Name: "handle"},
				cli.Uint64Flag{Name: "round"},
				cli.StringFlag{Name: "value"},
			},
			Action: verify,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env bundles what every NATS-facing command needs.
type env struct {
	beacon    *oracle.Beacon
	store     *oracle.SeedStore
	js        jetstream.JetStream
	clock     ingestion.WallClock
	lotteryID string
	logger    zerolog.Logger
	close     func()
}

func newLogger(c *cli.Context) zerolog.Logger {
	return observability.NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		"beacon", observability.ParseLogLevel(c.GlobalString("log-level")))
}

func clockFrom(c *cli.Context) (ingestion.WallClock, error) {
	clock := ingestion.WallClock{SlotDuration: c.GlobalDuration("slot-duration")}
	if clock.SlotDuration <= 0 {
		return clock, fmt.Errorf("slot duration must be positive")
	}
	if v := c.GlobalString("genesis"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return clock, fmt.Errorf("genesis: %w", err)
		}
		clock.Genesis = t
	}
	return clock, nil
}

func open(c *cli.Context) (*env, error) {
	logger := newLogger(c)
	clock, err := clockFrom(c)
	if err != nil {
		return nil, err
	}
	store, err := oracle.OpenSeedStore(c.GlobalString("seeds"))
	if err != nil {
		return nil, err
	}
	nc, js, err := ingestion.ConnectNATS(c.GlobalString("nats"), "tokenlottery-beacon", logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &env{
		beacon:    oracle.NewBeacon(store, nil),
		store:     store,
		js:        js,
		clock:     clock,
		lotteryID: c.GlobalString("lottery-id"),
		logger:    logger,
		close: func() {
			_ = nc.Drain()
			store.Close()
		},
	}, nil
}

func (e *env) publish(ctx context.Context, op, requestID string, body map[string]interface{}) error {
	body["request_id"] = requestID
	body["lottery_id"] = e.lotteryID
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if _, err := e.js.Publish(ctx, ingestion.SubjectFor(op), data, jetstream.WithMsgID(requestID)); err != nil {
		return fmt.Errorf("publish %s: %w", op, err)
	}
	return nil
}

func (e *env) request(ctx context.Context, handle string, round uint64) error {
	rec, err := e.beacon.Request(handle, round)
	if err != nil {
		return err
	}
	err = e.publish(ctx, ingestion.OpRandomnessRequested, "beacon-request-"+handle, map[string]interface{}{
		"slot":            round,
		"handle":          handle,
		"seed_commitment": rec.Commitment,
	})
	if err != nil {
		return err
	}
	e.logger.Info().Str("handle", handle).Uint64("round", round).Str("commitment", rec.Commitment).Msg("randomness requested")
	return nil
}

func (e *env) fulfil(ctx context.Context, handle string, round uint64) error {
	value, seed, err := e.beacon.Fulfil(handle)
	if err != nil {
		return err
	}
	return e.publishFulfilment(ctx, handle, round, value, seed)
}

func (e *env) publishFulfilment(ctx context.Context, handle string, round uint64, value [32]byte, seed []byte) error {
	err := e.publish(ctx, ingestion.OpRandomnessFulfilled, "beacon-fulfil-"+handle, map[string]interface{}{
		"slot":        round,
		"handle":      handle,
		"value":       hex.EncodeToString(value[:]),
		"server_seed": hex.EncodeToString(seed),
	})
	if err != nil {
		return err
	}
	e.logger.Info().Str("handle", handle).Uint64("round", round).Msg("randomness fulfilled")
	return nil
}

func run(c *cli.Context) error {
	e, err := open(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	every := c.Uint64("request-every")
	delay := c.Uint64("reveal-delay")
	prefix := c.String("handle-prefix")

	ticker := time.NewTicker(e.clock.SlotDuration)
	defer ticker.Stop()

	last := uint64(math.MaxUint64)
	e.logger.Info().Uint64("request_every", every).Uint64("reveal_delay", delay).Msg("beacon running")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("beacon stopped")
			return nil
		case <-ticker.C:
		}

		round, _ := e.clock.Now()
		if round == last {
			continue
		}
		last = round

		if every > 0 && round%every == 0 {
			if err := e.request(ctx, fmt.Sprintf("%s-%d", prefix, round), round); err != nil {
				e.logger.Error().Err(err).Uint64("round", round).Msg("request failed")
			}
		}
		if round+1 <= delay {
			continue
		}
		due, err := e.beacon.Due(round - delay + 1)
		if err != nil {
			e.logger.Error().Err(err).Msg("list due requests")
			continue
		}
		for _, rec := range due {
			if err := e.fulfil(ctx, rec.Handle, round); err != nil {
				e.logger.Error().Err(err).Str("handle", rec.Handle).Msg("fulfil failed")
			}
		}
	}
}

func request(c *cli.Context) error {
	handle := c.Args().First()
	if handle == "" {
		return cli.NewExitError("handle is required", 1)
	}
	e, err := open(c)
	if err != nil {
		return err
	}
	defer e.close()
	round, _ := e.clock.Now()
	return e.request(context.Background(), handle, round)
}

// reveal republishes a fulfilment from the stored seed, so a fulfilment lost
// in transit can be sent again.
func reveal(c *cli.Context) error {
	handle := c.Args().First()
	if handle == "" {
		return cli.NewExitError("handle is required", 1)
	}
	e, err := open(c)
	if err != nil {
		return err
	}
	defer e.close()

	rec, err := e.store.Get(handle)
	if err != nil {
		return err
	}
	round, _ := e.clock.Now()
	if !rec.Revealed {
		return e.fulfil(context.Background(), handle, round)
	}
	seed, err := hex.DecodeString(rec.Seed)
	if err != nil {
		return err
	}
	return e.publishFulfilment(context.Background(), handle, round, oracle.Derive(seed, handle, rec.Round), seed)
}

func pending(c *cli.Context) error {
	store, err := oracle.OpenSeedStore(c.GlobalString("seeds"))
	if err != nil {
		return err
	}
	defer store.Close()
	recs, err := store.Unrevealed(math.MaxUint64)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Printf("%-24s round=%-10d commitment=%s\n", rec.Handle, rec.Round, rec.Commitment)
	}
	return nil
}

func verify(c *cli.Context) error {
	seed, err := hex.DecodeString(c.String("seed"))
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	raw, err := hex.DecodeString(c.String("value"))
	if err != nil || len(raw) != 32 {
		return cli.NewExitError("value must be 32 hex-encoded bytes", 1)
	}
	var value [32]byte
	copy(value[:], raw)
	if err := oracle.Verify(seed, c.String("commitment"), c.String("handle"), c.Uint64("round"), value); err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	fmt.Println("ok")
	return nil
}
