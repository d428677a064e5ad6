package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"TokenLottery/internal/ingestion"
	"TokenLottery/internal/server"

	"github.com/google/uuid"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "lotteryctl"
	app.Usage = "drive a TokenLottery instance over gRPC"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "localhost:9090", EnvVar: "LOTTERYCTL_ADDR", Usage: "gRPC address of the service"},
		cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "per-call deadline"},
		cli.StringFlag{Name: "request-id", Usage: "idempotency key for commands (default: random)"},
	}

	app.Commands = []cli.Command{
		{
			Name:  "configure",
			Usage: "create the lottery record",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "start", Usage: "first slot of the sale"},
				cli.Uint64Flag{Name: "end", Usage: "last slot of the sale"},
				cli.Uint64Flag{Name: "price", Usage: "ticket price in minor units"},
				cli.StringFlag{Name: "authority", Usage: "party allowed to run the draw"},
			},
			Action: command(ingestion.OpConfigure, func(c *cli.Context) map[string]interface{} {
				return map[string]interface{}{
					"sale_start": c.Uint64("start"),
					"sale_end":   c.Uint64("end"),
					"price":      c.Uint64("price"),
					"authority":  c.String("authority"),
				}
			}),
		},
		{
			Name:   "open-sale",
			Usage:  "mint the ticket collection and open the sale",
			Flags:  []cli.Flag{cli.StringFlag{Name: "caller"}},
			Action: command(ingestion.OpOpenSale, callerBody),
		},
		{
			Name:  "buy",
			Usage: "buy one ticket",
			Flags: []cli.Flag{cli.StringFlag{Name: "buyer"}},
			Action: command(ingestion.OpBuyTicket, func(c *cli.Context) map[string]interface{} {
				return map[string]interface{}{"buyer": c.String("buyer")}
			}),
		},
		{
			Name:   "commit",
			Usage:  "commit to a randomness request",
			Flags:  []cli.Flag{cli.StringFlag{Name: "caller"}, cli.StringFlag{Name: "handle"}},
			Action: command(ingestion.OpCommitRandomness, handleBody),
		},
		{
			Name:   "reveal",
			Usage:  "reveal the winner from the committed randomness",
			Flags:  []cli.Flag{cli.StringFlag{Name: "caller"}, cli.StringFlag{Name: "handle"}},
			Action: command(ingestion.OpRevealWinner, handleBody),
		},
		{
			Name:  "claim",
			Usage: "claim the pot with the winning ticket",
			Flags: []cli.Flag{cli.StringFlag{Name: "caller"}, cli.StringFlag{Name: "asset", Usage: "ticket asset id"}},
			Action: command(ingestion.OpClaimPrize, func(c *cli.Context) map[string]interface{} {
				return map[string]interface{}{"caller": c.String("caller"), "asset": c.String("asset")}
			}),
		},
		{
			Name:  "transfer",
			Usage: "move a ticket to another holder",
			Flags: []cli.Flag{cli.StringFlag{Name: "from"}, cli.StringFlag{Name: "to"}, cli.StringFlag{Name: "asset"}},
			Action: command(ingestion.OpTransferTicket, func(c *cli.Context) map[string]interface{} {
				return map[string]interface{}{"from": c.String("from"), "to": c.String("to"), "asset": c.String("asset")}
			}),
		},
		{
			Name:   "deposit",
			Usage:  "credit a participant's wallet",
			Flags:  []cli.Flag{cli.StringFlag{Name: "owner"}, cli.Uint64Flag{Name: "amount"}},
			Action: command(ingestion.OpDeposit, fundsBody),
		},
		{
			Name:   "withdraw",
			Usage:  "debit a participant's wallet",
			Flags:  []cli.Flag{cli.StringFlag{Name: "owner"}, cli.Uint64Flag{Name: "amount"}},
			Action: command(ingestion.OpWithdraw, fundsBody),
		},
		{
			Name:  "lottery",
			Usage: "show the lottery record",
			Action: query(func(ctx context.Context, cl *server.Client, _ *cli.Context) (interface{}, error) {
				return cl.GetLottery(ctx)
			}),
		},
		{
			Name:      "ticket",
			Usage:     "show one ticket",
			ArgsUsage: "<sequence-id>",
			Action: query(func(ctx context.Context, cl *server.Client, c *cli.Context) (interface{}, error) {
				id, err := strconv.ParseUint(c.Args().First(), 10, 64)
				if err != nil {
					return nil, fmt.Errorf("sequence id: %w", err)
				}
				return cl.GetTicket(ctx, id)
			}),
		},
		{
			Name:  "tickets",
			Usage: "list tickets, optionally for one holder",
			Flags: []cli.Flag{cli.StringFlag{Name: "holder"}, cli.IntFlag{Name: "limit"}, cli.Int64Flag{Name: "after", Value: -1}},
			Action: query(func(ctx context.Context, cl *server.Client, c *cli.Context) (interface{}, error) {
				req := &server.ListTicketsRequest{Holder: c.String("holder"), Limit: c.Int("limit")}
				if after := c.Int64("after"); after >= 0 {
					a := uint64(after)
					req.After = &a
				}
				return cl.ListTickets(ctx, req)
			}),
		},
		{
			Name:      "balance",
			Usage:     "show a participant's wallet balance",
			ArgsUsage: "<party>",
			Action: query(func(ctx context.Context, cl *server.Client, c *cli.Context) (interface{}, error) {
				return cl.GetBalance(ctx, c.Args().First())
			}),
		},
		{
			Name:      "journals",
			Usage:     "show a participant's journal entries, newest first",
			ArgsUsage: "<party>",
			Flags:     []cli.Flag{cli.IntFlag{Name: "limit"}, cli.Int64Flag{Name: "before", Value: -1}},
			Action: query(func(ctx context.Context, cl *server.Client, c *cli.Context) (interface{}, error) {
				req := &server.JournalHistoryRequest{Party: c.Args().First(), Limit: c.Int("limit")}
				if before := c.Int64("before"); before >= 0 {
					req.BeforeSequence = &before
				}
				return cl.GetJournalHistory(ctx, req)
			}),
		},
		{
			Name:      "history",
			Usage:     "show ticket custody changes for a holder",
			ArgsUsage: "<holder>",
			Flags:     []cli.Flag{cli.IntFlag{Name: "limit"}},
			Action: query(func(ctx context.Context, cl *server.Client, c *cli.Context) (interface{}, error) {
				return cl.GetTicketHistory(ctx, &server.TicketHistoryRequest{Holder: c.Args().First(), Limit: c.Int("limit")})
			}),
		},
		{
			Name:  "integrity",
			Usage: "verify the event chain and ledger balances",
			Action: query(func(ctx context.Context, cl *server.Client, _ *cli.Context) (interface{}, error) {
				return cl.VerifyIntegrity(ctx)
			}),
		},
		{
			Name:  "eventlog",
			Usage: "show the head of the event log",
			Action: query(func(ctx context.Context, cl *server.Client, _ *cli.Context) (interface{}, error) {
				return cl.GetEventLogInfo(ctx)
			}),
		},
		{
			Name:  "snapshot",
			Usage: "request a snapshot now",
			Action: query(func(ctx context.Context, cl *server.Client, _ *cli.Context) (interface{}, error) {
				return cl.TakeSnapshot(ctx)
			}),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func callerBody(c *cli.Context) map[string]interface{} {
	return map[string]interface{}{"caller": c.String("caller")}
}

func handleBody(c *cli.Context) map[string]interface{} {
	return map[string]interface{}{"caller": c.String("caller"), "handle": c.String("handle")}
}

func fundsBody(c *cli.Context) map[string]interface{} {
	return map[string]interface{}{"owner": c.String("owner"), "amount": c.Uint64("amount")}
}

// command sends op with the body built from the flags, stamping the
// request id. The server stamps the slot.
func command(op string, build func(*cli.Context) map[string]interface{}) func(*cli.Context) error {
	return func(c *cli.Context) error {
		body := build(c)
		body["request_id"] = c.GlobalString("request-id")
		if body["request_id"] == "" {
			body["request_id"] = uuid.NewString()
		}
		return withClient(c, func(ctx context.Context, cl *server.Client) error {
			receipt, code, err := cl.Command(ctx, op, body)
			if err != nil {
				if code != "" {
					return cli.NewExitError(fmt.Sprintf("%s: %v", code, err), 2)
				}
				return err
			}
			return printJSON(receipt)
		})
	}
}

func query(fn func(context.Context, *server.Client, *cli.Context) (interface{}, error)) func(*cli.Context) error {
	return func(c *cli.Context) error {
		return withClient(c, func(ctx context.Context, cl *server.Client) error {
			out, err := fn(ctx, cl, c)
			if err != nil {
				return err
			}
			return printJSON(out)
		})
	}
}

func withClient(c *cli.Context, fn func(context.Context, *server.Client) error) error {
	cl, err := server.Dial(c.GlobalString("addr"))
	if err != nil {
		return err
	}
	defer cl.Close()
	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
	defer cancel()
	return fn(ctx, cl)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
