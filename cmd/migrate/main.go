package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"TokenLottery/internal/config"
	"TokenLottery/internal/core"
	"TokenLottery/internal/observability"
	"TokenLottery/internal/persistence"
	"TokenLottery/internal/projection"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|status|rebuild-projections>")
	fmt.Println("  up                  - apply all pending migrations")
	fmt.Println("  down                - roll back the last migration")
	fmt.Println("  status              - list migrations and whether they are applied")
	fmt.Println("  rebuild-projections - rebuild projection tables from the event log")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  LOTTERY_POSTGRES_DSN   - Postgres connection string")
	fmt.Println("  LOTTERY_MIGRATIONS_DIR - path to migrations directory (default: migrations)")
	fmt.Println("  LOTTERY_ID             - lottery instance for rebuild-projections (default: main)")
	fmt.Println("  LOTTERY_CONFIG_FILE    - optional TOML overlay")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %-7s %s\n", s.Version, state, s.Filename)
		}

	case "rebuild-projections":
		coreCfg := core.Config{
			LotteryID:                  cfg.LotteryID,
			SettlementAsset:            cfg.SettlementAsset,
			AllowUncommittedRandomness: cfg.AllowUncommittedRandomness,
		}
		worker := projection.NewProjectionWorker(db, nil, nil, nil, logger)
		n, err := projection.RebuildProjections(ctx, coreCfg, persistence.NewSnapshotManager(db, cfg.LotteryID), worker)
		if err != nil {
			logger.Fatal().Err(err).Int("events", n).Msg("rebuild projections")
		}
		logger.Info().Str("lottery_id", cfg.LotteryID).Int("events", n).Msg("projections rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}
