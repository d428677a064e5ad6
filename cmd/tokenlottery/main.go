package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"TokenLottery/internal/config"
	"TokenLottery/internal/core"
	"TokenLottery/internal/ingestion"
	"TokenLottery/internal/ledger"
	"TokenLottery/internal/observability"
	"TokenLottery/internal/persistence"
	"TokenLottery/internal/projection"
	"TokenLottery/internal/query"
	"TokenLottery/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("tokenlottery", level)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	componentLogger := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level).With().Str("lottery_id", cfg.LotteryID).Logger()
	}
	logger.Info().Str("lottery_id", cfg.LotteryID).Str("asset", cfg.SettlementAsset).Msg("TokenLottery starting")

	// --- Contexts ---
	// ingress carries NATS, gRPC and HTTP; pipeline carries the sequencer
	// and the workers so they outlive ingress during shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ingressCtx, cancelIngress := context.WithCancel(rootCtx)
	defer cancelIngress()
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	defer cancelPipeline()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(rootCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, componentLogger("migrator"))
	if err := migrator.Up(rootCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Core ---
	// The persist channel blocks (backpressure); the projection channel drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	lotteryCore, err := core.NewLotteryCore(core.Config{
		LotteryID:                  cfg.LotteryID,
		SettlementAsset:            cfg.SettlementAsset,
		IdempotencyCapacity:        cfg.IdempotencyLRUCapacity,
		AllowUncommittedRandomness: cfg.AllowUncommittedRandomness,
	}, persistChan, projectionChan, persistence.NewPostgresIdempotencyChecker(db, cfg.LotteryID), metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("create core")
	}

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db, cfg.LotteryID)
	recovery, err := persistence.Recover(rootCtx, lotteryCore, snapMgr, metrics, componentLogger("recovery"))
	if err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, "tokenlottery-"+cfg.LotteryID, componentLogger("nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStreams(rootCtx, js, componentLogger("nats")); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(rootCtx, js, componentLogger("nats")); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// --- Pipeline ---
	sequencer := core.NewSequencer(lotteryCore, cfg.SequencerBuffer, metrics, componentLogger("sequencer"))
	publisher := ingestion.NewOutboundPublisher(js.Publish, cfg.PublishBuffer, metrics, componentLogger("publisher"))
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, componentLogger("persistence"))
	persistWorker.OnFlush(publisher.Enqueue)
	history := projection.NewTicketHistoryProjection()
	projWorker := projection.NewProjectionWorker(db, projectionChan, history, metrics, componentLogger("projection"))
	snapWorker := persistence.NewSnapshotWorker(sequencer, snapMgr, cfg.SnapshotInterval, cfg.SnapshotMinEvents, metrics, componentLogger("snapshot"))

	errChan := make(chan error, 10)
	var pipeline sync.WaitGroup
	goRun := func(wg *sync.WaitGroup, name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	sequencerDone := make(chan struct{})
	go func() {
		defer close(sequencerDone)
		if err := sequencer.Run(pipelineCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("sequencer: %w", err)
		}
	}()
	goRun(&pipeline, "persistence worker", func() error { return persistWorker.Run(pipelineCtx) })
	goRun(&pipeline, "projection worker", func() error { return projWorker.Run(pipelineCtx) })
	goRun(&pipeline, "outbound publisher", func() error { return publisher.Run(pipelineCtx) })

	snapCtx, cancelSnapshots := context.WithCancel(pipelineCtx)
	defer cancelSnapshots()
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		_ = snapWorker.Run(snapCtx)
	}()

	// --- Commands ---
	parser := ingestion.NewParser(cfg.LotteryID, ingestion.WallClock{Genesis: cfg.SlotGenesis, SlotDuration: cfg.SlotDuration})
	commands := ingestion.NewCommandService(parser, sequencer, metrics)

	if cfg.Bootstrap != nil {
		if err := bootstrap(rootCtx, sequencer, commands, cfg, logger); err != nil {
			logger.Fatal().Err(err).Msg("bootstrap configure")
		}
	}

	subscriber := ingestion.NewNATSSubscriber(js, commands, componentLogger("ingestion"))
	if err := subscriber.Subscribe(ingressCtx, ingestion.DefaultSubjects(cfg.LotteryID)); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- gRPC + HTTP gateway ---
	assetID, _ := ledger.GetAssetID(cfg.SettlementAsset)
	queryService := query.NewQueryService(db, cfg.LotteryID, assetID, metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Commands:      commands,
		Queries:       queryService,
		History:       history,
		EventLog:      snapMgr,
		Snapshots:     snapWorker,
		HealthChecker: healthChecker,
		Logger:        componentLogger("server"),
	})

	var ingress sync.WaitGroup
	goRun(&ingress, "grpc server", func() error { return grpcServer.StartGRPC(ingressCtx) })
	goRun(&ingress, "http gateway", func() error { return grpcServer.StartHTTPGateway(ingressCtx) })
	goRun(&ingress, "metrics server", func() error { return serveMetrics(ingressCtx, cfg.MetricsAddr, logger) })

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Int64("next_sequence", recovery.NextSequence).
		Bool("from_snapshot", recovery.FromSnapshot).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("TokenLottery ready")

	// --- Wait for shutdown signal ---
	select {
	case <-rootCtx.Done():
		logger.Info().Msg("received signal, shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop ingress, let the log catch up with the core, take a final
	// snapshot, then stop the pipeline.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	subscriber.Stop()
	cancelIngress()
	ingress.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	cancelSnapshots()
	<-snapDone
	if err := waitForLog(shutdownCtx, sequencer, snapMgr); err != nil {
		logger.Error().Err(err).Msg("event log did not catch up")
	} else if err := snapWorker.Final(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Msg("final snapshot saved")
	}

	cancelPipeline()
	<-sequencerDone
	pipeline.Wait()

	logger.Info().Msg("TokenLottery shutdown complete")
}

// bootstrap submits the configured lottery parameters when the instance has
// not been configured yet.
func bootstrap(ctx context.Context, seq *core.Sequencer, commands *ingestion.CommandService, cfg config.Config, logger zerolog.Logger) error {
	configured := false
	if err := seq.View(ctx, func(c *core.LotteryCore) { configured = c.Record().Configured }); err != nil {
		return err
	}
	if configured {
		return nil
	}
	body, err := json.Marshal(map[string]interface{}{
		"request_id": "bootstrap-configure-" + cfg.LotteryID,
		"sale_start": cfg.Bootstrap.SaleStart,
		"sale_end":   cfg.Bootstrap.SaleEnd,
		"price":      cfg.Bootstrap.Price,
		"authority":  cfg.Bootstrap.Authority,
	})
	if err != nil {
		return err
	}
	receipt, err := commands.Execute(ctx, "bootstrap", ingestion.OpConfigure, body)
	if err != nil {
		return err
	}
	logger.Info().
		Int64("sequence", receipt.Sequence).
		Uint64("sale_start", cfg.Bootstrap.SaleStart).
		Uint64("sale_end", cfg.Bootstrap.SaleEnd).
		Uint64("price", cfg.Bootstrap.Price).
		Msg("lottery configured from bootstrap")
	return nil
}

// waitForLog blocks until the persisted log holds every event the core has
// applied.
func waitForLog(ctx context.Context, seq *core.Sequencer, sm *persistence.SnapshotManager) error {
	var tip int64
	if err := seq.View(ctx, func(c *core.LotteryCore) { tip = c.GetSequence() - 1 }); err != nil {
		return err
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		logged, err := sm.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if logged >= tip {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("log at %d, core at %d: %w", logged, tip, ctx.Err())
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
