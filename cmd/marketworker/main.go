package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketsim/internal/config"
	"marketsim/internal/db"
	"marketsim/internal/market"
	"marketsim/internal/pg"
)

// marketworker runs the simulation loop without the HTTP surface, for
// deployments that split read traffic from the tick writer.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		slog.Error("load params", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := pg.NewStore(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	seed := cfg.NoiseSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	noise := market.NewNoise(seed)

	threshold := market.NewThresholdController()
	registry, err := market.LoadRegistry(ctx, store, threshold)
	if err != nil {
		logger.Error("registry load failed", "err", err)
		os.Exit(1)
	}
	if cfg.SeedInstruments {
		if err := market.SeedDefaults(ctx, store, registry, threshold); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	influences := market.NewInfluenceModel(noise)
	calc := market.NewPriceCalculator(market.DefaultCalculatorConfig(), noise, threshold)
	analytics := market.NewAnalytics(params.AnalyticsConfig(), store)
	scheduler := market.NewScheduler(params.SchedulerConfig(), store, registry, influences, calc, analytics, threshold, logger)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("MARKETSIM_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := scheduler.TickNow(ctx); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = scheduler.Stop(shutdownCtx)
	logger.Info("worker shutdown")
}
