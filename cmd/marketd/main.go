package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketsim/internal/api"
	"marketsim/internal/config"
	"marketsim/internal/db"
	"marketsim/internal/market"
	"marketsim/internal/pg"
)

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
	breaker, err := market.NewCircuitBreaker(params.BreakerConfig(), store)
	if err != nil {
		logger.Error("breaker config invalid", "err", err)
		os.Exit(1)
	}
	limiter := market.NewRateLimiter(params.RateLimitConfig(), store)
	pipeline := market.NewPipeline(params.PipelineConfig(), store, store, store, registry, breaker, limiter, threshold, logger)
	scheduler := market.NewScheduler(params.SchedulerConfig(), store, registry, influences, calc, analytics, threshold, logger)

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

	server := api.New(logger, api.Deps{
		Store:      store,
		Wallet:     store,
		Positions:  store,
		Registry:   registry,
		Pipeline:   pipeline,
		Analytics:  analytics,
		Influences: influences,
		Threshold:  threshold,
		Ticker:     scheduler,
		Actors:     store,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = scheduler.Stop(shutdownCtx)
	}()

	logger.Info("marketd listening", "addr", cfg.Addr, "noise_seed", seed)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
