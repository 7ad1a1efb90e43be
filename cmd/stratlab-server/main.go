package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stratlab/internal/api"
	"stratlab/internal/backtest"
	"stratlab/internal/barsource"
	"stratlab/internal/config"
	"stratlab/internal/metrics"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
	"stratlab/internal/strategy/builtins"
	"stratlab/internal/tradeparams"
	"stratlab/internal/util"
)

func main() {
	cfg, err := config.LoadOrDefault(config.PathFromEnv("config/stratlab.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	util.SetDefault(logger)

	src, err := barsource.FromConfig(cfg, "", logger)
	if err != nil {
		log.Fatalf("failed to create bar source: %v", err)
	}

	registry := strategy.NewRegistry()
	if err := builtins.RegisterAll(registry, builtins.Evidence{}); err != nil {
		log.Fatalf("failed to register strategies: %v", err)
	}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer runs.Close()

	params, err := tradeparams.NewStore(cfg.Storage.ParamsPath, logger)
	if err != nil {
		log.Fatalf("failed to load trade params: %v", err)
	}

	rec := metrics.NewRecorder()
	bt := backtest.NewBacktester(registry, backtest.OptionsFromConfig(cfg, src, logger))
	svc := api.NewBacktestService(bt, registry, runs, params.Get, api.Defaults{
		Days:           cfg.Backtest.Days,
		InitialCapital: cfg.Backtest.InitialCapital,
	}, logger)
	svc.SetMetrics(rec)

	srv := api.NewServer(cfg, svc, rec.Handler(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("stratlab-server starting",
		"host", cfg.Server.Host, "grpcPort", cfg.Server.GRPCPort, "metricsPort", cfg.Server.MetricsPort,
		"source", src.Name(), "strategies", len(registry.List()))
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("stratlab-server stopped")
}
