package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/barsource"
	"stratlab/internal/config"
	"stratlab/internal/dashboard"
	"stratlab/internal/metrics"
	"stratlab/internal/screen"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
	"stratlab/internal/strategy/builtins"
	"stratlab/internal/tradeparams"
	"stratlab/internal/util"
)

func main() {
	strategies := flag.String("strategies", "", "comma-separated strategy IDs (default: all registered)")
	days := flag.Int("days", 0, "trading days per run (default from config)")
	capital := flag.Float64("capital", 0, "initial capital per run (default from config)")
	workers := flag.Int("workers", 0, "concurrent runs (default from config)")
	source := flag.String("source", "", "bar source: synthetic, alpaca or stored")
	evidencePath := flag.String("evidence", "", "JSON file of insider, options-flow and earnings evidence")
	save := flag.Bool("save", false, "record every run in the SQLite run store")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address and wait for a signal after screening")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.PathFromEnv("config/stratlab.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *days > 0 {
		cfg.Backtest.Days = *days
	}
	if *capital > 0 {
		cfg.Backtest.InitialCapital = *capital
	}
	if *workers > 0 {
		cfg.Evaluation.Workers = *workers
	}
	if *source != "" {
		cfg.Backtest.Source = *source
	}
	if *save {
		cfg.Evaluation.SaveRuns = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	util.SetDefault(logger)

	src, err := barsource.FromConfig(cfg, "", logger)
	if err != nil {
		log.Fatalf("failed to create bar source: %v", err)
	}

	var ev builtins.Evidence
	if *evidencePath != "" {
		f, err := builtins.LoadEvidenceFile(*evidencePath)
		if err != nil {
			log.Fatalf("failed to load evidence: %v", err)
		}
		ev = f.Evidence(cfg.Backtest.DefaultSymbol, time.Now().UTC())
	}
	registry := strategy.NewRegistry()
	if err := builtins.RegisterAll(registry, ev); err != nil {
		log.Fatalf("failed to register strategies: %v", err)
	}

	ids := registry.List()
	if *strategies != "" {
		ids = splitIDs(*strategies)
	}

	params, err := tradeparams.NewStore(cfg.Storage.ParamsPath, logger)
	if err != nil {
		log.Fatalf("failed to load trade params: %v", err)
	}

	rec := metrics.NewRecorder()
	opts := screen.Options{
		Workers:          cfg.Evaluation.Workers,
		CandidateTimeout: cfg.Evaluation.CandidateTimeout(),
		Days:             cfg.Backtest.Days,
		InitialCapital:   cfg.Backtest.InitialCapital,
		Params:           params,
		Metrics:          rec,
		Logger:           logger,
	}
	if cfg.Evaluation.SaveRuns {
		runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open run store: %v", err)
		}
		defer runs.Close()
		opts.Runs = runs
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var srv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", rec.Handler())
		srv = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", *metricsAddr)
	}

	bt := backtest.NewBacktester(registry, backtest.OptionsFromConfig(cfg, src, logger))
	screener := screen.NewScreener(bt, opts)

	logger.Info("screening", "candidates", len(ids), "workers", cfg.Evaluation.Workers, "source", src.Name())
	outcomes := screener.Evaluate(ctx, ids)

	fm := screen.NewFeatureMap()
	fm.AddAll(outcomes)

	fmt.Println(dashboard.Leaderboard(outcomes))
	fmt.Println(dashboard.FeatureMap(fm.Elites()))

	if srv != nil {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}

	if fm.Len() == 0 {
		os.Exit(1)
	}
}

func splitIDs(list string) []string {
	var ids []string
	for _, id := range strings.Split(list, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
