package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/barsource"
	"stratlab/internal/config"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
	"stratlab/internal/strategy/builtins"
	"stratlab/internal/tradeparams"
	"stratlab/internal/util"
)

func main() {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	days := fs.Int("days", 0, "trading days to simulate (default from config, 30)")
	capital := fs.Float64("capital", 0, "initial capital (default from config, 100000)")
	output := fs.String("output", "", "also write the report to this file")
	cfgFlag := fs.String("config", "", "config file (default $STRATLAB_CONFIG or config/stratlab.yaml)")
	source := fs.String("source", "", "bar source: synthetic, alpaca or stored")
	seed := fs.Uint64("seed", 0, "synthetic bar seed (default from config, 42)")
	freq := fs.Int("freq", 0, "bar frequency in minutes (default from config, 15)")
	symbol := fs.String("symbol", "", "override the strategy's symbol")
	paramsPath := fs.String("params", "", "JSON file of per-strategy param overrides")
	evidencePath := fs.String("evidence", "", "JSON file of insider, options-flow and earnings evidence")
	save := fs.Bool("save", false, "record the run in the SQLite run store")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backtest <strategy-id> [options]\n\n")
		fs.PrintDefaults()
	}

	// Accept the strategy ID before or after the flags.
	args := os.Args[1:]
	var strategyID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		strategyID, args = args[0], args[1:]
	}
	fs.Parse(args)
	if strategyID == "" && fs.NArg() > 0 {
		strategyID = fs.Arg(0)
	}
	if strategyID == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfgPath := *cfgFlag
	if cfgPath == "" {
		cfgPath = config.PathFromEnv("config/stratlab.yaml")
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Explicit --days and --capital skip config validation; the backtester
	// reports non-positive values as invalid_request.
	reqDays, reqCapital := runSize(fs, cfg.Backtest, *days, *capital)
	if *source != "" {
		cfg.Backtest.Source = *source
	}
	if *seed > 0 {
		cfg.Backtest.Seed = *seed
	}
	if *freq > 0 {
		cfg.Backtest.FreqMinutes = *freq
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Logs go to stderr so stdout carries only the report.
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
		sym := *symbol
		if sym == "" {
			sym = cfg.Backtest.DefaultSymbol
		}
		ev = f.Evidence(sym, time.Now().UTC())
	}
	registry := strategy.NewRegistry()
	if err := builtins.RegisterAll(registry, ev); err != nil {
		log.Fatalf("failed to register strategies: %v", err)
	}

	var overrides strategy.Params
	if *paramsPath != "" {
		all, err := tradeparams.LoadFile(*paramsPath)
		if err != nil {
			log.Fatalf("failed to load params: %v", err)
		}
		overrides = all[strategyID]
	}

	bt := backtest.NewBacktester(registry, backtest.OptionsFromConfig(cfg, src, logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	req := backtest.Request{
		StrategyID:     strategyID,
		Days:           reqDays,
		InitialCapital: reqCapital,
		Params:         overrides,
		Symbol:         *symbol,
	}
	run, err := bt.Run(ctx, req)
	var report backtest.Report
	switch {
	case errors.Is(err, backtest.ErrStrategyNotFound):
		report = backtest.NewReport(backtest.ReportInput{
			StrategyID:     strategyID,
			BacktestDays:   req.Days,
			InitialCapital: req.InitialCapital,
			Now:            time.Now(),
		}, &backtest.Result{
			Status:    backtest.StatusError,
			ErrorKind: backtest.ErrorKindInvalidRequest,
			Message:   err.Error(),
		})
	case err != nil:
		log.Fatalf("backtest failed: %v", err)
	default:
		report = run.Report
	}

	out, err := report.MarshalIndent()
	if err != nil {
		log.Fatalf("failed to encode report: %v", err)
	}
	fmt.Println(string(out))

	if *output != "" {
		if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
			log.Fatalf("failed to create output directory: %v", err)
		}
		if err := os.WriteFile(*output, append(out, '\n'), 0o644); err != nil {
			log.Fatalf("failed to write report: %v", err)
		}
	}

	if *save && run != nil {
		if err := saveRun(ctx, cfg.Storage.SQLitePath, run, logger); err != nil {
			logger.Error("failed to save run", "error", err)
		}
	}

	os.Exit(report.ExitCode())
}

// runSize returns the run length and starting capital: the flag value when
// the flag was given on the command line, otherwise the config default.
func runSize(fs *flag.FlagSet, defaults config.Backtest, days int, capital float64) (int, float64) {
	reqDays, reqCapital := defaults.Days, defaults.InitialCapital
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "days":
			reqDays = days
		case "capital":
			reqCapital = capital
		}
	})
	return reqDays, reqCapital
}

func saveRun(ctx context.Context, dbPath string, run *backtest.Run, logger *slog.Logger) error {
	runs, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer runs.Close()

	rec, err := run.Record()
	if err != nil {
		return err
	}
	if err := runs.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		return err
	}
	logger.Info("run saved", "id", rec.ID, "strategy", run.Meta.ID)
	return nil
}
