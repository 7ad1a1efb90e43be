package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stratlab/internal/barsource"
	"stratlab/internal/config"
	"stratlab/internal/domain"
	"stratlab/internal/gather"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated symbols to fetch")
	csvPath := flag.String("symbols-csv", "", "CSV file whose first column lists symbols")
	days := flag.Int("days", 0, "trading days of history per symbol (default from config)")
	freq := flag.Int("freq", 0, "bar frequency in minutes (default from config)")
	workers := flag.Int("workers", 4, "concurrent symbol fetches")
	retry := flag.Bool("retry", false, "re-fetch symbols previously recorded as empty")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.PathFromEnv("config/stratlab.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *days > 0 {
		cfg.Backtest.Days = *days
	}
	if *freq > 0 {
		cfg.Backtest.FreqMinutes = *freq
	}

	list := gather.ParseSymbols(*symbols)
	if *csvPath != "" {
		more, err := gather.LoadCSVSymbols(*csvPath)
		if err != nil {
			log.Fatalf("failed to load symbols: %v", err)
		}
		list = gather.ParseSymbols(*symbols + "," + strings.Join(more, ","))
	}
	if len(list) == 0 {
		list = []string{cfg.Backtest.DefaultSymbol}
	}

	// Dual logger: stderr + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/bars-fetch-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, io.MultiWriter(os.Stderr, logFile))
	util.SetDefault(logger)

	src, err := barsource.FromConfig(cfg, "alpaca", logger)
	if err != nil {
		log.Fatalf("failed to create alpaca source: %v", err)
	}

	g := gather.NewBarGatherer(src, store.NewParquetStore(cfg.Storage.DataDir), gather.BarOptions{
		DataDir:     cfg.Storage.DataDir,
		Market:      domain.Market(cfg.Backtest.Market),
		Symbols:     list,
		Days:        cfg.Backtest.Days,
		FreqMinutes: cfg.Backtest.FreqMinutes,
		Workers:     *workers,
		Retry:       *retry,
		Logger:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting bars-fetch", "gatherer", g.Name(), "symbols", len(list), "logFile", logFileName)
	if err := g.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
	st := g.Stats()
	logger.Info("bars-fetch finished",
		"written", st.Written, "empty", st.Empty, "skipped", st.Skipped, "failed", st.Failed, "bars", st.Bars)
}
