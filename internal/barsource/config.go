package barsource

import (
	"fmt"
	"log/slog"

	"stratlab/internal/config"
	"stratlab/internal/domain"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

// FromConfig builds the source named kind (synthetic, alpaca or stored);
// an empty kind means cfg.Backtest.Source.
func FromConfig(cfg *config.Config, kind string, log *slog.Logger) (Source, error) {
	if kind == "" {
		kind = cfg.Backtest.Source
	}
	cal := util.NewTradingCalendar(domain.Market(cfg.Backtest.Market))

	switch kind {
	case "synthetic":
		start, err := cfg.Backtest.StartAnchor()
		if err != nil {
			return nil, err
		}
		return NewSynthetic(cfg.Backtest.Seed, start, cfg.Backtest.StartPrice, cal), nil
	case "alpaca":
		a, err := NewAlpaca(AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
			MaxRetries:      cfg.Alpaca.MaxRetries,
			Calendar:        cal,
			Logger:          log,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "stored":
		return NewStored(store.NewParquetStore(cfg.Storage.DataDir), cal), nil
	}
	return nil, fmt.Errorf("unknown bar source %q", kind)
}
