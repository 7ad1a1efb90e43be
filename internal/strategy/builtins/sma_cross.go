package builtins

import (
	"fmt"

	"stratlab/internal/domain"
	"stratlab/internal/indicator"
	"stratlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct{}

// NewSMACross creates the crossover strategy. Periods come from the
// "short_period" and "long_period" params.
func NewSMACross() *SMACross { return &SMACross{} }

// Meta returns the crossover metadata.
func (s *SMACross) Meta() strategy.Meta {
	return strategy.Meta{
		ID:                   "sma-cross",
		Name:                 "SMA Crossover",
		Version:              "1.0.0",
		Archetype:            "trend_following",
		AssetClass:           "equity",
		HoldingPeriodMinutes: [2]int{120, 1440},
		Symbols:              strategy.Symbols("SPY", "QQQ"),
		SignalSources:        []string{"technical"},
		Params: strategy.Params{
			"short_period":               10,
			"long_period":                30,
			strategy.ParamStopLossPct:    -0.04,
			strategy.ParamTakeProfitPct:  0.08,
			strategy.ParamMaxPositionPct: 0.10,
		},
	}
}

// GenerateSignal compares the SMAs on the latest bar with those on the bar
// before it.
func (s *SMACross) GenerateSignal(window []domain.Bar, params strategy.Params) (domain.Signal, error) {
	short, long := params.Int("short_period"), params.Int("long_period")
	if short <= 0 || long <= short {
		return domain.Signal{}, fmt.Errorf("invalid periods short=%d long=%d", short, long)
	}
	if len(window) < long+1 {
		return domain.Hold("insufficient data"), nil
	}

	closes := indicator.Closes(window)
	prev := closes[:len(closes)-1]

	shortNow, _ := indicator.SMA(closes, short)
	longNow, _ := indicator.SMA(closes, long)
	shortPrev, _ := indicator.SMA(prev, short)
	longPrev, _ := indicator.SMA(prev, long)

	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return domain.Signal{
			Action:     domain.ActionBuy,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("SMA%d %.2f crossed above SMA%d %.2f", short, shortNow, long, longNow),
		}, nil
	case shortPrev >= longPrev && shortNow < longNow:
		return domain.Signal{
			Action:     domain.ActionSell,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("SMA%d %.2f crossed below SMA%d %.2f", short, shortNow, long, longNow),
		}, nil
	}
	return domain.Hold("no crossover"), nil
}
