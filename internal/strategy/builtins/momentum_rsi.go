package builtins

import (
	"fmt"

	"stratlab/internal/domain"
	"stratlab/internal/indicator"
	"stratlab/internal/strategy"
	"stratlab/internal/util"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MomentumRSI)(nil)

// MomentumRSI buys oversold dips that still trade above their moving
// average and exits on overbought readings or a break below the average.
type MomentumRSI struct{}

// NewMomentumRSI creates the RSI reversal strategy.
func NewMomentumRSI() *MomentumRSI { return &MomentumRSI{} }

// MomentumRSIMeta returns the strategy's metadata and default params.
func MomentumRSIMeta() strategy.Meta {
	return strategy.Meta{
		ID:                   "seed_momentum_rsi_v1",
		Name:                 "RSI Momentum Reversal",
		Version:              "1.0.0",
		Archetype:            "momentum",
		AssetClass:           "equity",
		HoldingPeriodMinutes: [2]int{30, 240},
		Symbols:              strategy.Symbols("AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA"),
		SignalSources:        []string{"technical"},
		Params: strategy.Params{
			"rsi_period":                 14,
			"rsi_oversold":               30,
			"rsi_overbought":             70,
			"sma_period":                 20,
			strategy.ParamStopLossPct:    -0.03,
			strategy.ParamTakeProfitPct:  0.06,
			strategy.ParamMaxPositionPct: 0.05,
		},
	}
}

// Meta implements strategy.Strategy.
func (s *MomentumRSI) Meta() strategy.Meta { return MomentumRSIMeta() }

// GenerateSignal implements strategy.Strategy.
func (s *MomentumRSI) GenerateSignal(window []domain.Bar, params strategy.Params) (domain.Signal, error) {
	rsiPeriod := params.Int("rsi_period")
	smaPeriod := params.Int("sma_period")
	if len(window) < max(rsiPeriod+1, smaPeriod) {
		return domain.Hold("insufficient data"), nil
	}

	closes := indicator.Closes(window)
	price := closes[len(closes)-1]

	rsi, ok := indicator.RSI(closes, rsiPeriod)
	if !ok {
		return domain.Hold("insufficient data"), nil
	}
	sma, ok := indicator.SMA(closes, smaPeriod)
	if !ok {
		return domain.Hold("insufficient SMA data"), nil
	}

	oversold := params.Get("rsi_oversold")
	if rsi < oversold && price > sma {
		conf := min(0.9, (oversold-rsi)/oversold+0.5)
		return domain.Signal{
			Action:     domain.ActionBuy,
			Confidence: util.Round(conf, 2),
			Reason:     fmt.Sprintf("RSI=%.1f oversold bounce, price %.2f > SMA%d %.2f", rsi, price, smaPeriod, sma),
		}, nil
	}

	if rsi > params.Get("rsi_overbought") {
		return domain.Signal{
			Action:     domain.ActionSell,
			Confidence: 0.8,
			Reason:     fmt.Sprintf("RSI=%.1f overbought, take profit", rsi),
		}, nil
	}

	if price < sma*0.99 {
		return domain.Signal{
			Action:     domain.ActionSell,
			Confidence: 0.7,
			Reason:     fmt.Sprintf("price %.2f broke below SMA%d %.2f", price, smaPeriod, sma),
		}, nil
	}

	return domain.Hold(fmt.Sprintf("RSI=%.1f, no signal", rsi)), nil
}
