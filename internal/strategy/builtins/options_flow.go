package builtins

import (
	"fmt"
	"time"

	"stratlab/internal/domain"
	"stratlab/internal/indicator"
	"stratlab/internal/strategy"
	"stratlab/internal/util"
)

// Compile-time interface check.
var _ strategy.Strategy = (*OptionsFlow)(nil)

// FlowBias is the net direction of unusual options activity.
type FlowBias string

const (
	FlowNeutral FlowBias = "neutral"
	FlowBullish FlowBias = "bullish"
	FlowBearish FlowBias = "bearish"
)

// OptionTrade is one reported options print.
type OptionTrade struct {
	Symbol       string    `json:"symbol"`
	OptionType   string    `json:"option_type"` // call or put
	TradeType    string    `json:"trade_type"`  // sweep or block
	Strike       float64   `json:"strike"`
	Expiry       time.Time `json:"expiry"`
	Premium      float64   `json:"premium"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
}

// FlowAnalysis is the result of AnalyzeOptionsFlow.
type FlowAnalysis struct {
	Bias     FlowBias      `json:"bias"`
	Strength float64       `json:"strength"`
	Trades   []OptionTrade `json:"trades"`
}

// OptionsFlowMeta returns the strategy's metadata and default params.
func OptionsFlowMeta() strategy.Meta {
	return strategy.Meta{
		ID:                   "seed_options_flow_v1",
		Name:                 "Unusual Options Flow Momentum",
		Version:              "1.0.0",
		Archetype:            "options_flow",
		AssetClass:           "equity",
		HoldingPeriodMinutes: [2]int{480, 2400},
		Symbols:              strategy.DynamicSymbols(),
		SignalSources:        []string{"options_flow", "technical"},
		Params: strategy.Params{
			"min_premium_usd":            500000,
			"min_volume_oi_ratio":        10,
			"max_dte":                    30,
			"min_trades":                 2,
			strategy.ParamStopLossPct:    -0.03,
			strategy.ParamTakeProfitPct:  0.05,
			strategy.ParamMaxPositionPct: 0.03,
			"max_holding_days":           5,
		},
	}
}

// AnalyzeOptionsFlow filters flow down to large, short-dated sweeps and
// blocks in symbol and classifies the net premium direction.
func AnalyzeOptionsFlow(flow []OptionTrade, symbol string, asOf time.Time, params strategy.Params) FlowAnalysis {
	maxExpiry := asOf.AddDate(0, 0, params.Int("max_dte"))

	var unusual []OptionTrade
	for _, f := range flow {
		if f.Symbol != symbol || f.Premium < params.Get("min_premium_usd") {
			continue
		}
		if float64(f.Volume)/float64(max(f.OpenInterest, 1)) < params.Get("min_volume_oi_ratio") {
			continue
		}
		if f.Expiry.After(maxExpiry) || (f.TradeType != "sweep" && f.TradeType != "block") {
			continue
		}
		unusual = append(unusual, f)
	}

	if len(unusual) < params.Int("min_trades") {
		return FlowAnalysis{Bias: FlowNeutral}
	}

	var callPremium, putPremium float64
	for _, f := range unusual {
		switch f.OptionType {
		case "call":
			callPremium += f.Premium
		case "put":
			putPremium += f.Premium
		}
	}
	total := callPremium + putPremium
	if total == 0 {
		return FlowAnalysis{Bias: FlowNeutral, Trades: unusual}
	}

	callRatio := callPremium / total
	switch {
	case callRatio > 0.7:
		return FlowAnalysis{Bias: FlowBullish, Strength: callRatio, Trades: unusual}
	case callRatio < 0.3:
		return FlowAnalysis{Bias: FlowBearish, Strength: 1 - callRatio, Trades: unusual}
	}
	return FlowAnalysis{Bias: FlowNeutral, Trades: unusual}
}

// OptionsFlow trades in the direction of unusual options activity, with
// reduced confidence when price disagrees with the 20-bar trend.
type OptionsFlow struct {
	flow FlowAnalysis
}

// NewOptionsFlow creates the strategy around a precomputed flow analysis.
func NewOptionsFlow(flow FlowAnalysis) *OptionsFlow {
	return &OptionsFlow{flow: flow}
}

// Meta implements strategy.Strategy.
func (s *OptionsFlow) Meta() strategy.Meta { return OptionsFlowMeta() }

// GenerateSignal implements strategy.Strategy. A bearish reading yields
// SELL, which the engine treats as an exit only.
func (s *OptionsFlow) GenerateSignal(window []domain.Bar, _ strategy.Params) (domain.Signal, error) {
	if s.flow.Bias != FlowBullish && s.flow.Bias != FlowBearish {
		return domain.Hold("no unusual options signal"), nil
	}
	if len(window) < 20 {
		return domain.Hold("insufficient price data"), nil
	}

	closes := indicator.Closes(window)
	price := closes[len(closes)-1]
	sma20, _ := indicator.SMA(closes, 20)

	n := len(s.flow.Trades)
	var totalPremium float64
	for _, f := range s.flow.Trades {
		totalPremium += f.Premium
	}

	base := 0.55 + min(0.25, (s.flow.Strength-0.7)*0.5)
	tradeBonus := min(0.1, float64(n-2)*0.02)
	conf := min(0.85, base+tradeBonus)

	if s.flow.Bias == FlowBullish {
		if price < sma20*0.97 {
			conf -= 0.1
		}
		return domain.Signal{
			Action:     domain.ActionBuy,
			Confidence: util.Round(max(0.5, conf), 2),
			Reason: fmt.Sprintf("bullish options flow: %d unusual trades, $%.0fK total premium, call ratio %.0f%%",
				n, totalPremium/1000, s.flow.Strength*100),
		}, nil
	}

	if price > sma20*1.03 {
		conf -= 0.1
	}
	return domain.Signal{
		Action:     domain.ActionSell,
		Confidence: util.Round(max(0.5, conf), 2),
		Reason: fmt.Sprintf("bearish options flow: %d unusual trades, $%.0fK total premium, put ratio %.0f%%",
			n, totalPremium/1000, s.flow.Strength*100),
	}, nil
}
