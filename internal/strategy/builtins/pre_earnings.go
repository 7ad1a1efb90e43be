package builtins

import (
	"fmt"
	"strings"
	"time"

	"stratlab/internal/domain"
	"stratlab/internal/strategy"
	"stratlab/internal/util"
)

// Compile-time interface check.
var _ strategy.Strategy = (*PreEarningsDrift)(nil)

// EarningsEvidence is the market context ahead of an earnings release.
type EarningsEvidence struct {
	Symbol               string    `json:"symbol"`
	EarningsDate         time.Time `json:"earnings_date"`
	AnalystRevisionTrend string    `json:"analyst_revision_trend"` // up, down or flat
	UnusualOptions       FlowBias  `json:"unusual_options_signal"`
	InsiderSelling30d    bool      `json:"insider_selling_30d"`
	IVRank               float64   `json:"iv_rank"` // 0-100
}

// EarningsSetup is the outcome of EvaluatePreEarningsSetup.
type EarningsSetup struct {
	Action     domain.Action `json:"action"`
	Confidence float64       `json:"confidence"`
	Confirming []string      `json:"confirming_signals"`
	Conflicts  []string      `json:"conflicts"`
	Reason     string        `json:"reason"`
}

// PreEarningsMeta returns the strategy's metadata and default params.
func PreEarningsMeta() strategy.Meta {
	return strategy.Meta{
		ID:                   "seed_pre_earnings_drift_v1",
		Name:                 "Pre-Earnings Drift with Signal Confluence",
		Version:              "1.0.0",
		Archetype:            "event_driven",
		AssetClass:           "equity",
		HoldingPeriodMinutes: [2]int{1440, 2400},
		Symbols:              strategy.DynamicSymbols(),
		SignalSources:        []string{"event", "options_flow", "corporate_insider", "fundamental"},
		Params: strategy.Params{
			"entry_days_before_earnings": 5,
			"exit_days_before_earnings":  0,
			"iv_rank_max":                80,
			"min_confirming_signals":     2,
			strategy.ParamStopLossPct:    -0.025,
			strategy.ParamTakeProfitPct:  0.05,
			strategy.ParamMaxPositionPct: 0.03,
		},
	}
}

// EvaluatePreEarningsSetup counts confirming bullish and bearish evidence
// and returns a directional setup when one side has enough confluence.
func EvaluatePreEarningsSetup(ev EarningsEvidence, params strategy.Params) EarningsSetup {
	var bullish, bearish, conflicts []string

	switch ev.AnalystRevisionTrend {
	case "up":
		bullish = append(bullish, "analyst_revisions_up")
	case "down":
		bearish = append(bearish, "analyst_revisions_down")
	}

	switch ev.UnusualOptions {
	case FlowBullish:
		bullish = append(bullish, "unusual_call_buying")
	case FlowBearish:
		bearish = append(bearish, "unusual_put_buying")
	}

	if ev.InsiderSelling30d {
		bearish = append(bearish, "insider_selling_detected")
		conflicts = append(conflicts, "insider_selling")
	} else {
		bullish = append(bullish, "no_insider_selling")
	}

	if ev.IVRank > params.Get("iv_rank_max") {
		conflicts = append(conflicts, fmt.Sprintf("iv_rank_high_%.0f", ev.IVRank))
	}

	minConfirming := params.Int("min_confirming_signals")
	confidence := func(count int) float64 {
		c := 0.55 + min(0.3, float64(count)*0.1) - float64(len(conflicts))*0.15
		return util.Round(max(0.5, min(0.85, c)), 2)
	}

	switch {
	case len(bullish) >= minConfirming && len(bullish) > len(bearish):
		return EarningsSetup{
			Action:     domain.ActionBuy,
			Confidence: confidence(len(bullish)),
			Confirming: bullish,
			Conflicts:  conflicts,
			Reason:     "pre-earnings bullish setup: " + strings.Join(bullish, ", "),
		}
	case len(bearish) >= minConfirming && len(bearish) > len(bullish):
		return EarningsSetup{
			Action:     domain.ActionSell,
			Confidence: confidence(len(bearish)),
			Confirming: bearish,
			Conflicts:  conflicts,
			Reason:     "pre-earnings bearish setup: " + strings.Join(bearish, ", "),
		}
	}
	return EarningsSetup{
		Action:    domain.ActionHold,
		Conflicts: conflicts,
		Reason:    fmt.Sprintf("insufficient confluence: %d bullish, %d bearish signals", len(bullish), len(bearish)),
	}
}

// PreEarningsDrift replays a precomputed earnings setup on every bar.
type PreEarningsDrift struct {
	setup EarningsSetup
}

// NewPreEarningsDrift creates the strategy around a setup.
func NewPreEarningsDrift(setup EarningsSetup) *PreEarningsDrift {
	return &PreEarningsDrift{setup: setup}
}

// Meta implements strategy.Strategy.
func (s *PreEarningsDrift) Meta() strategy.Meta { return PreEarningsMeta() }

// GenerateSignal implements strategy.Strategy.
func (s *PreEarningsDrift) GenerateSignal(_ []domain.Bar, _ strategy.Params) (domain.Signal, error) {
	if s.setup.Action == "" || s.setup.Action == domain.ActionHold {
		return domain.Hold("no pre-earnings setup"), nil
	}
	return domain.Signal{
		Action:     s.setup.Action,
		Confidence: s.setup.Confidence,
		Reason:     s.setup.Reason,
	}, nil
}
