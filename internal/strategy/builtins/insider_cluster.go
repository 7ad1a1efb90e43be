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
var _ strategy.Strategy = (*InsiderCluster)(nil)

// InsiderFiling is one reported insider transaction.
type InsiderFiling struct {
	Symbol          string    `json:"symbol"`
	InsiderName     string    `json:"insider_name"`
	InsiderTitle    string    `json:"insider_title"`
	TransactionType string    `json:"transaction_type"` // BUY or SELL
	Shares          int64     `json:"shares"`
	Price           float64   `json:"price"`
	Date            time.Time `json:"date"`
}

// ClusterResult summarises recent insider buying in one symbol.
type ClusterResult struct {
	Signal       bool            `json:"signal"`
	InsiderCount int             `json:"insider_count"`
	Details      []InsiderFiling `json:"details"`
}

// InsiderClusterMeta returns the strategy's metadata and default params.
func InsiderClusterMeta() strategy.Meta {
	return strategy.Meta{
		ID:                   "seed_insider_cluster_v1",
		Name:                 "Insider Cluster Buy Following",
		Version:              "1.0.0",
		Archetype:            "insider_following",
		AssetClass:           "equity",
		HoldingPeriodMinutes: [2]int{2400, 9600},
		Symbols:              strategy.DynamicSymbols(),
		SignalSources:        []string{"corporate_insider", "politician_trading", "technical"},
		Params: strategy.Params{
			"min_insiders":               3,
			"cluster_window_days":        30,
			"max_pct_from_52w_high":      0.90,
			"rsi_max":                    60,
			"rsi_period":                 14,
			strategy.ParamStopLossPct:    -0.05,
			strategy.ParamTakeProfitPct:  0.10,
			strategy.ParamMaxPositionPct: 0.03,
			"max_holding_days":           20,
		},
	}
}

// CheckInsiderCluster counts distinct insiders who bought symbol within the
// cluster window ending at asOf.
func CheckInsiderCluster(filings []InsiderFiling, symbol string, asOf time.Time, params strategy.Params) ClusterResult {
	cutoff := asOf.AddDate(0, 0, -params.Int("cluster_window_days"))

	var recent []InsiderFiling
	insiders := make(map[string]struct{})
	for _, f := range filings {
		if f.Symbol != symbol || f.TransactionType != "BUY" || f.Date.Before(cutoff) {
			continue
		}
		recent = append(recent, f)
		insiders[f.InsiderName] = struct{}{}
	}

	return ClusterResult{
		Signal:       len(insiders) >= params.Int("min_insiders"),
		InsiderCount: len(insiders),
		Details:      recent,
	}
}

// InsiderCluster follows clustered insider buying when the stock is off its
// highs and not overbought.
type InsiderCluster struct {
	cluster ClusterResult
}

// NewInsiderCluster creates the strategy around a precomputed cluster.
func NewInsiderCluster(cluster ClusterResult) *InsiderCluster {
	return &InsiderCluster{cluster: cluster}
}

// Meta implements strategy.Strategy.
func (s *InsiderCluster) Meta() strategy.Meta { return InsiderClusterMeta() }

// GenerateSignal implements strategy.Strategy.
func (s *InsiderCluster) GenerateSignal(window []domain.Bar, params strategy.Params) (domain.Signal, error) {
	if !s.cluster.Signal {
		return domain.Hold("no insider cluster signal"), nil
	}
	period := params.Int("rsi_period")
	if len(window) < period+1 {
		return domain.Hold("insufficient data"), nil
	}

	closes := indicator.Closes(window)
	price := closes[len(closes)-1]
	high := indicator.HighestHigh(window, 252)

	if price > high*params.Get("max_pct_from_52w_high") {
		return domain.Hold(fmt.Sprintf("price %.2f too close to 52w high %.2f", price, high)), nil
	}

	rsi, _ := indicator.RSI(closes, period)
	if rsiMax := params.Get("rsi_max"); rsi > rsiMax {
		return domain.Hold(fmt.Sprintf("RSI=%.1f > %.0f, overbought", rsi, rsiMax)), nil
	}

	n := s.cluster.InsiderCount
	base := 0.6 + min(0.25, float64(n-3)*0.05)
	dipBonus := min(0.1, (1-price/high)*0.5)
	conf := min(0.9, base+dipBonus)

	return domain.Signal{
		Action:     domain.ActionBuy,
		Confidence: util.Round(conf, 2),
		Reason: fmt.Sprintf("%d insiders bought in %dd, RSI=%.1f, price %.2f is %.1f%% below 52w high",
			n, params.Int("cluster_window_days"), rsi, price, (1-price/high)*100),
	}, nil
}
