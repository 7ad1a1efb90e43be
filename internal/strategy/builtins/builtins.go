// Package builtins provides the strategies that ship with stratlab: a
// technical RSI reversal, an SMA crossover and three event-driven seeds
// that act on externally supplied evidence.
package builtins

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"stratlab/internal/strategy"
)

// Evidence carries the external observations the event-driven strategies
// act on. The zero value makes every event-driven strategy hold.
type Evidence struct {
	Insider  ClusterResult
	Flow     FlowAnalysis
	Earnings EarningsSetup
}

// EvidenceFile is the on-disk form of raw event data.
type EvidenceFile struct {
	InsiderFilings []InsiderFiling   `json:"insider_filings"`
	OptionsFlow    []OptionTrade     `json:"options_flow"`
	Earnings       *EarningsEvidence `json:"earnings,omitempty"`
}

// Evidence analyses the raw data for symbol as of asOf using each
// strategy's default params.
func (f EvidenceFile) Evidence(symbol string, asOf time.Time) Evidence {
	ev := Evidence{
		Insider: CheckInsiderCluster(f.InsiderFilings, symbol, asOf, InsiderClusterMeta().Params),
		Flow:    AnalyzeOptionsFlow(f.OptionsFlow, symbol, asOf, OptionsFlowMeta().Params),
	}
	if f.Earnings != nil && f.Earnings.Symbol == symbol {
		ev.Earnings = EvaluatePreEarningsSetup(*f.Earnings, PreEarningsMeta().Params)
	}
	return ev
}

// LoadEvidenceFile reads an EvidenceFile from a JSON document.
func LoadEvidenceFile(path string) (EvidenceFile, error) {
	var f EvidenceFile
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// RegisterAll registers every built-in strategy with r. Event-driven
// strategies are constructed with ev.
func RegisterAll(r *strategy.Registry, ev Evidence) error {
	all := []strategy.Strategy{
		NewMomentumRSI(),
		NewSMACross(),
		NewInsiderCluster(ev.Insider),
		NewOptionsFlow(ev.Flow),
		NewPreEarningsDrift(ev.Earnings),
	}
	for _, s := range all {
		if err := r.Register(s); err != nil {
			return fmt.Errorf("registering builtins: %w", err)
		}
	}
	return nil
}
