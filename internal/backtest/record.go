package backtest

import (
	"fmt"
	"time"

	"stratlab/internal/metrics"
	"stratlab/internal/store"
)

// Record converts the run into its persisted form.
func (r *Run) Record() (*store.RunRecord, error) {
	report, err := r.Report.MarshalIndent()
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	rec := &store.RunRecord{
		StrategyID:   r.Meta.ID,
		Symbol:       r.Symbol,
		Status:       string(r.Report.Status),
		ErrorKind:    string(r.Report.ErrorKind),
		Message:      r.Report.Message,
		BacktestDays: r.Report.BacktestDays,
		Report:       report,
	}
	if s := r.Report.Summary; s != nil {
		rec.TotalReturn = s.TotalReturn
		rec.SharpeRatio = s.SharpeRatio
		rec.MaxDrawdown = s.MaxDrawdown
		rec.TotalTrades = s.TotalTrades
	}
	if r.Result != nil {
		rec.Trades = r.Result.Trades
	}
	return rec, nil
}

// Observation converts the run into the form the metrics recorder counts.
func (r *Run) Observation(elapsed time.Duration) metrics.Run {
	m := metrics.Run{
		StrategyID: r.Meta.ID,
		Status:     string(r.Report.Status),
		Duration:   elapsed,
		Success:    r.Report.Status == StatusSuccess,
		Accepted:   r.Report.Accepted(),
	}
	if r.Report.Summary != nil {
		m.Sharpe = r.Report.SharpeRatio
	}
	if r.Result != nil {
		for _, t := range r.Result.Trades {
			m.ExitReasons = append(m.ExitReasons, string(t.ExitReason))
		}
	}
	return m
}
