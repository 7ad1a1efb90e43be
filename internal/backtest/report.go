package backtest

import (
	"encoding/json"
	"time"

	"stratlab/internal/util"
)

// Summary holds the rounded headline metrics of a successful run.
type Summary struct {
	FinalValue   float64 `json:"final_value"`
	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgPnLPct    float64 `json:"avg_pnl_pct"`
}

// Report is the JSON record produced once per run. Summary fields are only
// present when Status is success.
type Report struct {
	Status         Status    `json:"status"`
	Message        string    `json:"message,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	StrategyID     string    `json:"strategy_id"`
	Symbol         string    `json:"symbol,omitempty"`
	BacktestDays   int       `json:"backtest_days"`
	InitialCapital float64   `json:"initial_capital"`
	*Summary
	Timestamp string `json:"timestamp"`
}

// ReportInput identifies the run a report describes.
type ReportInput struct {
	StrategyID     string
	Symbol         string
	BacktestDays   int
	InitialCapital float64
	Now            time.Time
}

// NewReport builds the report for res, rounding metrics for presentation:
// final value, Sharpe, win rate and profit factor to 2 places, returns,
// drawdown and average trade return to 4.
func NewReport(in ReportInput, res *Result) Report {
	r := Report{
		Status:         res.Status,
		Message:        res.Message,
		ErrorKind:      res.ErrorKind,
		StrategyID:     in.StrategyID,
		Symbol:         in.Symbol,
		BacktestDays:   in.BacktestDays,
		InitialCapital: in.InitialCapital,
		Timestamp:      in.Now.UTC().Format(time.RFC3339),
	}
	if res.Status == StatusSuccess && res.Metrics != nil {
		m := res.Metrics
		r.Summary = &Summary{
			FinalValue:   util.Round(m.FinalValue, 2),
			TotalReturn:  util.Round(m.TotalReturn, 4),
			SharpeRatio:  util.Round(m.SharpeRatio, 2),
			MaxDrawdown:  util.Round(m.MaxDrawdown, 4),
			TotalTrades:  m.TotalTrades,
			WinRate:      util.Round(m.WinRate, 2),
			ProfitFactor: util.Round(m.ProfitFactor, 2),
			AvgPnLPct:    util.Round(m.AvgPnLPct, 4),
		}
	}
	return r
}

// Accepted reports whether the run passes the screening bar: a successful
// run with a positive Sharpe ratio.
func (r Report) Accepted() bool {
	return r.Status == StatusSuccess && r.Summary != nil && r.SharpeRatio > 0
}

// ExitCode maps the report onto a process exit status: 0 when accepted,
// 1 otherwise.
func (r Report) ExitCode() int {
	if r.Accepted() {
		return 0
	}
	return 1
}

// MarshalIndent renders the report as two-space indented JSON.
func (r Report) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
