package backtest

import (
	"math"

	"stratlab/internal/domain"
)

// ProfitFactorSentinel is reported as the profit factor when a run has at
// least one winning trade and no losing trade. It is a marker, not a ratio.
const ProfitFactorSentinel = 999.0

// Metrics summarises a completed run. Ratios are fractions, not percent.
type Metrics struct {
	FinalValue  float64 `json:"final_value"`
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	Volatility  float64 `json:"volatility"`

	TotalTrades  int     `json:"total_trades"`
	Winners      int     `json:"winners"`
	Losers       int     `json:"losers"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgPnLPct    float64 `json:"avg_pnl_pct"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`
}

// ComputeMetrics derives the run statistics from the trade ledger and the
// equity curve. barsPerYear annualises the per-bar Sharpe ratio and
// volatility. It is a pure function; an empty curve yields zero metrics.
func ComputeMetrics(trades []domain.Trade, equity []float64, initialCapital, barsPerYear float64) Metrics {
	var m Metrics
	if len(equity) == 0 {
		return m
	}

	m.FinalValue = equity[len(equity)-1]
	if initialCapital != 0 {
		m.TotalReturn = (m.FinalValue - initialCapital) / initialCapital
	}
	m.MaxDrawdown = maxDrawdown(equity)

	returns := stepReturns(equity)
	mean, stdev := meanStdev(returns)
	if stdev > 0 {
		m.SharpeRatio = mean / stdev * math.Sqrt(barsPerYear)
		m.Volatility = stdev * math.Sqrt(barsPerYear)
	}

	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return m
	}

	var grossProfit, grossLoss, sumPct float64
	var winStreak, lossStreak int
	for _, t := range trades {
		sumPct += t.PnLPct
		switch {
		case t.PnL > 0:
			m.Winners++
			grossProfit += t.PnL
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
			winStreak++
			lossStreak = 0
		case t.PnL < 0:
			m.Losers++
			grossLoss += -t.PnL
			m.LargestLoss = math.Min(m.LargestLoss, t.PnL)
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		m.MaxConsecutiveWins = max(m.MaxConsecutiveWins, winStreak)
		m.MaxConsecutiveLosses = max(m.MaxConsecutiveLosses, lossStreak)
	}

	m.WinRate = float64(m.Winners) / float64(len(trades))
	m.AvgPnLPct = sumPct / float64(len(trades))
	switch {
	case m.Losers > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case m.Winners > 0:
		m.ProfitFactor = ProfitFactorSentinel
	}
	return m
}

// maxDrawdown returns the largest peak-to-trough fall as a fraction of the
// running peak, which starts at equity[0].
func maxDrawdown(equity []float64) float64 {
	peak := equity[0]
	var worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return math.Min(worst, 1)
}

// stepReturns returns the bar-to-bar returns, skipping steps whose prior
// equity is not positive.
func stepReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if prev := equity[i-1]; prev > 0 {
			returns = append(returns, (equity[i]-prev)/prev)
		}
	}
	return returns
}

// meanStdev returns the mean and population standard deviation.
func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}
