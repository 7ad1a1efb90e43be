// Package barsource provides the bar sources a backtest can draw from: a
// deterministic synthetic random walk, the Alpaca market-data API and the
// local Parquet store.
package barsource

import (
	"context"
	"errors"

	"stratlab/internal/domain"
	"stratlab/internal/util"
)

// ErrUnavailable is wrapped by sources that cannot produce bars at all,
// e.g. missing credentials or an empty store.
var ErrUnavailable = errors.New("bars unavailable")

// Source produces an ordered bar series for a symbol.
type Source interface {
	// Name identifies the source in logs and reports.
	Name() string

	// Bars returns days × (session minutes / freqMinutes) bars for symbol,
	// oldest first. Sources backed by real data may return fewer when the
	// history is shorter.
	Bars(ctx context.Context, symbol string, days, freqMinutes int) ([]domain.Bar, error)
}

// BarCount returns how many bars a request for days at freqMinutes spans on
// the calendar's market.
func BarCount(cal *util.TradingCalendar, days, freqMinutes int) int {
	if days <= 0 {
		return 0
	}
	return days * cal.BarsPerDay(freqMinutes)
}
