// Package store defines storage interfaces for persisting bar series and
// backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stratlab/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SeriesKey identifies one bar series: a symbol in a market at a bar
// frequency.
type SeriesKey struct {
	Symbol      string
	Market      domain.Market
	FreqMinutes int
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s/%dm/%s", k.Market, k.FreqMinutes, strings.ToUpper(k.Symbol))
}

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars merges bars into the series, replacing bars with the same
	// timestamp.
	WriteBars(ctx context.Context, key SeriesKey, bars []domain.Bar) error

	// ReadBars returns bars of the series within [start, end], oldest first.
	ReadBars(ctx context.Context, key SeriesKey, start, end time.Time) ([]domain.Bar, error)

	// LastBars returns the most recent n bars of the series, oldest first.
	LastBars(ctx context.Context, key SeriesKey, n int) ([]domain.Bar, error)

	// ListSymbols returns all symbols stored for a market and frequency.
	ListSymbols(ctx context.Context, market domain.Market, freqMinutes int) ([]string, error)
}

// RunRecord is a persisted backtest run: headline metrics for querying plus
// the full report and closed-trade ledger.
type RunRecord struct {
	ID           string
	StrategyID   string
	Symbol       string
	Status       string
	ErrorKind    string
	Message      string
	BacktestDays int
	TotalReturn  float64
	SharpeRatio  float64
	MaxDrawdown  float64
	TotalTrades  int
	Report       []byte // JSON report as written by the CLI
	Trades       []domain.Trade
	CreatedAt    time.Time
}

// RunStore persists and retrieves backtest runs.
type RunStore interface {
	// SaveRun inserts a run and its trades. An empty ID is assigned.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun retrieves a run and its trades by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first, optionally
	// filtered by strategy ID. Trades are not loaded.
	ListRuns(ctx context.Context, strategyID string, limit int) ([]RunRecord, error)
}
