package barsource

import (
	"context"
	"fmt"

	"stratlab/internal/domain"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

// Compile-time interface check.
var _ Source = (*Stored)(nil)

// Stored serves previously gathered bars from a BarStore.
type Stored struct {
	store store.BarStore
	cal   *util.TradingCalendar
}

// NewStored creates a Source reading from s.
func NewStored(s store.BarStore, cal *util.TradingCalendar) *Stored {
	return &Stored{store: s, cal: cal}
}

// Name returns "stored".
func (s *Stored) Name() string { return "stored" }

// Bars returns the most recent bars of the stored series.
func (s *Stored) Bars(ctx context.Context, symbol string, days, freqMinutes int) ([]domain.Bar, error) {
	key := store.SeriesKey{Symbol: symbol, Market: s.cal.Market(), FreqMinutes: freqMinutes}
	bars, err := s.store.LastBars(ctx, key, BarCount(s.cal, days, freqMinutes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no stored bars for %s", ErrUnavailable, key)
	}
	return bars, nil
}
