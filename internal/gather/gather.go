// Package gather copies bars from a market-data source into the local
// Parquet store so later backtests can run offline.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stratlab/internal/barsource"
	"stratlab/internal/domain"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// Compile-time interface check.
var _ Gatherer = (*BarGatherer)(nil)

// BarOptions configures a BarGatherer.
type BarOptions struct {
	DataDir     string
	Market      domain.Market
	Symbols     []string
	Days        int
	FreqMinutes int
	Workers     int
	// Retry re-fetches symbols previously recorded as empty.
	Retry  bool
	Logger *slog.Logger
	// Now dates the completion marker; nil means time.Now.
	Now func() time.Time
}

// Stats summarises one gathering pass.
type Stats struct {
	Symbols int
	Written int
	Empty   int
	Skipped int
	Failed  int
	Bars    int64
}

// BarGatherer fetches intraday bars for a symbol list and merges them into
// a BarStore. Symbols that return no data are remembered and skipped on
// later passes.
type BarGatherer struct {
	source barsource.Source
	store  store.BarStore
	opts   BarOptions
	log    *slog.Logger

	stats Stats
}

// NewBarGatherer creates a BarGatherer reading from src and writing to dst.
func NewBarGatherer(src barsource.Source, dst store.BarStore, opts BarOptions) *BarGatherer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Market == "" {
		opts.Market = domain.MarketUS
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	return &BarGatherer{
		source: src,
		store:  dst,
		opts:   opts,
		log:    log.With("gatherer", "bars", "source", src.Name()),
	}
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string {
	return fmt.Sprintf("%s-%dm-bars", g.opts.Market, g.opts.FreqMinutes)
}

// Stats returns the counts of the last Run.
func (g *BarGatherer) Stats() Stats { return g.stats }

// Run fetches every configured symbol on a bounded pool. A failing symbol
// is logged and counted; Run itself fails only on cancellation or when the
// progress ledger cannot be used.
func (g *BarGatherer) Run(ctx context.Context) error {
	progressDir := filepath.Join(g.opts.DataDir, string(g.opts.Market), fmt.Sprintf("%dm", g.opts.FreqMinutes))
	pr, err := loadProgress(progressDir)
	if err != nil {
		return err
	}
	if g.opts.Retry {
		pr.ForgetEmpty()
	}

	var written, empty, skipped, failed atomic.Int32
	var bars atomic.Int64

	sem := make(chan struct{}, g.opts.Workers)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, sym := range g.opts.Symbols {
		if pr.Empty(sym) {
			skipped.Add(1)
			continue
		}
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				return egCtx.Err()
			}
			defer func() { <-sem }()

			n, last, err := g.gatherSymbol(egCtx, sym)
			switch {
			case err != nil && egCtx.Err() != nil:
				return egCtx.Err()
			case err != nil:
				failed.Add(1)
				g.log.Warn("gathering symbol", "symbol", sym, "error", err)
				return nil
			case n == 0:
				empty.Add(1)
			default:
				written.Add(1)
				bars.Add(int64(n))
			}
			pr.Record(sym, n, last, g.opts.Now())
			return nil
		})
	}
	err = eg.Wait()

	g.stats = Stats{
		Symbols: len(g.opts.Symbols),
		Written: int(written.Load()),
		Empty:   int(empty.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
		Bars:    bars.Load(),
	}
	if err != nil {
		if serr := pr.Save(); serr != nil {
			g.log.Warn("saving partial progress", "error", serr)
		}
		return fmt.Errorf("gathering %s: %w", g.Name(), err)
	}

	pr.Complete(g.opts.Now().UTC().Format("2006-01-02"))
	if err := pr.Save(); err != nil {
		return err
	}
	g.log.Info("gathering complete",
		"symbols", g.stats.Symbols,
		"written", g.stats.Written,
		"empty", g.stats.Empty,
		"skipped", g.stats.Skipped,
		"failed", g.stats.Failed,
		"bars", g.stats.Bars,
	)
	return nil
}

// gatherSymbol fetches and stores symbol, returning the bar count and the
// time of the newest bar.
func (g *BarGatherer) gatherSymbol(ctx context.Context, symbol string) (int, time.Time, error) {
	bars, err := g.source.Bars(ctx, symbol, g.opts.Days, g.opts.FreqMinutes)
	if errors.Is(err, barsource.ErrUnavailable) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(bars) == 0 {
		return 0, time.Time{}, nil
	}
	key := store.SeriesKey{Symbol: symbol, Market: g.opts.Market, FreqMinutes: g.opts.FreqMinutes}
	if err := g.store.WriteBars(ctx, key, bars); err != nil {
		return 0, time.Time{}, fmt.Errorf("writing %s: %w", key, err)
	}
	return len(bars), bars[len(bars)-1].Timestamp, nil
}
