package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stratlab/internal/barsource"
	"stratlab/internal/config"
	"stratlab/internal/domain"
	"stratlab/internal/strategy"
	"stratlab/internal/util"
)

// ErrStrategyNotFound is returned by Run when the strategy ID is not
// registered. It is the only error Run returns; every other failure is
// reported through the Report.
var ErrStrategyNotFound = errors.New("strategy not found")

// Options configures a Backtester.
type Options struct {
	Source   barsource.Source
	Calendar *util.TradingCalendar

	FreqMinutes   int
	Warmup        int
	MinConfidence float64

	// DefaultSymbol is traded by strategies whose symbol set is dynamic.
	DefaultSymbol string

	Logger *slog.Logger
	// Now stamps reports; nil means time.Now.
	Now func() time.Time
}

// Request describes one backtest.
type Request struct {
	StrategyID     string
	Days           int
	InitialCapital float64
	// Params override the strategy's defaults key by key.
	Params strategy.Params
	// Symbol overrides the strategy's primary symbol.
	Symbol string
}

// Run is the full record of one backtest.
type Run struct {
	Meta   strategy.Meta
	Symbol string
	Params strategy.Params
	Result *Result
	Report Report
}

// Backtester resolves strategies from a Registry, loads their bars from a
// Source and simulates them. It holds no per-run state and is safe for
// concurrent use when its Source is.
type Backtester struct {
	registry *strategy.Registry
	opts     Options
	log      *slog.Logger
}

// OptionsFromConfig returns the Options described by cfg.Backtest.
func OptionsFromConfig(cfg *config.Config, src barsource.Source, log *slog.Logger) Options {
	b := cfg.Backtest
	return Options{
		Source:        src,
		Calendar:      util.NewTradingCalendar(domain.Market(b.Market)),
		FreqMinutes:   b.FreqMinutes,
		Warmup:        b.Warmup,
		MinConfidence: b.MinConfidence,
		DefaultSymbol: b.DefaultSymbol,
		Logger:        log,
	}
}

// NewBacktester creates a Backtester. Zero options fall back to a US
// calendar, 15-minute bars, the default warm-up and the SPY symbol.
func NewBacktester(registry *strategy.Registry, opts Options) *Backtester {
	if opts.Calendar == nil {
		opts.Calendar = util.NewTradingCalendar("")
	}
	if opts.FreqMinutes <= 0 {
		opts.FreqMinutes = 15
	}
	if opts.Warmup <= 0 {
		opts.Warmup = strategy.DefaultWarmup
	}
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "SPY"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	return &Backtester{
		registry: registry,
		opts:     opts,
		log:      log.With("component", "backtester"),
	}
}

// Run executes req. An unknown strategy ID returns ErrStrategyNotFound; any
// other failure, including cancellation of ctx, yields a Run whose report
// carries the error status.
func (bt *Backtester) Run(ctx context.Context, req Request) (*Run, error) {
	s, ok := bt.registry.Get(req.StrategyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, req.StrategyID)
	}

	meta := s.Meta()
	params := meta.Params.Merge(req.Params)
	symbol := req.Symbol
	if symbol == "" {
		symbol = meta.Symbols.Primary(bt.opts.DefaultSymbol)
	}
	run := &Run{Meta: meta, Symbol: symbol, Params: params}
	log := bt.log.With("strategy", meta.ID, "symbol", symbol)
	start := time.Now()

	res := bt.simulate(ctx, s, req, symbol, params)
	run.Result = res
	run.Report = NewReport(ReportInput{
		StrategyID:     meta.ID,
		Symbol:         symbol,
		BacktestDays:   req.Days,
		InitialCapital: req.InitialCapital,
		Now:            bt.opts.Now(),
	}, res)

	attrs := []any{"status", res.Status, "trades", len(res.Trades), "elapsed", time.Since(start)}
	if res.ErrorKind != "" {
		attrs = append(attrs, "error_kind", res.ErrorKind, "message", res.Message)
	}
	log.Info("backtest finished", attrs...)
	return run, nil
}

func (bt *Backtester) simulate(ctx context.Context, s strategy.Strategy, req Request, symbol string, params strategy.Params) *Result {
	meta := s.Meta()
	meta.Params = params
	if err := meta.Validate(); err != nil {
		return failed(ErrorKindContractViolation, "invalid strategy metadata: %v", err)
	}
	if req.Days <= 0 {
		return failed(ErrorKindInvalidRequest, "backtest days must be positive, got %d", req.Days)
	}

	bt.log.Debug("loading bars", "source", bt.opts.Source.Name(), "symbol", symbol, "days", req.Days)
	bars, err := bt.opts.Source.Bars(ctx, symbol, req.Days, bt.opts.FreqMinutes)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return failed(ErrorKindDataUnavailable, "loading bars from %s: %v", bt.opts.Source.Name(), err)
	}

	adapter := strategy.NewAdapter(s, params, bt.opts.Warmup)
	return Simulate(ctx, adapter, bars, SimConfig{
		Symbol:         symbol,
		InitialCapital: req.InitialCapital,
		MinConfidence:  bt.opts.MinConfidence,
		BarsPerYear:    bt.opts.Calendar.BarsPerYear(bt.opts.FreqMinutes),
	})
}
