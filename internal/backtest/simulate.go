// Package backtest replays a bar series through a strategy, tracks the
// position and capital bar by bar, and turns the resulting trade ledger and
// equity curve into metrics and a report.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"stratlab/internal/broker"
	"stratlab/internal/domain"
	"stratlab/internal/engine"
	"stratlab/internal/strategy"
)

// DefaultMinConfidence is the lowest BUY confidence that opens a position.
const DefaultMinConfidence = 0.5

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusNoTrades  Status = "no_trades"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// ErrorKind classifies an error status.
type ErrorKind string

const (
	ErrorKindDataInsufficient  ErrorKind = "data_insufficient"
	ErrorKindDataInvalid       ErrorKind = "data_invalid"
	ErrorKindDataUnavailable   ErrorKind = "data_unavailable"
	ErrorKindContractViolation ErrorKind = "contract_violation"
	ErrorKindInvalidRequest    ErrorKind = "invalid_request"
	ErrorKindInternal          ErrorKind = "internal"
)

// SimConfig holds the run-level inputs of a simulation.
type SimConfig struct {
	Symbol         string
	InitialCapital float64
	// MinConfidence gates BUY signals; <= 0 means DefaultMinConfidence.
	MinConfidence float64
	// BarsPerYear annualises the Sharpe ratio for the bar cadence.
	BarsPerYear float64
}

// Result is everything a simulation produced. Metrics is set only when
// Status is StatusSuccess.
type Result struct {
	Status    Status
	ErrorKind ErrorKind
	Message   string

	// Equity holds the initial capital followed by one mark-to-market
	// value per simulated bar.
	Equity       []float64
	Trades       []domain.Trade
	Steps        int
	OpenPosition *domain.Position
	Metrics      *Metrics
}

// FinalValue returns the last equity point.
func (r *Result) FinalValue() float64 {
	if len(r.Equity) == 0 {
		return 0
	}
	return r.Equity[len(r.Equity)-1]
}

func failed(kind ErrorKind, format string, args ...any) *Result {
	return &Result{Status: StatusError, ErrorKind: kind, Message: fmt.Sprintf(format, args...)}
}

func cancelled(err error) *Result {
	return &Result{Status: StatusCancelled, Message: fmt.Sprintf("run cancelled: %v", err)}
}

// Simulate runs the strategy behind a over bars. From bar index Warmup
// onwards it hands the strategy the trailing window ending at the current
// bar, steps the position engine at that bar's close and appends the
// resulting equity. The context is checked at every bar boundary.
//
// Simulate never returns an error: every failure is captured in the
// Result's status, error kind and message.
func Simulate(ctx context.Context, a *strategy.Adapter, bars []domain.Bar, cfg SimConfig) *Result {
	warmup := a.Warmup()
	if len(bars) < warmup {
		return failed(ErrorKindDataInsufficient, "insufficient data: %d bars, need at least %d", len(bars), warmup)
	}
	if !(cfg.InitialCapital > 0) {
		return failed(ErrorKindInvalidRequest, "initial capital must be positive, got %v", cfg.InitialCapital)
	}
	if err := domain.ValidateBars(bars); err != nil {
		return failed(ErrorKindDataInvalid, "invalid bars: %v", err)
	}

	params := a.Params()
	if err := strategy.ValidateParams(params); err != nil {
		return failed(ErrorKindContractViolation, "%s: %v", a.Meta().ID, err)
	}
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	symbol := cfg.Symbol
	if symbol == "" {
		symbol = bars[0].Symbol
	}

	risk := engine.NewRiskManager(
		params.Get(strategy.ParamMaxPositionPct),
		params.Get(strategy.ParamStopLossPct),
		params.Get(strategy.ParamTakeProfitPct),
	)
	sim := broker.NewSimulatorBroker(cfg.InitialCapital)
	eng := engine.NewEngine(sim, risk, symbol, cfg.InitialCapital, minConf)

	equity := make([]float64, 1, len(bars)-warmup+1)
	equity[0] = cfg.InitialCapital

	for i := warmup; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		sig, err := a.Signal(bars[i-warmup : i+1])
		if err != nil {
			kind := ErrorKindContractViolation
			if !errors.Is(err, strategy.ErrContractViolation) {
				kind = ErrorKindInternal
			}
			return failed(kind, "bar %d: %v", i, err)
		}

		bar := bars[i]
		sim.Mark(symbol, bar.Close)
		if _, err := eng.Step(ctx, i, bar, sig); err != nil {
			return failed(ErrorKindInternal, "bar %d: %v", i, err)
		}
		equity = append(equity, eng.Equity(bar.Close))
	}

	res := &Result{
		Equity: equity,
		Trades: eng.Trades(),
		Steps:  len(equity) - 1,
	}
	if pos, ok := eng.Position(); ok {
		res.OpenPosition = &pos
	}
	if len(res.Trades) == 0 {
		res.Status = StatusNoTrades
		res.Message = "no trades during the backtest period"
		return res
	}

	m := ComputeMetrics(res.Trades, equity, cfg.InitialCapital, cfg.BarsPerYear)
	res.Status = StatusSuccess
	res.Metrics = &m
	return res
}
