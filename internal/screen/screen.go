// Package screen evaluates many strategy candidates concurrently, each under
// its own time budget, and keeps the best accepted run per feature cell.
package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stratlab/internal/backtest"
	"stratlab/internal/metrics"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
	"stratlab/internal/util"
)

// Runner executes one backtest. *backtest.Backtester satisfies it.
type Runner interface {
	Run(ctx context.Context, req backtest.Request) (*backtest.Run, error)
}

// ParamSource supplies per-strategy parameter overrides.
type ParamSource interface {
	Get(strategyID string) strategy.Params
}

// Options configures a Screener.
type Options struct {
	Workers          int
	CandidateTimeout time.Duration
	Days             int
	InitialCapital   float64

	// Params, Runs and Metrics are optional.
	Params  ParamSource
	Runs    store.RunStore
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Outcome is the result of one candidate. Err is set only when the run
// could not be started at all; every other failure is in Run.Report.
type Outcome struct {
	StrategyID string
	Run        *backtest.Run
	RunID      string
	Err        error
}

// Screener runs candidates on a bounded worker pool.
type Screener struct {
	runner Runner
	opts   Options
	log    *slog.Logger
}

// NewScreener creates a Screener. Workers <= 0 means 1.
func NewScreener(runner Runner, opts Options) *Screener {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	return &Screener{runner: runner, opts: opts, log: log.With("component", "screener")}
}

// Evaluate runs every candidate and returns outcomes in input order. One
// failing candidate never stops the others; cancelling ctx makes pending
// candidates report a cancelled status.
func (s *Screener) Evaluate(ctx context.Context, ids []string) []Outcome {
	outcomes := make([]Outcome, len(ids))
	sem := make(chan struct{}, s.opts.Workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, id := range ids {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = s.evaluateOne(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	accepted := 0
	for _, o := range outcomes {
		if o.Run != nil && o.Run.Report.Accepted() {
			accepted++
		}
	}
	s.log.Info("screening finished", "candidates", len(ids), "accepted", accepted)
	return outcomes
}

func (s *Screener) evaluateOne(ctx context.Context, id string) Outcome {
	out := Outcome{StrategyID: id}
	if s.opts.CandidateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CandidateTimeout)
		defer cancel()
	}

	req := backtest.Request{
		StrategyID:     id,
		Days:           s.opts.Days,
		InitialCapital: s.opts.InitialCapital,
	}
	if s.opts.Params != nil {
		req.Params = s.opts.Params.Get(id)
	}

	start := time.Now()
	run, err := s.runner.Run(ctx, req)
	if err != nil {
		out.Err = err
		s.log.Warn("candidate not run", "strategy", id, "error", err)
		if s.opts.Metrics != nil && errors.Is(err, backtest.ErrStrategyNotFound) {
			s.opts.Metrics.ObserveLookupFailure()
		}
		return out
	}
	out.Run = run
	s.observe(run, time.Since(start))

	if s.opts.Runs != nil {
		// Saving is detached from the candidate budget so a run that hit
		// its deadline is still recorded.
		id, err := s.save(context.WithoutCancel(ctx), run)
		if err != nil {
			s.log.Error("saving run", "strategy", run.Meta.ID, "error", err)
		}
		out.RunID = id
	}
	return out
}

func (s *Screener) observe(run *backtest.Run, elapsed time.Duration) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveRun(run.Observation(elapsed))
	}
}

func (s *Screener) save(ctx context.Context, run *backtest.Run) (string, error) {
	rec, err := run.Record()
	if err != nil {
		return "", err
	}
	if err := s.opts.Runs.SaveRun(ctx, rec); err != nil {
		return "", fmt.Errorf("saving run for %s: %w", run.Meta.ID, err)
	}
	return rec.ID, nil
}

// ---------------------------------------------------------------------------
// Feature map
// ---------------------------------------------------------------------------

// Cell is a feature-map coordinate.
type Cell struct {
	Archetype  string
	AssetClass string
}

func (c Cell) String() string { return c.Archetype + "/" + c.AssetClass }

// Elite is the best accepted run in a cell.
type Elite struct {
	Cell       Cell
	StrategyID string
	Report     backtest.Report
}

// FeatureMap keeps the best accepted run per (archetype, asset class),
// ranked by Sharpe ratio. It is safe for concurrent use.
type FeatureMap struct {
	mu     sync.RWMutex
	elites map[Cell]Elite
}

// NewFeatureMap creates an empty FeatureMap.
func NewFeatureMap() *FeatureMap {
	return &FeatureMap{elites: make(map[Cell]Elite)}
}

// Offer places run in its cell when it is accepted and beats the current
// elite. Ties keep the incumbent. It reports whether run became the elite.
func (fm *FeatureMap) Offer(run *backtest.Run) bool {
	if run == nil || !run.Report.Accepted() {
		return false
	}
	cell := Cell{Archetype: run.Meta.Archetype, AssetClass: run.Meta.AssetClass}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if cur, ok := fm.elites[cell]; ok && cur.Report.SharpeRatio >= run.Report.SharpeRatio {
		return false
	}
	fm.elites[cell] = Elite{Cell: cell, StrategyID: run.Meta.ID, Report: run.Report}
	return true
}

// AddAll offers every successful outcome.
func (fm *FeatureMap) AddAll(outcomes []Outcome) {
	for _, o := range outcomes {
		fm.Offer(o.Run)
	}
}

// Elites returns the cells' elites sorted by Sharpe ratio, best first.
func (fm *FeatureMap) Elites() []Elite {
	fm.mu.RLock()
	out := make([]Elite, 0, len(fm.elites))
	for _, e := range fm.elites {
		out = append(out, e)
	}
	fm.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Report.SharpeRatio != out[j].Report.SharpeRatio {
			return out[i].Report.SharpeRatio > out[j].Report.SharpeRatio
		}
		return out[i].Cell.String() < out[j].Cell.String()
	})
	return out
}

// Len returns the number of occupied cells.
func (fm *FeatureMap) Len() int {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return len(fm.elites)
}
