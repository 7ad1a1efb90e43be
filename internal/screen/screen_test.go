package screen

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"stratlab/internal/backtest"
	"stratlab/internal/barsource"
	"stratlab/internal/domain"
	"stratlab/internal/metrics"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
	"stratlab/internal/strategy/builtins"
	"stratlab/internal/util"
)

// fakeRunner returns canned reports and tracks concurrency.
type fakeRunner struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	sharpe   map[string]float64
}

func (f *fakeRunner) Run(ctx context.Context, req backtest.Request) (*backtest.Run, error) {
	if req.StrategyID == "missing" {
		return nil, fmt.Errorf("%w: missing", backtest.ErrStrategyNotFound)
	}
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	run := &backtest.Run{Meta: strategy.Meta{ID: req.StrategyID, Archetype: "momentum", AssetClass: "equity"}}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		run.Report = backtest.Report{Status: backtest.StatusCancelled, StrategyID: req.StrategyID}
		return run, nil
	}
	run.Report = backtest.Report{
		Status:     backtest.StatusSuccess,
		StrategyID: req.StrategyID,
		Summary:    &backtest.Summary{SharpeRatio: f.sharpe[req.StrategyID], TotalTrades: 1},
	}
	return run, nil
}

func TestEvaluateOrderAndIsolation(t *testing.T) {
	runner := &fakeRunner{delay: 10 * time.Millisecond, sharpe: map[string]float64{"a": 1, "b": 2, "c": -1}}
	s := NewScreener(runner, Options{Workers: 2, Days: 5, InitialCapital: 1000})

	out := s.Evaluate(context.Background(), []string{"a", "missing", "b", "c"})
	if len(out) != 4 {
		t.Fatalf("outcomes = %d, want 4", len(out))
	}
	for i, id := range []string{"a", "missing", "b", "c"} {
		if out[i].StrategyID != id {
			t.Errorf("outcome %d = %s, want %s", i, out[i].StrategyID, id)
		}
	}
	if !errors.Is(out[1].Err, backtest.ErrStrategyNotFound) || out[1].Run != nil {
		t.Errorf("missing candidate outcome = %+v", out[1])
	}
	for _, i := range []int{0, 2, 3} {
		if out[i].Err != nil || out[i].Run.Report.Status != backtest.StatusSuccess {
			t.Errorf("candidate %s = %+v", out[i].StrategyID, out[i])
		}
	}
	if p := runner.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestEvaluateCandidateTimeout(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	s := NewScreener(runner, Options{Workers: 4, CandidateTimeout: 20 * time.Millisecond})

	start := time.Now()
	out := s.Evaluate(context.Background(), []string{"slow1", "slow2"})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Evaluate took %v despite a 20ms budget", elapsed)
	}
	for _, o := range out {
		if o.Run.Report.Status != backtest.StatusCancelled {
			t.Errorf("%s status = %s, want cancelled", o.StrategyID, o.Run.Report.Status)
		}
	}
}

func TestFeatureMap(t *testing.T) {
	mk := func(id, arch string, sharpe float64, status backtest.Status) *backtest.Run {
		return &backtest.Run{
			Meta: strategy.Meta{ID: id, Archetype: arch, AssetClass: "equity"},
			Report: backtest.Report{
				Status:  status,
				Summary: &backtest.Summary{SharpeRatio: sharpe},
			},
		}
	}
	fm := NewFeatureMap()
	if !fm.Offer(mk("m1", "momentum", 1.0, backtest.StatusSuccess)) {
		t.Fatal("first accepted run rejected")
	}
	if fm.Offer(mk("m2", "momentum", 0.5, backtest.StatusSuccess)) {
		t.Error("weaker run replaced elite")
	}
	if fm.Offer(mk("m3", "momentum", 1.0, backtest.StatusSuccess)) {
		t.Error("tie replaced incumbent")
	}
	if !fm.Offer(mk("m4", "momentum", 2.0, backtest.StatusSuccess)) {
		t.Error("stronger run rejected")
	}
	if fm.Offer(mk("e1", "event", -0.5, backtest.StatusSuccess)) {
		t.Error("negative-Sharpe run accepted")
	}
	if fm.Offer(mk("e2", "event", 3, backtest.StatusNoTrades)) {
		t.Error("no_trades run accepted")
	}
	fm.Offer(mk("e3", "event", 0.7, backtest.StatusSuccess))

	elites := fm.Elites()
	if len(elites) != 2 || fm.Len() != 2 {
		t.Fatalf("elites = %+v", elites)
	}
	if elites[0].StrategyID != "m4" || elites[1].StrategyID != "e3" {
		t.Errorf("elite order = %s, %s; want m4, e3", elites[0].StrategyID, elites[1].StrategyID)
	}
}

func TestEvaluateBuiltinsPersistsAndCounts(t *testing.T) {
	reg := strategy.NewRegistry()
	if err := builtins.RegisterAll(reg, builtins.Evidence{}); err != nil {
		t.Fatal(err)
	}
	cal := util.NewTradingCalendar(domain.MarketUS)
	bt := backtest.NewBacktester(reg, backtest.Options{
		Source:   barsource.NewSynthetic(42, time.Time{}, 0, cal),
		Calendar: cal,
	})

	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer runs.Close()
	rec := metrics.NewRecorder()

	s := NewScreener(bt, Options{
		Workers:          3,
		CandidateTimeout: time.Minute,
		Days:             5,
		InitialCapital:   100000,
		Runs:             runs,
		Metrics:          rec,
	})
	ids := reg.List()
	out := s.Evaluate(context.Background(), ids)

	for _, o := range out {
		if o.Err != nil {
			t.Fatalf("%s: %v", o.StrategyID, o.Err)
		}
		if o.RunID == "" {
			t.Fatalf("%s: run not saved", o.StrategyID)
		}
		got, err := runs.GetRun(context.Background(), o.RunID)
		if err != nil {
			t.Fatalf("GetRun(%s): %v", o.RunID, err)
		}
		if got.StrategyID != o.StrategyID || got.Status != string(o.Run.Report.Status) {
			t.Errorf("stored run = %+v", got)
		}
	}

	listed, err := runs.ListRuns(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(listed) != len(ids) {
		t.Errorf("stored runs = %d, want %d", len(listed), len(ids))
	}
	n, err := testutil.GatherAndCount(rec.Registry(), "stratlab_backtest_runs_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n == 0 {
		t.Error("no runs_total series recorded")
	}
}
