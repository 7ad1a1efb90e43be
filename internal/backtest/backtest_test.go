package backtest

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"stratlab/internal/domain"
	"stratlab/internal/strategy"
)

var t0 = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

// makeBars builds flat bars at the given closes. Volume carries the bar
// index so scripted strategies can tell where they are.
func makeBars(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    int64(i),
		}
	}
	return bars
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// scripted is a test strategy whose signal is a function of the current
// bar's index.
type scripted struct {
	params strategy.Params
	fn     func(index int) (domain.Signal, error)
}

func newScripted(fn func(index int) (domain.Signal, error)) *scripted {
	return &scripted{
		params: strategy.Params{
			strategy.ParamMaxPositionPct: 0.5,
			strategy.ParamStopLossPct:    -0.03,
			strategy.ParamTakeProfitPct:  0.06,
		},
		fn: fn,
	}
}

func (s *scripted) Meta() strategy.Meta {
	return strategy.Meta{ID: "scripted", Symbols: strategy.Symbols("TEST"), Params: s.params}
}

func (s *scripted) GenerateSignal(window []domain.Bar, _ strategy.Params) (domain.Signal, error) {
	return s.fn(int(window[len(window)-1].Volume))
}

func buyAt(indices ...int) func(int) (domain.Signal, error) {
	return func(i int) (domain.Signal, error) {
		for _, idx := range indices {
			if i == idx {
				return domain.Signal{Action: domain.ActionBuy, Confidence: 0.8}, nil
			}
		}
		return domain.Hold("wait"), nil
	}
}

func simulate(t *testing.T, s strategy.Strategy, bars []domain.Bar) *Result {
	t.Helper()
	a := strategy.NewAdapter(s, nil, 0)
	return Simulate(context.Background(), a, bars, SimConfig{InitialCapital: 100000, BarsPerYear: 252 * 26})
}

func TestSimulateTakeProfitRoundTrip(t *testing.T) {
	closes := append(repeat(100, 51), 101, 102, 103, 104, 105, 106, 107)
	res := simulate(t, newScripted(buyAt(50)), makeBars(closes...))

	if res.Status != StatusSuccess {
		t.Fatalf("status = %s (%s), want success", res.Status, res.Message)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitTakeProfit {
		t.Errorf("exit reason = %s, want take_profit", tr.ExitReason)
	}
	if tr.PnLPct < 0.06 {
		t.Errorf("pnl_pct = %v, want >= 0.06", tr.PnLPct)
	}
	if tr.EntryPrice != 100 || tr.ExitPrice != 106 || tr.Qty != 500 {
		t.Errorf("trade = %+v, want 500 shares 100 -> 106", tr)
	}
	if tr.EntryIndex != 50 || tr.ExitIndex != 56 {
		t.Errorf("trade indices = %d -> %d, want 50 -> 56", tr.EntryIndex, tr.ExitIndex)
	}
	if got, want := len(res.Equity), len(closes)-50+1; got != want {
		t.Errorf("len(equity) = %d, want %d", got, want)
	}
	if res.FinalValue() != 103000 {
		t.Errorf("final value = %v, want 103000", res.FinalValue())
	}
	if res.OpenPosition != nil {
		t.Errorf("open position = %+v, want none", res.OpenPosition)
	}
}

func TestSimulateStopLoss(t *testing.T) {
	closes := append(repeat(100, 51), 99, 98, 96.5, 95)
	res := simulate(t, newScripted(buyAt(50)), makeBars(closes...))

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitStopLoss || tr.ExitPrice != 96.5 {
		t.Errorf("trade = %+v, want stop_loss at 96.5", tr)
	}
	if tr.PnLPct > -0.03+1e-12 {
		t.Errorf("pnl_pct = %v, want <= -0.03", tr.PnLPct)
	}
}

func TestSimulateSellBeatsRiskCheck(t *testing.T) {
	closes := append(repeat(100, 51), 110)
	s := newScripted(func(i int) (domain.Signal, error) {
		switch i {
		case 50:
			return domain.Signal{Action: domain.ActionBuy, Confidence: 0.9}, nil
		case 51:
			return domain.Signal{Action: domain.ActionSell, Confidence: 0.1}, nil
		}
		return domain.Hold(""), nil
	})
	res := simulate(t, s, makeBars(closes...))
	if len(res.Trades) != 1 || res.Trades[0].ExitReason != domain.ExitSignal {
		t.Fatalf("trades = %+v, want one signal exit", res.Trades)
	}
}

func TestSimulateOpenPositionNotClosedAtEnd(t *testing.T) {
	closes := append(repeat(100, 51), 101, 102)
	res := simulate(t, newScripted(buyAt(50)), makeBars(closes...))

	if res.Status != StatusNoTrades {
		t.Fatalf("status = %s, want no_trades", res.Status)
	}
	if res.OpenPosition == nil || res.OpenPosition.Qty != 500 {
		t.Fatalf("open position = %+v, want 500 shares", res.OpenPosition)
	}
	if res.FinalValue() != 101000 {
		t.Errorf("final value = %v, want 101000 (marked to market)", res.FinalValue())
	}
}

func TestSimulateLowConfidenceAndUnaffordable(t *testing.T) {
	low := newScripted(func(int) (domain.Signal, error) {
		return domain.Signal{Action: domain.ActionBuy, Confidence: 0.49}, nil
	})
	if res := simulate(t, low, makeBars(repeat(100, 60)...)); res.Status != StatusNoTrades || res.OpenPosition != nil {
		t.Errorf("confidence 0.49 opened a position: %+v", res)
	}

	// 0.5 × 100000 buys no share priced at 60000.
	pricey := newScripted(buyAt(50, 51, 52))
	res := simulate(t, pricey, makeBars(repeat(60000, 60)...))
	if res.OpenPosition != nil {
		t.Errorf("opened %+v with zero affordable quantity", res.OpenPosition)
	}
}

func TestSimulateInsufficientData(t *testing.T) {
	res := simulate(t, newScripted(buyAt(0)), makeBars(repeat(100, 49)...))
	if res.Status != StatusError || res.ErrorKind != ErrorKindDataInsufficient {
		t.Fatalf("status = %s/%s, want error/data_insufficient", res.Status, res.ErrorKind)
	}
	if !strings.Contains(res.Message, "49") {
		t.Errorf("message %q does not mention the bar count", res.Message)
	}
	if res.Metrics != nil || res.Steps != 0 {
		t.Error("metrics computed for an insufficient run")
	}

	rep := NewReport(ReportInput{StrategyID: "scripted", BacktestDays: 1, InitialCapital: 100000, Now: t0}, res)
	out, err := rep.MarshalIndent()
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	if strings.Contains(string(out), "final_value") || strings.Contains(string(out), "sharpe_ratio") {
		t.Errorf("error report carries metrics:\n%s", out)
	}
}

func TestSimulateNeverBuys(t *testing.T) {
	never := newScripted(func(int) (domain.Signal, error) { return domain.Hold("never"), nil })
	bars := makeBars(repeat(100, 120)...)
	for i := range bars {
		bars[i].Close = 100 + float64(i%7)
		bars[i].High = bars[i].Close
	}
	res := simulate(t, never, bars)

	if res.Status != StatusNoTrades {
		t.Fatalf("status = %s, want no_trades", res.Status)
	}
	if len(res.Trades) != 0 {
		t.Errorf("trades = %d, want 0", len(res.Trades))
	}
	for i, v := range res.Equity {
		if v != 100000 {
			t.Fatalf("equity[%d] = %v, want flat 100000", i, v)
		}
	}
}

func TestSimulateContractViolation(t *testing.T) {
	tests := []struct {
		name string
		fn   func(int) (domain.Signal, error)
	}{
		{"error", func(int) (domain.Signal, error) { return domain.Signal{}, errors.New("boom") }},
		{"panic", func(int) (domain.Signal, error) { panic("kaput") }},
		{"bad action", func(int) (domain.Signal, error) { return domain.Signal{Action: "SHORT"}, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := simulate(t, newScripted(tt.fn), makeBars(repeat(100, 60)...))
			if res.Status != StatusError || res.ErrorKind != ErrorKindContractViolation {
				t.Fatalf("status = %s/%s, want error/contract_violation", res.Status, res.ErrorKind)
			}
		})
	}
}

func TestSimulateInvalidBars(t *testing.T) {
	tests := []struct {
		name  string
		index int
		mod   func(*domain.Bar)
	}{
		{"zero close", 10, func(b *domain.Bar) { b.Close = 0 }},
		{"nan close while holding", 53, func(b *domain.Bar) { b.Close = math.NaN() }},
		{"inf high", 55, func(b *domain.Bar) { b.High = math.Inf(1) }},
		{"nan low", 20, func(b *domain.Bar) { b.Low = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := makeBars(repeat(100, 60)...)
			tt.mod(&bars[tt.index])
			res := simulate(t, newScripted(buyAt(50)), bars)
			if res.Status != StatusError || res.ErrorKind != ErrorKindDataInvalid {
				t.Fatalf("status = %s/%s, want error/data_invalid", res.Status, res.ErrorKind)
			}
			if len(res.Trades) != 0 || res.Metrics != nil {
				t.Errorf("invalid run produced trades=%d metrics=%v", len(res.Trades), res.Metrics)
			}
		})
	}
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	s := newScripted(func(i int) (domain.Signal, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return domain.Hold(""), nil
	})
	a := strategy.NewAdapter(s, nil, 0)
	res := Simulate(ctx, a, makeBars(repeat(100, 80)...), SimConfig{InitialCapital: 1000})

	if res.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}
	if calls != 3 {
		t.Errorf("strategy called %d times after cancellation, want 3", calls)
	}
	if res.Metrics != nil {
		t.Error("cancelled run carries metrics")
	}
}

// randomWalkStrategy emits signals drawn from a generator keyed by the bar
// index, so runs are repeatable.
func randomWalkStrategy(seed uint64) *scripted {
	return newScripted(func(i int) (domain.Signal, error) {
		r := rand.New(rand.NewPCG(seed, uint64(i)))
		switch r.IntN(6) {
		case 0:
			return domain.Signal{Action: domain.ActionBuy, Confidence: r.Float64()}, nil
		case 1:
			return domain.Signal{Action: domain.ActionSell, Confidence: r.Float64()}, nil
		}
		return domain.Hold(""), nil
	})
}

func TestSimulateAccountingInvariants(t *testing.T) {
	for seed := uint64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewPCG(seed, 99))
		n := 60 + rng.IntN(200)
		closes := make([]float64, n)
		price := 50 + rng.Float64()*100
		for i := range closes {
			price *= 1 + rng.NormFloat64()*0.02
			closes[i] = math.Round(price*100) / 100
		}
		bars := makeBars(closes...)
		res := simulate(t, randomWalkStrategy(seed), bars)

		if res.Status == StatusError || res.Status == StatusCancelled {
			t.Fatalf("seed %d: status %s (%s)", seed, res.Status, res.Message)
		}
		if len(res.Equity) != res.Steps+1 || res.Steps != n-50 {
			t.Fatalf("seed %d: len(equity) = %d, steps = %d, bars = %d", seed, len(res.Equity), res.Steps, n)
		}

		prevExit := -1
		for _, tr := range res.Trades {
			if tr.EntryIndex >= tr.ExitIndex || tr.EntryIndex <= prevExit {
				t.Fatalf("seed %d: overlapping or inverted trade %+v after exit %d", seed, tr, prevExit)
			}
			prevExit = tr.ExitIndex
			switch tr.ExitReason {
			case domain.ExitStopLoss:
				if tr.PnLPct > -0.03+1e-9 {
					t.Fatalf("seed %d: stop-loss trade with pnl_pct %v", seed, tr.PnLPct)
				}
			case domain.ExitTakeProfit:
				if tr.PnLPct < 0.06-1e-9 {
					t.Fatalf("seed %d: take-profit trade with pnl_pct %v", seed, tr.PnLPct)
				}
			}
		}

		// Rebuild each equity point from realised and unrealised P&L.
		for k := 1; k < len(res.Equity); k++ {
			i := 50 + k - 1
			want := 100000.0
			open := false
			for _, tr := range res.Trades {
				switch {
				case tr.ExitIndex <= i:
					want += tr.PnL
				case tr.EntryIndex <= i:
					want += float64(tr.Qty) * (closes[i] - tr.EntryPrice)
					open = true
				}
			}
			if !open && res.OpenPosition != nil && i > prevExit && i == n-1 {
				want += float64(res.OpenPosition.Qty) * (closes[i] - res.OpenPosition.EntryPrice)
			} else if !open && res.OpenPosition != nil && i > prevExit {
				// An entry after the last exit; only the final point is checked.
				continue
			}
			if math.Abs(res.Equity[k]-want) > 1e-6 {
				t.Fatalf("seed %d: equity[%d] = %v, want %v", seed, k, res.Equity[k], want)
			}
		}
	}
}
