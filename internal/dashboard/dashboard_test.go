package dashboard

import (
	"errors"
	"strings"
	"testing"

	"stratlab/internal/backtest"
	"stratlab/internal/screen"
	"stratlab/internal/strategy"
)

func TestFormatters(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatInt(0), "0"},
		{FormatInt(1234567), "1,234,567"},
		{FormatInt(-1234), "-1,234"},
		{FormatMoney(100000), "100,000.00"},
		{FormatMoney(-1234.567), "-1,234.57"},
		{FormatPct(0.0123), "+1.2%"},
		{FormatPct(-0.004), "-0.4%"},
		{FormatPct(1.5), "+150%"},
		{FormatRatio(999, 999), "inf"},
		{FormatRatio(1.234, 999), "1.23"},
		{padOrTrunc("abc", 5), "abc  "},
		{padOrTrunc("abcdef", 3), "abc"},
	}
	for i, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("case %d = %q, want %q", i, tt.got, tt.want)
		}
	}
}

func run(id string, status backtest.Status, sharpe float64) *backtest.Run {
	r := &backtest.Run{Meta: strategy.Meta{ID: id, Archetype: "momentum", AssetClass: "equity"}}
	r.Report = backtest.Report{Status: status, StrategyID: id}
	if status == backtest.StatusSuccess {
		r.Report.Summary = &backtest.Summary{FinalValue: 101000, SharpeRatio: sharpe, TotalTrades: 4, ProfitFactor: 999}
	} else {
		r.Report.Message = "no trades during the backtest period"
	}
	return r
}

func TestLeaderboardOrdering(t *testing.T) {
	out := Leaderboard([]screen.Outcome{
		{StrategyID: "weak", Run: run("weak", backtest.StatusSuccess, -0.5)},
		{StrategyID: "idle", Run: run("idle", backtest.StatusNoTrades, 0)},
		{StrategyID: "missing", Err: errors.New("strategy not found")},
		{StrategyID: "strong", Run: run("strong", backtest.StatusSuccess, 2.1)},
	})

	strong := strings.Index(out, "strong")
	weak := strings.Index(out, "weak")
	if strong < 0 || weak < 0 || strong > weak {
		t.Errorf("accepted run not listed first:\n%s", out)
	}
	for _, want := range []string{"4 candidates", "not run", "no trades during", "inf", "101,000.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("leaderboard missing %q:\n%s", want, out)
		}
	}
}

func TestFeatureMapRender(t *testing.T) {
	if out := FeatureMap(nil); !strings.Contains(out, "no accepted runs") {
		t.Errorf("empty map = %q", out)
	}
	fm := screen.NewFeatureMap()
	fm.Offer(run("strong", backtest.StatusSuccess, 2.1))
	out := FeatureMap(fm.Elites())
	if !strings.Contains(out, "momentum/equity") || !strings.Contains(out, "sharpe 2.10") {
		t.Errorf("feature map = %q", out)
	}
}
