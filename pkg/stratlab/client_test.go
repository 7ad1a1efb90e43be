package stratlab

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"stratlab/internal/api"
	"stratlab/internal/backtest"
	"stratlab/internal/barsource"
	"stratlab/internal/domain"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
	"stratlab/internal/strategy/builtins"
	"stratlab/internal/util"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
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
		t.Fatal(err)
	}
	t.Cleanup(func() { runs.Close() })
	svc := api.NewBacktestService(bt, reg, runs, nil, api.Defaults{Days: 5, InitialCapital: 100000}, util.Discard())

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	gs.RegisterService(&api.ServiceDesc, svc)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	strategies, err := c.ListStrategies(ctx)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(strategies) != 5 {
		t.Fatalf("strategies = %d, want 5", len(strategies))
	}

	rep, err := c.RunBacktest(ctx, RunRequest{StrategyID: "seed_momentum_rsi_v1", Days: 3, Save: true})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if rep.StrategyID != "seed_momentum_rsi_v1" || rep.BacktestDays != 3 || rep.InitialCapital != 100000 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Symbol != "AAPL" || rep.RunID == "" {
		t.Errorf("symbol/run_id = %q/%q", rep.Symbol, rep.RunID)
	}

	runs, err := c.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != rep.RunID || runs[0].Status != rep.Status {
		t.Errorf("runs = %+v", runs)
	}
}

func TestClientNotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.RunBacktest(context.Background(), RunRequest{StrategyID: "missing"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("error = %v, want NotFound", err)
	}
}

func TestReportAccepted(t *testing.T) {
	if !(Report{Status: "success", SharpeRatio: 0.1}).Accepted() {
		t.Error("positive Sharpe success rejected")
	}
	if (Report{Status: "success"}).Accepted() || (Report{Status: "no_trades", SharpeRatio: 1}).Accepted() {
		t.Error("non-qualifying report accepted")
	}
}
