package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"stratlab/internal/domain"
)

var aapl15 = SeriesKey{Symbol: "AAPL", Market: domain.MarketUS, FreqMinutes: 15}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath(SeriesKey{Symbol: "aapl", Market: domain.MarketUS, FreqMinutes: 15}, 2024)
	want := filepath.Join("/data", "us", "15m", "AAPL", "2024.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}
	if got := aapl15.String(); got != "us/15m/AAPL" {
		t.Errorf("SeriesKey.String() = %q", got)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000,
			TradeCount: 500,
			VWAP:       185.25,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 14, 45, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000,
			TradeCount: 450,
			VWAP:       185.75,
		},
	}

	if err := ps.WriteBars(ctx, aapl15, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, aapl15, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 || got[1].Close != 186.0 {
		t.Errorf("closes = %v, %v, want 185.5, 186.0", got[0].Close, got[1].Close)
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) || got[0].VWAP != 185.25 {
		t.Errorf("first bar = %+v", got[0])
	}

	// Other frequencies are separate series.
	other, err := ps.ReadBars(ctx, SeriesKey{Symbol: "AAPL", Market: domain.MarketUS, FreqMinutes: 5}, start, end)
	if err != nil || len(other) != 0 {
		t.Errorf("5m series = %d bars, %v, want empty", len(other), err)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()
	key := SeriesKey{Symbol: "MSFT", Market: domain.MarketUS, FreqMinutes: 15}
	ts := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	first := []domain.Bar{{Symbol: "MSFT", Timestamp: ts, Open: 400, High: 405, Low: 399, Close: 403}}
	if err := ps.WriteBars(ctx, key, first); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// A later bar plus a correction of the first: merge, newest wins.
	second := []domain.Bar{
		{Symbol: "MSFT", Timestamp: ts.Add(15 * time.Minute), Open: 403, High: 410, Low: 402, Close: 408},
		{Symbol: "MSFT", Timestamp: ts, Open: 400, High: 405, Low: 399, Close: 404},
	}
	if err := ps.WriteBars(ctx, key, second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, key, ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404 || got[1].Close != 408 {
		t.Errorf("closes after merge = %v, %v, want 404, 408", got[0].Close, got[1].Close)
	}
}

func TestParquetStoreLastBarsAcrossYears(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	var bars []domain.Bar
	start := time.Date(2023, 12, 29, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		ts := start.Add(time.Duration(i) * 24 * time.Hour)
		bars = append(bars, domain.Bar{Symbol: "AAPL", Timestamp: ts, Open: 1, High: 1, Low: 1, Close: float64(i + 1)})
	}
	if err := ps.WriteBars(ctx, aapl15, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.LastBars(ctx, aapl15, 4)
	if err != nil {
		t.Fatalf("LastBars: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("LastBars returned %d bars, want 4", len(got))
	}
	for i, b := range got {
		if want := float64(i + 3); b.Close != want {
			t.Errorf("bar %d close = %v, want %v", i, b.Close, want)
		}
	}

	all, _ := ps.LastBars(ctx, aapl15, 100)
	if len(all) != 6 {
		t.Errorf("LastBars(100) returned %d bars, want 6", len(all))
	}
	none, err := ps.LastBars(ctx, SeriesKey{Symbol: "NONE", Market: domain.MarketUS, FreqMinutes: 15}, 10)
	if err != nil || len(none) != 0 {
		t.Errorf("LastBars(missing) = %d bars, %v", len(none), err)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	for _, sym := range []string{"GOOGL", "AAPL"} {
		key := SeriesKey{Symbol: sym, Market: domain.MarketUS, FreqMinutes: 15}
		bar := domain.Bar{Symbol: sym, Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1}
		if err := ps.WriteBars(ctx, key, []domain.Bar{bar}); err != nil {
			t.Fatalf("WriteBars: %v", err)
		}
	}

	symbols, err := ps.ListSymbols(ctx, domain.MarketUS, 15)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}

	if symbols, _ := ps.ListSymbols(ctx, domain.MarketCN, 15); len(symbols) != 0 {
		t.Errorf("ListSymbols(cn) = %v, want empty", symbols)
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreSaveGetRun(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	entry := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	run := &RunRecord{
		StrategyID:   "seed_momentum_rsi_v1",
		Symbol:       "AAPL",
		Status:       "success",
		BacktestDays: 30,
		TotalReturn:  0.0123,
		SharpeRatio:  1.5,
		MaxDrawdown:  0.02,
		TotalTrades:  2,
		Report:       []byte(`{"status":"success"}`),
		Trades: []domain.Trade{
			{Symbol: "AAPL", EntryTime: entry, ExitTime: entry.Add(time.Hour), EntryIndex: 50, ExitIndex: 54,
				Qty: 33, EntryPrice: 150, ExitPrice: 153, PnL: 99, PnLPct: 0.02, ExitReason: domain.ExitSignal},
			{Symbol: "AAPL", EntryTime: entry.Add(2 * time.Hour), ExitTime: entry.Add(3 * time.Hour), EntryIndex: 58, ExitIndex: 62,
				Qty: 33, EntryPrice: 153, ExitPrice: 148, PnL: -165, PnLPct: -0.0327, ExitReason: domain.ExitStopLoss},
		},
		CreatedAt: entry,
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("SaveRun did not assign an ID")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.StrategyID != run.StrategyID || got.SharpeRatio != 1.5 || string(got.Report) != `{"status":"success"}` {
		t.Errorf("GetRun = %+v", got)
	}
	if !got.CreatedAt.Equal(entry) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, entry)
	}
	if len(got.Trades) != 2 {
		t.Fatalf("len(Trades) = %d, want 2", len(got.Trades))
	}
	if got.Trades[1].ExitReason != domain.ExitStopLoss || got.Trades[1].PnL != -165 {
		t.Errorf("trade[1] = %+v", got.Trades[1])
	}
	if !got.Trades[0].ExitTime.Equal(entry.Add(time.Hour)) {
		t.Errorf("trade[0].ExitTime = %v", got.Trades[0].ExitTime)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "a", "c"} {
		r := &RunRecord{StrategyID: id, Symbol: "SPY", Status: "no_trades", Report: []byte("{}"),
			CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 4 || all[0].StrategyID != "c" {
		t.Errorf("ListRuns(all) = %d runs, first %q; want 4, first c", len(all), all[0].StrategyID)
	}

	onlyA, err := s.ListRuns(ctx, "a", 1)
	if err != nil {
		t.Fatalf("ListRuns(a): %v", err)
	}
	if len(onlyA) != 1 || !onlyA[0].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("ListRuns(a, 1) = %+v, want the newest a run", onlyA)
	}
}
