package gather

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"stratlab/internal/barsource"
	"stratlab/internal/domain"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

// scriptedSource serves synthetic bars except for symbols listed as empty
// or failing.
type scriptedSource struct {
	mu     sync.Mutex
	calls  map[string]int
	empty  map[string]bool
	fail   map[string]bool
	synth  *barsource.Synthetic
	called []string
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		calls: make(map[string]int),
		empty: map[string]bool{"ZZZZ": true},
		fail:  map[string]bool{"BAD": true},
		synth: barsource.NewSynthetic(1, time.Time{}, 0, util.NewTradingCalendar(domain.MarketUS)),
	}
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Bars(ctx context.Context, symbol string, days, freq int) ([]domain.Bar, error) {
	s.mu.Lock()
	s.calls[symbol]++
	s.mu.Unlock()
	switch {
	case s.empty[symbol]:
		return nil, nil
	case s.fail[symbol]:
		return nil, errors.New("upstream 500")
	}
	return s.synth.Bars(ctx, symbol, days, freq)
}

func TestBarGathererRun(t *testing.T) {
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	src := newScriptedSource()
	now := func() time.Time { return time.Date(2024, 5, 6, 22, 0, 0, 0, time.UTC) }

	opts := BarOptions{
		DataDir:     dir,
		Symbols:     []string{"AAPL", "MSFT", "ZZZZ", "BAD"},
		Days:        2,
		FreqMinutes: 15,
		Workers:     2,
		Now:         now,
	}
	g := NewBarGatherer(src, ps, opts)
	if g.Name() != "us-15m-bars" {
		t.Errorf("Name() = %q", g.Name())
	}
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Stats{Symbols: 4, Written: 2, Empty: 1, Failed: 1, Bars: 2 * 52}
	if got := g.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}

	syms, err := ps.ListSymbols(context.Background(), domain.MarketUS, 15)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if !reflect.DeepEqual(syms, []string{"AAPL", "MSFT"}) {
		t.Errorf("stored symbols = %v", syms)
	}

	pr, err := loadProgress(filepath.Join(dir, "us", "15m"))
	if err != nil {
		t.Fatal(err)
	}
	if pr.LastCompleted != "2024-05-06" {
		t.Errorf("LastCompleted = %q, want 2024-05-06", pr.LastCompleted)
	}
	if pr.Symbols["AAPL"].Bars != 52 || pr.Symbols["BAD"] != nil {
		t.Errorf("ledger symbols = %v", pr.Symbols)
	}

	// A second pass skips the empty symbol.
	g2 := NewBarGatherer(src, ps, opts)
	if err := g2.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if src.calls["ZZZZ"] != 1 || g2.Stats().Skipped != 1 {
		t.Errorf("ZZZZ fetched %d times, skipped %d", src.calls["ZZZZ"], g2.Stats().Skipped)
	}

	// Retry forgets the empty list.
	opts.Retry = true
	if err := NewBarGatherer(src, ps, opts).Run(context.Background()); err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if src.calls["ZZZZ"] != 2 {
		t.Errorf("ZZZZ fetched %d times after retry, want 2", src.calls["ZZZZ"])
	}
}

func TestBarGathererCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	g := NewBarGatherer(newScriptedSource(), store.NewParquetStore(dir), BarOptions{
		DataDir: dir, Symbols: []string{"AAPL"}, Days: 1, FreqMinutes: 15,
	})
	if err := g.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestProgressLedger(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 2, 22, 0, 0, 0, time.UTC)
	pr, err := loadProgress(dir)
	if err != nil {
		t.Fatal(err)
	}
	pr.Record("A", 0, time.Time{}, now)
	pr.Record("B", 26, now.Add(-time.Hour), now)
	pr.Complete("2024-01-02")
	if err := pr.Save(); err != nil {
		t.Fatal(err)
	}

	pr2, err := loadProgress(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !pr2.Empty("A") || pr2.Empty("B") || pr2.Empty("C") {
		t.Error("empty set not reloaded")
	}
	if pr2.LastCompleted != "2024-01-02" {
		t.Errorf("LastCompleted = %q", pr2.LastCompleted)
	}
	if got := pr2.Symbols["B"]; got.Bars != 26 || !got.LastBar.Equal(now.Add(-time.Hour)) {
		t.Errorf("B = %+v", got)
	}
	pr2.ForgetEmpty()
	if pr2.Empty("A") || pr2.Symbols["B"] == nil {
		t.Error("ForgetEmpty dropped the wrong symbols")
	}

	if err := os.WriteFile(filepath.Join(dir, progressFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadProgress(dir); err == nil {
		t.Error("corrupt ledger accepted")
	}
}

func TestSymbols(t *testing.T) {
	if got := ParseSymbols(" aapl, MSFT,,aapl ,spy"); !reflect.DeepEqual(got, []string{"AAPL", "MSFT", "SPY"}) {
		t.Errorf("ParseSymbols = %v", got)
	}

	path := filepath.Join(t.TempDir(), "syms.csv")
	if err := os.WriteFile(path, []byte("symbol,name\nqqq,Nasdaq\nIWM,Russell\nqqq,dup\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadCSVSymbols(path)
	if err != nil {
		t.Fatalf("LoadCSVSymbols: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"QQQ", "IWM"}) {
		t.Errorf("LoadCSVSymbols = %v", got)
	}
}
