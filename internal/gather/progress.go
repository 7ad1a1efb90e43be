package gather

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const progressFile = "progress.json"

// symbolProgress is what the last pass learned about one symbol.
type symbolProgress struct {
	Bars      int       `json:"bars"`
	LastBar   time.Time `json:"last_bar,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// progress is the per-series gathering ledger kept next to the bar files.
// A symbol with zero bars is skipped by later passes until ForgetEmpty.
type progress struct {
	mu   sync.Mutex
	path string

	LastCompleted string                     `json:"last_completed,omitempty"`
	Symbols       map[string]*symbolProgress `json:"symbols"`
}

// loadProgress reads dir/progress.json, starting empty when it is absent.
func loadProgress(dir string) (*progress, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	p := &progress{path: filepath.Join(dir, progressFile)}
	data, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", p.path, err)
	default:
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p.path, err)
		}
	}
	if p.Symbols == nil {
		p.Symbols = make(map[string]*symbolProgress)
	}
	return p, nil
}

// Empty reports whether symbol returned no bars on an earlier pass.
func (p *progress) Empty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.Symbols[symbol]
	return ok && sp.Bars == 0
}

// Record notes the outcome of fetching symbol.
func (p *progress) Record(symbol string, bars int, lastBar, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Symbols[symbol] = &symbolProgress{Bars: bars, LastBar: lastBar.UTC(), FetchedAt: now.UTC()}
}

// ForgetEmpty drops every empty symbol so the next pass retries it.
func (p *progress) ForgetEmpty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sym, sp := range p.Symbols {
		if sp.Bars == 0 {
			delete(p.Symbols, sym)
		}
	}
}

// Complete stamps the ledger with the date of a finished pass.
func (p *progress) Complete(date string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LastCompleted = date
}

// Save writes the ledger through a temp file and rename.
func (p *progress) Save() error {
	p.mu.Lock()
	data, err := json.MarshalIndent(p, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replacing progress: %w", err)
	}
	return nil
}
