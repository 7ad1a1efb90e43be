// Package tradeparams keeps per-strategy parameter overrides in memory with
// JSON persistence, so tuned values survive between runs.
package tradeparams

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"stratlab/internal/strategy"
)

// Event describes a change, delivered to subscribers.
type Event struct {
	Type       string  `json:"type"` // "set", "delete"
	StrategyID string  `json:"strategy_id"`
	Key        string  `json:"key"`
	Value      float64 `json:"value,omitempty"`
}

// Store holds parameter overrides keyed by strategy ID.
type Store struct {
	mu       sync.RWMutex
	params   map[string]strategy.Params // strategy ID -> key -> value
	filePath string
	log      *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewStore creates a Store, loading persisted overrides from filePath. A
// missing file starts empty; an empty path keeps overrides in memory only.
func NewStore(filePath string, log *slog.Logger) (*Store, error) {
	s := &Store{
		params:   make(map[string]strategy.Params),
		filePath: filePath,
		log:      log,
		subs:     make(map[int]chan Event),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the overrides for one strategy (never nil).
func (s *Store) Get(strategyID string) strategy.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params[strategyID].Clone()
}

// Strategies returns the IDs that have overrides, sorted.
func (s *Store) Strategies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.params))
	for id := range s.params {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a deep copy of all overrides.
func (s *Store) Snapshot() map[string]strategy.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]strategy.Params, len(s.params))
	for id, p := range s.params {
		out[id] = p.Clone()
	}
	return out
}

// Set stores an override, persists it and notifies subscribers.
func (s *Store) Set(strategyID, key string, value float64) error {
	s.mu.Lock()
	if s.params[strategyID] == nil {
		s.params[strategyID] = make(strategy.Params)
	}
	s.params[strategyID][key] = value
	err := s.flush()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.broadcast(Event{Type: "set", StrategyID: strategyID, Key: key, Value: value})
	return nil
}

// Delete removes an override, persists and notifies subscribers.
func (s *Store) Delete(strategyID, key string) error {
	s.mu.Lock()
	if p, ok := s.params[strategyID]; ok {
		delete(p, key)
		if len(p) == 0 {
			delete(s.params, strategyID)
		}
	}
	err := s.flush()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.broadcast(Event{Type: "delete", StrategyID: strategyID, Key: key})
	return nil
}

// Subscribe returns a channel that receives change events. Events to a full
// channel are dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// LoadFile reads a standalone overrides file (strategy ID -> key -> value),
// as accepted by the backtest CLI's --params flag.
func LoadFile(path string) (map[string]strategy.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading params file: %w", err)
	}
	var out map[string]strategy.Params
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing params file %s: %w", path, err)
	}
	return out, nil
}

func (s *Store) load() error {
	if s.filePath == "" {
		return nil
	}
	loaded, err := LoadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for id, p := range loaded {
		if p != nil {
			s.params[id] = p
		}
	}
	s.log.Info("loaded param overrides", "strategies", len(s.params))
	return nil
}

// flush writes the overrides to disk. Must be called with mu held.
func (s *Store) flush() error {
	if s.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.params, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding param overrides: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("creating params dir: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0o644); err != nil {
		return fmt.Errorf("writing param overrides: %w", err)
	}
	return nil
}
