// Package strategy defines the contract every trading strategy satisfies,
// the metadata it declares, a Registry for lookup by ID and the Adapter the
// simulation loop uses to query strategies safely.
package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"stratlab/internal/domain"
)

// Parameter keys every strategy must declare.
const (
	ParamMaxPositionPct = "max_position_pct"
	ParamStopLossPct    = "stop_loss_pct"
	ParamTakeProfitPct  = "take_profit_pct"
)

// Strategy is the interface that all trading strategies must implement.
// Implementations must be stateless across calls: the signal depends only on
// the window and the params.
type Strategy interface {
	// Meta returns the strategy's static description and default params.
	Meta() Meta

	// GenerateSignal inspects the most recent bars (oldest first, newest
	// last) and returns a trading signal.
	GenerateSignal(window []domain.Bar, params Params) (domain.Signal, error)
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

// Meta describes a strategy.
type Meta struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Version              string    `json:"version"`
	Archetype            string    `json:"archetype"`
	AssetClass           string    `json:"asset_class"`
	HoldingPeriodMinutes [2]int    `json:"holding_period_minutes"`
	Symbols              SymbolSet `json:"symbols"`
	SignalSources        []string  `json:"signal_sources"`
	Params               Params    `json:"params"`
}

// Validate checks the identifying fields and the default params.
func (m Meta) Validate() error {
	if m.ID == "" {
		return errors.New("strategy id is empty")
	}
	if !m.Symbols.Dynamic && len(m.Symbols.List) == 0 {
		return fmt.Errorf("strategy %s declares no symbols", m.ID)
	}
	if err := ValidateParams(m.Params); err != nil {
		return fmt.Errorf("strategy %s: %w", m.ID, err)
	}
	return nil
}

// SymbolSet is either an explicit symbol list or the dynamic marker, meaning
// symbols are chosen at run time. In JSON it is a string array or the
// string "dynamic".
type SymbolSet struct {
	List    []string
	Dynamic bool
}

// Symbols returns a SymbolSet with the given list.
func Symbols(list ...string) SymbolSet { return SymbolSet{List: list} }

// DynamicSymbols returns the dynamic SymbolSet.
func DynamicSymbols() SymbolSet { return SymbolSet{Dynamic: true} }

// Primary returns the first listed symbol, or fallback for a dynamic set.
func (s SymbolSet) Primary(fallback string) string {
	if s.Dynamic || len(s.List) == 0 {
		return fallback
	}
	return s.List[0]
}

// MarshalJSON implements json.Marshaler.
func (s SymbolSet) MarshalJSON() ([]byte, error) {
	if s.Dynamic {
		return json.Marshal("dynamic")
	}
	list := s.List
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SymbolSet) UnmarshalJSON(data []byte) error {
	var marker string
	if err := json.Unmarshal(data, &marker); err == nil {
		if marker != "dynamic" {
			return fmt.Errorf("unknown symbol marker %q", marker)
		}
		*s = DynamicSymbols()
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("symbols must be a list or \"dynamic\": %w", err)
	}
	*s = SymbolSet{List: list}
	return nil
}

// ---------------------------------------------------------------------------
// Params
// ---------------------------------------------------------------------------

// Params holds named numeric strategy parameters.
type Params map[string]float64

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Get returns the named value, or 0 when absent.
func (p Params) Get(key string) float64 {
	return p[key]
}

// Int returns the named value truncated to an int.
func (p Params) Int(key string) int {
	return int(p[key])
}

// Merge returns a copy of p with overrides applied on top.
func (p Params) Merge(overrides Params) Params {
	out := p.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// ValidateParams checks the risk parameters every strategy must carry:
// max_position_pct in (0, 1], stop_loss_pct < 0 and take_profit_pct > 0.
func ValidateParams(p Params) error {
	pos, ok := p[ParamMaxPositionPct]
	if !ok || !(pos > 0 && pos <= 1) {
		return fmt.Errorf("%s must be in (0, 1], got %v", ParamMaxPositionPct, pos)
	}
	sl, ok := p[ParamStopLossPct]
	if !ok || !(sl < 0) {
		return fmt.Errorf("%s must be negative, got %v", ParamStopLossPct, sl)
	}
	tp, ok := p[ParamTakeProfitPct]
	if !ok || !(tp > 0) {
		return fmt.Errorf("%s must be positive, got %v", ParamTakeProfitPct, tp)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds a named collection of strategies for lookup and enumeration.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Meta().ID. Invalid
// metadata and duplicate IDs are rejected.
func (r *Registry) Register(s Strategy) error {
	meta := s.Meta()
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("registering strategy: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.strategies[meta.ID]; dup {
		return fmt.Errorf("strategy %s already registered", meta.ID)
	}
	r.strategies[meta.ID] = s
	return nil
}

// Get retrieves a strategy by ID. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(id string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	return s, ok
}

// List returns a sorted slice of all registered strategy IDs.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metas returns the metadata of every registered strategy, sorted by ID.
func (r *Registry) Metas() []Meta {
	ids := r.List()
	out := make([]Meta, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Get(id); ok {
			out = append(out, s.Meta())
		}
	}
	return out
}
