package strategy

import (
	"errors"
	"fmt"

	"stratlab/internal/domain"
)

// DefaultWarmup is the number of bars handed to a strategy on every call.
const DefaultWarmup = 50

var (
	// ErrContractViolation is wrapped by every failure that originates in
	// strategy code: a returned error, a panic or a malformed signal.
	ErrContractViolation = errors.New("strategy contract violation")

	// ErrWindowTooShort is returned when the caller offers fewer bars than
	// the warm-up requires.
	ErrWindowTooShort = errors.New("window shorter than warmup")
)

// Adapter invokes a Strategy on behalf of the simulation loop. It isolates
// the caller from strategy misbehaviour and guarantees the strategy only
// ever sees its own copies of the window and params.
type Adapter struct {
	strategy Strategy
	meta     Meta
	params   Params
	warmup   int
}

// NewAdapter wraps s with the effective params (nil means the strategy's
// defaults) and a warm-up length (<= 0 means DefaultWarmup).
func NewAdapter(s Strategy, params Params, warmup int) *Adapter {
	meta := s.Meta()
	if params == nil {
		params = meta.Params
	}
	if warmup <= 0 {
		warmup = DefaultWarmup
	}
	return &Adapter{
		strategy: s,
		meta:     meta,
		params:   params.Clone(),
		warmup:   warmup,
	}
}

// Meta returns the wrapped strategy's metadata.
func (a *Adapter) Meta() Meta { return a.meta }

// Params returns a copy of the effective params.
func (a *Adapter) Params() Params { return a.params.Clone() }

// Warmup returns the minimum window length.
func (a *Adapter) Warmup() int { return a.warmup }

// Signal asks the strategy for a signal over window. The window must hold at
// least Warmup bars; the strategy receives copies of the window and params.
func (a *Adapter) Signal(window []domain.Bar) (sig domain.Signal, err error) {
	if len(window) < a.warmup {
		return domain.Signal{}, fmt.Errorf("%w: %d bars, need %d", ErrWindowTooShort, len(window), a.warmup)
	}

	bars := make([]domain.Bar, len(window))
	copy(bars, window)

	defer func() {
		if r := recover(); r != nil {
			sig = domain.Signal{}
			err = fmt.Errorf("%w: %s panicked: %v", ErrContractViolation, a.meta.ID, r)
		}
	}()

	sig, err = a.strategy.GenerateSignal(bars, a.params.Clone())
	if err != nil {
		return domain.Signal{}, fmt.Errorf("%w: %s: %w", ErrContractViolation, a.meta.ID, err)
	}
	if err := sig.Validate(); err != nil {
		return domain.Signal{}, fmt.Errorf("%w: %s returned invalid signal: %w", ErrContractViolation, a.meta.ID, err)
	}
	return sig, nil
}
