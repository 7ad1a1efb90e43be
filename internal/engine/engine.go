// Package engine implements the single-symbol position state machine the
// backtest loop drives one bar at a time.
package engine

import (
	"context"
	"fmt"
	"time"

	"stratlab/internal/broker"
	"stratlab/internal/domain"
)

// State is the engine's position state.
type State int

const (
	StateFlat State = iota
	StateLong
)

func (s State) String() string {
	if s == StateLong {
		return "LONG"
	}
	return "FLAT"
}

type openPosition struct {
	qty        int64
	entryPrice float64
	entryTime  time.Time
	entryIndex int
}

// Engine turns signals into simulated fills for one symbol. It holds at most
// one long position, opens only on BUY signals at or above minConfidence and
// treats SELL purely as an exit.
type Engine struct {
	broker        broker.Broker
	risk          *RiskManager
	symbol        string
	minConfidence float64

	pos    *openPosition
	cash   float64
	trades []domain.Trade
}

// NewEngine creates an Engine trading symbol through b. initialCash must
// match the broker's starting balance.
func NewEngine(b broker.Broker, risk *RiskManager, symbol string, initialCash, minConfidence float64) *Engine {
	return &Engine{
		broker:        b,
		risk:          risk,
		symbol:        symbol,
		minConfidence: minConfidence,
		cash:          initialCash,
	}
}

// State returns FLAT or LONG.
func (e *Engine) State() State {
	if e.pos != nil {
		return StateLong
	}
	return StateFlat
}

// Cash returns the uninvested capital.
func (e *Engine) Cash() float64 { return e.cash }

// Position returns the open position, if any.
func (e *Engine) Position() (domain.Position, bool) {
	if e.pos == nil {
		return domain.Position{}, false
	}
	return domain.Position{
		Symbol:     e.symbol,
		Qty:        e.pos.qty,
		EntryPrice: e.pos.entryPrice,
		Side:       domain.PositionSideLong,
	}, true
}

// Trades returns a copy of the closed-trade ledger.
func (e *Engine) Trades() []domain.Trade {
	out := make([]domain.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// Equity returns cash plus the open position valued at price.
func (e *Engine) Equity(price float64) float64 {
	if e.pos == nil {
		return e.cash
	}
	return e.cash + float64(e.pos.qty)*price
}

// Step applies one bar's signal. Rules are evaluated in priority order:
// open on a confident BUY while flat, close on SELL while long, otherwise
// close while long if the return breaches stop-loss or take-profit. It
// returns the trade closed on this bar, if any.
func (e *Engine) Step(ctx context.Context, index int, bar domain.Bar, sig domain.Signal) (*domain.Trade, error) {
	price := bar.Close

	switch {
	case e.pos == nil && sig.Action == domain.ActionBuy && sig.Confidence >= e.minConfidence:
		return nil, e.open(ctx, index, bar)

	case e.pos != nil && sig.Action == domain.ActionSell:
		return e.close(ctx, index, bar, domain.ExitSignal)

	case e.pos != nil:
		pnlPct := (price - e.pos.entryPrice) / e.pos.entryPrice
		if reason, ok := e.risk.CheckExit(pnlPct); ok {
			return e.close(ctx, index, bar, reason)
		}
	}
	return nil, nil
}

func (e *Engine) open(ctx context.Context, index int, bar domain.Bar) error {
	qty := e.risk.PositionSize(e.cash, bar.Close)
	if qty <= 0 {
		return nil
	}

	order := &domain.Order{
		Symbol:    e.symbol,
		Side:      domain.OrderSideBuy,
		Type:      domain.OrderTypeMarket,
		Qty:       qty,
		Price:     bar.Close,
		Status:    domain.OrderStatusNew,
		CreatedAt: bar.Timestamp,
	}
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("reading account: %w", err)
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reading positions: %w", err)
	}
	if err := e.risk.CheckOrder(ctx, order, account, positions); err != nil {
		return fmt.Errorf("risk check at bar %d: %w", index, err)
	}
	if _, err := e.broker.SubmitOrder(ctx, order); err != nil {
		return fmt.Errorf("buying %d %s at bar %d: %w", qty, e.symbol, index, err)
	}

	e.cash -= float64(qty) * bar.Close
	e.pos = &openPosition{
		qty:        qty,
		entryPrice: bar.Close,
		entryTime:  bar.Timestamp,
		entryIndex: index,
	}
	return nil
}

func (e *Engine) close(ctx context.Context, index int, bar domain.Bar, reason domain.ExitReason) (*domain.Trade, error) {
	p := e.pos
	order := &domain.Order{
		Symbol:    e.symbol,
		Side:      domain.OrderSideSell,
		Type:      domain.OrderTypeMarket,
		Qty:       p.qty,
		Price:     bar.Close,
		Status:    domain.OrderStatusNew,
		CreatedAt: bar.Timestamp,
	}
	if _, err := e.broker.SubmitOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("selling %d %s at bar %d: %w", p.qty, e.symbol, index, err)
	}

	e.cash += float64(p.qty) * bar.Close
	trade := domain.Trade{
		Symbol:     e.symbol,
		EntryTime:  p.entryTime,
		ExitTime:   bar.Timestamp,
		EntryIndex: p.entryIndex,
		ExitIndex:  index,
		Qty:        p.qty,
		EntryPrice: p.entryPrice,
		ExitPrice:  bar.Close,
		PnL:        float64(p.qty) * (bar.Close - p.entryPrice),
		PnLPct:     (bar.Close - p.entryPrice) / p.entryPrice,
		ExitReason: reason,
	}
	e.trades = append(e.trades, trade)
	e.pos = nil
	return &trade, nil
}
