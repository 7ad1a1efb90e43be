// Package domain defines the core value types shared across stratlab: price
// bars, strategy signals, positions, closed trades and simulated orders.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Market identifies the exchange family a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is a single OHLCV bar.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// Validate checks the per-bar price invariants. NaN fails every comparison,
// so the checks are written to reject it.
func (b Bar) Validate() error {
	if !(b.Close > 0) || math.IsInf(b.Close, 0) {
		return fmt.Errorf("close %v must be positive and finite", b.Close)
	}
	if !(b.Low >= 0) || math.IsInf(b.Low, 0) {
		return fmt.Errorf("low %v must be finite and not negative", b.Low)
	}
	if !(b.High >= b.Low) || math.IsInf(b.High, 0) {
		return fmt.Errorf("high %v must be finite and not below low %v", b.High, b.Low)
	}
	return nil
}

// ValidateBars checks every bar and that timestamps strictly increase.
func ValidateBars(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d (%s): %w", i, b.Timestamp.Format(time.RFC3339), err)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d (%s): timestamp not after previous bar", i, b.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Action is the direction carried by a strategy signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Signal is the output of a strategy for one bar window.
type Signal struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Hold returns a HOLD signal with zero confidence.
func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Reason: reason}
}

// Validate checks the action and that confidence lies in [0, 1].
func (s Signal) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	// NaN fails both comparisons, so test the accepted range directly.
	if !(s.Confidence >= 0 && s.Confidence <= 1) {
		return fmt.Errorf("confidence %v outside [0,1]", s.Confidence)
	}
	return nil
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong PositionSide = "long"
)

// Position is an open holding. Qty is a whole share count; stratlab never
// holds short positions.
type Position struct {
	Symbol     string       `json:"symbol"`
	Qty        int64        `json:"qty"`
	EntryPrice float64      `json:"entry_price"`
	Side       PositionSide `json:"side"`
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal     ExitReason = "signal"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
)

// Trade is a closed round trip. It is appended to the ledger once, when the
// position fully closes, and never modified afterwards.
type Trade struct {
	Symbol     string     `json:"symbol"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	EntryIndex int        `json:"entry_index"`
	ExitIndex  int        `json:"exit_index"`
	Qty        int64      `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	PnLPct     float64    `json:"pnl_pct"`
	ExitReason ExitReason `json:"exit_reason"`
}

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order is a request to trade Qty shares. For simulated market orders Price
// is the reference price the fill happens at.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            int64       `json:"qty"`
	Price          float64     `json:"price"`
	Status         OrderStatus `json:"status"`
	FilledQty      int64       `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// AccountInfo is a snapshot of account balances.
type AccountInfo struct {
	Cash        float64 `json:"cash"`
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
}
