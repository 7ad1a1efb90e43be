package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"stratlab/internal/domain"
)

var (
	// ErrPyramiding is returned when a buy would add to an open position.
	ErrPyramiding = errors.New("position already open")

	// ErrZeroQuantity is returned for orders sized to zero shares.
	ErrZeroQuantity = errors.New("order quantity must be positive")

	// ErrExceedsCash is returned when a buy costs more than the cash on hand.
	ErrExceedsCash = errors.New("order exceeds available cash")
)

// RiskManager sizes entries and decides forced exits from a strategy's risk
// parameters.
type RiskManager struct {
	maxPositionPct float64
	stopLossPct    float64
	takeProfitPct  float64
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
//
//   - maxPositionPct: fraction of cash committed to a new position
//     (e.g. 0.05 for 5%).
//   - stopLossPct: negative return at or below which a position is closed
//     (e.g. -0.03).
//   - takeProfitPct: positive return at or above which a position is closed
//     (e.g. 0.06).
func NewRiskManager(maxPositionPct, stopLossPct, takeProfitPct float64) *RiskManager {
	return &RiskManager{
		maxPositionPct: maxPositionPct,
		stopLossPct:    stopLossPct,
		takeProfitPct:  takeProfitPct,
	}
}

// PositionSize returns floor(cash × maxPositionPct / price), reduced if
// floating-point rounding would make the cost exceed cash.
func (rm *RiskManager) PositionSize(cash, price float64) int64 {
	if !(price > 0) || !(cash > 0) {
		return 0
	}
	qty := int64(math.Floor(cash * rm.maxPositionPct / price))
	for qty > 0 && float64(qty)*price > cash {
		qty--
	}
	return qty
}

// CheckOrder evaluates whether the proposed order is allowed given the
// current account state and open positions.
func (rm *RiskManager) CheckOrder(_ context.Context, order *domain.Order, account *domain.AccountInfo, open []domain.Position) error {
	if order.Qty <= 0 {
		return ErrZeroQuantity
	}
	if order.Side != domain.OrderSideBuy {
		return nil
	}
	for _, p := range open {
		if p.Symbol == order.Symbol && p.Qty > 0 {
			return fmt.Errorf("%w: %d %s", ErrPyramiding, p.Qty, p.Symbol)
		}
	}
	if cost := float64(order.Qty) * order.Price; cost > account.Cash {
		return fmt.Errorf("%w: cost %.2f, cash %.2f", ErrExceedsCash, cost, account.Cash)
	}
	return nil
}

// CheckExit reports whether an open position with the given return must be
// force-closed, and why.
func (rm *RiskManager) CheckExit(pnlPct float64) (domain.ExitReason, bool) {
	switch {
	case pnlPct <= rm.stopLossPct:
		return domain.ExitStopLoss, true
	case pnlPct >= rm.takeProfitPct:
		return domain.ExitTakeProfit, true
	}
	return "", false
}
