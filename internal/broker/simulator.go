package broker

import (
	"context"
	"fmt"
	"sort"

	"stratlab/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting. It keeps
// one cash balance and long positions in memory and fills market orders in
// full at the order's reference price. It is not safe for concurrent use;
// each simulation owns its own instance.
type SimulatorBroker struct {
	cash      float64
	positions map[string]*domain.Position
	marks     map[string]float64
	orders    []domain.Order
	seq       int
}

// NewSimulatorBroker creates a SimulatorBroker holding initialCash.
func NewSimulatorBroker(initialCash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      initialCash,
		positions: make(map[string]*domain.Position),
		marks:     make(map[string]float64),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder fills a market order immediately at order.Price. Order IDs are
// assigned sequentially so repeated runs produce identical ledgers.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order.Qty <= 0 || !(order.Price > 0) {
		return b.reject(order, fmt.Errorf("%w: qty %d price %v", ErrInvalidOrder, order.Qty, order.Price))
	}

	notional := float64(order.Qty) * order.Price
	switch order.Side {
	case domain.OrderSideBuy:
		if notional > b.cash {
			return b.reject(order, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, notional, b.cash))
		}
		b.cash -= notional
		pos, ok := b.positions[order.Symbol]
		if !ok {
			pos = &domain.Position{Symbol: order.Symbol, Side: domain.PositionSideLong}
			b.positions[order.Symbol] = pos
		}
		cost := float64(pos.Qty)*pos.EntryPrice + notional
		pos.Qty += order.Qty
		pos.EntryPrice = cost / float64(pos.Qty)

	case domain.OrderSideSell:
		pos, ok := b.positions[order.Symbol]
		if !ok || pos.Qty < order.Qty {
			held := int64(0)
			if ok {
				held = pos.Qty
			}
			return b.reject(order, fmt.Errorf("%w: sell %d %s, hold %d", ErrInsufficientPosition, order.Qty, order.Symbol, held))
		}
		b.cash += notional
		pos.Qty -= order.Qty
		if pos.Qty == 0 {
			delete(b.positions, order.Symbol)
		}

	default:
		return b.reject(order, fmt.Errorf("%w: side %q", ErrInvalidOrder, order.Side))
	}

	b.seq++
	filled := *order
	filled.ID = fmt.Sprintf("sim-%d", b.seq)
	filled.Status = domain.OrderStatusFilled
	filled.FilledQty = order.Qty
	filled.FilledAvgPrice = order.Price
	filled.UpdatedAt = order.CreatedAt
	b.marks[order.Symbol] = order.Price
	b.orders = append(b.orders, filled)
	return &filled, nil
}

func (b *SimulatorBroker) reject(order *domain.Order, err error) (*domain.Order, error) {
	rejected := *order
	rejected.Status = domain.OrderStatusRejected
	return &rejected, err
}

// Mark records the latest price for symbol, used to value positions.
func (b *SimulatorBroker) Mark(symbol string, price float64) {
	b.marks[symbol] = price
}

// Cash returns the uninvested balance.
func (b *SimulatorBroker) Cash() float64 {
	return b.cash
}

// Orders returns a copy of every filled order in submission order.
func (b *SimulatorBroker) Orders() []domain.Order {
	out := make([]domain.Order, len(b.orders))
	copy(out, b.orders)
	return out
}

// GetPositions returns all open positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount returns cash and mark-to-market equity. Positions are valued at
// the last Mark or fill price for their symbol.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	equity := b.cash
	for sym, p := range b.positions {
		equity += float64(p.Qty) * b.marks[sym]
	}
	return &domain.AccountInfo{
		Cash:        b.cash,
		Equity:      equity,
		BuyingPower: b.cash,
	}, nil
}
