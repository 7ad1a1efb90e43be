package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"stratlab/internal/domain"
)

func order(side domain.OrderSide, qty int64, price float64) *domain.Order {
	return &domain.Order{
		Symbol:    "AAPL",
		Side:      side,
		Type:      domain.OrderTypeMarket,
		Qty:       qty,
		Price:     price,
		CreatedAt: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(0)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorBuySell(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(10000)

	filled, err := b.SubmitOrder(ctx, order(domain.OrderSideBuy, 10, 100))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if filled.Status != domain.OrderStatusFilled || filled.FilledQty != 10 || filled.ID != "sim-1" {
		t.Errorf("filled = %+v", filled)
	}
	if b.Cash() != 9000 {
		t.Errorf("Cash = %v, want 9000", b.Cash())
	}

	b.Mark("AAPL", 110)
	acct, _ := b.GetAccount(ctx)
	if acct.Equity != 10100 || acct.Cash != 9000 {
		t.Errorf("account = %+v, want equity 10100 cash 9000", acct)
	}

	positions, _ := b.GetPositions(ctx)
	if len(positions) != 1 || positions[0].Qty != 10 || positions[0].EntryPrice != 100 {
		t.Fatalf("positions = %+v", positions)
	}

	if _, err := b.SubmitOrder(ctx, order(domain.OrderSideSell, 10, 110)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if b.Cash() != 10100 {
		t.Errorf("Cash after sell = %v, want 10100", b.Cash())
	}
	positions, _ = b.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions after full sell = %+v, want none", positions)
	}
	if got := len(b.Orders()); got != 2 {
		t.Errorf("len(Orders) = %d, want 2", got)
	}
}

func TestSimulatorRejections(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(500)

	tests := []struct {
		name  string
		order *domain.Order
		want  error
	}{
		{"too expensive", order(domain.OrderSideBuy, 10, 100), ErrInsufficientFunds},
		{"sell without position", order(domain.OrderSideSell, 1, 100), ErrInsufficientPosition},
		{"zero qty", order(domain.OrderSideBuy, 0, 100), ErrInvalidOrder},
		{"zero price", order(domain.OrderSideBuy, 1, 0), ErrInvalidOrder},
		{"unknown side", order("short", 1, 100), ErrInvalidOrder},
	}
	for _, tt := range tests {
		got, err := b.SubmitOrder(ctx, tt.order)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		if got == nil || got.Status != domain.OrderStatusRejected {
			t.Errorf("%s: status = %+v, want rejected", tt.name, got)
		}
	}
	if b.Cash() != 500 {
		t.Errorf("rejections changed cash to %v", b.Cash())
	}
}
