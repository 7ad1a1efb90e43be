// Package broker defines the Broker interface and the in-memory simulator
// that fills backtest orders.
package broker

import (
	"context"
	"errors"

	"stratlab/internal/domain"
)

var (
	// ErrInsufficientFunds is returned when a buy costs more than the
	// available cash.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientPosition is returned when a sell exceeds the shares held.
	ErrInsufficientPosition = errors.New("insufficient position")

	// ErrInvalidOrder is returned for orders with a non-positive quantity or
	// price, or an unknown side.
	ErrInvalidOrder = errors.New("invalid order")
)

// Broker abstracts order execution and account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder sends an order for execution and returns its final state.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// GetPositions returns all current positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's balances.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}
