package repositories

import (
	"context"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one atomic scope. Repositories invoked with the
// context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates including their embedded history arrays.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// StockAdjustment describes a signed change to a product's stock quantity.
type StockAdjustment struct {
	ProductID string
	Delta     int64
}

// ProductRepository exposes the stock side of the product catalog.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// AdjustStock applies every adjustment or none. Implementations read all products before
	// writing so they can run inside a transaction that already read other documents.
	// Results that would drop below zero fail with ProductErrorInsufficientStock.
	AdjustStock(ctx context.Context, adjustments []StockAdjustment) ([]domain.Product, error)
}

// CounterRepository provides atomic sequences used for human readable identifiers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
