// Package memory provides an in-process repository registry for local runs and tests.
// Transactions are serialised by one mutex and roll back to a snapshot on error.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

type txKey struct{}

// Store holds orders, products and counters in maps.
type Store struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	products map[string]domain.Product
	counters map[string]int64
	now      func() time.Time
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// Option customises the Store.
type Option func(*Store)

// WithClock overrides the clock used for product timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		orders:   make(map[string]domain.Order),
		products: make(map[string]domain.Product),
		counters: make(map[string]int64),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.health, _ = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}, repositories.WithDependencyClock(s.now))
	return s
}

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) Orders() repositories.OrderRepository     { return orderRepo{s} }
func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }
func (s *Store) Health() repositories.HealthRepository    { return s.health }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: function is required")
	}
	if inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	restore := func() {
		s.orders, s.products, s.counters = snapshot.orders, snapshot.products, snapshot.counters
	}
	defer func() {
		if r := recover(); r != nil {
			restore()
			panic(r)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		restore()
		return err
	}
	return nil
}

// do runs fn with the store locked unless ctx already holds the transaction lock.
func (s *Store) do(ctx context.Context, fn func() error) error {
	if inTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type snapshot struct {
	orders   map[string]domain.Order
	products map[string]domain.Product
	counters map[string]int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		orders:   make(map[string]domain.Order, len(s.orders)),
		products: make(map[string]domain.Product, len(s.products)),
		counters: make(map[string]int64, len(s.counters)),
	}
	for id, order := range s.orders {
		snap.orders[id] = order.Clone()
	}
	for id, product := range s.products {
		snap.products[id] = product
	}
	for id, value := range s.counters {
		snap.counters[id] = value
	}
	return snap
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// Error implements repositories.RepositoryError.
type Error struct {
	Op       string
	NotFound bool
	Conflict bool
}

func (e *Error) Error() string {
	switch {
	case e.NotFound:
		return e.Op + ": not found"
	case e.Conflict:
		return e.Op + ": already exists"
	}
	return e.Op + ": failed"
}

func (e *Error) IsNotFound() bool    { return e.NotFound }
func (e *Error) IsConflict() bool    { return e.Conflict }
func (e *Error) IsUnavailable() bool { return false }

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.s.do(ctx, func() error {
		if strings.TrimSpace(order.ID) == "" {
			return errors.New("memory: order id is required")
		}
		if _, exists := r.s.orders[order.ID]; exists {
			return &Error{Op: "orders.insert", Conflict: true}
		}
		r.s.orders[order.ID] = order.Clone()
		return nil
	})
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	return r.s.do(ctx, func() error {
		if _, exists := r.s.orders[order.ID]; !exists {
			return &Error{Op: "orders.update", NotFound: true}
		}
		r.s.orders[order.ID] = order.Clone()
		return nil
	})
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var found domain.Order
	err := r.s.do(ctx, func() error {
		order, ok := r.s.orders[strings.TrimSpace(orderID)]
		if !ok {
			return &Error{Op: "orders.get", NotFound: true}
		}
		found = order.Clone()
		return nil
	})
	return found, err
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var found domain.Product
	err := r.s.do(ctx, func() error {
		id := strings.TrimSpace(productID)
		product, ok := r.s.products[id]
		if !ok {
			return repositories.NewProductError(repositories.ProductErrorNotFound, id, fmt.Sprintf("product %s not found", id), nil)
		}
		found = product
		return nil
	})
	return found, err
}

func (r productRepo) AdjustStock(ctx context.Context, adjustments []repositories.StockAdjustment) ([]domain.Product, error) {
	totals, ids, err := repositories.MergeStockAdjustments(adjustments)
	if err != nil {
		return nil, err
	}
	var updated []domain.Product
	err = r.s.do(ctx, func() error {
		next := make([]domain.Product, 0, len(ids))
		for _, id := range ids {
			product, ok := r.s.products[id]
			if !ok {
				return repositories.NewProductError(repositories.ProductErrorNotFound, id, fmt.Sprintf("product %s not found", id), nil)
			}
			product.StockQuantity += totals[id]
			if product.StockQuantity < 0 {
				return repositories.NewProductError(repositories.ProductErrorInsufficientStock, id, fmt.Sprintf("product %s has insufficient stock", id), nil)
			}
			product.UpdatedAt = r.s.now().UTC()
			next = append(next, product)
		}
		for _, product := range next {
			r.s.products[product.ID] = product
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" || step <= 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id and positive step are required", nil)
	}
	var value int64
	err := r.s.do(ctx, func() error {
		r.s.counters[id] += step
		value = r.s.counters[id]
		return nil
	})
	return value, err
}
