package firestore

import (
	"context"
	"errors"

	"github.com/hanko-field/orderledger/internal/platform/config"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// Registry wires the Firestore repositories around one shared provider.
type Registry struct {
	*UnitOfWork

	provider *pfirestore.Provider
	orders   *OrderRepository
	products *ProductRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository. extraChecks are probed next to Firestore on readiness.
func NewRegistry(provider *pfirestore.Provider, cfg config.FirestoreConfig, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	uow, err := NewUnitOfWork(provider, cfg.TxAttempts, cfg.TxTimeout)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{
		UnitOfWork: uow,
		provider:   provider,
		orders:     orders,
		products:   products,
		counters:   counters,
		health:     health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
