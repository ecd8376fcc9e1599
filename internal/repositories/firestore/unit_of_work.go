package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// UnitOfWork runs repository calls in one Firestore transaction. Repositories in this package
// pick the transaction up from the context handed to fn.
type UnitOfWork struct {
	provider *pfirestore.Provider
	opts     []pfirestore.TxOption
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork constructs a transaction runner. Zero attempts or timeout keep the defaults.
func NewUnitOfWork(provider *pfirestore.Provider, attempts int, timeout time.Duration) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{
		provider: provider,
		opts:     []pfirestore.TxOption{pfirestore.WithTxAttempts(attempts), pfirestore.WithTxTimeout(timeout)},
	}, nil
}

// RunInTx implements repositories.UnitOfWork. Nested calls reuse the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("unit of work: function is required")
	}
	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		return fn(ctx)
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	}, u.opts...)
}
