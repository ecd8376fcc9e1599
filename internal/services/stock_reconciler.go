package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/orderledger/internal/repositories"
)

// StockReconciler returns the units of cancelled order lines to sellable stock.
type StockReconciler struct {
	products repositories.ProductRepository
}

// NewStockReconciler constructs a reconciler over the product repository.
func NewStockReconciler(products repositories.ProductRepository) (*StockReconciler, error) {
	if products == nil {
		return nil, errors.New("stock reconciler: product repository is required")
	}
	return &StockReconciler{products: products}, nil
}

// RestoreStock increments stock by each item's quantity. ctx must carry the caller's
// transaction so the restore commits or aborts with the status change. A missing product
// fails the whole restore.
func (r *StockReconciler) RestoreStock(ctx context.Context, items []OrderItem) error {
	adjustments := make([]repositories.StockAdjustment, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		adjustments = append(adjustments, repositories.StockAdjustment{ProductID: item.ProductID, Delta: int64(item.Quantity)})
	}
	if len(adjustments) == 0 {
		return nil
	}
	if _, err := r.products.AdjustStock(ctx, adjustments); err != nil {
		return wrapStockError(ErrOrderStockReconciliation, err)
	}
	return nil
}

// ReserveStock decrements stock for a new order.
func (r *StockReconciler) ReserveStock(ctx context.Context, items []OrderItem) error {
	adjustments := make([]repositories.StockAdjustment, 0, len(items))
	for _, item := range items {
		adjustments = append(adjustments, repositories.StockAdjustment{ProductID: item.ProductID, Delta: -int64(item.Quantity)})
	}
	if _, err := r.products.AdjustStock(ctx, adjustments); err != nil {
		var productErr *repositories.ProductError
		if errors.As(err, &productErr) {
			switch productErr.Code {
			case repositories.ProductErrorInsufficientStock:
				return fmt.Errorf("%w: product %s", ErrOrderInsufficientStock, productErr.ProductID)
			case repositories.ProductErrorNotFound:
				return fmt.Errorf("%w: product %s not found", ErrOrderInvalidInput, productErr.ProductID)
			}
		}
		return wrapStockError(ErrOrderRepositoryFailure, err)
	}
	return nil
}

func wrapStockError(sentinel, err error) error {
	var productErr *repositories.ProductError
	if errors.As(err, &productErr) && productErr.ProductID != "" {
		return fmt.Errorf("%w: product %s: %w", sentinel, productErr.ProductID, err)
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
