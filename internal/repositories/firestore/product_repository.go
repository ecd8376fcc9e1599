package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orderledger/internal/domain"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name          string    `firestore:"name"`
	StockQuantity int64     `firestore:"stockQuantity"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// ProductRepository exposes stock on products/{productId}.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	now      func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		now:      time.Now,
	}, nil
}

// FindByID loads a product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Product{}, repositories.NewProductError(repositories.ProductErrorNotFound, id, fmt.Sprintf("product %s not found", id), err)
		}
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// AdjustStock implements repositories.ProductRepository. Deltas for the same product are summed,
// every product is read before any write, and the call joins the transaction in ctx when present.
func (r *ProductRepository) AdjustStock(ctx context.Context, adjustments []repositories.StockAdjustment) ([]domain.Product, error) {
	totals, order, err := repositories.MergeStockAdjustments(adjustments)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}

	var updated []domain.Product
	apply := func(ctx context.Context) error {
		updated = updated[:0]
		docs := make(map[string]productDocument, len(order))
		for _, id := range order {
			doc, err := r.products.Get(ctx, id)
			if err != nil {
				if pfirestore.IsNotFound(err) {
					return repositories.NewProductError(repositories.ProductErrorNotFound, id, fmt.Sprintf("product %s not found", id), err)
				}
				return err
			}
			next := doc.Data.StockQuantity + totals[id]
			if next < 0 {
				return repositories.NewProductError(repositories.ProductErrorInsufficientStock, id,
					fmt.Sprintf("product %s has %d in stock, adjustment %d", id, doc.Data.StockQuantity, totals[id]), nil)
			}
			doc.Data.StockQuantity = next
			doc.Data.UpdatedAt = r.now().UTC()
			docs[id] = doc.Data
		}
		for _, id := range order {
			if err := r.products.Update(ctx, id, []firestore.Update{
				{Path: "stockQuantity", Value: docs[id].StockQuantity},
				{Path: "updatedAt", Value: docs[id].UpdatedAt},
			}); err != nil {
				return err
			}
			updated = append(updated, docs[id].toDomain(id))
		}
		return nil
	}

	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		err = apply(ctx)
	} else {
		err = r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
			return apply(ctx)
		})
	}
	if err != nil {
		return nil, wrapProductError("products.adjust_stock", err)
	}
	return updated, nil
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{ID: id, Name: d.Name, StockQuantity: d.StockQuantity, UpdatedAt: d.UpdatedAt}
}

func wrapProductError(op string, err error) error {
	var productErr *repositories.ProductError
	if errors.As(err, &productErr) {
		if productErr.Op == "" {
			productErr.Op = op
		}
		return productErr
	}
	return pfirestore.WrapError(op, err)
}
