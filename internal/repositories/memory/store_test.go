package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

var fixedNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(WithClock(func() time.Time { return fixedNow }))
	store.PutProduct(domain.Product{ID: "prod-1", Name: "Seal", StockQuantity: 8})
	require.NoError(t, store.Orders().Insert(context.Background(), domain.Order{
		ID:          "ord_1",
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(100),
		StatusHistory: []domain.StatusHistoryEntry{
			{Status: domain.OrderStatusPending, Timestamp: fixedNow},
		},
	}))
	return store
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		order, err := store.Orders().FindByID(ctx, "ord_1")
		require.NoError(t, err)
		order.Status = domain.OrderStatusCancelled
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{Status: domain.OrderStatusCancelled})
		require.NoError(t, store.Orders().Update(ctx, order))
		_, err = store.Products().AdjustStock(ctx, []repositories.StockAdjustment{{ProductID: "prod-1", Delta: 2}})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	order, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Len(t, order.StatusHistory, 1)

	product, err := store.Products().FindByID(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), product.StockQuantity)
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	assert.PanicsWithValue(t, "boom", func() {
		_ = store.RunInTx(ctx, func(ctx context.Context) error {
			_, err := store.Products().AdjustStock(ctx, []repositories.StockAdjustment{{ProductID: "prod-1", Delta: 5}})
			require.NoError(t, err)
			panic("boom")
		})
	})

	product, err := store.Products().FindByID(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), product.StockQuantity)

	// The lock must be released so later transactions still run.
	require.NoError(t, store.RunInTx(ctx, func(context.Context) error { return nil }))
}

func TestRunInTxCommits(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		return store.RunInTx(ctx, func(ctx context.Context) error {
			_, err := store.Products().AdjustStock(ctx, []repositories.StockAdjustment{
				{ProductID: "prod-1", Delta: 1},
				{ProductID: "prod-1", Delta: 1},
			})
			return err
		})
	})
	require.NoError(t, err)

	product, err := store.Products().FindByID(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), product.StockQuantity)
	assert.Equal(t, fixedNow, product.UpdatedAt)
}

func TestAdjustStockIsAllOrNothing(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	_, err := store.Products().AdjustStock(ctx, []repositories.StockAdjustment{
		{ProductID: "prod-1", Delta: 2},
		{ProductID: "prod-missing", Delta: 1},
	})
	var productErr *repositories.ProductError
	require.ErrorAs(t, err, &productErr)
	assert.Equal(t, repositories.ProductErrorNotFound, productErr.Code)

	_, err = store.Products().AdjustStock(ctx, []repositories.StockAdjustment{{ProductID: "prod-1", Delta: -9}})
	require.ErrorAs(t, err, &productErr)
	assert.Equal(t, repositories.ProductErrorInsufficientStock, productErr.Code)

	product, err := store.Products().FindByID(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), product.StockQuantity)
}

func TestOrderRepositoryErrors(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	_, err := store.Orders().FindByID(ctx, "missing")
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsNotFound())

	err = store.Orders().Insert(ctx, domain.Order{ID: "ord_1"})
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	order, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	order.StatusHistory[0].Note = "mutated"

	again, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Empty(t, again.StatusHistory[0].Note)
}

func TestCounterNext(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := store.Counters().Next(ctx, "orders", 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := store.Counters().Next(ctx, "orders", 0)
	assert.Error(t, err)
}

func TestHealthReportsOK(t *testing.T) {
	report, err := NewStore().Health().Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
}
