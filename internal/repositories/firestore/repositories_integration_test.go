//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
	pconfig "github.com/hanko-field/orderledger/internal/platform/config"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestCounterRepositoryIntegration(t *testing.T) {
	provider, ctx := startEmulator(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}

func TestOrderAndStockShareTransaction(t *testing.T) {
	provider, ctx := startEmulator(t, "ledger-test")
	registry, err := NewRegistry(provider, pconfig.FirestoreConfig{TxAttempts: 5, TxTimeout: 15 * time.Second})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.Collection(productsCollection).Doc("prod-1").Set(ctx, productDocument{Name: "Seal", StockQuantity: 8}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:            "ord_1",
		OrderNumber:   "HF-2025-000001",
		Status:        domain.OrderStatusPending,
		Currency:      "JPY",
		Items:         []domain.OrderItem{{ProductID: "prod-1", ProductName: "Seal", Quantity: 2, UnitPrice: decimal.RequireFromString("50"), TotalPrice: decimal.RequireFromString("100")}},
		Subtotal:      decimal.RequireFromString("100"),
		TotalAmount:   decimal.RequireFromString("100.00"),
		PaymentStatus: domain.PaymentStatusCompleted,
		RefundStatus:  domain.RefundStatusNone,
		StatusHistory: []domain.StatusHistoryEntry{{Status: domain.OrderStatusPending, Timestamp: now, ActorID: "staff"}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := registry.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	boom := errors.New("boom")
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := registry.Products().AdjustStock(ctx, []repositories.StockAdjustment{{ProductID: "prod-1", Delta: 2}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	product, err := registry.Products().FindByID(ctx, "prod-1")
	if err != nil || product.StockQuantity != 8 {
		t.Fatalf("expected rolled back stock 8, got %d (%v)", product.StockQuantity, err)
	}

	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		loaded, err := registry.Orders().FindByID(ctx, "ord_1")
		if err != nil {
			return err
		}
		if _, err := registry.Products().AdjustStock(ctx, []repositories.StockAdjustment{{ProductID: "prod-1", Delta: 2}}); err != nil {
			return err
		}
		loaded.Status = domain.OrderStatusCancelled
		return registry.Orders().Update(ctx, loaded)
	})
	if err != nil {
		t.Fatalf("cancel tx: %v", err)
	}

	product, _ = registry.Products().FindByID(ctx, "prod-1")
	if product.StockQuantity != 10 {
		t.Fatalf("expected stock 10, got %d", product.StockQuantity)
	}
	stored, err := registry.Orders().FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != domain.OrderStatusCancelled || !stored.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	_, err = registry.Orders().FindByID(ctx, "missing")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found repository error, got %v", err)
	}
}

func startEmulator(t *testing.T, projectID string) (*pfirestore.Provider, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancelInfo := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelInfo()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm", "-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage, "gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet").CombinedOutput()
	if err != nil {
		t.Fatalf("start emulator: %v - %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = exec.Command("docker", "stop", id).Run() })

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("emulator did not become ready: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return provider, ctx
}
