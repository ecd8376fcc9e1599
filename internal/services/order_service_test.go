package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
	"github.com/hanko-field/orderledger/internal/repositories/memory"
)

type stubOrderRepo struct {
	insertFn func(context.Context, domain.Order) error
	updateFn func(context.Context, domain.Order) error
	findFn   func(context.Context, string) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubProductRepo struct {
	adjustFn func(context.Context, []repositories.StockAdjustment) ([]domain.Product, error)
}

func (s *stubProductRepo) FindByID(context.Context, string) (domain.Product, error) {
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) AdjustStock(ctx context.Context, adjustments []repositories.StockAdjustment) ([]domain.Product, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, adjustments)
	}
	return nil, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type stubTracking struct {
	urlFn func(carrier, number string) (string, error)
}

func (s *stubTracking) TrackingURL(carrier, number string) (string, error) {
	if s.urlFn != nil {
		return s.urlFn(carrier, number)
	}
	return "", ErrUnknownCarrier
}

type statusNotification struct {
	order    Order
	from, to OrderStatus
}

type captureNotifier struct {
	mu       sync.Mutex
	statuses []statusNotification
	refunds  []RefundEntry
	err      error
}

func (c *captureNotifier) NotifyStatusChanged(_ context.Context, order Order, from, to OrderStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, statusNotification{order: order, from: from, to: to})
	return c.err
}

func (c *captureNotifier) NotifyRefundIssued(_ context.Context, order Order, refund RefundEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds = append(c.refunds, refund)
	return c.err
}

type captureMetrics struct {
	mu            sync.Mutex
	transitions   []string
	refunds       []string
	notifications []string
}

func (c *captureMetrics) RecordTransition(from, to, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, from+">"+to+":"+result)
}

func (c *captureMetrics) RecordRefund(result string, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds = append(c.refunds, result)
}

func (c *captureMetrics) RecordNotification(kind, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, kind+":"+outcome)
}

type captureLogs struct {
	mu     sync.Mutex
	events []string
}

func (c *captureLogs) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogs) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

type ledgerHarness struct {
	store    *memory.Store
	svc      OrderService
	notifier *captureNotifier
	metrics  *captureMetrics
	logs     *captureLogs
	now      time.Time
}

type harnessOption func(*OrderServiceDeps)

func newLedgerHarness(t *testing.T, opts ...harnessOption) *ledgerHarness {
	t.Helper()
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore(memory.WithClock(func() time.Time { return now }))
	store.PutProduct(domain.Product{ID: "prod_stamp", Name: "Round stamp", StockQuantity: 10})
	store.PutProduct(domain.Product{ID: "prod_case", Name: "Stamp case", StockQuantity: 5})

	h := &ledgerHarness{
		store:    store,
		notifier: &captureNotifier{},
		metrics:  &captureMetrics{},
		logs:     &captureLogs{},
		now:      now,
	}
	deps := OrderServiceDeps{
		Orders:     store.Orders(),
		Products:   store.Products(),
		Counters:   store.Counters(),
		UnitOfWork: store,
		Tracking:   NewCarrierTrackingURLs(nil),
		Notifier:   h.notifier,
		Metrics:    h.metrics,
		Clock:      func() time.Time { return now },
		Logger:     h.logs.log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	h.svc = svc
	return h
}

// placeOrder creates a completed-payment order worth 100.00: two stamps at 40.00, one case
// at 15.00, 5.00 shipping.
func (h *ledgerHarness) placeOrder(t *testing.T) Order {
	t.Helper()
	order, err := h.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:   "user_1",
		Currency: "jpy",
		Items: []CreateOrderItem{
			{ProductID: "prod_stamp", ProductName: "Round stamp", Quantity: 2, UnitPrice: decimal.RequireFromString("40.00")},
			{ProductID: "prod_case", ProductName: "Stamp case", Quantity: 1, UnitPrice: decimal.RequireFromString("15.00")},
		},
		Shipping:      decimal.RequireFromString("5.00"),
		PaymentStatus: domain.PaymentStatusCompleted,
		ActorID:       "checkout",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (h *ledgerHarness) stock(t *testing.T, productID string) int64 {
	t.Helper()
	product, err := h.store.Products().FindByID(context.Background(), productID)
	if err != nil {
		t.Fatalf("find product %s: %v", productID, err)
	}
	return product.StockQuantity
}

func (h *ledgerHarness) walk(t *testing.T, orderID string, statuses ...OrderStatus) Order {
	t.Helper()
	var order Order
	for _, status := range statuses {
		cmd := TransitionOrderStatusCommand{OrderID: orderID, Status: status, ActorID: "staff_1"}
		if status == domain.OrderStatusShipped {
			cmd.TrackingNumber = "1234-5678"
			cmd.Carrier = "yamato"
		}
		var err error
		order, err = h.svc.TransitionStatus(context.Background(), cmd)
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	return order
}

func TestOrderServiceCreateOrder(t *testing.T) {
	h := newLedgerHarness(t)

	order := h.placeOrder(t)

	if order.OrderNumber != "HF-2025-000001" {
		t.Fatalf("expected order number HF-2025-000001, got %s", order.OrderNumber)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("expected ord_ prefix, got %s", order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.Currency != "JPY" {
		t.Fatalf("expected currency upper-cased, got %s", order.Currency)
	}
	if got := domain.FormatMoney(order.Subtotal); got != "95.00" {
		t.Fatalf("expected subtotal 95.00, got %s", got)
	}
	if got := domain.FormatMoney(order.TotalAmount); got != "100.00" {
		t.Fatalf("expected total 100.00, got %s", got)
	}
	if got := domain.FormatMoney(order.Items[0].TotalPrice); got != "80.00" {
		t.Fatalf("expected line total 80.00, got %s", got)
	}
	if order.RefundStatus != domain.RefundStatusNone || !order.TotalRefundedAmount.IsZero() {
		t.Fatalf("expected empty refund ledger, got %s %s", order.RefundStatus, order.TotalRefundedAmount)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Status != domain.OrderStatusPending {
		t.Fatalf("expected initial pending history entry, got %+v", order.StatusHistory)
	}
	if got := h.stock(t, "prod_stamp"); got != 8 {
		t.Fatalf("expected stamp stock 8, got %d", got)
	}
	if got := h.stock(t, "prod_case"); got != 4 {
		t.Fatalf("expected case stock 4, got %d", got)
	}

	second := h.placeOrder(t)
	if second.OrderNumber != "HF-2025-000002" {
		t.Fatalf("expected sequential order number, got %s", second.OrderNumber)
	}
}

func TestOrderServiceCreateOrderInsufficientStock(t *testing.T) {
	h := newLedgerHarness(t)

	_, err := h.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:   "user_1",
		Currency: "JPY",
		Items: []CreateOrderItem{
			{ProductID: "prod_stamp", Quantity: 1, UnitPrice: decimal.NewFromInt(10)},
			{ProductID: "prod_case", Quantity: 6, UnitPrice: decimal.NewFromInt(10)},
		},
		PaymentStatus: domain.PaymentStatusCompleted,
	})
	if !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := h.stock(t, "prod_stamp"); got != 10 {
		t.Fatalf("expected stamp stock untouched, got %d", got)
	}
	if got := h.stock(t, "prod_case"); got != 5 {
		t.Fatalf("expected case stock untouched, got %d", got)
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	valid := func() CreateOrderCommand {
		return CreateOrderCommand{
			UserID:   "user_1",
			Currency: "JPY",
			Items:    []CreateOrderItem{{ProductID: "prod_stamp", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*CreateOrderCommand)
	}{
		{name: "missing user", mutate: func(c *CreateOrderCommand) { c.UserID = " " }},
		{name: "missing currency", mutate: func(c *CreateOrderCommand) { c.Currency = "" }},
		{name: "no items", mutate: func(c *CreateOrderCommand) { c.Items = nil }},
		{name: "zero quantity", mutate: func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 }},
		{name: "quantity too large", mutate: func(c *CreateOrderCommand) { c.Items[0].Quantity = 100 }},
		{name: "negative price", mutate: func(c *CreateOrderCommand) { c.Items[0].UnitPrice = decimal.NewFromInt(-1) }},
		{name: "negative tax", mutate: func(c *CreateOrderCommand) { c.Tax = decimal.NewFromInt(-1) }},
		{name: "discount above value", mutate: func(c *CreateOrderCommand) { c.Discount = decimal.NewFromInt(11) }},
		{name: "unknown payment status", mutate: func(c *CreateOrderCommand) { c.PaymentStatus = "settled" }},
		{name: "refunded payment status", mutate: func(c *CreateOrderCommand) { c.PaymentStatus = domain.PaymentStatusRefunded }},
		{name: "unknown product", mutate: func(c *CreateOrderCommand) { c.Items[0].ProductID = "prod_missing" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newLedgerHarness(t)
			cmd := valid()
			tc.mutate(&cmd)
			if _, err := h.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestOrderServiceCreateOrderCounterFailure(t *testing.T) {
	h := newLedgerHarness(t, func(deps *OrderServiceDeps) {
		deps.Counters = &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) {
			return 0, errors.New("counter unavailable")
		}}
	})

	_, err := h.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:   "user_1",
		Currency: "JPY",
		Items:    []CreateOrderItem{{ProductID: "prod_stamp", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
	})
	if !errors.Is(err, ErrOrderRepositoryFailure) {
		t.Fatalf("expected repository failure, got %v", err)
	}
	if got := h.stock(t, "prod_stamp"); got != 10 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
	if !h.logs.has(orderEventOperationFailed) {
		t.Fatalf("expected failure to be logged, got %v", h.logs.events)
	}
}

func TestOrderServiceTransitionStatus(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)

	updated, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: placed.ID,
		Status:  domain.OrderStatusProcessing,
		ActorID: "staff_1",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}
	last, ok := updated.LastHistoryEntry()
	if !ok {
		t.Fatalf("expected history entry")
	}
	if last.Status != domain.OrderStatusProcessing || last.ActorID != "staff_1" {
		t.Fatalf("unexpected history entry %+v", last)
	}
	if last.Note != "status changed from pending to processing" {
		t.Fatalf("unexpected default note %q", last.Note)
	}
	if !last.Timestamp.Equal(h.now) {
		t.Fatalf("expected timestamp %s, got %s", h.now, last.Timestamp)
	}
	if len(updated.StatusHistory) != 2 {
		t.Fatalf("expected history to grow by one, got %d", len(updated.StatusHistory))
	}

	if len(h.notifier.statuses) != 1 {
		t.Fatalf("expected one notification, got %d", len(h.notifier.statuses))
	}
	sent := h.notifier.statuses[0]
	if sent.from != domain.OrderStatusPending || sent.to != domain.OrderStatusProcessing {
		t.Fatalf("unexpected notification %s -> %s", sent.from, sent.to)
	}

	stored, err := h.svc.GetOrder(context.Background(), placed.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected persisted processing, got %s", stored.Status)
	}
	if h.metrics.transitions[0] != "pending>processing:ok" {
		t.Fatalf("unexpected transition metric %v", h.metrics.transitions)
	}
}

func TestOrderServiceTransitionStatusSanitizesNote(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)

	updated, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: placed.ID,
		Status:  domain.OrderStatusProcessing,
		Note:    "<b>engraving</b> started<script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	last, _ := updated.LastHistoryEntry()
	if last.Note != "engraving started" {
		t.Fatalf("expected sanitized note, got %q", last.Note)
	}
}

func TestOrderServiceTransitionStatusRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		path   []OrderStatus
		target OrderStatus
	}{
		{name: "skip ahead", target: domain.OrderStatusDelivered},
		{name: "self transition", target: domain.OrderStatusPending},
		{name: "backwards", path: []OrderStatus{domain.OrderStatusProcessing}, target: domain.OrderStatusPending},
		{name: "out of cancelled", path: []OrderStatus{domain.OrderStatusCancelled}, target: domain.OrderStatusProcessing},
		{name: "out of returned", path: []OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusReturned}, target: domain.OrderStatusCancelled},
		{name: "unknown status", target: "refunded"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newLedgerHarness(t)
			placed := h.placeOrder(t)
			before := placed
			if len(tc.path) > 0 {
				before = h.walk(t, placed.ID, tc.path...)
			}
			notified := len(h.notifier.statuses)

			_, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{OrderID: placed.ID, Status: tc.target})
			if !errors.Is(err, ErrOrderInvalidTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
			if !strings.Contains(err.Error(), string(before.Status)) || !strings.Contains(err.Error(), string(tc.target)) {
				t.Fatalf("expected both states in %q", err.Error())
			}

			stored, err := h.svc.GetOrder(context.Background(), placed.ID)
			if err != nil {
				t.Fatalf("GetOrder: %v", err)
			}
			if stored.Status != before.Status || len(stored.StatusHistory) != len(before.StatusHistory) {
				t.Fatalf("order mutated by rejected transition: %+v", stored)
			}
			if len(h.notifier.statuses) != notified {
				t.Fatalf("expected no notification for rejected transition")
			}
		})
	}
}

func TestOrderServiceShippedRequiresTracking(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		carrier string
	}{
		{name: "missing both"},
		{name: "missing carrier", number: "1234"},
		{name: "missing number", carrier: "yamato"},
		{name: "whitespace number", number: "   ", carrier: "yamato"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newLedgerHarness(t)
			placed := h.placeOrder(t)
			h.walk(t, placed.ID, domain.OrderStatusProcessing)

			_, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
				OrderID:        placed.ID,
				Status:         domain.OrderStatusShipped,
				TrackingNumber: tc.number,
				Carrier:        tc.carrier,
			})
			if !errors.Is(err, ErrOrderMissingTrackingInfo) {
				t.Fatalf("expected missing tracking info, got %v", err)
			}
			stored, _ := h.svc.GetOrder(context.Background(), placed.ID)
			if stored.Status != domain.OrderStatusProcessing || stored.TrackingNumber != "" {
				t.Fatalf("expected order untouched, got %+v", stored)
			}
		})
	}
}

func TestOrderServiceShippedGeneratesTrackingURL(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)
	h.walk(t, placed.ID, domain.OrderStatusProcessing)

	updated, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID:        placed.ID,
		Status:         domain.OrderStatusShipped,
		TrackingNumber: " ＡＢ１２３ ",
		Carrier:        "Japan Post",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.TrackingNumber != "AB123" {
		t.Fatalf("expected normalized tracking number, got %q", updated.TrackingNumber)
	}
	if updated.Carrier != "Japan Post" {
		t.Fatalf("expected carrier kept, got %q", updated.Carrier)
	}
	want := "https://trackings.post.japanpost.jp/services/srv/search/direct?reqCodeNo1=AB123"
	if updated.TrackingURL != want {
		t.Fatalf("expected tracking url %s, got %s", want, updated.TrackingURL)
	}
}

func TestOrderServiceShippedKeepsExplicitTrackingURL(t *testing.T) {
	h := newLedgerHarness(t, func(deps *OrderServiceDeps) {
		deps.Tracking = &stubTracking{urlFn: func(string, string) (string, error) {
			t.Fatalf("generator must not run when a url is supplied")
			return "", nil
		}}
	})
	placed := h.placeOrder(t)
	h.walk(t, placed.ID, domain.OrderStatusProcessing)

	updated, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID:        placed.ID,
		Status:         domain.OrderStatusShipped,
		TrackingNumber: "998877",
		TrackingURL:    "https://carrier.example/track/998877",
		Carrier:        "local courier",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.TrackingURL != "https://carrier.example/track/998877" {
		t.Fatalf("unexpected tracking url %s", updated.TrackingURL)
	}
}

func TestOrderServiceShippedTolerateTrackingURLFailure(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)
	h.walk(t, placed.ID, domain.OrderStatusProcessing)

	updated, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID:        placed.ID,
		Status:         domain.OrderStatusShipped,
		TrackingNumber: "998877",
		Carrier:        "pigeon post",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped || updated.TrackingURL != "" {
		t.Fatalf("expected shipped without url, got %s %q", updated.Status, updated.TrackingURL)
	}
	if !h.logs.has(orderEventTrackingURLFailed) {
		t.Fatalf("expected tracking url failure to be logged")
	}
}

func TestOrderServiceCancelRestoresStock(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)
	h.walk(t, placed.ID, domain.OrderStatusProcessing)

	updated, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: placed.ID,
		Status:  domain.OrderStatusCancelled,
		Note:    "customer changed their mind",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}
	if got := h.stock(t, "prod_stamp"); got != 10 {
		t.Fatalf("expected stamp stock restored to 10, got %d", got)
	}
	if got := h.stock(t, "prod_case"); got != 5 {
		t.Fatalf("expected case stock restored to 5, got %d", got)
	}
}

func TestOrderServiceCancelFailsWhenProductMissing(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)

	// The case product was deleted from the catalog after checkout.
	products := &stubProductRepo{adjustFn: func(ctx context.Context, adjustments []repositories.StockAdjustment) ([]domain.Product, error) {
		return nil, repositories.NewProductError(repositories.ProductErrorNotFound, "prod_case", "product prod_case not found", nil)
	}}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     h.store.Orders(),
		Products:   products,
		Counters:   h.store.Counters(),
		UnitOfWork: h.store,
		Notifier:   h.notifier,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{OrderID: placed.ID, Status: domain.OrderStatusCancelled})
	if !errors.Is(err, ErrOrderStockReconciliation) {
		t.Fatalf("expected stock reconciliation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "prod_case") {
		t.Fatalf("expected product id in error, got %v", err)
	}
	stored, _ := h.svc.GetOrder(context.Background(), placed.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected order to stay pending, got %s", stored.Status)
	}
	if len(h.notifier.statuses) != 0 {
		t.Fatalf("expected no notification")
	}
}

type failingUpdateOrders struct {
	repositories.OrderRepository
	err error
}

func (f failingUpdateOrders) Update(context.Context, domain.Order) error { return f.err }

func TestOrderServiceCancelRollsBackStockWhenUpdateFails(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     failingUpdateOrders{OrderRepository: h.store.Orders(), err: errors.New("write rejected")},
		Products:   h.store.Products(),
		Counters:   h.store.Counters(),
		UnitOfWork: h.store,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{OrderID: placed.ID, Status: domain.OrderStatusCancelled})
	if !errors.Is(err, ErrOrderRepositoryFailure) {
		t.Fatalf("expected repository failure, got %v", err)
	}
	if got := h.stock(t, "prod_stamp"); got != 8 {
		t.Fatalf("expected restored stock rolled back to 8, got %d", got)
	}
	if got := h.stock(t, "prod_case"); got != 4 {
		t.Fatalf("expected restored stock rolled back to 4, got %d", got)
	}
}

func TestOrderServiceNotifierFailureDoesNotFailTransition(t *testing.T) {
	h := newLedgerHarness(t)
	h.notifier.err = ErrNotificationQueueFull
	placed := h.placeOrder(t)

	updated, err := h.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{OrderID: placed.ID, Status: domain.OrderStatusProcessing})
	if err != nil {
		t.Fatalf("expected success despite notifier failure, got %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}
	if !h.logs.has(orderEventNotifyFailed) {
		t.Fatalf("expected notifier failure to be logged")
	}
}

func TestOrderServiceTransitionStatusErrors(t *testing.T) {
	conflict := &memory.Error{Op: "orders.update", Conflict: true}
	tests := []struct {
		name    string
		orders  *stubOrderRepo
		cmd     TransitionOrderStatusCommand
		wantErr error
	}{
		{
			name:    "blank id",
			orders:  &stubOrderRepo{},
			cmd:     TransitionOrderStatusCommand{Status: domain.OrderStatusProcessing},
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:    "blank status",
			orders:  &stubOrderRepo{},
			cmd:     TransitionOrderStatusCommand{OrderID: "ord_1"},
			wantErr: ErrOrderInvalidInput,
		},
		{
			name: "not found",
			orders: &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{}, &memory.Error{Op: "orders.get", NotFound: true}
			}},
			cmd:     TransitionOrderStatusCommand{OrderID: "ord_missing", Status: domain.OrderStatusProcessing},
			wantErr: ErrOrderNotFound,
		},
		{
			name: "contention after retries",
			orders: &stubOrderRepo{
				findFn: func(context.Context, string) (domain.Order, error) {
					return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}, nil
				},
				updateFn: func(context.Context, domain.Order) error { return conflict },
			},
			cmd:     TransitionOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusProcessing},
			wantErr: ErrOrderRepositoryFailure,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewOrderService(OrderServiceDeps{
				Orders:     tc.orders,
				Products:   &stubProductRepo{},
				Counters:   &stubCounterRepo{},
				UnitOfWork: &stubUnitOfWork{},
			})
			if err != nil {
				t.Fatalf("NewOrderService: %v", err)
			}
			if _, err := svc.TransitionStatus(context.Background(), tc.cmd); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestOrderServiceTransitionRunsInsideUnitOfWork(t *testing.T) {
	var inTx bool
	type txMarker struct{}
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, _ string) (domain.Order, error) {
			inTx = ctx.Value(txMarker{}) != nil
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}, nil
		},
		updateFn: func(ctx context.Context, _ domain.Order) error {
			if ctx.Value(txMarker{}) == nil {
				t.Fatalf("update ran outside the transaction")
			}
			return nil
		},
	}
	uow := &stubUnitOfWork{runFn: func(ctx context.Context, fn func(context.Context) error) error {
		return fn(context.WithValue(ctx, txMarker{}, true))
	}}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     orders,
		Products:   &stubProductRepo{},
		Counters:   &stubCounterRepo{},
		UnitOfWork: uow,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	if _, err := svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !inTx {
		t.Fatalf("expected order to be read inside the transaction")
	}
}

func TestOrderServiceFullLifecycle(t *testing.T) {
	h := newLedgerHarness(t)
	placed := h.placeOrder(t)

	final := h.walk(t, placed.ID,
		domain.OrderStatusProcessing,
		domain.OrderStatusAwaitingShipment,
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
		domain.OrderStatusReturned,
	)
	if final.Status != domain.OrderStatusReturned {
		t.Fatalf("expected returned, got %s", final.Status)
	}
	if len(final.StatusHistory) != 7 {
		t.Fatalf("expected 7 history entries, got %d", len(final.StatusHistory))
	}
	for i := 1; i < len(final.StatusHistory); i++ {
		prev, cur := final.StatusHistory[i-1], final.StatusHistory[i]
		if !IsTransitionAllowed(prev.Status, cur.Status) {
			t.Fatalf("history contains disallowed step %s -> %s", prev.Status, cur.Status)
		}
	}
	if len(h.notifier.statuses) != 6 {
		t.Fatalf("expected 6 notifications, got %d", len(h.notifier.statuses))
	}
	// Only cancellation touches stock; returned orders keep the reservation made at creation.
	if got := h.stock(t, "prod_stamp"); got != 8 {
		t.Fatalf("expected stamp stock 8 after return, got %d", got)
	}
	if got := h.stock(t, "prod_case"); got != 4 {
		t.Fatalf("expected case stock 4 after return, got %d", got)
	}
	if !reflect.DeepEqual(placed.Items, final.Items) {
		t.Fatalf("items changed across transitions: %+v -> %+v", placed.Items, final.Items)
	}
}

func TestNewOrderServiceRequiresRepositories(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without repositories")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepo{}, Counters: &stubCounterRepo{}}); err == nil {
		t.Fatalf("expected error without product repository")
	}
}

var _ repositories.OrderRepository = (*stubOrderRepo)(nil)
var _ repositories.ProductRepository = (*stubProductRepo)(nil)
var _ repositories.CounterRepository = (*stubCounterRepo)(nil)
var _ repositories.UnitOfWork = (*stubUnitOfWork)(nil)
