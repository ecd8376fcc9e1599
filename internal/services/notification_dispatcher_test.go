package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

type stubPublisher struct {
	mu        sync.Mutex
	envelopes []NotificationEnvelope
	publishFn func(context.Context, NotificationEnvelope) (string, error)
}

func (s *stubPublisher) Publish(ctx context.Context, envelope NotificationEnvelope) (string, error) {
	if s.publishFn != nil {
		if _, err := s.publishFn(ctx, envelope); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, envelope)
	return "msg-" + envelope.ID, nil
}

func (s *stubPublisher) published() []NotificationEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]NotificationEnvelope(nil), s.envelopes...)
}

func newTestDispatcher(t *testing.T, publisher NotificationPublisher, metrics Metrics, queueSize, workers int) *NotificationDispatcher {
	t.Helper()
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	seq := 0
	var mu sync.Mutex
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher: publisher,
		Metrics:   metrics,
		Clock:     func() time.Time { return now },
		IDGenerator: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("%04d", seq)
		},
		QueueSize: queueSize,
		Workers:   workers,
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}
	return dispatcher
}

func shippedOrder() Order {
	return Order{
		ID:             "ord_1",
		OrderNumber:    "HF-2025-000001",
		UserID:         "user_1",
		Status:         domain.OrderStatusShipped,
		Currency:       "JPY",
		TrackingNumber: "1234",
		TrackingURL:    "https://track.example/1234",
		Carrier:        "yamato",
	}
}

func TestNotificationDispatcherPublishesStatusChange(t *testing.T) {
	publisher := &stubPublisher{}
	metrics := &captureMetrics{}
	dispatcher := newTestDispatcher(t, publisher, metrics, 4, 1)

	if err := dispatcher.NotifyStatusChanged(context.Background(), shippedOrder(), domain.OrderStatusProcessing, domain.OrderStatusShipped); err != nil {
		t.Fatalf("NotifyStatusChanged: %v", err)
	}
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sent := publisher.published()
	if len(sent) != 1 {
		t.Fatalf("expected one envelope, got %d", len(sent))
	}
	envelope := sent[0]
	if envelope.ID != "ntf_0001" {
		t.Fatalf("expected ntf_0001, got %s", envelope.ID)
	}
	if envelope.Type != NotificationTypeStatusChanged {
		t.Fatalf("unexpected type %s", envelope.Type)
	}
	if envelope.OldStatus != domain.OrderStatusProcessing || envelope.NewStatus != domain.OrderStatusShipped {
		t.Fatalf("unexpected statuses %s -> %s", envelope.OldStatus, envelope.NewStatus)
	}
	if envelope.Subject != "Order HF-2025-000001 is now Shipped" {
		t.Fatalf("unexpected subject %q", envelope.Subject)
	}
	if envelope.Tracking == nil || envelope.Tracking.Number != "1234" || envelope.Tracking.Carrier != "yamato" {
		t.Fatalf("expected tracking details, got %+v", envelope.Tracking)
	}
	if metrics.notifications[0] != "order_status_changed:ok" {
		t.Fatalf("unexpected metrics %v", metrics.notifications)
	}
}

func TestNotificationDispatcherSubjectLabels(t *testing.T) {
	publisher := &stubPublisher{}
	dispatcher := newTestDispatcher(t, publisher, nil, 4, 1)

	order := shippedOrder()
	order.Status = domain.OrderStatusOutForDelivery
	if err := dispatcher.NotifyStatusChanged(context.Background(), order, domain.OrderStatusShipped, domain.OrderStatusOutForDelivery); err != nil {
		t.Fatalf("NotifyStatusChanged: %v", err)
	}
	_ = dispatcher.Close(context.Background())

	sent := publisher.published()
	if sent[0].Subject != "Order HF-2025-000001 is now Out For Delivery" {
		t.Fatalf("unexpected subject %q", sent[0].Subject)
	}
	if sent[0].Tracking != nil {
		t.Fatalf("tracking is only attached to shipped notifications")
	}
}

func TestNotificationDispatcherPublishesRefund(t *testing.T) {
	publisher := &stubPublisher{}
	dispatcher := newTestDispatcher(t, publisher, nil, 4, 1)

	order := shippedOrder()
	order.TotalRefundedAmount = decimal.RequireFromString("30")
	order.RefundStatus = domain.RefundStatusPartialRefunded
	entry := RefundEntry{RefundID: "rf_1", Amount: decimal.RequireFromString("30"), Reason: "damaged"}
	if err := dispatcher.NotifyRefundIssued(context.Background(), order, entry); err != nil {
		t.Fatalf("NotifyRefundIssued: %v", err)
	}
	_ = dispatcher.Close(context.Background())

	sent := publisher.published()
	if len(sent) != 1 || sent[0].Refund == nil {
		t.Fatalf("expected refund envelope, got %+v", sent)
	}
	detail := sent[0].Refund
	if detail.Amount != "30.00" || detail.TotalRefunded != "30.00" || detail.RefundStatus != "partial_refunded" {
		t.Fatalf("unexpected refund detail %+v", detail)
	}
	if sent[0].Subject != "Refund of 30.00 JPY issued for order HF-2025-000001" {
		t.Fatalf("unexpected subject %q", sent[0].Subject)
	}
}

func TestNotificationDispatcherDropsWhenQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	publisher := &stubPublisher{publishFn: func(context.Context, NotificationEnvelope) (string, error) {
		started <- struct{}{}
		<-release
		return "", nil
	}}
	metrics := &captureMetrics{}
	logs := &captureLogs{}
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    logs.log,
		QueueSize: 1,
		Workers:   1,
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}

	ctx := context.Background()
	order := shippedOrder()
	if err := dispatcher.NotifyStatusChanged(ctx, order, domain.OrderStatusProcessing, domain.OrderStatusShipped); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	<-started
	if err := dispatcher.NotifyStatusChanged(ctx, order, domain.OrderStatusShipped, domain.OrderStatusDelivered); err != nil {
		t.Fatalf("second notify should fill the queue: %v", err)
	}
	if stats := dispatcher.Stats(); stats.Depth != 1 || stats.Capacity != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	err = dispatcher.NotifyStatusChanged(ctx, order, domain.OrderStatusDelivered, domain.OrderStatusReturned)
	if !errors.Is(err, ErrNotificationQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if !logs.has(notificationEventDropped) {
		t.Fatalf("expected drop to be logged")
	}

	close(release)
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(publisher.published()); got != 2 {
		t.Fatalf("expected 2 published envelopes, got %d", got)
	}
	if metrics.notifications[0] != "order_status_changed:dropped" {
		t.Fatalf("expected dropped metric first, got %v", metrics.notifications)
	}
}

func TestNotificationDispatcherRecordsPublishFailure(t *testing.T) {
	publisher := &stubPublisher{publishFn: func(context.Context, NotificationEnvelope) (string, error) {
		return "", errors.New("broker unavailable")
	}}
	metrics := &captureMetrics{}
	dispatcher := newTestDispatcher(t, publisher, metrics, 2, 1)

	if err := dispatcher.NotifyStatusChanged(context.Background(), shippedOrder(), domain.OrderStatusProcessing, domain.OrderStatusShipped); err != nil {
		t.Fatalf("NotifyStatusChanged: %v", err)
	}
	_ = dispatcher.Close(context.Background())

	if len(publisher.published()) != 0 {
		t.Fatalf("expected nothing published")
	}
	if len(metrics.notifications) != 1 || metrics.notifications[0] != "order_status_changed:error" {
		t.Fatalf("unexpected metrics %v", metrics.notifications)
	}
}

func TestNotificationDispatcherRejectsAfterClose(t *testing.T) {
	dispatcher := newTestDispatcher(t, &stubPublisher{}, nil, 2, 1)
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	err := dispatcher.NotifyStatusChanged(context.Background(), shippedOrder(), domain.OrderStatusProcessing, domain.OrderStatusShipped)
	if !errors.Is(err, ErrNotifierClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if !dispatcher.Stats().Closed {
		t.Fatalf("expected stats to report closed")
	}
}

func TestNotificationDispatcherCloseHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	publisher := &stubPublisher{publishFn: func(context.Context, NotificationEnvelope) (string, error) {
		<-release
		return "", nil
	}}
	dispatcher := newTestDispatcher(t, publisher, nil, 2, 1)
	if err := dispatcher.NotifyStatusChanged(context.Background(), shippedOrder(), domain.OrderStatusProcessing, domain.OrderStatusShipped); err != nil {
		t.Fatalf("NotifyStatusChanged: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := dispatcher.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewNotificationDispatcherRequiresPublisher(t *testing.T) {
	if _, err := NewNotificationDispatcher(NotificationDispatcherDeps{}); err == nil {
		t.Fatalf("expected error without publisher")
	}
}
