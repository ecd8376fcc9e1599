package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

const (
	notificationIDPrefix = "ntf_"

	defaultNotificationQueueSize      = 256
	defaultNotificationWorkers        = 2
	defaultNotificationPublishTimeout = 10 * time.Second

	notificationEventPublished = "notification.published"
	notificationEventFailed    = "notification.publish.failed"
	notificationEventDropped   = "notification.dropped"

	notificationOutcomeOK      = "ok"
	notificationOutcomeError   = "error"
	notificationOutcomeDropped = "dropped"
)

var (
	// ErrNotificationQueueFull indicates the envelope was dropped because the queue is saturated.
	ErrNotificationQueueFull = errors.New("notification: queue full")
	// ErrNotifierClosed indicates the dispatcher no longer accepts envelopes.
	ErrNotifierClosed = errors.New("notification: dispatcher closed")
)

// NotificationDispatcherDeps configures the asynchronous notifier.
type NotificationDispatcherDeps struct {
	Publisher      NotificationPublisher
	Metrics        Metrics
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
}

// NotificationQueueStats is a point-in-time view of the dispatcher queue.
type NotificationQueueStats struct {
	Depth    int
	Capacity int
	Closed   bool
}

// NotificationDispatcher implements Notifier on a bounded queue drained by a fixed worker pool.
// Enqueueing never blocks; a saturated queue drops the envelope.
type NotificationDispatcher struct {
	publisher NotificationPublisher
	metrics   Metrics
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan NotificationEnvelope
	wg     sync.WaitGroup
}

var _ Notifier = (*NotificationDispatcher)(nil)

// NewNotificationDispatcher starts the worker pool. Call Close to drain it.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultNotificationQueueSize
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	timeout := deps.PublishTimeout
	if timeout <= 0 {
		timeout = defaultNotificationPublishTimeout
	}

	d := &NotificationDispatcher{
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan NotificationEnvelope, size),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d, nil
}

// NotifyStatusChanged enqueues an order_status_changed envelope.
func (d *NotificationDispatcher) NotifyStatusChanged(ctx context.Context, order Order, oldStatus, newStatus OrderStatus) error {
	envelope := d.newEnvelope(NotificationTypeStatusChanged, order)
	envelope.OldStatus = oldStatus
	envelope.NewStatus = newStatus
	envelope.Subject = fmt.Sprintf("Order %s is now %s", order.OrderNumber, statusLabel(newStatus))
	if newStatus == domain.OrderStatusShipped && order.TrackingNumber != "" {
		envelope.Tracking = &NotificationTrack{
			Number:  order.TrackingNumber,
			URL:     order.TrackingURL,
			Carrier: order.Carrier,
		}
	}
	return d.enqueue(ctx, envelope)
}

// NotifyRefundIssued enqueues a refund_issued envelope.
func (d *NotificationDispatcher) NotifyRefundIssued(ctx context.Context, order Order, refund RefundEntry) error {
	envelope := d.newEnvelope(NotificationTypeRefundIssued, order)
	envelope.NewStatus = order.Status
	envelope.Refund = &NotificationRefund{
		RefundID:      refund.RefundID,
		Amount:        domain.FormatMoney(refund.Amount),
		Currency:      order.Currency,
		Reason:        refund.Reason,
		TotalRefunded: domain.FormatMoney(order.TotalRefundedAmount),
		RefundStatus:  string(order.RefundStatus),
	}
	envelope.Subject = fmt.Sprintf("Refund of %s %s issued for order %s",
		envelope.Refund.Amount, order.Currency, order.OrderNumber)
	return d.enqueue(ctx, envelope)
}

// Stats reports queue depth for readiness checks.
func (d *NotificationDispatcher) Stats() NotificationQueueStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return NotificationQueueStats{
		Depth:    len(d.queue),
		Capacity: cap(d.queue),
		Closed:   d.closed,
	}
}

// Close stops accepting envelopes and waits for queued ones to publish or ctx to expire.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher: drain interrupted: %w", ctx.Err())
	}
}

func (d *NotificationDispatcher) newEnvelope(kind NotificationType, order Order) NotificationEnvelope {
	return NotificationEnvelope{
		ID:          notificationIDPrefix + d.newID(),
		Type:        kind,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OccurredAt:  d.clock(),
	}
}

// statusLabel renders out_for_delivery as "Out For Delivery". Casers are stateful, so each
// call builds its own.
func statusLabel(status OrderStatus) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(status), "_", " "))
}

func (d *NotificationDispatcher) enqueue(ctx context.Context, envelope NotificationEnvelope) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, envelope, "closed")
		return ErrNotifierClosed
	}
	select {
	case d.queue <- envelope:
		return nil
	default:
		d.drop(ctx, envelope, "queue_full")
		return ErrNotificationQueueFull
	}
}

func (d *NotificationDispatcher) drop(ctx context.Context, envelope NotificationEnvelope, reason string) {
	d.record(envelope.Type, notificationOutcomeDropped)
	d.logger(ctx, notificationEventDropped, map[string]any{
		"notificationId": envelope.ID,
		"orderId":        envelope.OrderID,
		"type":           string(envelope.Type),
		"reason":         reason,
	})
}

func (d *NotificationDispatcher) run() {
	defer d.wg.Done()
	for envelope := range d.queue {
		d.publish(envelope)
	}
}

func (d *NotificationDispatcher) publish(envelope NotificationEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	messageID, err := d.publisher.Publish(ctx, envelope)
	if err != nil {
		d.record(envelope.Type, notificationOutcomeError)
		d.logger(ctx, notificationEventFailed, map[string]any{
			"notificationId": envelope.ID,
			"orderId":        envelope.OrderID,
			"type":           string(envelope.Type),
			"error":          err.Error(),
		})
		return
	}
	d.record(envelope.Type, notificationOutcomeOK)
	d.logger(ctx, notificationEventPublished, map[string]any{
		"notificationId": envelope.ID,
		"orderId":        envelope.OrderID,
		"type":           string(envelope.Type),
		"messageId":      messageID,
	})
}

func (d *NotificationDispatcher) record(kind NotificationType, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(string(kind), outcome)
	}
}
