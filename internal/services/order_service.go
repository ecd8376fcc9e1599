package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const (
	orderEventCreated           = "order.created"
	orderEventStatusChanged     = "order.status.changed"
	orderEventRefundIssued      = "order.refund.issued"
	orderEventOperationFailed   = "order.operation.failed"
	orderEventTrackingURLFailed = "order.tracking_url.failed"
	orderEventNotifyFailed      = "order.notification.failed"

	orderIDPrefix  = "ord_"
	refundIDPrefix = "rf_"

	defaultOrderNumberPrefix = "HF"
	defaultOrderCounterID    = "orders"

	maxOrderItemQuantity = 99
	maxNoteLength        = 500
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Tracking    TrackingURLGenerator
	Notifier    Notifier
	Metrics     Metrics
	Tracer      trace.Tracer
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)

	// NumberPrefix and CounterID shape order numbers such as HF-2025-000042.
	NumberPrefix string
	CounterID    string
}

type orderService struct {
	orders     repositories.OrderRepository
	counters   repositories.CounterRepository
	stock      *StockReconciler
	unitOfWork repositories.UnitOfWork
	tracking   TrackingURLGenerator
	notifier   Notifier
	metrics    Metrics
	tracer     trace.Tracer
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	policy     *bluemonday.Policy
	prefix     string
	counterID  string
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	stock, err := NewStockReconciler(deps.Products)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/hanko-field/orderledger/internal/services")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.NumberPrefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	counterID := strings.TrimSpace(deps.CounterID)
	if counterID == "" {
		counterID = defaultOrderCounterID
	}

	return &orderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		stock:      stock,
		unitOfWork: unit,
		tracking:   deps.Tracking,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		tracer:     tracer,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		policy:    bluemonday.StrictPolicy(),
		prefix:    prefix,
		counterID: counterID,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	items, breakdown, err := s.priceOrder(cmd)
	if err != nil {
		return Order{}, s.fail(ctx, span, "create", "", err)
	}
	paymentStatus := cmd.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.PaymentStatusPending
	}
	if !paymentStatus.IsValid() {
		return Order{}, s.fail(ctx, span, "create", "", fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, paymentStatus))
	}
	// Only the refund ledger moves a payment to refunded.
	if paymentStatus == domain.PaymentStatusRefunded {
		return Order{}, s.fail(ctx, span, "create", "", fmt.Errorf("%w: payment status %q cannot be set on creation", ErrOrderInvalidInput, paymentStatus))
	}

	now := s.now()
	// The sequence is drawn outside the transaction so a retried transaction never burns
	// extra numbers.
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, s.fail(ctx, span, "create", "", fmt.Errorf("%w: order number: %w", ErrOrderRepositoryFailure, err))
	}

	note := s.sanitize(cmd.Note)
	if note == "" {
		note = "order placed"
	}
	order := Order{
		ID:                  orderIDPrefix + s.newID(),
		OrderNumber:         number,
		UserID:              strings.TrimSpace(cmd.UserID),
		Status:              domain.OrderStatusPending,
		Currency:            strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Items:               items,
		Subtotal:            breakdown.Subtotal,
		Tax:                 breakdown.Tax,
		Shipping:            breakdown.Shipping,
		Discount:            breakdown.Discount,
		TotalAmount:         breakdown.Total,
		PaymentStatus:       paymentStatus,
		RefundStatus:        domain.RefundStatusNone,
		TotalRefundedAmount: decimal.Zero,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status:    domain.OrderStatusPending,
			Timestamp: now,
			ActorID:   strings.TrimSpace(cmd.ActorID),
			Note:      note,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.stock.ReserveStock(txCtx, order.Items); err != nil {
			return err
		}
		return mapRepositoryError(s.orders.Insert(txCtx, order))
	})
	if err != nil {
		return Order{}, s.fail(ctx, span, "create", order.ID, err)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       domain.FormatMoney(order.TotalAmount),
		"items":       len(order.Items),
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.fail(ctx, nil, "get", id, mapRepositoryError(err))
	}
	return order, nil
}

// TransitionStatus validates and applies a status change. Stock restoration for cancelled
// orders, the status flip and the history append commit together. The notifier runs after
// commit and its failure is only logged.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := OrderStatus(strings.TrimSpace(string(cmd.Status)))
	ctx, span := s.tracer.Start(ctx, "OrderService.TransitionStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", string(target)),
	))
	defer span.End()

	if orderID == "" {
		return Order{}, s.fail(ctx, span, "transition", "", fmt.Errorf("%w: order id is required", ErrOrderInvalidInput))
	}
	if target == "" {
		return Order{}, s.fail(ctx, span, "transition", orderID, fmt.Errorf("%w: status is required", ErrOrderInvalidInput))
	}

	actor := strings.TrimSpace(cmd.ActorID)
	var (
		updated  Order
		previous OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		previous = order.Status
		if !IsTransitionAllowed(order.Status, target) {
			return fmt.Errorf("%w: cannot transition order from %s to %s", ErrOrderInvalidTransition, order.Status, target)
		}

		if target == domain.OrderStatusShipped {
			if err := s.applyTracking(txCtx, &order, cmd); err != nil {
				return err
			}
		}
		if target == domain.OrderStatusCancelled {
			if err := s.stock.RestoreStock(txCtx, order.Items); err != nil {
				return err
			}
		}

		now := s.now()
		note := s.sanitize(cmd.Note)
		if note == "" {
			note = fmt.Sprintf("status changed from %s to %s", previous, target)
		}
		order.Status = target
		order.UpdatedAt = now
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status:    target,
			Timestamp: now,
			ActorID:   actor,
			Note:      note,
		})

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		s.recordTransition(previous, target, err)
		return Order{}, s.fail(ctx, span, "transition", orderID, err)
	}
	s.recordTransition(previous, target, nil)

	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(target),
		"actorId": actor,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyStatusChanged(ctx, updated, previous, target); err != nil {
			s.logger(ctx, orderEventNotifyFailed, map[string]any{
				"orderId": updated.ID,
				"type":    string(NotificationTypeStatusChanged),
				"error":   err.Error(),
			})
		}
	}
	return updated, nil
}

func (s *orderService) applyTracking(ctx context.Context, order *Order, cmd TransitionOrderStatusCommand) error {
	number := NormalizeTrackingNumber(cmd.TrackingNumber)
	carrier := strings.TrimSpace(cmd.Carrier)
	if number == "" || carrier == "" {
		return fmt.Errorf("%w: tracking number and carrier are required to mark an order shipped", ErrOrderMissingTrackingInfo)
	}
	trackingURL := strings.TrimSpace(cmd.TrackingURL)
	if trackingURL == "" && s.tracking != nil {
		generated, err := s.tracking.TrackingURL(carrier, number)
		if err != nil {
			s.logger(ctx, orderEventTrackingURLFailed, map[string]any{
				"orderId": order.ID,
				"carrier": carrier,
				"error":   err.Error(),
			})
		} else {
			trackingURL = generated
		}
	}
	order.TrackingNumber = number
	order.Carrier = carrier
	order.TrackingURL = trackingURL
	return nil
}

// fail logs persistence failures in full, marks the span and returns err unchanged.
func (s *orderService) fail(ctx context.Context, span trace.Span, op, orderID string, err error) error {
	err = mapRepositoryError(err)
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
	}
	if errors.Is(err, ErrOrderRepositoryFailure) || errors.Is(err, ErrOrderStockReconciliation) {
		s.logger(ctx, orderEventOperationFailed, map[string]any{
			"operation": op,
			"orderId":   orderID,
			"error":     err.Error(),
		})
	}
	return err
}

func (s *orderService) recordTransition(from, to OrderStatus, err error) {
	if s.metrics == nil {
		return
	}
	if from == "" {
		from = "unknown"
	}
	s.metrics.RecordTransition(string(from), string(to), ErrorKind(err))
}

func (s *orderService) priceOrder(cmd CreateOrderCommand) ([]OrderItem, domain.PricingBreakdown, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Currency) == "" {
		return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for name, amount := range map[string]decimal.Decimal{"tax": cmd.Tax, "shipping": cmd.Shipping, "discount": cmd.Discount} {
		if amount.IsNegative() {
			return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: %s must not be negative", ErrOrderInvalidInput, name)
		}
	}

	items := make([]OrderItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: items[%d].product_id is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 || item.Quantity > maxOrderItemQuantity {
			return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: items[%d].quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxOrderItemQuantity)
		}
		if item.UnitPrice.IsNegative() {
			return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: items[%d].unit_price must not be negative", ErrOrderInvalidInput, i)
		}
		items = append(items, OrderItem{
			ProductID:   productID,
			ProductName: s.sanitize(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	priced, breakdown := domain.PriceItems(items, cmd.Tax, cmd.Shipping, cmd.Discount)
	if breakdown.Total.IsNegative() {
		return nil, domain.PricingBreakdown{}, fmt.Errorf("%w: discount exceeds order value", ErrOrderInvalidInput)
	}
	return priced, breakdown, nil
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, s.counterID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", s.prefix, now.Year(), seq), nil
}

// sanitize strips markup and control characters and bounds the length of free text that
// enters the audit trail.
func (s *orderService) sanitize(value string) string {
	// The policy escapes entities; notes are stored as plain text, not HTML.
	cleaned := html.UnescapeString(s.policy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, cleaned)
	if utf8.RuneCountInString(cleaned) > maxNoteLength {
		cleaned = string([]rune(cleaned)[:maxNoteLength])
	}
	return strings.TrimSpace(cleaned)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
