package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	RefundEntry        = domain.RefundEntry
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns the order lifecycle and its refund ledger.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (Order, error)
	IssueRefund(ctx context.Context, cmd IssueRefundCommand) (RefundResult, error)
}

// SystemService exposes dependency health for readiness endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand places a new order. Line totals and the order total are computed from
// the items and never recomputed afterwards.
type CreateOrderCommand struct {
	UserID        string
	Currency      string
	Items         []CreateOrderItem
	Tax           decimal.Decimal
	Shipping      decimal.Decimal
	Discount      decimal.Decimal
	PaymentStatus domain.PaymentStatus
	ActorID       string
	Note          string
}

// CreateOrderItem is one requested line of a new order.
type CreateOrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// TransitionOrderStatusCommand moves an order to Status. Tracking fields apply to shipped only.
type TransitionOrderStatusCommand struct {
	OrderID        string
	Status         OrderStatus
	ActorID        string
	TrackingNumber string
	TrackingURL    string
	Carrier        string
	Note           string
}

// IssueRefundCommand records a refund against a paid order.
type IssueRefundCommand struct {
	OrderID string
	Amount  decimal.Decimal
	Reason  string
	ActorID string
}

// RefundResult carries the updated order and the appended ledger entry.
type RefundResult struct {
	Order  Order
	Refund RefundEntry
}

// Notifier receives committed order changes. Failures never undo the change.
type Notifier interface {
	NotifyStatusChanged(ctx context.Context, order Order, oldStatus, newStatus OrderStatus) error
	NotifyRefundIssued(ctx context.Context, order Order, refund RefundEntry) error
}

// TrackingURLGenerator derives a carrier tracking page for a tracking number.
type TrackingURLGenerator interface {
	TrackingURL(carrier, trackingNumber string) (string, error)
}

// NotificationPublisher hands an envelope to a transport such as Pub/Sub or Kafka.
type NotificationPublisher interface {
	Publish(ctx context.Context, envelope NotificationEnvelope) (string, error)
}

// Mailer delivers a rendered notification to the customer.
type Mailer interface {
	Send(ctx context.Context, message MailMessage) error
}

// Metrics observes ledger outcomes. A nil Metrics is allowed everywhere.
type Metrics interface {
	RecordTransition(from, to, result string)
	RecordRefund(result string, amount float64)
	RecordNotification(kind, outcome string)
}

// NotificationType names the kind of envelope.
type NotificationType string

const (
	NotificationTypeStatusChanged NotificationType = "order_status_changed"
	NotificationTypeRefundIssued  NotificationType = "refund_issued"
)

// NotificationEnvelope is the wire payload published for every committed order change.
type NotificationEnvelope struct {
	ID          string              `json:"id"`
	Type        NotificationType    `json:"type"`
	OrderID     string              `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	UserID      string              `json:"user_id,omitempty"`
	OldStatus   OrderStatus         `json:"old_status,omitempty"`
	NewStatus   OrderStatus         `json:"new_status,omitempty"`
	Tracking    *NotificationTrack  `json:"tracking,omitempty"`
	Refund      *NotificationRefund `json:"refund,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
	Subject     string              `json:"subject"`
}

// NotificationTrack carries shipment details for shipped notifications.
type NotificationTrack struct {
	Number  string `json:"number"`
	URL     string `json:"url,omitempty"`
	Carrier string `json:"carrier"`
}

// NotificationRefund carries refund details. Amounts are fixed two-decimal strings.
type NotificationRefund struct {
	RefundID      string `json:"refund_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	Reason        string `json:"reason,omitempty"`
	TotalRefunded string `json:"total_refunded"`
	RefundStatus  string `json:"refund_status"`
}

// MailMessage is a rendered notification.
type MailMessage struct {
	NotificationID string
	UserID         string
	Subject        string
	Body           string
}
