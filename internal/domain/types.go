package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the fulfillment states of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits processing.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusAwaitingShipment indicates the order is packed and waits for carrier handoff.
	OrderStatusAwaitingShipment OrderStatus = "awaiting_shipment"
	// OrderStatusShipped indicates the carrier accepted the parcel.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery indicates the parcel is on the final delivery leg.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal. Stock is restored when entering it.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned is terminal.
	OrderStatusReturned OrderStatus = "returned"
)

// OrderStatuses lists every fulfillment status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusAwaitingShipment,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// PaymentStatus tracks the payment axis of an order, independent from fulfillment.
type PaymentStatus string

const (
	PaymentStatusPending              PaymentStatus = "pending"
	PaymentStatusCompleted            PaymentStatus = "completed"
	PaymentStatusFailed               PaymentStatus = "failed"
	PaymentStatusRefunded             PaymentStatus = "refunded"
	PaymentStatusAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentStatusUnderpaid            PaymentStatus = "underpaid"
	PaymentStatusExpired              PaymentStatus = "expired"
)

// IsValid reports whether the payment status is one of the known values.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded,
		PaymentStatusAwaitingConfirmation, PaymentStatusUnderpaid, PaymentStatusExpired:
		return true
	}
	return false
}

// RefundStatus is derived from the refund ledger totals.
type RefundStatus string

const (
	RefundStatusNone            RefundStatus = "none"
	RefundStatusPartialRefunded RefundStatus = "partial_refunded"
	RefundStatusFullyRefunded   RefundStatus = "fully_refunded"
	RefundStatusPendingRefund   RefundStatus = "pending_refund"
)

// RefundEntryStatus captures the outcome of an individual refund entry.
type RefundEntryStatus string

const (
	RefundEntryStatusSucceeded RefundEntryStatus = "succeeded"
	RefundEntryStatusPending   RefundEntryStatus = "pending"
	RefundEntryStatusFailed    RefundEntryStatus = "failed"
)

// Order is the aggregate root for a customer purchase and its lifecycle.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Currency    string
	Items       []OrderItem

	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Shipping    decimal.Decimal
	Discount    decimal.Decimal
	TotalAmount decimal.Decimal

	PaymentStatus PaymentStatus

	TrackingNumber string
	TrackingURL    string
	Carrier        string

	StatusHistory []StatusHistoryEntry

	RefundStatus        RefundStatus
	TotalRefundedAmount decimal.Decimal
	RefundHistory       []RefundEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem snapshots a purchased product at checkout time.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

// StatusHistoryEntry is one append-only audit record of the order status.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	ActorID   string
	Note      string
}

// RefundEntry is one append-only refund ledger record.
type RefundEntry struct {
	RefundID string
	Amount   decimal.Decimal
	Date     time.Time
	Reason   string
	ActorID  string
	Status   RefundEntryStatus
}

// MaxRefundable returns the remaining refundable balance, never negative.
func (o Order) MaxRefundable() decimal.Decimal {
	remaining := o.TotalAmount.Sub(o.TotalRefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// LastHistoryEntry returns the most recent status history entry, if any.
func (o Order) LastHistoryEntry() (StatusHistoryEntry, bool) {
	if len(o.StatusHistory) == 0 {
		return StatusHistoryEntry{}, false
	}
	return o.StatusHistory[len(o.StatusHistory)-1], true
}

// Clone returns a deep copy so callers can mutate slices without aliasing persisted state.
func (o Order) Clone() Order {
	clone := o
	if o.Items != nil {
		clone.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.StatusHistory != nil {
		clone.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	}
	if o.RefundHistory != nil {
		clone.RefundHistory = append([]RefundEntry(nil), o.RefundHistory...)
	}
	return clone
}

// Product is the external catalog aggregate referenced by order items. Only stock is relevant here.
type Product struct {
	ID            string
	Name          string
	StockQuantity int64
	UpdatedAt     time.Time
}
