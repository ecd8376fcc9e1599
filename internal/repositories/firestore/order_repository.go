package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders at orders/{orderId} with embedded status and refund history.
// Money fields are stored as decimal strings.
type OrderRepository struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Insert creates the order document and fails if the ID is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

// Update overwrites the stored order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Set(ctx, order.ID, newOrderDocument(order))
}

// FindByID loads an order. Missing documents yield an error whose IsNotFound reports true.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

type orderDocument struct {
	OrderNumber         string                `firestore:"orderNumber"`
	UserID              string                `firestore:"userId"`
	Status              string                `firestore:"status"`
	Currency            string                `firestore:"currency"`
	Items               []orderItemDocument   `firestore:"items"`
	Subtotal            string                `firestore:"subtotal"`
	Tax                 string                `firestore:"tax"`
	Shipping            string                `firestore:"shipping"`
	Discount            string                `firestore:"discount"`
	TotalAmount         string                `firestore:"totalAmount"`
	PaymentStatus       string                `firestore:"paymentStatus"`
	TrackingNumber      string                `firestore:"trackingNumber,omitempty"`
	TrackingURL         string                `firestore:"trackingUrl,omitempty"`
	Carrier             string                `firestore:"carrier,omitempty"`
	StatusHistory       []statusEntryDocument `firestore:"statusHistory"`
	RefundStatus        string                `firestore:"refundStatus"`
	TotalRefundedAmount string                `firestore:"totalRefundedAmount"`
	RefundHistory       []refundEntryDocument `firestore:"refundHistory"`
	CreatedAt           time.Time             `firestore:"createdAt"`
	UpdatedAt           time.Time             `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   string `firestore:"unitPrice"`
	TotalPrice  string `firestore:"totalPrice"`
}

type statusEntryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	ActorID   string    `firestore:"actorId"`
	Note      string    `firestore:"note,omitempty"`
}

type refundEntryDocument struct {
	RefundID string    `firestore:"refundId"`
	Amount   string    `firestore:"amount"`
	Date     time.Time `firestore:"date"`
	Reason   string    `firestore:"reason"`
	ActorID  string    `firestore:"actorId"`
	Status   string    `firestore:"status"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:         o.OrderNumber,
		UserID:              o.UserID,
		Status:              string(o.Status),
		Currency:            o.Currency,
		Subtotal:            o.Subtotal.String(),
		Tax:                 o.Tax.String(),
		Shipping:            o.Shipping.String(),
		Discount:            o.Discount.String(),
		TotalAmount:         o.TotalAmount.String(),
		PaymentStatus:       string(o.PaymentStatus),
		TrackingNumber:      o.TrackingNumber,
		TrackingURL:         o.TrackingURL,
		Carrier:             o.Carrier,
		RefundStatus:        string(o.RefundStatus),
		TotalRefundedAmount: o.TotalRefundedAmount.String(),
		CreatedAt:           o.CreatedAt.UTC(),
		UpdatedAt:           o.UpdatedAt.UTC(),
		Items:               make([]orderItemDocument, 0, len(o.Items)),
		StatusHistory:       make([]statusEntryDocument, 0, len(o.StatusHistory)),
		RefundHistory:       make([]refundEntryDocument, 0, len(o.RefundHistory)),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			TotalPrice:  item.TotalPrice.String(),
		})
	}
	for _, entry := range o.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusEntryDocument{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			ActorID:   entry.ActorID,
			Note:      entry.Note,
		})
	}
	for _, refund := range o.RefundHistory {
		doc.RefundHistory = append(doc.RefundHistory, refundEntryDocument{
			RefundID: refund.RefundID,
			Amount:   refund.Amount.String(),
			Date:     refund.Date.UTC(),
			Reason:   refund.Reason,
			ActorID:  refund.ActorID,
			Status:   string(refund.Status),
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	order := domain.Order{
		ID:             id,
		OrderNumber:    d.OrderNumber,
		UserID:         d.UserID,
		Status:         domain.OrderStatus(d.Status),
		Currency:       d.Currency,
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		TrackingNumber: d.TrackingNumber,
		TrackingURL:    d.TrackingURL,
		Carrier:        d.Carrier,
		RefundStatus:   domain.RefundStatus(d.RefundStatus),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if order.RefundStatus == "" {
		order.RefundStatus = domain.RefundStatusNone
	}

	p := moneyParser{orderID: id}
	order.Subtotal = p.parse("subtotal", d.Subtotal)
	order.Tax = p.parse("tax", d.Tax)
	order.Shipping = p.parse("shipping", d.Shipping)
	order.Discount = p.parse("discount", d.Discount)
	order.TotalAmount = p.parse("totalAmount", d.TotalAmount)
	order.TotalRefundedAmount = p.parse("totalRefundedAmount", d.TotalRefundedAmount)

	for i, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   p.parse(fmt.Sprintf("items[%d].unitPrice", i), item.UnitPrice),
			TotalPrice:  p.parse(fmt.Sprintf("items[%d].totalPrice", i), item.TotalPrice),
		})
	}
	for _, entry := range d.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp,
			ActorID:   entry.ActorID,
			Note:      entry.Note,
		})
	}
	for i, refund := range d.RefundHistory {
		order.RefundHistory = append(order.RefundHistory, domain.RefundEntry{
			RefundID: refund.RefundID,
			Amount:   p.parse(fmt.Sprintf("refundHistory[%d].amount", i), refund.Amount),
			Date:     refund.Date,
			Reason:   refund.Reason,
			ActorID:  refund.ActorID,
			Status:   domain.RefundEntryStatus(refund.Status),
		})
	}
	if p.err != nil {
		return domain.Order{}, p.err
	}
	return order, nil
}

// moneyParser keeps the first decode failure so toDomain can stay linear.
type moneyParser struct {
	orderID string
	err     error
}

func (p *moneyParser) parse(field, raw string) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("firestore: decode orders/%s %s: %w", p.orderID, field, err)
	}
	return value
}
