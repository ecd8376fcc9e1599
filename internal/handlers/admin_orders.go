package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/httpx"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	"github.com/hanko-field/orderledger/internal/services"
)

const maxAdminOrderBodySize = 64 * 1024

// AdminOrderHandlers exposes the staff order lifecycle and refund endpoints.
type AdminOrderHandlers struct {
	orders        services.OrderService
	idempotency   func(http.Handler) http.Handler
	refundLimiter *actorLimiter
	clock         func() time.Time
}

// AdminOrderOption customises AdminOrderHandlers.
type AdminOrderOption func(*AdminOrderHandlers)

// WithIdempotency wraps the mutating POST endpoints with mw.
func WithIdempotency(mw func(http.Handler) http.Handler) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		h.idempotency = mw
	}
}

// WithRefundRateLimit allows each actor at most limit refunds per window.
func WithRefundRateLimit(limit int, window time.Duration) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		h.refundLimiter = newActorLimiter(limit, window, h.clock)
	}
}

// WithAdminOrderClock overrides the clock used for rate limiting. Apply it before WithRefundRateLimit.
func WithAdminOrderClock(clock func() time.Time) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewAdminOrderHandlers constructs the admin order handlers.
func NewAdminOrderHandlers(orders services.OrderService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{orders: orders, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(orders chi.Router) {
		orders.Get("/{orderID}", h.getOrder)
		orders.Put("/{orderID}/status", h.transitionStatus)
		orders.Group(func(mutating chi.Router) {
			if h.idempotency != nil {
				mutating.Use(h.idempotency)
			}
			mutating.Post("/", h.createOrder)
			mutating.Post("/{orderID}/refunds", h.issueRefund)
		})
	})
}

type createOrderRequest struct {
	UserID        string                   `json:"user_id"`
	Currency      string                   `json:"currency"`
	Items         []createOrderItemRequest `json:"items"`
	Tax           decimal.Decimal          `json:"tax"`
	Shipping      decimal.Decimal          `json:"shipping"`
	Discount      decimal.Decimal          `json:"discount"`
	PaymentStatus string                   `json:"payment_status"`
	Note          string                   `json:"note"`
}

type createOrderItemRequest struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type transitionStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
	Carrier        string `json:"carrier"`
	Note           string `json:"note"`
}

// refundRequest accepts the amount as a JSON string ("40.00") or number (40).
type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, adminOrderResponse{Order: buildAdminOrderPayload(order)})
}

func (h *AdminOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actorID, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	items := make([]services.CreateOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CreateOrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:        req.UserID,
		Currency:      req.Currency,
		Items:         items,
		Tax:           req.Tax,
		Shipping:      req.Shipping,
		Discount:      req.Discount,
		PaymentStatus: domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.PaymentStatus))),
		ActorID:       actorID,
		Note:          req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, adminOrderResponse{Order: buildAdminOrderPayload(order)})
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actorID, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req transitionStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionOrderStatusCommand{
		OrderID:        orderID,
		Status:         services.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:        actorID,
		TrackingNumber: req.TrackingNumber,
		TrackingURL:    req.TrackingURL,
		Carrier:        req.Carrier,
		Note:           req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, adminOrderResponse{Order: buildAdminOrderPayload(order)})
}

func (h *AdminOrderHandlers) issueRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actorID, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	if allowed, resetAt := h.refundLimiter.Allow(actorID); !allowed {
		retry := int(math.Ceil(resetAt.Sub(h.clock()).Seconds()))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many refund requests", http.StatusTooManyRequests))
		return
	}
	var req refundRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if req.Amount == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.IssueRefund(ctx, services.IssueRefundCommand{
		OrderID: orderID,
		Amount:  *req.Amount,
		Reason:  req.Reason,
		ActorID: actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, adminRefundResponse{
		Order:  buildAdminOrderPayload(result.Order),
		Refund: buildRefundPayload(result.Refund),
	})
}

func (h *AdminOrderHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func requireActor(ctx context.Context, w http.ResponseWriter) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.ActorID()) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.ActorID()), true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxAdminOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

// writeOrderError maps service sentinels to API errors. Business messages reach the caller
// verbatim; anything else is logged and answered with a fixed message.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderMissingTrackingInfo):
		httpx.WriteError(ctx, w, httpx.NewError("missing_tracking_info", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRefundInvalidPaymentState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_state", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRefundExceedsLimit):
		httpx.WriteError(ctx, w, httpx.NewError("refund_exceeds_limit", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrRefundInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	default:
		observability.FromContext(ctx).Error("order request failed", zap.Error(err), zap.String("kind", services.ErrorKind(err)))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}

type adminOrderResponse struct {
	Order adminOrderPayload `json:"order"`
}

type adminRefundResponse struct {
	Order  adminOrderPayload  `json:"order"`
	Refund refundEntryPayload `json:"refund"`
}

type adminOrderPayload struct {
	ID                 string               `json:"id"`
	OrderNumber        string               `json:"order_number"`
	UserID             string               `json:"user_id"`
	Status             string               `json:"status"`
	AllowedTransitions []string             `json:"allowed_transitions"`
	Currency           string               `json:"currency"`
	Items              []orderItemPayload   `json:"items"`
	Totals             orderTotalsPayload   `json:"totals"`
	PaymentStatus      string               `json:"payment_status"`
	Tracking           *trackingPayload     `json:"tracking,omitempty"`
	StatusHistory      []statusEntryPayload `json:"status_history"`
	RefundStatus       string               `json:"refund_status"`
	TotalRefunded      string               `json:"total_refunded"`
	MaxRefundable      string               `json:"max_refundable"`
	RefundHistory      []refundEntryPayload `json:"refund_history"`
	CreatedAt          string               `json:"created_at"`
	UpdatedAt          string               `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TotalPrice  string `json:"total_price"`
}

type orderTotalsPayload struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

type trackingPayload struct {
	Number  string `json:"number"`
	URL     string `json:"url,omitempty"`
	Carrier string `json:"carrier"`
}

type statusEntryPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"`
	Note      string `json:"note,omitempty"`
}

type refundEntryPayload struct {
	RefundID string `json:"refund_id"`
	Amount   string `json:"amount"`
	Date     string `json:"date"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actor_id,omitempty"`
	Status   string `json:"status"`
}

func buildAdminOrderPayload(order services.Order) adminOrderPayload {
	successors := services.AllowedTransitions(order.Status)
	allowed := make([]string, 0, len(successors))
	for _, status := range successors {
		allowed = append(allowed, string(status))
	}

	payload := adminOrderPayload{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		UserID:             order.UserID,
		Status:             string(order.Status),
		AllowedTransitions: allowed,
		Currency:           order.Currency,
		Items:              make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal: domain.FormatMoney(order.Subtotal),
			Tax:      domain.FormatMoney(order.Tax),
			Shipping: domain.FormatMoney(order.Shipping),
			Discount: domain.FormatMoney(order.Discount),
			Total:    domain.FormatMoney(order.TotalAmount),
		},
		PaymentStatus: string(order.PaymentStatus),
		StatusHistory: make([]statusEntryPayload, 0, len(order.StatusHistory)),
		RefundStatus:  string(order.RefundStatus),
		TotalRefunded: domain.FormatMoney(order.TotalRefundedAmount),
		MaxRefundable: domain.FormatMoney(order.MaxRefundable()),
		RefundHistory: make([]refundEntryPayload, 0, len(order.RefundHistory)),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.FormatMoney(item.UnitPrice),
			TotalPrice:  domain.FormatMoney(item.TotalPrice),
		})
	}
	if order.TrackingNumber != "" {
		payload.Tracking = &trackingPayload{
			Number:  order.TrackingNumber,
			URL:     order.TrackingURL,
			Carrier: order.Carrier,
		}
	}
	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusEntryPayload{
			Status:    string(entry.Status),
			Timestamp: formatTime(entry.Timestamp),
			ActorID:   entry.ActorID,
			Note:      entry.Note,
		})
	}
	for _, entry := range order.RefundHistory {
		payload.RefundHistory = append(payload.RefundHistory, buildRefundPayload(entry))
	}
	return payload
}

func buildRefundPayload(entry services.RefundEntry) refundEntryPayload {
	return refundEntryPayload{
		RefundID: entry.RefundID,
		Amount:   domain.FormatMoney(entry.Amount),
		Date:     formatTime(entry.Date),
		Reason:   entry.Reason,
		ActorID:  entry.ActorID,
		Status:   string(entry.Status),
	}
}
