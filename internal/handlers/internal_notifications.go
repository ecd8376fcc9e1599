package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/httpx"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	"github.com/hanko-field/orderledger/internal/services"
)

const maxPushBodySize = 256 * 1024

// NotificationDeliverer renders and sends one envelope.
type NotificationDeliverer interface {
	Deliver(ctx context.Context, envelope services.NotificationEnvelope) error
}

// InternalNotificationHandlers receives Pub/Sub push deliveries of order notifications.
type InternalNotificationHandlers struct {
	delivery NotificationDeliverer
}

// NewInternalNotificationHandlers constructs the push endpoint handlers.
func NewInternalNotificationHandlers(delivery NotificationDeliverer) *InternalNotificationHandlers {
	return &InternalNotificationHandlers{delivery: delivery}
}

// Routes registers /internal/notifications endpoints.
func (h *InternalNotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/notifications/deliver", h.deliver)
}

// pushRequest is the Pub/Sub push wrapper. Data is base64 in JSON and decoded by encoding/json.
type pushRequest struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// deliver acknowledges with 204. Envelopes that can never render are acknowledged as well so
// the subscription does not redeliver them; mailer failures answer 503 to trigger a retry.
func (h *InternalNotificationHandlers) deliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "notification delivery unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPushBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	var push pushRequest
	if err := json.Unmarshal(body, &push); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid push payload", http.StatusBadRequest))
		return
	}

	logger := observability.FromContext(ctx).With(
		zap.String("message_id", push.Message.MessageID),
		zap.String("subscription", push.Subscription),
	)
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok && caller != nil {
		logger = logger.With(zap.String("caller", caller.Email))
	}

	var envelope services.NotificationEnvelope
	if err := json.Unmarshal(push.Message.Data, &envelope); err != nil {
		logger.Warn("discarding undecodable notification", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if strings.TrimSpace(envelope.ID) == "" {
		envelope.ID = strings.TrimSpace(push.Message.Attributes["notificationId"])
	}

	if err := h.delivery.Deliver(ctx, envelope); err != nil {
		if errors.Is(err, services.ErrNotificationInvalid) {
			logger.Warn("discarding invalid notification", zap.Error(err))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logger.Error("notification delivery failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("delivery_failed", "notification delivery failed", http.StatusServiceUnavailable))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
