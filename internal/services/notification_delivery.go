package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotificationInvalid indicates an envelope that cannot be rendered.
var ErrNotificationInvalid = errors.New("notification: invalid envelope")

// NotificationDeliveryService turns published envelopes into customer mail. It runs on the
// consuming side of the broker; delivery is at least once.
type NotificationDeliveryService struct {
	mailer  Mailer
	metrics Metrics
	logger  func(context.Context, string, map[string]any)
}

// NewNotificationDeliveryService wires the mailer used for rendered notifications.
func NewNotificationDeliveryService(mailer Mailer, metrics Metrics, logger func(context.Context, string, map[string]any)) (*NotificationDeliveryService, error) {
	if mailer == nil {
		return nil, errors.New("notification delivery: mailer is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &NotificationDeliveryService{mailer: mailer, metrics: metrics, logger: logger}, nil
}

// Deliver renders the envelope and hands it to the mailer.
func (s *NotificationDeliveryService) Deliver(ctx context.Context, envelope NotificationEnvelope) error {
	message, err := RenderNotification(envelope)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, message); err != nil {
		s.record(envelope.Type, notificationOutcomeError)
		return fmt.Errorf("notification delivery: send %s: %w", envelope.ID, err)
	}
	s.record(envelope.Type, "delivered")
	s.logger(ctx, "notification.delivered", map[string]any{
		"notificationId": envelope.ID,
		"orderId":        envelope.OrderID,
		"type":           string(envelope.Type),
	})
	return nil
}

func (s *NotificationDeliveryService) record(kind NotificationType, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordNotification(string(kind), outcome)
	}
}

// RenderNotification builds the plain-text mail for an envelope.
func RenderNotification(envelope NotificationEnvelope) (MailMessage, error) {
	if strings.TrimSpace(envelope.ID) == "" || strings.TrimSpace(envelope.OrderID) == "" {
		return MailMessage{}, fmt.Errorf("%w: id and order_id are required", ErrNotificationInvalid)
	}

	var body strings.Builder
	switch envelope.Type {
	case NotificationTypeStatusChanged:
		fmt.Fprintf(&body, "Your order %s is now %s.\n", envelope.OrderNumber, statusLabel(envelope.NewStatus))
		if track := envelope.Tracking; track != nil {
			fmt.Fprintf(&body, "Carrier: %s\nTracking number: %s\n", track.Carrier, track.Number)
			if track.URL != "" {
				fmt.Fprintf(&body, "Track your parcel: %s\n", track.URL)
			}
		}
	case NotificationTypeRefundIssued:
		refund := envelope.Refund
		if refund == nil {
			return MailMessage{}, fmt.Errorf("%w: refund details are required", ErrNotificationInvalid)
		}
		fmt.Fprintf(&body, "A refund of %s %s was issued for order %s.\n", refund.Amount, refund.Currency, envelope.OrderNumber)
		if refund.Reason != "" {
			fmt.Fprintf(&body, "Reason: %s\n", refund.Reason)
		}
		fmt.Fprintf(&body, "Total refunded so far: %s %s\n", refund.TotalRefunded, refund.Currency)
	default:
		return MailMessage{}, fmt.Errorf("%w: unknown type %q", ErrNotificationInvalid, envelope.Type)
	}

	subject := strings.TrimSpace(envelope.Subject)
	if subject == "" {
		subject = fmt.Sprintf("Update on order %s", envelope.OrderNumber)
	}
	return MailMessage{
		NotificationID: envelope.ID,
		UserID:         envelope.UserID,
		Subject:        subject,
		Body:           body.String(),
	}, nil
}
