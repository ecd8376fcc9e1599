package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/services"
)

// LogPublisher writes envelopes to the log. It backs local runs without a broker.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a LogPublisher. A nil logger discards output.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("notifications")}
}

var _ services.NotificationPublisher = (*LogPublisher)(nil)

func (p *LogPublisher) Publish(_ context.Context, envelope services.NotificationEnvelope) (string, error) {
	p.logger.Info("notification published",
		zap.String("notification_id", envelope.ID),
		zap.String("type", string(envelope.Type)),
		zap.String("order_id", envelope.OrderID),
		zap.String("subject", envelope.Subject),
	)
	return envelope.ID, nil
}

func (p *LogPublisher) Close() error { return nil }

// LogMailer writes rendered mail to the log in place of an SMTP relay.
type LogMailer struct {
	logger *zap.Logger
}

var _ services.Mailer = (*LogMailer)(nil)

// NewLogMailer constructs a LogMailer. A nil logger discards output.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger.Named("mailer")}
}

func (m *LogMailer) Send(_ context.Context, message services.MailMessage) error {
	m.logger.Info("notification mail sent",
		zap.String("notification_id", message.NotificationID),
		zap.String("user_id", message.UserID),
		zap.String("subject", message.Subject),
		zap.Int("body_bytes", len(message.Body)),
	)
	return nil
}
