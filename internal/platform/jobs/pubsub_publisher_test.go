package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/orderledger/internal/services"
)

func sampleEnvelope() services.NotificationEnvelope {
	return services.NotificationEnvelope{
		ID:          "ntf_test",
		Type:        services.NotificationTypeRefundIssued,
		OrderID:     "ord_1",
		OrderNumber: "HF-2025-000001",
		UserID:      "user-1",
		Refund: &services.NotificationRefund{
			RefundID:      "rf_1",
			Amount:        "40.00",
			TotalRefunded: "100.00",
			RefundStatus:  "fully_refunded",
		},
		OccurredAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
		Subject:    "Refund issued for order HF-2025-000001",
	}
}

func TestPubSubPublisherPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Close()

	envelope := sampleEnvelope()
	if _, err := publisher.Publish(ctx, envelope); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.NotificationEnvelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != envelope.ID || payload.Refund == nil || payload.Refund.Amount != "40.00" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != string(services.NotificationTypeRefundIssued) || attrs["orderId"] != "ord_1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if messages[0].OrderingKey != "ord_1" {
		t.Fatalf("expected ordering key ord_1, got %q", messages[0].OrderingKey)
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
