package main

import (
	"testing"
	"time"

	"github.com/hanko-field/orderledger/internal/platform/config"
)

func TestRequiredSecretNames(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{name: "log backend", env: map[string]string{"API_NOTIFICATIONS_BACKEND": "log"}, want: nil},
		{name: "kafka without sasl", env: map[string]string{"API_NOTIFICATIONS_BACKEND": "kafka"}, want: nil},
		{
			name: "kafka with sasl and secret credentials",
			env: map[string]string{
				"API_NOTIFICATIONS_BACKEND":        "Kafka",
				"API_NOTIFICATIONS_KAFKA_USERNAME": "ledger",
				"API_FIREBASE_CREDENTIALS_JSON":    "secret://firebase/admin",
			},
			want: []string{"Firebase.CredentialsJSON", "Notifications.Kafka.Password"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := requiredSecretNames(tc.env)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestSecretVersionPins(t *testing.T) {
	pins := secretVersionPins("sm://kafka/password=3, firebase/admin=latest, broken, =7")
	if len(pins) != 2 {
		t.Fatalf("expected 2 pins, got %v", pins)
	}
	if pins["secret://kafka/password"] != "3" {
		t.Fatalf("expected sm:// reference rewritten, got %v", pins)
	}
	if pins["secret://firebase/admin"] != "latest" {
		t.Fatalf("expected bare reference prefixed, got %v", pins)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

	info := buildInfoFromEnv(map[string]string{}, config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}

	cfg := config.Config{Security: config.SecurityConfig{Environment: "prod"}}
	info = buildInfoFromEnv(map[string]string{"API_BUILD_VERSION": "v1.0.0", "API_BUILD_COMMIT_SHA": "abc123"}, cfg, started)
	if info.Version != "v1.0.0" || info.CommitSHA != "abc123" || info.Environment != "prod" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{
		Firebase:  config.FirebaseConfig{ProjectID: "fb-project"},
		Firestore: config.FirestoreConfig{ProjectID: "fs-project"},
	}
	if got := traceProjectID(cfg); got != "fb-project" {
		t.Fatalf("expected firebase project, got %s", got)
	}
	cfg.Firebase.ProjectID = ""
	if got := traceProjectID(cfg); got != "fs-project" {
		t.Fatalf("expected firestore project, got %s", got)
	}
}
