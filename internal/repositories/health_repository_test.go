package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(50 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cases := []struct {
		name         string
		checks       []DependencyCheck
		wantStatus   string
		probe        string
		probeStatus  string
		probeDetail  string
		probeErrText string
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "firestore", Check: func(context.Context) error { return nil }},
				{Name: "notifications", Check: func(context.Context) error { return nil }},
			},
			wantStatus:  domain.HealthStatusOK,
			probe:       "firestore",
			probeStatus: domain.HealthStatusOK,
			probeDetail: "ok",
		},
		{
			name: "failing dependency degrades",
			checks: []DependencyCheck{
				{Name: "firestore", Check: func(context.Context) error { return boom }},
				{Name: "notifications", Check: func(context.Context) error { return nil }},
			},
			wantStatus:   domain.HealthStatusDegraded,
			probe:        "firestore",
			probeStatus:  domain.HealthStatusDegraded,
			probeDetail:  "boom",
			probeErrText: "boom",
		},
		{
			name: "timeout is an error",
			checks: []DependencyCheck{
				{Name: "notifications", Timeout: 5 * time.Millisecond, Check: slow},
				{Name: "firestore", Check: func(context.Context) error { return boom }},
			},
			wantStatus:  domain.HealthStatusError,
			probe:       "notifications",
			probeStatus: domain.HealthStatusError,
			probeDetail: "timeout",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, report.Status)
			}
			if len(report.Checks) != len(tc.checks) {
				t.Fatalf("expected %d checks, got %d", len(tc.checks), len(report.Checks))
			}
			check := report.Checks[tc.probe]
			if check.Status != tc.probeStatus {
				t.Fatalf("expected %s status %s, got %s", tc.probe, tc.probeStatus, check.Status)
			}
			if check.Detail != tc.probeDetail {
				t.Fatalf("expected %s detail %q, got %q", tc.probe, tc.probeDetail, check.Detail)
			}
			if tc.probeErrText != "" && check.Error != tc.probeErrText {
				t.Fatalf("expected error %q, got %q", tc.probeErrText, check.Error)
			}
			if report.GeneratedAt != now {
				t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
			}
		})
	}
}

func TestNewDependencyHealthRepositoryRejectsIncompleteChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty checks")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: " "}}); err == nil {
		t.Fatalf("expected error for unnamed check")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore"}}); err == nil {
		t.Fatalf("expected error for missing check function")
	}
}
