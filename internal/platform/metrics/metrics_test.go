package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsDomainEvents(t *testing.T) {
	rec := New("test")

	rec.RecordTransition("processing", "shipped", ResultOK)
	rec.RecordTransition("processing", "shipped", ResultOK)
	rec.RecordTransition("cancelled", "pending", "invalid_transition")
	rec.RecordRefund(ResultOK, 40)
	rec.RecordRefund("refund_exceeds_limit", 41)
	rec.RecordNotification("refund_issued", ResultDropped)
	rec.RecordVerification("oidc", false, "audience_mismatch", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.transitions.WithLabelValues("processing", "shipped", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.transitions.WithLabelValues("cancelled", "pending", "invalid_transition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.refunds.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.refunds.WithLabelValues("refund_exceeds_limit")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.refundAmount))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.notifications.WithLabelValues("refund_issued", ResultDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.verifications.WithLabelValues("oidc", ResultError, "audience_mismatch")))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	rec := New("test")
	router := chi.NewRouter()
	router.Use(rec.Middleware)
	router.Get("/orders/{orderId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"ord_1", "ord_2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.requests.WithLabelValues("/orders/{orderId}", http.MethodGet, "404")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	rec := New("test")
	rec.RecordRefund(ResultOK, 10)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `test_refunds_total{result="ok"} 1`))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.RecordTransition("a", "b", ResultOK)
	rec.RecordRefund(ResultOK, 1)
	rec.RecordNotification("x", ResultOK)
	rec.RecordVerification("oidc", true, "ok", 0)
	called := false
	rec.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
