// Package metrics exposes Prometheus collectors for the order ledger.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanko-field/orderledger/internal/platform/observability"
)

const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultDropped = "dropped"
)

// Recorder owns a private Prometheus registry and the ledger collectors.
type Recorder struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	refundAmount  prometheus.Histogram
	notifications *prometheus.CounterVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	verifications *prometheus.CounterVec
}

// New registers every collector under namespace, plus the Go and process collectors.
func New(namespace string) *Recorder {
	if strings.TrimSpace(namespace) == "" {
		namespace = "orderledger"
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transition attempts by source, target and result.",
		}, []string{"from", "to", "result"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund attempts by result.",
		}, []string{"result"}),
		refundAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refund_amount",
			Help:      "Amounts of recorded refunds in order currency units.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes by envelope type.",
		}, []string{"type", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Token verification outcomes by kind and reason.",
		}, []string{"kind", "result", "reason"}),
	}
	r.registry.MustRegister(
		r.transitions, r.refunds, r.refundAmount, r.notifications,
		r.requests, r.latency, r.verifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordTransition counts one transition attempt.
func (r *Recorder) RecordTransition(from, to, result string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to, result).Inc()
}

// RecordRefund counts one refund attempt. amount is observed only for successful refunds.
func (r *Recorder) RecordRefund(result string, amount float64) {
	if r == nil {
		return
	}
	r.refunds.WithLabelValues(result).Inc()
	if result == ResultOK && amount > 0 {
		r.refundAmount.Observe(amount)
	}
}

// RecordNotification counts one dispatcher outcome.
func (r *Recorder) RecordNotification(kind, outcome string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(kind, outcome).Inc()
}

// RecordVerification implements auth.VerificationRecorder.
func (r *Recorder) RecordVerification(kind string, success bool, reason string, _ time.Duration) {
	if r == nil {
		return
	}
	result := ResultOK
	if !success {
		result = ResultError
	}
	r.verifications.WithLabelValues(kind, result, reason).Inc()
}

// Middleware records request counts and latency labelled by the matched chi route.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = observability.SanitizeRoute(pattern)
			}
		}
		method := observability.SanitizeMethod(req.Method)
		r.requests.WithLabelValues(route, method, strconv.Itoa(rec.status)).Inc()
		r.latency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
