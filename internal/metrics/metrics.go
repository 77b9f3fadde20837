// Package metrics provides Prometheus instrumentation for the wallet engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PaymentsTotal counts payment attempts, partitioned by method and outcome
	// (completed, validation_rejected, limit_rejected, fraud_blocked,
	// insufficient_funds, error).
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_payments_total",
		Help: "Total number of payment attempts",
	}, []string{"method", "outcome"})

	// PaymentLatency tracks end-to-end payment processing latency.
	PaymentLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_payment_latency_seconds",
		Help:    "Payment processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// TopUpsTotal counts gateway top-ups, partitioned by method and result
	// (credited or duplicate).
	TopUpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_topups_total",
		Help: "Total number of gateway top-up confirmations",
	}, []string{"method", "result"})

	// FraudDecisions counts risk engine decisions by action.
	FraudDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_fraud_decisions_total",
		Help: "Risk engine decisions",
	}, []string{"action"})

	// FraudScores tracks the distribution of computed fraud scores.
	FraudScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_fraud_score",
		Help:    "Distribution of computed fraud scores",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// EventClients tracks connected payment-event WebSocket clients.
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_event_clients",
		Help: "Number of connected payment event stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route cardinality is low.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
