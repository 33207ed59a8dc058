package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, path, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Transfer engine metrics
var (
	// TransfersTotal counts transfer attempts by outcome (completed, replayed,
	// insufficient_balance, rejected, contention).
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Total number of transfer attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TransferDeadlockRetries counts deadlock-class retries inside the engine.
	TransferDeadlockRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfer_deadlock_retries_total",
			Help: "Total number of deadlock-class retries in the transfer engine",
		},
	)

	// TransferDuration tracks end-to-end transfer duration.
	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_duration_seconds",
			Help:    "Duration of transfer engine invocations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
)

// Outbox metrics
var (
	// OutboxPendingEntries gauges the number of undelivered outbox entries.
	OutboxPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Number of pending entries in the transaction outbox",
		},
	)

	// OutboxDeliveries counts delivery attempts by result (delivered, retried, failed).
	OutboxDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_deliveries_total",
			Help: "Total number of outbox delivery attempts by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records request metrics.
// Side effects: records Prometheus metrics and reads the current time.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := normalizePath(r.URL.Path)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths to avoid cardinality explosion.
// Replaces transaction UUIDs with a placeholder.
func normalizePath(path string) string {
	const prefix = "/api/transactions/"
	if strings.HasPrefix(path, prefix) {
		rest := path[len(prefix):]
		switch rest {
		case "stats", "validate-receiver", "":
			return path
		}
		return prefix + "{uuid}"
	}
	return path
}

// RecordTransfer increments the transfer counter for the given outcome.
// Side effects: records a Prometheus metric.
func RecordTransfer(outcome string) {
	TransfersTotal.WithLabelValues(outcome).Inc()
}

// RecordDeadlockRetry increments the deadlock retry counter.
// Side effects: records a Prometheus metric.
func RecordDeadlockRetry() {
	TransferDeadlockRetries.Inc()
}

// RecordDelivery increments the outbox delivery counter for the given result.
// Side effects: records a Prometheus metric.
func RecordDelivery(result string) {
	OutboxDeliveries.WithLabelValues(result).Inc()
}
