// Package metrics provides Prometheus metrics for blobtext.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobtext_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	gatewayOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobtext_gateway_operation_duration_seconds",
			Help:    "Storage gateway operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	gatewayOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_gateway_operations_total",
			Help: "Total storage gateway operations",
		},
		[]string{"backend", "operation", "status"},
	)

	gatewayTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_gateway_timeouts_total",
			Help: "Gateway calls abandoned after the time limit",
		},
		[]string{"operation"},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobtext_content_bytes_uploaded_total",
			Help: "Total bytes written through the gateway",
		},
	)

	// Explorer metrics
	explorerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_explorer_operations_total",
			Help: "Explorer operations by outcome",
		},
		[]string{"operation", "status"},
	)

	explorerRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_explorer_rollbacks_total",
			Help: "Optimistic mutations undone after a gateway failure",
		},
		[]string{"operation"},
	)

	validationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_validation_failures_total",
			Help: "Rejected pathnames by reason",
		},
		[]string{"reason"},
	)

	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobtext_tree_size",
			Help: "Number of logical files in the explorer collection",
		},
	)

	deletingInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobtext_deleting_in_flight",
			Help: "Entries currently marked as deleting",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobtext_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobtext_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGatewayOperation records a storage gateway call.
func RecordGatewayOperation(backend, operation string, duration time.Duration, success bool) {
	gatewayOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	gatewayOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordGatewayTimeout records a call that exceeded its time limit.
func RecordGatewayTimeout(operation string) {
	gatewayTimeoutsTotal.WithLabelValues(operation).Inc()
}

// RecordContentUpload records bytes written through the gateway.
func RecordContentUpload(bytes int64) {
	contentBytesUploaded.Add(float64(bytes))
}

// RecordExplorerOperation records the outcome of an explorer operation.
func RecordExplorerOperation(operation string, success bool) {
	explorerOperationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordRollback records an undone optimistic mutation.
func RecordRollback(operation string) {
	explorerRollbacksTotal.WithLabelValues(operation).Inc()
}

// RecordValidationFailure records a rejected pathname.
func RecordValidationFailure(reason string) {
	validationFailuresTotal.WithLabelValues(reason).Inc()
}

// SetTreeSize sets the current collection size.
func SetTreeSize(size int) {
	treeSize.Set(float64(size))
}

// SetDeletingInFlight sets the number of entries pending deletion.
func SetDeletingInFlight(count int) {
	deletingInFlight.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. The
// route pattern is used as the path label to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
