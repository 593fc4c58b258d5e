// Package metrics defines the Prometheus collectors of the storefront client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Token refresh
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_token_refresh_total",
			Help: "Token refresh network calls by result",
		},
		[]string{"result"},
	)

	RefreshShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_token_refresh_shared_total",
			Help: "Refresh requests served by an in-flight or completed refresh",
		},
	)

	// Authenticated transport
	TransportRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_transport_retries_total",
			Help: "Requests redispatched after a 401, by result",
		},
		[]string{"result"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_backend_request_duration_seconds",
			Help:    "Backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_backend_errors_total",
			Help: "Failed backend calls by operation",
		},
		[]string{"operation"},
	)

	// Cart
	CartOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Cart mutations by operation and cart mode",
		},
		[]string{"operation", "mode"},
	)

	CartSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_sync_failures_total",
			Help: "Background cart syncs that failed",
		},
		[]string{"operation"},
	)

	// Favorites
	FavoriteToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_favorite_toggles_total",
			Help: "Favorite toggles by outcome",
		},
		[]string{"outcome"},
	)

	// UI bridge
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of bridge HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Bridge HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveBackend records the duration and outcome of one backend call.
func ObserveBackend(operation string, start time.Time, err error) {
	BackendRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		BackendErrors.WithLabelValues(operation).Inc()
	}
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}
