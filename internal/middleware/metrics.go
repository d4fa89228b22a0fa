// Package middleware provides HTTP middleware for the control plane.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "land_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "land_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DeploymentsTotal counts deployment creations by outcome.
	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "land_deployments_total",
			Help: "Total deployments by terminal outcome",
		},
		[]string{"outcome"},
	)

	// WorkersOnline tracks the size of the live fleet.
	WorkersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "land_workers_online",
			Help: "Number of workers currently online",
		},
	)

	// SnapshotItems tracks the routing snapshot's current size.
	SnapshotItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "land_snapshot_items",
			Help: "Number of routable functions in the current snapshot",
		},
	)

	// SyncRequestsTotal counts worker sync calls by response kind.
	SyncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "land_worker_sync_total",
			Help: "Total worker sync calls by result",
		},
		[]string{"result"},
	)
)

// Metrics returns a middleware that records Prometheus metrics. The path
// label uses the chi route pattern so path parameters do not explode
// cardinality.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
