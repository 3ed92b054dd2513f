// Package metrics provides Prometheus instrumentation for the rebalancing engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecommendationsTotal counts emitted transfer recommendations by source tier.
	RecommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalance_recommendations_total",
		Help: "Total number of transfer recommendations emitted",
	}, []string{"source_tier"})

	// MatchLatency tracks the duration of a full recommendation run.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebalance_match_latency_seconds",
		Help:    "Recommendation run latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TransfersExecuted counts committed transfers.
	TransfersExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalance_transfers_executed_total",
		Help: "Total number of executed transfers",
	})

	// TransferConflicts counts executions refused because the source changed.
	TransferConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalance_transfer_conflicts_total",
		Help: "Transfers refused due to stale version or insufficient stock",
	}, []string{"reason"})

	// RejectionsTotal counts planner rejections by reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalance_rejections_total",
		Help: "Total number of recorded transfer rejections",
	}, []string{"reason"})

	// ForecastRunsTotal counts regeneration jobs by terminal status.
	ForecastRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalance_forecast_runs_total",
		Help: "Forecast regeneration jobs by final status",
	}, []string{"status"})

	// ForecastRunDuration tracks regeneration job duration.
	ForecastRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebalance_forecast_run_duration_seconds",
		Help:    "Forecast regeneration duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// ForecastRowsGenerated is the row count written by the last regeneration.
	ForecastRowsGenerated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rebalance_forecast_rows_generated",
		Help: "Forecast rows written by the most recent regeneration",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rebalance_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalance_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalance_http_request_duration_seconds",
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

		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
