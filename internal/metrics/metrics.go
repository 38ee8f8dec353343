// Package metrics provides Prometheus instrumentation for the gaf engine.
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
	// TicksTotal counts scheduler ticks, partitioned by result (ok, error).
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaf_ticks_total",
		Help: "Total number of calculator ticks",
	}, []string{"result"})

	// TickDuration tracks wall time of a whole tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gaf_tick_duration_seconds",
		Help:    "Calculator tick duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// ProductOutcomes counts per-product results (updated, skipped_insufficient, skipped_shape).
	ProductOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaf_product_outcomes_total",
		Help: "Per-product pipeline outcomes",
	}, []string{"product", "outcome"})

	// StageDuration tracks pipeline stage latency (fetch, sanitize, encode, persist).
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gaf_stage_duration_seconds",
		Help:    "Per-product pipeline stage duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"stage"})

	// FallingBehind is 1 while the scheduler cannot keep its cadence.
	FallingBehind = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gaf_scheduler_falling_behind",
		Help: "1 while ticks overrun the configured interval",
	})

	// SaturationEvents counts transitions into the falling-behind state.
	SaturationEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gaf_scheduler_saturation_events_total",
		Help: "Number of times the scheduler started falling behind",
	})

	// SamplesCollected counts samples inserted by the collector.
	SamplesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaf_collector_samples_total",
		Help: "Samples inserted by the collector",
	}, []string{"product"})

	// CollectorErrors counts failed collector ticks by kind (connectivity, other).
	CollectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaf_collector_errors_total",
		Help: "Collector ticks that failed and were rolled back",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gaf_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaf_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gaf_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) time.Duration {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	return d
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern uses the chi route pattern for the path label to avoid
// one series per product.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack supports WebSocket upgrades behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
