package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute labels requests no route handled.
const unmatchedRoute = "unmatched"

type metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	compilationsTotal   *prometheus.CounterVec
	compileDuration     prometheus.Histogram
}

// newMetrics registers every collector with reg. Each Server owns its own
// registry so tests can build several servers in one process.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		compilationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exprc_compilations_total",
				Help: "Compilations by the stage they ended in and their result",
			},
			[]string{"stage", "result"},
		),
		compileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exprc_compile_duration_seconds",
				Help:    "Time spent in the compiler pipeline",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
	}
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())

		// route pattern keeps label cardinality bounded
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = unmatchedRoute
		}

		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

func (m *metrics) observeCompile(stage, result string, elapsed time.Duration) {
	m.compilationsTotal.WithLabelValues(stage, result).Inc()
	m.compileDuration.Observe(elapsed.Seconds())
}
