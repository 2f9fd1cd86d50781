package broker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the broker.
type Metrics struct {
	registry *prometheus.Registry

	MintsTotal   *prometheus.CounterVec
	MintDuration *prometheus.HistogramVec

	ErrorsTotal   *prometheus.CounterVec
	RateLimitHits prometheus.Counter
}

// NewMetrics creates a Metrics instance with all metrics registered on a
// fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voxa"
	}

	registry := prometheus.NewRegistry()

	mintsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_mints_total",
			Help:      "Total number of session minting requests",
		},
		[]string{"status"},
	)

	mintDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_mint_duration_seconds",
			Help:      "Session minting duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"error_type"},
	)

	// No per-client label: client addresses are unbounded and would grow the
	// series set without limit.
	rateLimitHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
	)

	registry.MustRegister(
		mintsTotal,
		mintDuration,
		errorsTotal,
		rateLimitHits,
	)

	return &Metrics{
		registry:      registry,
		MintsTotal:    mintsTotal,
		MintDuration:  mintDuration,
		ErrorsTotal:   errorsTotal,
		RateLimitHits: rateLimitHits,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordMint records a completed minting request.
func (m *Metrics) RecordMint(status string, duration time.Duration) {
	m.MintsTotal.WithLabelValues(status).Inc()
	m.MintDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordError records an error by type.
func (m *Metrics) RecordError(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit() {
	m.RateLimitHits.Inc()
}

// ResponseWriter wraps http.ResponseWriter to capture status code and size.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int
}

// NewResponseWriter creates a new ResponseWriter.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures bytes written.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += n
	return n, err
}
