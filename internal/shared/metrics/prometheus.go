package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	httpRequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_rejected_total",
			Help: "Requests rejected before reaching a handler",
		},
		[]string{"reason"},
	)

	// Upstream metrics
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Calls to upstream services and databases",
		},
		[]string{"target", "outcome"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25, 60},
		},
		[]string{"target"},
	)

	upstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Retried upstream calls",
		},
		[]string{"target"},
	)

	// Business metrics
	chunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifen_chunks_total",
			Help: "Period chunks processed by the Lifen fetcher",
		},
		[]string{"outcome"},
	)

	documentsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifen_documents_fetched_total",
			Help: "Diffusion records returned after deduplication",
		},
	)

	lettersFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "easily_letters_fetched_total",
			Help: "Letter rows returned by the Easily repository",
		},
	)

	rowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rows_dropped_total",
			Help: "Rows dropped during normalization",
		},
		[]string{"source"},
	)

	reconciledStays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciled_stays_total",
			Help: "Reconciled stays by optimal source",
		},
		[]string{"source"},
	)

	venueImports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_imports_total",
			Help: "Venue number files imported",
		},
		[]string{"format"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern returns the chi route template to keep label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if len(r.URL.Path) > 100 {
		return "/..."
	}
	return r.URL.Path
}

// --- Business metric helpers ---

// RecordRejected records a request refused by a load limiter
func RecordRejected(reason string) {
	httpRequestsRejected.WithLabelValues(reason).Inc()
}

// RecordUpstream records one upstream call
func RecordUpstream(target string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	upstreamRequestsTotal.WithLabelValues(target, outcome).Inc()
	upstreamRequestDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordRetry records a retried upstream call
func RecordRetry(target string) {
	upstreamRetries.WithLabelValues(target).Inc()
}

// RecordChunk records a processed period chunk ("ok" or "skipped")
func RecordChunk(outcome string) {
	chunksTotal.WithLabelValues(outcome).Inc()
}

// RecordDocuments records deduplicated diffusion records
func RecordDocuments(count int) {
	documentsFetched.Add(float64(count))
}

// RecordLetters records letter rows returned by the Easily repository
func RecordLetters(count int) {
	lettersFetched.Add(float64(count))
}

// RecordDroppedRows records rows dropped during normalization
func RecordDroppedRows(source string, count int) {
	if count > 0 {
		rowsDropped.WithLabelValues(source).Add(float64(count))
	}
}

// RecordReconciled records a reconciled stay
func RecordReconciled(source string) {
	reconciledStays.WithLabelValues(source).Inc()
}

// RecordVenueImport records an imported venue file
func RecordVenueImport(format string) {
	venueImports.WithLabelValues(format).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
