package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	upstreamDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the studio.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Upstream invocation metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamBreakerState    *prometheus.GaugeVec

	// Editing metrics
	SessionsActive      prometheus.Gauge
	RuleRejectionsTotal *prometheus.CounterVec
	SaveOutcomesTotal   *prometheus.CounterVec
	PublishesTotal      prometheus.Counter

	// Option cache metrics
	OptionCacheHitsTotal   *prometheus.CounterVec
	OptionCacheMissesTotal *prometheus.CounterVec

	// Preview and knowledge metrics
	PreviewTurnsTotal       prometheus.Counter
	KnowledgeSearchDuration prometheus.Histogram
	KnowledgeBasesResponded prometheus.Histogram
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formstudio_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formstudio_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formstudio_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formstudio_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Upstream
		UpstreamRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formstudio_upstream_requests_total",
			Help: "Total number of upstream service requests.",
		}, []string{"service", "method", "status"}),
		UpstreamRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formstudio_upstream_request_duration_seconds",
			Help:    "Upstream request duration in seconds.",
			Buckets: upstreamDurationBuckets,
		}, []string{"service"}),
		UpstreamBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "formstudio_upstream_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service"}),

		// Editing
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formstudio_sessions_active",
			Help: "Number of live editing sessions.",
		}),
		RuleRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formstudio_rule_rejections_total",
			Help: "Total form edits rejected by consistency rules.",
		}, []string{"operation"}),
		SaveOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formstudio_save_outcomes_total",
			Help: "Save attempts by outcome (saved, blocked, partial, failed).",
		}, []string{"outcome"}),
		PublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formstudio_publishes_total",
			Help: "Total successful publishes.",
		}),

		// Option cache
		OptionCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formstudio_option_cache_hits_total",
			Help: "Total dropdown option cache hits.",
		}, []string{"tool"}),
		OptionCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formstudio_option_cache_misses_total",
			Help: "Total dropdown option cache misses.",
		}, []string{"tool"}),

		// Preview and knowledge
		PreviewTurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formstudio_preview_turns_total",
			Help: "Total preview chat turns.",
		}),
		KnowledgeSearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formstudio_knowledge_search_duration_seconds",
			Help:    "Aggregate knowledge search duration in seconds.",
			Buckets: upstreamDurationBuckets,
		}),
		KnowledgeBasesResponded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formstudio_knowledge_bases_responded",
			Help:    "Number of knowledge bases that answered an aggregate search.",
			Buckets: []float64{1, 2, 3, 5, 10},
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.UpstreamBreakerState,
		m.SessionsActive,
		m.RuleRejectionsTotal,
		m.SaveOutcomesTotal,
		m.PublishesTotal,
		m.OptionCacheHitsTotal,
		m.OptionCacheMissesTotal,
		m.PreviewTurnsTotal,
		m.KnowledgeSearchDuration,
		m.KnowledgeBasesResponded,
	)

	return m
}

// --- Recording helpers ---

// ObserveUpstream records one upstream request. It satisfies the upstream
// client's Observer interface.
func (m *Metrics) ObserveUpstream(service, method string, status int, elapsed time.Duration) {
	m.UpstreamRequestsTotal.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	m.UpstreamRequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// SetUpstreamBreakerState sets the circuit breaker gauge for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetUpstreamBreakerState(service string, state float64) {
	m.UpstreamBreakerState.WithLabelValues(service).Set(state)
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRuleRejection records a form edit rejected by a consistency rule.
func (m *Metrics) RecordRuleRejection(operation string) {
	m.RuleRejectionsTotal.WithLabelValues(operation).Inc()
}

// RecordSaveOutcome records the outcome of a save attempt.
func (m *Metrics) RecordSaveOutcome(outcome string) {
	m.SaveOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordPublish records a successful publish.
func (m *Metrics) RecordPublish() {
	m.PublishesTotal.Inc()
}

// RecordOptionCacheHit records a dropdown option cache hit.
func (m *Metrics) RecordOptionCacheHit(tool string) {
	m.OptionCacheHitsTotal.WithLabelValues(tool).Inc()
}

// RecordOptionCacheMiss records a dropdown option cache miss.
func (m *Metrics) RecordOptionCacheMiss(tool string) {
	m.OptionCacheMissesTotal.WithLabelValues(tool).Inc()
}

// RecordPreviewTurn records one preview chat turn.
func (m *Metrics) RecordPreviewTurn() {
	m.PreviewTurnsTotal.Inc()
}

// RecordKnowledgeSearch records an aggregate knowledge search.
func (m *Metrics) RecordKnowledgeSearch(duration time.Duration, basesResponded int) {
	m.KnowledgeSearchDuration.Observe(duration.Seconds())
	m.KnowledgeBasesResponded.Observe(float64(basesResponded))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
