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
	namespace = "eyeris"

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	imagePreprocessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_preprocess_total",
			Help:      "Number of preprocessed images",
		},
		[]string{"status", "source_format"},
	)

	imagePreprocessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_preprocess_duration_seconds",
			Help:      "Time spent decoding, resizing and re-encoding images",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status", "source_format"},
	)

	providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Outbound provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Outbound provider call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)

	permitsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_permits_in_flight",
			Help:      "Rate-limit permits currently held",
		},
		[]string{"provider"},
	)

	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Permit acquisitions that were rejected or timed out",
		},
		[]string{"provider"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Provider-reported token usage",
		},
		[]string{"provider", "kind"},
	)

	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Finished analyses by outcome kind",
		},
		[]string{"outcome"},
	)
)

func HttpRequestsTotal(method, path, code string) {
	httpRequestsTotal.With(prometheus.Labels{
		"method": method,
		"path":   path,
		"code":   code,
	}).Inc()
}

func HttpRequestDuration(method, path string, duration time.Duration) {
	httpRequestDuration.With(prometheus.Labels{
		"method": method,
		"path":   path,
	}).Observe(duration.Seconds())
}

func ImagePreprocess(status, sourceFormat string, duration time.Duration) {
	labels := prometheus.Labels{
		"status":        status,
		"source_format": sourceFormat,
	}
	imagePreprocessTotal.With(labels).Inc()
	imagePreprocessDuration.With(labels).Observe(duration.Seconds())
}

func ProviderCall(provider, outcome string, duration time.Duration) {
	providerCallsTotal.With(prometheus.Labels{
		"provider": provider,
		"outcome":  outcome,
	}).Inc()
	providerCallDuration.With(prometheus.Labels{
		"provider": provider,
	}).Observe(duration.Seconds())
}

func PermitAcquired(provider string) {
	permitsInFlight.WithLabelValues(provider).Inc()
}

func PermitReleased(provider string) {
	permitsInFlight.WithLabelValues(provider).Dec()
}

func RateLimitRejected(provider string) {
	rateLimitRejectionsTotal.WithLabelValues(provider).Inc()
}

func Tokens(provider string, prompt, completion int64) {
	tokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	tokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
}

func AnalysisFinished(outcome string) {
	analysesTotal.WithLabelValues(outcome).Inc()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &statusResponseWriter{w, http.StatusOK}
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		duration := time.Since(start)
		HttpRequestsTotal(r.Method, path, strconv.Itoa(ww.status))
		HttpRequestDuration(r.Method, path, duration)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
