package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	nextMetric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue nextMetric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	got := counterValue(t, "eyeris_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/items/{id}",
		"code":   "418",
	})
	assert.Equal(t, float64(3), got)
}

func TestRecorders(t *testing.T) {
	Tokens("test-provider", 10, 4)
	AnalysisFinished("rate_limited")
	RateLimitRejected("test-provider")

	assert.Equal(t, float64(10), counterValue(t, "eyeris_tokens_total", map[string]string{"provider": "test-provider", "kind": "prompt"}))
	assert.Equal(t, float64(4), counterValue(t, "eyeris_tokens_total", map[string]string{"provider": "test-provider", "kind": "completion"}))
	assert.Equal(t, float64(1), counterValue(t, "eyeris_rate_limit_rejections_total", map[string]string{"provider": "test-provider"}))
}
