package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/ledgerline/invoicing/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesSharedRegistry(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("invoice:overdue-sweep").End(nil)
	jobs.SideEffectFailed("bill.create")

	body := scrape(t, metrics)
	assert.Contains(t, body, `invoicing_jobs_total{job="invoice:overdue-sweep",status="success"} 1`)
	assert.Contains(t, body, `invoicing_side_effect_failures_total{effect="bill.create"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/v1/invoices/{id}")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/7", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `invoicing_http_requests_total{code="418",method="GET",route="/api/v1/invoices/{id}",surface="api"} 1`)
	assert.Contains(t, body, `invoicing_http_request_duration_seconds_bucket{method="GET",route="/api/v1/invoices/{id}",surface="api",le="0.005"}`)
	assert.Contains(t, body, `invoicing_http_requests_in_flight{surface="api"} 0`)
}

func TestMetricsMiddlewareLabelsUnmatchedRequests(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.NotFoundHandler())

	for _, path := range []string{"/wp-admin", "/.env", "/public/nope"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, metrics)
	assert.Contains(t, body, `invoicing_http_requests_total{code="404",method="GET",route="unmatched",surface="ops"} 2`)
	assert.Contains(t, body, `invoicing_http_requests_total{code="404",method="GET",route="unmatched",surface="public"} 1`)
}

func TestSurfaceOf(t *testing.T) {
	cases := map[string]string{
		"/api/v1/invoices/7/items": SurfaceAPI,
		"/public/invoices/abc":     SurfacePublic,
		"/healthz":                 SurfaceOps,
		"/metrics":                 SurfaceOps,
		"/jobs/health":             SurfaceOps,
		"/apiary":                  SurfaceOps,
	}
	for path, want := range cases {
		assert.Equal(t, want, SurfaceOf(path), path)
	}
}

func TestNilMetricsServeUnavailable(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
