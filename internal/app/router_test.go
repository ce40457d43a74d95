package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/invoicing/internal/invoice"
	"github.com/ledgerline/invoicing/internal/observability"
	"github.com/ledgerline/invoicing/internal/schedule"
	"github.com/ledgerline/invoicing/internal/shared"
	"github.com/ledgerline/invoicing/jobs"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testRouter() (http.Handler, *observability.Metrics) {
	metrics := observability.NewMetrics()
	return NewRouter(RouterParams{
		Logger:          quietLogger,
		Config:          &Config{RateLimitPerMinute: 1000},
		InvoiceHandler:  invoice.NewHandler(quietLogger, invoice.NewService(invoice.Config{Logger: quietLogger})),
		ScheduleHandler: schedule.NewHandler(quietLogger, nil),
		JobHandler:      jobs.NewHandler(nil, quietLogger),
		Metrics:         metrics,
	}), metrics
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router, _ := testRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `invoicing_http_requests_total{code="200",method="GET",route="/healthz",surface="ops"}`)
}

func TestRouterRequiresActor(t *testing.T) {
	router, _ := testRouter()

	for _, path := range []string{"/api/v1/invoices/", "/api/v1/schedules/"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/", nil)
	req.Header.Set(HeaderUserID, "abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestActorMiddlewareParsesHeaders(t *testing.T) {
	var (
		got   shared.Actor
		found bool
	)
	inspect := ActorMiddleware(quietLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "42")
	req.Header.Set(HeaderUserEmail, " ap@initech.test ")
	req.Header.Set(HeaderCompanyIDs, "3, 7,,9")
	rr := httptest.NewRecorder()
	inspect.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.True(t, found)
	assert.Equal(t, shared.Actor{UserID: 42, Email: "ap@initech.test", CompanyIDs: []int64{3, 7, 9}}, got)

	found = false
	rr = httptest.NewRecorder()
	inspect.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, found)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserEmail, "ap@initech.test")
	req.Header.Set(HeaderCompanyIDs, "3,x")
	rr = httptest.NewRecorder()
	inspect.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
