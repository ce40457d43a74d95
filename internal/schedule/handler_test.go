package schedule

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/invoicing/internal/shared"
)

func newTestRouter(env *testEnv) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), env.svc)
	r := chi.NewRouter()
	r.Route("/api/v1/schedules", h.MountRoutes)
	return r
}

func do(t *testing.T, router http.Handler, actor *shared.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerScheduleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	rr := do(t, router, &owner, http.MethodPost, "/api/v1/schedules", `{
		"companyId": 1,
		"clientId": 20,
		"frequency": "MONTHLY",
		"dayOfMonth": 1,
		"generateDaysBefore": 7,
		"autoSend": true,
		"template": {
			"currency": "EUR",
			"dueDays": 10,
			"items": [{"description": "Retainer", "quantity": "1", "unitPrice": "1200"}]
		}
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Schedule
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.True(t, created.IsActive)
	assert.True(t, created.AutoSend)
	assert.True(t, day(2024, 1, 25).Equal(created.NextGenerateDate))
	assert.Equal(t, "EUR", created.Template.Currency)
	assert.Equal(t, "1200", created.Template.Items[0].UnitPrice.String())

	rr = do(t, router, &owner, http.MethodGet, "/api/v1/schedules?active=true&clientId=20", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page shared.Page[Schedule]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)

	rr = do(t, router, &owner, http.MethodPatch, "/api/v1/schedules/1", `{"frequency": "BIWEEKLY", "generateDaysBefore": 0}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated Schedule
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.True(t, day(2024, 1, 29).Equal(updated.NextGenerateDate), "got %s", updated.NextGenerateDate)

	rr = do(t, router, &owner, http.MethodPost, "/api/v1/schedules/1/toggle", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var toggled Schedule
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &toggled))
	assert.False(t, toggled.IsActive)

	rr = do(t, router, &outsider, http.MethodGet, "/api/v1/schedules/1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, &owner, http.MethodDelete, "/api/v1/schedules/1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, &owner, http.MethodGet, "/api/v1/schedules/1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerScheduleErrors(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	tests := []struct {
		name   string
		actor  *shared.Actor
		method string
		path   string
		body   string
		want   int
	}{
		{"no actor", nil, http.MethodGet, "/api/v1/schedules", "", http.StatusUnauthorized},
		{"bad id", &owner, http.MethodGet, "/api/v1/schedules/abc", "", http.StatusBadRequest},
		{"bad active flag", &owner, http.MethodGet, "/api/v1/schedules?active=maybe", "", http.StatusBadRequest},
		{"unknown field", &owner, http.MethodPost, "/api/v1/schedules", `{"companyId": 1, "cadence": "DAILY"}`, http.StatusBadRequest},
		{"missing subject", &owner, http.MethodPost, "/api/v1/schedules", `{"companyId": 1, "frequency": "WEEKLY"}`, http.StatusBadRequest},
		{"missing schedule", &owner, http.MethodPost, "/api/v1/schedules/7/toggle", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, router, tt.actor, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}
