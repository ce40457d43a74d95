package invoice

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
	"go.uber.org/mock/gomock"

	"github.com/ledgerline/invoicing/internal/shared"
)

func newTestRouter(env *testEnv) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), env.svc)
	r := chi.NewRouter()
	r.Route("/api/v1/invoices", h.MountRoutes)
	r.Route("/public/invoices", h.MountPublicRoutes)
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

const b2bBody = `{
	"companyId": 2,
	"toCompanyId": 3,
	"currency": "USD",
	"taxRate": "10",
	"issueDate": "2024-03-01",
	"items": [
		{"description": "Widget", "quantity": "2", "unitPrice": "100"},
		{"description": "Setup", "quantity": 1, "unitPrice": 50}
	]
}`

func TestHandlerCreateAndFetch(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	rr := do(t, router, &sender, http.MethodPost, "/api/v1/invoices/b2b", b2bBody)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "INV-B2B-0001", created["invoiceNumber"])
	assert.Equal(t, "B2B", created["invoiceType"])
	assert.Equal(t, "DRAFT", created["status"])
	assert.Equal(t, "250.00", created["subtotal"])
	assert.Equal(t, "25.00", created["taxAmount"])
	assert.Equal(t, "275.00", created["total"])
	assert.Equal(t, "2024-03-01", created["issueDate"])
	assert.Equal(t, "2024-03-31", created["dueDate"])
	assert.NotContains(t, rr.Body.String(), "confirmTokenHash")

	rr = do(t, router, &recipient, http.MethodGet, "/api/v1/invoices/INV-B2B-0001", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, &outsider, http.MethodGet, "/api/v1/invoices/1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = do(t, router, &sender, http.MethodGet, "/api/v1/invoices?direction=sent&limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.EqualValues(t, 1, page["total"])
	assert.EqualValues(t, 5, page["limit"])
	assert.Len(t, page["items"], 1)
}

func TestHandlerErrors(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	rr := do(t, router, nil, http.MethodGet, "/api/v1/invoices", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, router, &sender, http.MethodPost, "/api/v1/invoices/b2b", `{"companyId": 2, "bogus": true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, &sender, http.MethodPost, "/api/v1/invoices/b2b", `{"companyId": 2, "currency": "USD", "items": []}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.NotEmpty(t, problem["errors"])

	rr = do(t, router, &sender, http.MethodPost, "/api/v1/invoices/abc/send", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerLifecycleAndItems(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	rr := do(t, router, &sender, http.MethodPost, "/api/v1/invoices/b2b", b2bBody)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, router, &sender, http.MethodPost, "/api/v1/invoices/1/items", `{"description": "Support", "quantity": "1", "unitPrice": "25"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"total":"302.50"`)

	rr = do(t, router, &sender, http.MethodPatch, "/api/v1/invoices/1/items/3", `{"unitPrice": "50"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"total":"330.00"`)

	rr = do(t, router, &sender, http.MethodDelete, "/api/v1/invoices/1/items/3", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"total":"275.00"`)

	env.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)
	rr = do(t, router, &sender, http.MethodPost, "/api/v1/invoices/1/send", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"status":"SENT"`)

	rr = do(t, router, &sender, http.MethodPost, "/api/v1/invoices/1/send", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, &sender, http.MethodPut, "/api/v1/invoices/1/items", `{"items": []}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, &sender, http.MethodDelete, "/api/v1/invoices/1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, &recipient, http.MethodGet, "/api/v1/invoices/stats?byCurrency=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"byCurrency"`)
}

func TestHandlerPublicRoutesHideInvoice(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	inv := env.createB2B(t, b2bRequest())

	rr := do(t, router, nil, http.MethodGet, "/public/invoices/"+inv.UUID.String()+"?token=nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, nil, http.MethodPost, "/public/invoices/not-a-uuid/confirm", `{"token": "x"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
