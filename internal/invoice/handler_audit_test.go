package invoice

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ledgerline/invoicing/internal/audit"
)

func TestHandlerAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	rr := do(t, router, &sender, http.MethodPost, "/api/v1/invoices/b2b", b2bBody)
	require.Equal(t, http.StatusCreated, rr.Code)
	env.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)
	rr = do(t, router, &sender, http.MethodPost, "/api/v1/invoices/1/send", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, &recipient, http.MethodGet, "/api/v1/invoices/1/audit?pageSize=1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "invoice.create", page.Entries[0].Action)
	assert.True(t, page.Paging.HasNext)

	rr = do(t, router, &sender, http.MethodGet, "/api/v1/invoices/INV-B2B-0001/audit?action=invoice.send", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "DRAFT", page.Entries[0].FromStatus)
	assert.Equal(t, "SENT", page.Entries[0].ToStatus)

	rr = do(t, router, &outsider, http.MethodGet, "/api/v1/invoices/1/audit", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, &sender, http.MethodGet, "/api/v1/invoices/1/audit?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, nil, http.MethodGet, "/api/v1/invoices/1/audit", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, router, &sender, http.MethodGet, "/api/v1/invoices/1/audit/export.csv?from=2024-01-01&to=2024-12-31", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "audit-")
	assert.Contains(t, rr.Body.String(), "invoice.send,DRAFT,SENT")
}
