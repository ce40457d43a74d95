package invoice

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/ledgerline/invoicing/internal/audit"
	"github.com/ledgerline/invoicing/internal/platform/httpx"
	"github.com/ledgerline/invoicing/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

func (h *Handler) mountAuditRoutes(r chi.Router) {
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(exportRateKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "audit export rate limit reached")
		}),
	)
	r.Get("/{id}/audit", h.auditTrail)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/{id}/audit/export.csv", h.exportAuditTrail)
	})
}

func exportRateKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok && actor.UserID > 0 {
		return "user:" + strconv.FormatInt(actor.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func parseTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, shared.Invalid(name, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	if name == "to" {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseAuditFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	f := audit.TimelineFilters{Actor: q.Get("actor"), Action: q.Get("action")}
	var err error
	if f.From, err = parseTime(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(r, "to"); err != nil {
		return f, err
	}
	if f.Page, err = httpx.IntQuery(r, "page", 1); err != nil {
		return f, err
	}
	if f.PageSize, err = httpx.IntQuery(r, "pageSize", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filters, err := parseAuditFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.AuditTrail(r.Context(), actor, chi.URLParam(r, "id"), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) exportAuditTrail(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filters, err := parseAuditFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, entries, err := h.service.ExportAuditTrail(r.Context(), actor, chi.URLParam(r, "id"), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := audit.WriteCSV(&buf, entries); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-"+inv.UUID.String()+".csv"))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write audit csv", slog.Any("error", err))
	}
}
