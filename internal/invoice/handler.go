package invoice

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerline/invoicing/internal/platform/httpx"
	"github.com/ledgerline/invoicing/internal/shared"
)

// IdempotencyHeader carries the client supplied creation key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the invoice HTTP API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the authenticated invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/stats", h.stats)
	r.Post("/payroll", h.createPayroll)
	r.Post("/b2b", h.createB2B)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)

	r.Post("/{id}/send", h.transition(h.service.Send))
	r.Post("/{id}/review", h.transition(h.service.Review))
	r.Post("/{id}/confirm", h.transition(h.service.Confirm))
	r.Post("/{id}/mark-paid", h.transition(h.service.MarkPaid))
	r.Post("/{id}/cancel", h.transition(h.service.Cancel))

	r.Get("/{id}/items", h.listItems)
	r.Post("/{id}/items", h.addItem)
	r.Put("/{id}/items", h.replaceItems)
	r.Post("/{id}/items/reorder", h.reorderItems)
	r.Patch("/{id}/items/{itemID}", h.updateItem)
	r.Delete("/{id}/items/{itemID}", h.deleteItem)

	h.mountAuditRoutes(r)
}

// MountPublicRoutes registers the token protected recipient routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/{uuid}", h.publicGet)
	r.Post("/{uuid}/confirm", h.publicConfirm)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error("invoice request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func parseFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	f := ListFilter{
		Status:    Status(strings.ToUpper(q.Get("status"))),
		Type:      Type(strings.ToUpper(q.Get("type"))),
		Currency:  q.Get("currency"),
		Search:    q.Get("search"),
		Direction: Direction(strings.ToLower(q.Get("direction"))),
	}
	var err error
	if f.Page, err = httpx.IntQuery(r, "page", 1); err != nil {
		return f, err
	}
	if f.Limit, err = httpx.IntQuery(r, "limit", shared.DefaultLimit); err != nil {
		return f, err
	}
	payrollID, err := httpx.IntQuery(r, "payrollId", 0)
	if err != nil {
		return f, err
	}
	clientID, err := httpx.IntQuery(r, "clientId", 0)
	if err != nil {
		return f, err
	}
	f.PayrollID, f.ClientID = int64(payrollID), int64(clientID)
	return f, nil
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	byCurrency, _ := strconv.ParseBool(r.URL.Query().Get("byCurrency"))
	stats, err := h.service.Stats(r.Context(), actor, filter, byCurrency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) createPayroll(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CreatePayrollRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.CreatePayrollInvoice(r.Context(), actor, req, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) createB2B(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CreateB2BRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.CreateB2BInvoice(r.Context(), actor, req, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GetByRef(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionFunc func(ctx context.Context, actor shared.Actor, id int64) (*Invoice, error)

func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.ActorFrom(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		inv, err := fn(r.Context(), actor, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, inv)
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.ListItems(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

// itemCall decodes an optional body into T and runs an item operation.
func itemCall[T any](h *Handler, withBody bool, run func(r *http.Request, actor shared.Actor, id int64, body T) (*Invoice, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.ActorFrom(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		var body T
		if withBody {
			if err := httpx.DecodeJSON(r, &body); err != nil {
				h.fail(w, r, err)
				return
			}
		}
		inv, err := run(r, actor, id, body)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, inv)
	}
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	itemCall(h, true, func(r *http.Request, actor shared.Actor, id int64, in ItemInput) (*Invoice, error) {
		return h.service.AddItem(r.Context(), actor, id, in)
	})(w, r)
}

func (h *Handler) replaceItems(w http.ResponseWriter, r *http.Request) {
	itemCall(h, true, func(r *http.Request, actor shared.Actor, id int64, req ReplaceItemsRequest) (*Invoice, error) {
		return h.service.ReplaceItems(r.Context(), actor, id, req)
	})(w, r)
}

func (h *Handler) reorderItems(w http.ResponseWriter, r *http.Request) {
	itemCall(h, true, func(r *http.Request, actor shared.Actor, id int64, req ReorderItemsRequest) (*Invoice, error) {
		return h.service.ReorderItems(r.Context(), actor, id, req)
	})(w, r)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	itemCall(h, true, func(r *http.Request, actor shared.Actor, id int64, patch ItemPatch) (*Invoice, error) {
		itemID, err := httpx.IDParam(r, "itemID")
		if err != nil {
			return nil, err
		}
		return h.service.UpdateItem(r.Context(), actor, id, itemID, patch)
	})(w, r)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	itemCall(h, false, func(r *http.Request, actor shared.Actor, id int64, _ struct{}) (*Invoice, error) {
		itemID, err := httpx.IDParam(r, "itemID")
		if err != nil {
			return nil, err
		}
		return h.service.DeleteItem(r.Context(), actor, id, itemID)
	})(w, r)
}

func publicUUID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return uuid.Nil, shared.ErrNotFound
	}
	return id, nil
}

func (h *Handler) publicGet(w http.ResponseWriter, r *http.Request) {
	id, err := publicUUID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GetPublic(r.Context(), id, r.URL.Query().Get("token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type publicConfirmRequest struct {
	Token string `json:"token"`
}

func (h *Handler) publicConfirm(w http.ResponseWriter, r *http.Request) {
	id, err := publicUUID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" && r.ContentLength != 0 {
		var req publicConfirmRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		token = req.Token
	}
	inv, err := h.service.ConfirmPublic(r.Context(), id, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
