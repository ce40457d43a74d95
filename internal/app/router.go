package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ledgerline/invoicing/internal/invoice"
	"github.com/ledgerline/invoicing/internal/observability"
	"github.com/ledgerline/invoicing/internal/schedule"
	"github.com/ledgerline/invoicing/jobs"
)

// RouterParams contains dependencies for the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	InvoiceHandler  *invoice.Handler
	ScheduleHandler *schedule.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
	AccessLog       bool
}

// NewRouter builds the chi.Router serving the invoicing API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.AccessLog {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.InvoiceHandler != nil {
			r.Route("/invoices", params.InvoiceHandler.MountRoutes)
		}
		if params.ScheduleHandler != nil {
			r.Route("/schedules", params.ScheduleHandler.MountRoutes)
		}
	})
	if params.InvoiceHandler != nil {
		r.Route("/public/invoices", params.InvoiceHandler.MountPublicRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
