package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caravel-erp/caravel-erp/internal/inventory"
	"github.com/caravel-erp/caravel-erp/internal/journal"
	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/payments"
	"github.com/caravel-erp/caravel-erp/internal/periods"
	"github.com/caravel-erp/caravel-erp/internal/recon"
	"github.com/caravel-erp/caravel-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	LedgerHandler    *ledger.Handler
	JournalHandler   *journal.Handler
	PeriodsHandler   *periods.Handler
	InventoryHandler *inventory.Handler
	PaymentsHandler  *payments.Handler
	ReconHandler     *recon.Handler
	JobsHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with Caravel defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware(params.Logger))

		r.Route("/accounts", params.LedgerHandler.MountRoutes)
		r.Route("/journal-entries", params.JournalHandler.MountRoutes)
		r.Route("/periods", params.PeriodsHandler.MountRoutes)
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
		r.Route("/payments", params.PaymentsHandler.MountRoutes)
		r.Route("/reconciliation", params.ReconHandler.MountRoutes)
	})

	return r
}
