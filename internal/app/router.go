package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/allocation"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/orders"
	"github.com/meridian-erp/meridian-erp/internal/reports"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/subledger"
)

// RouterParams aggregates handlers and infrastructure for route registration.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	Metrics     *observability.Metrics
	Idempotency *shared.IdempotencyStore

	LedgerHandler     *ledger.Handler
	PeriodsHandler    *periods.Handler
	MasterdataHandler *masterdata.Handler
	SubledgerHandler  *subledger.Handler
	AllocationHandler *allocation.Handler
	InventoryHandler  *inventory.Handler
	OrdersHandler     *orders.Handler
	ReportsHandler    *reports.Handler
}

// NewRouter wires the HTTP surface. Health and metrics endpoints sit outside
// the company scope; everything under /api/v1 requires the tenant header.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		shared.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(MiddlewareStack(MiddlewareConfig{
			Logger:      p.Logger,
			Config:      p.Config,
			Metrics:     p.Metrics,
			Idempotency: p.Idempotency,
		})...)

		if p.LedgerHandler != nil {
			api.Group(p.LedgerHandler.MountRoutes)
		}
		if p.PeriodsHandler != nil {
			api.Group(p.PeriodsHandler.MountRoutes)
		}
		if p.MasterdataHandler != nil {
			api.Group(p.MasterdataHandler.MountRoutes)
		}
		if p.SubledgerHandler != nil {
			api.Group(p.SubledgerHandler.MountRoutes)
		}
		if p.AllocationHandler != nil {
			api.Group(p.AllocationHandler.MountRoutes)
		}
		if p.InventoryHandler != nil {
			api.Group(p.InventoryHandler.MountRoutes)
		}
		if p.OrdersHandler != nil {
			api.Group(p.OrdersHandler.MountRoutes)
		}
		if p.ReportsHandler != nil {
			api.Group(p.ReportsHandler.MountRoutes)
		}
	})

	return r
}
