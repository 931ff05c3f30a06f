package reports

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the reporting API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/trial-balance", h.trialBalance)
	r.Get("/reports/ageing", h.ageing)
	r.Get("/reports/snapshot", h.snapshot)
	r.Post("/reports/invalidate", h.invalidate)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDateQuery(r, "as_of")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	report, err := h.service.TrialBalance(r.Context(), shared.CompanyFromContext(r.Context()), asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) ageing(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind := masterdata.PartyKind(query.Get("kind"))
	if kind != masterdata.PartyCustomer && kind != masterdata.PartySupplier {
		shared.WriteError(w, shared.Validationf("kind", "expected CUSTOMER or SUPPLIER"))
		return
	}
	var partyID int64
	if raw := query.Get("party_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			shared.WriteError(w, shared.Validationf("party_id", "invalid identifier"))
			return
		}
		partyID = parsed
	}
	asOf, err := parseDateQuery(r, "as_of")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	report, err := h.service.Ageing(r.Context(), shared.CompanyFromContext(r.Context()), kind, partyID, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDateQuery(r, "as_of")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	snap, err := h.service.CompanySnapshot(r.Context(), shared.CompanyFromContext(r.Context()), asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, snap)
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Invalidate(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"invalidated": true})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if shared.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error("report request failed", slog.Any("error", err))
	}
	shared.WriteError(w, err)
}

func parseDateQuery(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validationf(key, "expected YYYY-MM-DD")
	}
	return date, nil
}
