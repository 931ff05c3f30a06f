package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes party reads.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/parties", h.list)
	r.Get("/parties/{id}", h.get)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	kind := PartyKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != PartyCustomer && kind != PartySupplier {
		shared.WriteError(w, shared.Validationf("kind", "expected CUSTOMER or SUPPLIER"))
		return
	}
	parties, err := h.service.ListParties(r.Context(), shared.CompanyFromContext(r.Context()), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, parties)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		shared.WriteError(w, shared.Validationf("id", "invalid identifier"))
		return
	}
	party, err := h.service.GetParty(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, party)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPartyNotFound):
		shared.WriteErrorStatus(w, http.StatusNotFound, err)
	default:
		if shared.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("masterdata request failed", slog.Any("error", err))
		}
		shared.WriteError(w, err)
	}
}
