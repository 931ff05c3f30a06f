package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the inventory API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.getItem)
	r.Get("/items/{id}/movements", h.listMovements)
	r.Post("/items/{id}/adjust", h.adjust)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), shared.CompanyFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	movements, err := h.service.ListMovements(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, movements)
}

type adjustRequest struct {
	QtyDelta  float64 `json:"qty_delta" validate:"required"`
	UnitValue string  `json:"unit_value"`
	Date      string  `json:"date" validate:"required"`
	Reference string  `json:"reference"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		shared.WriteError(w, shared.Validationf("date", "expected YYYY-MM-DD"))
		return
	}
	var unitValue decimal.Decimal
	if req.UnitValue != "" {
		if unitValue, err = decimal.NewFromString(req.UnitValue); err != nil {
			shared.WriteError(w, shared.Validationf("unit_value", "invalid decimal"))
			return
		}
	}
	movement, err := h.service.Adjust(r.Context(), AdjustInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		ItemID:    id,
		QtyDelta:  req.QtyDelta,
		UnitValue: unitValue,
		Date:      date,
		Reference: req.Reference,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, movement)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		shared.WriteErrorStatus(w, http.StatusNotFound, err)
	default:
		if shared.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("inventory request failed", slog.Any("error", err))
		}
		shared.WriteError(w, err)
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		shared.WriteError(w, shared.Validationf("id", "invalid identifier"))
		return 0, false
	}
	return id, true
}
