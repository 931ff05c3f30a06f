package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the fiscal period API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/periods", h.list)
	r.Post("/periods", h.create)
	r.Post("/periods/{id}/close", h.close)
	r.Post("/periods/{id}/open", h.open)
}

type createPeriodRequest struct {
	Code      string `json:"code" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	start, err := parseDate(req.StartDate, "start_date")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	end, err := parseDate(req.EndDate, "end_date")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	period, err := h.service.Create(r.Context(), CreateInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		Code:      req.Code,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, period)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), shared.CompanyFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, list)
}

type closePeriodRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req closePeriodRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	period, err := h.service.Close(r.Context(), CloseInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		PeriodID:  id,
		Force:     req.Force,
	})
	if err != nil {
		var pending *PendingItemsError
		if errors.As(err, &pending) {
			shared.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":             pending.Error(),
				"period_id":         pending.PeriodID,
				"journal_entry_ids": pending.Items.JournalEntryIDs,
				"transaction_ids":   pending.Items.TransactionIDs,
			})
			return
		}
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, period)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	period, err := h.service.Open(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, period)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPeriodNotFound):
		shared.WriteErrorStatus(w, http.StatusNotFound, err)
	case errors.Is(err, ErrPeriodOverlap), errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrAlreadyOpen):
		shared.WriteErrorStatus(w, http.StatusUnprocessableEntity, err)
	default:
		if shared.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("period request failed", slog.Any("error", err))
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

func parseDate(raw, field string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validationf(field, "expected YYYY-MM-DD")
	}
	return date, nil
}
