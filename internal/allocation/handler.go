package allocation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the allocation API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/allocations", h.allocate)
	r.Post("/allocations/auto", h.autoAllocate)
	r.Get("/allocations/{id}", h.get)
	r.Post("/allocations/{id}/reverse", h.reverse)
	r.Get("/transactions/{id}/allocations", h.listForTransaction)
}

type allocateRequest struct {
	CreditTxID int64  `json:"credit_tx_id" validate:"required"`
	DebitTxID  int64  `json:"debit_tx_id" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		shared.WriteError(w, shared.Validationf("amount", "invalid decimal"))
		return
	}
	alloc, err := h.service.Allocate(r.Context(), AllocateInput{
		CompanyID:  shared.CompanyFromContext(r.Context()),
		CreditTxID: req.CreditTxID,
		DebitTxID:  req.DebitTxID,
		Amount:     amount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, alloc)
}

type autoAllocateRequest struct {
	CreditTxID int64 `json:"credit_tx_id" validate:"required"`
}

func (h *Handler) autoAllocate(w http.ResponseWriter, r *http.Request) {
	var req autoAllocateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	allocs, err := h.service.AutoAllocate(r.Context(), shared.CompanyFromContext(r.Context()), req.CreditTxID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, allocs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	alloc, err := h.service.Get(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, alloc)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	alloc, err := h.service.Reverse(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, alloc)
}

func (h *Handler) listForTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListForTransaction(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAllocationNotFound):
		shared.WriteErrorStatus(w, http.StatusNotFound, err)
	default:
		if shared.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("allocation request failed", slog.Any("error", err))
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
