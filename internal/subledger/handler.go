package subledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the subledger transaction API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers subledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.create)
	r.Get("/transactions/{id}", h.get)
	r.Post("/transactions/{id}/post", h.post)
	r.Post("/transactions/{id}/void", h.void)
	r.Get("/parties/{id}/transactions", h.listByParty)
	r.Get("/parties/{id}/open-transactions", h.openByParty)
	r.Get("/ageing", h.ageing)
}

type chargeLineDTO struct {
	AccountID   int64  `json:"account_id" validate:"required"`
	Description string `json:"description"`
	Amount      string `json:"amount" validate:"required"`
	Tax         string `json:"tax"`
}

type createTransactionRequest struct {
	Type      string          `json:"type" validate:"required,oneof=INVOICE PAYMENT CREDIT_NOTE"`
	PartyKind string          `json:"party_kind" validate:"required,oneof=CUSTOMER SUPPLIER"`
	PartyID   int64           `json:"party_id" validate:"required"`
	Reference string          `json:"reference"`
	Date      string          `json:"date" validate:"required"`
	DueDate   string          `json:"due_date"`
	Lines     []chargeLineDTO `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var dueDate time.Time
	if req.DueDate != "" {
		if dueDate, err = parseDate(req.DueDate, "due_date"); err != nil {
			shared.WriteError(w, err)
			return
		}
	}
	lines := make([]ChargeLineInput, 0, len(req.Lines))
	for idx, dto := range req.Lines {
		line := ChargeLineInput{AccountID: dto.AccountID, Description: dto.Description}
		if line.Amount, err = decimal.NewFromString(dto.Amount); err != nil {
			shared.WriteError(w, shared.Validationf("lines", "line %d: invalid amount", idx))
			return
		}
		if dto.Tax != "" {
			if line.Tax, err = decimal.NewFromString(dto.Tax); err != nil {
				shared.WriteError(w, shared.Validationf("lines", "line %d: invalid tax", idx))
				return
			}
		}
		lines = append(lines, line)
	}
	txn, err := h.service.CreateTransaction(r.Context(), CreateInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		Type:      TxType(req.Type),
		PartyKind: masterdata.PartyKind(req.PartyKind),
		PartyID:   req.PartyID,
		Reference: req.Reference,
		Date:      date,
		DueDate:   dueDate,
		Lines:     lines,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, txn)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	txn, err := h.service.Get(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, txn)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	txn, err := h.service.PostTransaction(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, txn)
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	txn, err := h.service.VoidTransaction(r.Context(), shared.CompanyFromContext(r.Context()), id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, txn)
}

func (h *Handler) listByParty(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListByParty(r.Context(), shared.CompanyFromContext(r.Context()), partyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) openByParty(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	asOf, err := parseDateQuery(r, "as_of")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	list, err := h.service.OpenTransactions(r.Context(), shared.CompanyFromContext(r.Context()), partyID, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, list)
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
	buckets, err := h.service.Ageing(r.Context(), AgeingInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		PartyKind: kind,
		PartyID:   partyID,
		AsOf:      asOf,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, buckets)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		shared.WriteErrorStatus(w, http.StatusNotFound, err)
	default:
		if shared.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("subledger request failed", slog.Any("error", err))
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

func parseDateQuery(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return parseDate(raw, key)
}
