package orders

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

// Handler exposes the order and goods receipt API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales-orders", h.createSalesOrder)
	r.Get("/sales-orders/{id}", h.getSalesOrder)
	r.Post("/sales-orders/{id}/convert", h.convertSalesOrder)
	r.Post("/sales-orders/{id}/cancel-remainder", h.cancelSalesRemainder)
	r.Post("/purchase-orders", h.createPurchaseOrder)
	r.Get("/purchase-orders/{id}", h.getPurchaseOrder)
	r.Post("/purchase-orders/{id}/receive", h.receivePurchaseOrder)
	r.Post("/purchase-orders/{id}/cancel-remainder", h.cancelPurchaseRemainder)
	r.Get("/grvs/{id}", h.getGRV)
	r.Post("/grvs/{id}/invoice", h.invoiceGRV)
}

type orderLineDTO struct {
	ItemID      int64   `json:"item_id"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty" validate:"required,gt=0"`
	UnitAmount  string  `json:"unit_amount" validate:"required"`
	TaxRate     string  `json:"tax_rate"`
}

type createOrderRequest struct {
	PartyID   int64          `json:"party_id" validate:"required"`
	Reference string         `json:"reference"`
	Date      string         `json:"date" validate:"required"`
	Lines     []orderLineDTO `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) decodeOrder(w http.ResponseWriter, r *http.Request) (CreateOrderInput, bool) {
	var req createOrderRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return CreateOrderInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return CreateOrderInput{}, false
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		shared.WriteError(w, shared.Validationf("date", "expected YYYY-MM-DD"))
		return CreateOrderInput{}, false
	}
	lines := make([]OrderLineInput, 0, len(req.Lines))
	for idx, dto := range req.Lines {
		line := OrderLineInput{ItemID: dto.ItemID, Description: dto.Description, Qty: dto.Qty}
		if line.UnitAmount, err = decimal.NewFromString(dto.UnitAmount); err != nil {
			shared.WriteError(w, shared.Validationf("lines", "line %d: invalid unit amount", idx))
			return CreateOrderInput{}, false
		}
		if dto.TaxRate != "" {
			if line.TaxRate, err = decimal.NewFromString(dto.TaxRate); err != nil {
				shared.WriteError(w, shared.Validationf("lines", "line %d: invalid tax rate", idx))
				return CreateOrderInput{}, false
			}
		}
		lines = append(lines, line)
	}
	return CreateOrderInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		PartyID:   req.PartyID,
		Reference: req.Reference,
		Date:      date,
		Lines:     lines,
	}, true
}

func (h *Handler) createSalesOrder(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}
	order, err := h.service.CreateSalesOrder(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}
	order, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) getSalesOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetSalesOrder(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetPurchaseOrder(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) getGRV(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	grv, err := h.service.GetGRV(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, grv)
}

type lineQtyDTO struct {
	LineID int64   `json:"line_id" validate:"required"`
	Qty    float64 `json:"qty" validate:"required,gt=0"`
}

type conversionRequest struct {
	Reference string       `json:"reference"`
	Date      string       `json:"date"`
	Lines     []lineQtyDTO `json:"lines" validate:"dive"`
}

func (h *Handler) decodeConversion(w http.ResponseWriter, r *http.Request) (string, time.Time, []LineQty, bool) {
	var req conversionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return "", time.Time{}, nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return "", time.Time{}, nil, false
	}
	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			shared.WriteError(w, shared.Validationf("date", "expected YYYY-MM-DD"))
			return "", time.Time{}, nil, false
		}
		date = parsed
	}
	lines := make([]LineQty, 0, len(req.Lines))
	for _, dto := range req.Lines {
		lines = append(lines, LineQty{LineID: dto.LineID, Qty: dto.Qty})
	}
	return req.Reference, date, lines, true
}

func (h *Handler) convertSalesOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	reference, date, lines, ok := h.decodeConversion(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.ConvertSalesOrder(r.Context(), ConvertInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		OrderID:   id,
		Reference: reference,
		Date:      date,
		Lines:     lines,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) receivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	reference, date, lines, ok := h.decodeConversion(w, r)
	if !ok {
		return
	}
	grv, err := h.service.ReceivePurchaseOrder(r.Context(), ReceiveInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		OrderID:   id,
		Reference: reference,
		Date:      date,
		Lines:     lines,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, grv)
}

func (h *Handler) invoiceGRV(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	reference, date, lines, ok := h.decodeConversion(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.InvoiceGRV(r.Context(), InvoiceGRVInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		GRVID:     id,
		Reference: reference,
		Date:      date,
		Lines:     lines,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) cancelSalesRemainder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.CancelSalesRemainder(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) cancelPurchaseRemainder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.CancelPurchaseRemainder(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrGRVNotFound), errors.Is(err, ErrLineNotFound):
		shared.WriteErrorStatus(w, http.StatusNotFound, err)
	default:
		if shared.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("order request failed", slog.Any("error", err))
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
