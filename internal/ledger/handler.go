package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the journal posting API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Get("/accounts/{id}/balance", h.accountBalance)
	r.Post("/journal-entries", h.postEntry)
	r.Post("/journal-entries/draft", h.createDraft)
	r.Get("/journal-entries/{id}", h.getEntry)
	r.Post("/journal-entries/{id}/post", h.postDraft)
	r.Post("/journal-entries/{id}/void", h.voidEntry)
	r.Get("/integrity", h.integrity)
}

type lineDTO struct {
	AccountID int64  `json:"account_id" validate:"required"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
}

type postEntryRequest struct {
	Date         string    `json:"date" validate:"required"`
	Reference    string    `json:"reference"`
	SourceModule string    `json:"source_module" validate:"required"`
	SourceID     string    `json:"source_id" validate:"required,uuid"`
	Memo         string    `json:"memo"`
	Lines        []lineDTO `json:"lines" validate:"required,min=2,dive"`
}

func (req postEntryRequest) toInput(companyID int64) (PostingInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return PostingInput{}, err
	}
	lines, err := parseLines(req.Lines)
	if err != nil {
		return PostingInput{}, err
	}
	return PostingInput{
		CompanyID:    companyID,
		Date:         date,
		Reference:    req.Reference,
		SourceModule: req.SourceModule,
		SourceID:     uuid.MustParse(req.SourceID),
		Memo:         req.Memo,
		Lines:        lines,
	}, nil
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	var req postEntryRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	input, err := req.toInput(shared.CompanyFromContext(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entry, err := h.service.PostNew(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req postEntryRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.validate.StructExcept(req, "SourceID"); err != nil {
		shared.WriteErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	lines, err := parseLines(req.Lines)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sourceID := uuid.New()
	if req.SourceID != "" {
		parsed, err := uuid.Parse(req.SourceID)
		if err != nil {
			shared.WriteError(w, shared.Validationf("source_id", "invalid uuid"))
			return
		}
		sourceID = parsed
	}
	entry, err := h.service.CreateDraft(r.Context(), DraftInput{
		CompanyID:    shared.CompanyFromContext(r.Context()),
		Date:         date,
		Reference:    req.Reference,
		SourceModule: req.SourceModule,
		SourceID:     sourceID,
		Memo:         req.Memo,
		Lines:        lines,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) postDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.PostDraft(r.Context(), shared.CompanyFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, entry)
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) voidEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	reversal, err := h.service.VoidEntry(r.Context(), VoidInput{
		CompanyID: shared.CompanyFromContext(r.Context()),
		EntryID:   id,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, reversal)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context(), shared.CompanyFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	asOf, err := parseDateQuery(r, "as_of")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	balance, err := h.service.AccountBalance(r.Context(), shared.CompanyFromContext(r.Context()), id, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance})
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CheckIntegrity(r.Context(), shared.CompanyFromContext(r.Context())); err != nil {
		h.writeError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"balanced": true})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrAccountNotFound):
		shared.WriteErrorStatus(w, http.StatusNotFound, err)
	default:
		if shared.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("ledger request failed", slog.Any("error", err))
		}
		shared.WriteError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		shared.WriteError(w, shared.Validationf("id", "invalid identifier"))
		return 0, false
	}
	return id, true
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validationf("date", "expected YYYY-MM-DD")
	}
	return date, nil
}

func parseDateQuery(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return parseDate(raw)
}

func parseLines(dtos []lineDTO) ([]LineInput, error) {
	lines := make([]LineInput, 0, len(dtos))
	for idx, dto := range dtos {
		line := LineInput{AccountID: dto.AccountID}
		var err error
		if dto.Debit != "" {
			if line.Debit, err = decimal.NewFromString(dto.Debit); err != nil {
				return nil, shared.Validationf("lines", "line %d: invalid debit", idx)
			}
		}
		if dto.Credit != "" {
			if line.Credit, err = decimal.NewFromString(dto.Credit); err != nil {
				return nil, shared.Validationf("lines", "line %d: invalid credit", idx)
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}
