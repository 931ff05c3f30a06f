package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates posting and voiding of journal entries and owns the
// authoritative account balances.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateDraft stores an unposted entry. Shape is validated; balance is
// enforced when the draft is posted.
func (s *Service) CreateDraft(ctx context.Context, input DraftInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodCoveringForUpdate(ctx, input.CompanyID, input.Date)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return shared.Violation(ErrPeriodClosed, "period", period.ID)
		}
		inserted, err := tx.InsertEntry(ctx, input, period.ID, EntryStatusDraft, nil)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// PostNew validates, creates, and posts a journal entry in one unit of work.
func (s *Service) PostNew(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodCoveringForUpdate(ctx, input.CompanyID, input.Date)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return shared.Violation(ErrPeriodClosed, "period", period.ID)
		}
		if !period.Contains(input.Date) {
			return shared.Violation(ErrDateOutOfRange, "period", period.ID)
		}
		if err := s.applyLines(ctx, tx, input.CompanyID, input.Lines, input.ViaSubledger); err != nil {
			return err
		}
		draft := DraftInput{
			CompanyID:    input.CompanyID,
			Date:         input.Date,
			Reference:    input.Reference,
			SourceModule: input.SourceModule,
			SourceID:     input.SourceID,
			Memo:         input.Memo,
			Lines:        input.Lines,
		}
		inserted, err := tx.InsertEntry(ctx, draft, period.ID, EntryStatusPosted, nil)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		entry = inserted
		entry.Lines = toLines(inserted.ID, input.Lines)
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, input.CompanyID, "journal.post", entry.ID, map[string]any{
		"number":        entry.Number,
		"source_module": input.SourceModule,
		"source_id":     input.SourceID.String(),
	})
	return entry, nil
}

// PostDraft posts a previously created draft entry.
func (s *Service) PostDraft(ctx context.Context, companyID, entryID int64) (JournalEntry, error) {
	if entryID == 0 {
		return JournalEntry{}, shared.Validationf("entry_id", "required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryWithLinesForUpdate(ctx, companyID, entryID)
		if err != nil {
			return err
		}
		switch current.Status {
		case EntryStatusPosted:
			return shared.Violation(ErrAlreadyPosted, "journal_entry", entryID)
		case EntryStatusVoided:
			return shared.Violation(ErrInvalidStatus, "journal_entry", entryID)
		}
		lines := toLineInputs(current.Lines)
		posting := PostingInput{
			CompanyID:    current.CompanyID,
			Date:         current.Date,
			SourceModule: current.SourceModule,
			SourceID:     current.SourceID,
			Lines:        lines,
		}
		if err := posting.Validate(); err != nil {
			return err
		}
		period, err := tx.GetPeriodCoveringForUpdate(ctx, companyID, current.Date)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return shared.Violation(ErrPeriodClosed, "period", period.ID)
		}
		if err := s.applyLines(ctx, tx, companyID, lines, false); err != nil {
			return err
		}
		if err := tx.UpdateEntryStatus(ctx, entryID, EntryStatusPosted); err != nil {
			return err
		}
		entry = current
		entry.Status = EntryStatusPosted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, companyID, "journal.post", entryID, map[string]any{"number": entry.Number})
	return entry, nil
}

// VoidEntry voids a posted entry by posting a reversing entry with swapped
// debit/credit per line, linked to the original. The reversal runs through
// the same balance and period checks as any posting.
func (s *Service) VoidEntry(ctx context.Context, input VoidInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, shared.Validationf("entry_id", "required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryWithLinesForUpdate(ctx, input.CompanyID, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return shared.Violation(ErrInvalidStatus, "journal_entry", input.EntryID)
		}
		period, err := tx.GetPeriodCoveringForUpdate(ctx, input.CompanyID, original.Date)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return shared.Violation(ErrPeriodClosed, "period", period.ID)
		}
		lines := reverseLines(original.Lines)
		// Reversals may legitimately touch control accounts.
		if err := s.applyLines(ctx, tx, input.CompanyID, lines, true); err != nil {
			return err
		}
		originalID := original.ID
		draft := DraftInput{
			CompanyID:    input.CompanyID,
			Date:         original.Date,
			Reference:    original.Reference,
			SourceModule: original.SourceModule + ":REVERSAL",
			SourceID:     uuid.New(),
			Memo:         voidMemo(input.Reason, original.Number),
			Lines:        lines,
		}
		inserted, err := tx.InsertEntry(ctx, draft, period.ID, EntryStatusPosted, &originalID)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, lines); err != nil {
			return err
		}
		if err := tx.UpdateEntryStatus(ctx, original.ID, EntryStatusVoided); err != nil {
			return err
		}
		reversal = inserted
		reversal.Lines = toLines(inserted.ID, lines)
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, input.CompanyID, "journal.void", input.EntryID, map[string]any{
		"reversal_id": reversal.ID,
		"reason":      input.Reason,
	})
	return reversal, nil
}

// applyLines locks the referenced accounts, enforces account rules, and
// applies each line's signed effect to the running balances.
func (s *Service) applyLines(ctx context.Context, tx TxRepository, companyID int64, lines []LineInput, viaSubledger bool) error {
	deltas := make(map[int64]decimal.Decimal, len(lines))
	for _, line := range lines {
		deltas[line.AccountID] = deltas[line.AccountID].Add(line.Debit.Sub(line.Credit))
	}
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	accounts, err := tx.GetAccountsForUpdate(ctx, companyID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		account, ok := accounts[id]
		if !ok {
			return shared.Violation(ErrAccountNotFound, "account", id)
		}
		if !account.IsActive {
			return shared.Violation(ErrAccountInactive, "account", id)
		}
		if account.IsControl && !viaSubledger {
			return shared.Violation(ErrControlAccount, "account", id)
		}
	}
	for _, id := range ids {
		if err := tx.AddAccountBalance(ctx, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

// GetEntry loads one journal entry with its lines.
func (s *Service) GetEntry(ctx context.Context, companyID, entryID int64) (JournalEntry, error) {
	return s.repo.GetEntryWithLines(ctx, companyID, entryID)
}

// ListAccounts retrieves the chart of accounts.
func (s *Service) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	return s.repo.ListAccounts(ctx, companyID)
}

// AccountBalance sums posted effects against an account up to a cutoff,
// debit-positive.
func (s *Service) AccountBalance(ctx context.Context, companyID, accountID int64, asOf time.Time) (decimal.Decimal, error) {
	if _, err := s.repo.GetAccount(ctx, companyID, accountID); err != nil {
		return decimal.Zero, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.AccountBalanceAsOf(ctx, companyID, accountID, asOf)
}

// TrialBalance aggregates posted debit/credit totals per account.
func (s *Service) TrialBalance(ctx context.Context, companyID int64, asOf time.Time) ([]TrialBalanceRow, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.TrialBalance(ctx, companyID, asOf)
}

// CheckIntegrity verifies the ledger identity: the signed balances of all
// accounts sum to zero.
func (s *Service) CheckIntegrity(ctx context.Context, companyID int64) error {
	sum, err := s.repo.SumSignedBalances(ctx, companyID)
	if err != nil {
		return err
	}
	if !sum.IsZero() {
		return shared.Integrityf("ledger", companyID, "signed balances sum to %s, want 0", sum.String())
	}
	return nil
}

// CompanyIDs lists every company with a chart of accounts.
func (s *Service) CompanyIDs(ctx context.Context) ([]int64, error) {
	return s.repo.CompanyIDs(ctx)
}

// DraftEntryIDsInRange implements the period-close pending check.
func (s *Service) DraftEntryIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	return s.repo.DraftEntryIDsInRange(ctx, companyID, from, to)
}

// RejectDraftEntries voids draft entries during a forced period close. Drafts
// carry no balance effect, so voiding them mutates status only.
func (s *Service) RejectDraftEntries(ctx context.Context, companyID int64, ids []int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range ids {
			entry, err := tx.GetEntryWithLinesForUpdate(ctx, companyID, id)
			if err != nil {
				return err
			}
			if entry.Status != EntryStatusDraft {
				return shared.Violation(ErrInvalidStatus, "journal_entry", id)
			}
			if err := tx.UpdateEntryStatus(ctx, id, EntryStatusVoided); err != nil {
				return err
			}
			s.recordAudit(ctx, companyID, "journal.reject_draft", id, nil)
		}
		return nil
	})
}

func reverseLines(lines []JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit})
	}
	return out
}

func toLineInputs(lines []JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	return out
}

func toLines(entryID int64, lines []LineInput) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{EntryID: entryID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	return out
}

func voidMemo(reason string, number int64) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}

func (s *Service) recordAudit(ctx context.Context, companyID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		Action:    action,
		Entity:    "journal_entry",
		EntityID:  fmt.Sprintf("%d", entryID),
		Meta:      meta,
		At:        s.now(),
	})
}
