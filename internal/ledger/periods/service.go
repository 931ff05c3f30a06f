package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LedgerDrafts surfaces draft journal entries blocking a close.
type LedgerDrafts interface {
	DraftEntryIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error)
	RejectDraftEntries(ctx context.Context, companyID int64, ids []int64) error
}

// SubledgerDrafts surfaces draft subledger transactions blocking a close.
type SubledgerDrafts interface {
	DraftTransactionIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error)
	RejectDraftTransactions(ctx context.Context, companyID int64, ids []int64) error
}

// AuditPort records period lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service governs which dates accept postings.
type Service struct {
	repo      Repository
	ledger    LedgerDrafts
	subledger SubledgerDrafts
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs the period control service.
func NewService(repo Repository, ledger LedgerDrafts, subledger SubledgerDrafts, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, subledger: subledger, audit: audit, now: time.Now}
}

// SetSubledgerDrafts wires the subledger side after construction. The period
// service and the subledger service reference each other, so one of the two
// edges has to be attached late.
func (s *Service) SetSubledgerDrafts(drafts SubledgerDrafts) {
	s.subledger = drafts
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create inserts a new open period after validating overlap.
func (s *Service) Create(ctx context.Context, in CreateInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	conflict, err := s.repo.RangeConflict(ctx, in.CompanyID, in.StartDate, in.EndDate)
	if err != nil {
		return Period{}, err
	}
	if conflict {
		return Period{}, ErrPeriodOverlap
	}
	return s.repo.Insert(ctx, in)
}

// Get returns a single period.
func (s *Service) Get(ctx context.Context, companyID, periodID int64) (Period, error) {
	return s.repo.Get(ctx, companyID, periodID)
}

// List returns all periods for a company ordered by start date.
func (s *Service) List(ctx context.Context, companyID int64) ([]Period, error) {
	return s.repo.List(ctx, companyID)
}

// FindOpenByDate returns the open period covering the supplied date.
func (s *Service) FindOpenByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	return s.repo.FindOpenByDate(ctx, companyID, date)
}

// Open reopens a closed period.
func (s *Service) Open(ctx context.Context, companyID, periodID int64) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, companyID, periodID)
		if err != nil {
			return err
		}
		if current.Status == StatusOpen {
			return shared.Violation(ErrAlreadyOpen, "period", periodID)
		}
		if err := tx.UpdateStatus(ctx, periodID, StatusOpen); err != nil {
			return err
		}
		period = current
		period.Status = StatusOpen
		period.ClosedAt = nil
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, companyID, "period.open", periodID, nil)
	return period, nil
}

// Close transitions a period to CLOSED. Draft journal entries or draft
// subledger transactions dated inside the window block the close. With
// Force, those drafts are rejected (voided with an audit trail, never
// silently discarded) and the check re-runs before the close commits.
func (s *Service) Close(ctx context.Context, in CloseInput) (Period, error) {
	if in.CompanyID == 0 || in.PeriodID == 0 {
		return Period{}, shared.Validationf("period", "company and period required")
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, in.CompanyID, in.PeriodID)
		if err != nil {
			return err
		}
		if current.Status == StatusClosed {
			return shared.Violation(ErrAlreadyClosed, "period", in.PeriodID)
		}
		pending, err := s.pendingItems(ctx, in.CompanyID, current)
		if err != nil {
			return err
		}
		if !pending.Empty() {
			if !in.Force {
				return &PendingItemsError{PeriodID: current.ID, Items: pending}
			}
			if err := s.rejectPending(ctx, in.CompanyID, pending); err != nil {
				return err
			}
			pending, err = s.pendingItems(ctx, in.CompanyID, current)
			if err != nil {
				return err
			}
			if !pending.Empty() {
				return &PendingItemsError{PeriodID: current.ID, Items: pending}
			}
		}
		if err := tx.UpdateStatus(ctx, current.ID, StatusClosed); err != nil {
			return err
		}
		period = current
		period.Status = StatusClosed
		now := s.now()
		period.ClosedAt = &now
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "period.close", in.PeriodID, map[string]any{"force": in.Force})
	return period, nil
}

func (s *Service) pendingItems(ctx context.Context, companyID int64, period Period) (PendingItems, error) {
	var items PendingItems
	if s.ledger != nil {
		ids, err := s.ledger.DraftEntryIDsInRange(ctx, companyID, period.StartDate, period.EndDate)
		if err != nil {
			return PendingItems{}, fmt.Errorf("periods: list draft entries: %w", err)
		}
		items.JournalEntryIDs = ids
	}
	if s.subledger != nil {
		ids, err := s.subledger.DraftTransactionIDsInRange(ctx, companyID, period.StartDate, period.EndDate)
		if err != nil {
			return PendingItems{}, fmt.Errorf("periods: list draft transactions: %w", err)
		}
		items.TransactionIDs = ids
	}
	return items, nil
}

func (s *Service) rejectPending(ctx context.Context, companyID int64, items PendingItems) error {
	if len(items.JournalEntryIDs) > 0 && s.ledger != nil {
		if err := s.ledger.RejectDraftEntries(ctx, companyID, items.JournalEntryIDs); err != nil {
			return err
		}
	}
	if len(items.TransactionIDs) > 0 && s.subledger != nil {
		if err := s.subledger.RejectDraftTransactions(ctx, companyID, items.TransactionIDs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, companyID int64, action string, periodID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		Action:    action,
		Entity:    "accounting_period",
		EntityID:  fmt.Sprintf("%d", periodID),
		Meta:      meta,
		At:        s.now(),
	})
}
