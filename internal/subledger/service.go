package subledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LedgerPort is the slice of the ledger the processor posts through.
type LedgerPort interface {
	PostNew(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error)
	VoidEntry(ctx context.Context, input ledger.VoidInput) (ledger.JournalEntry, error)
}

// PartyPort resolves and maintains party master data.
type PartyPort interface {
	RequireActiveParty(ctx context.Context, companyID, partyID int64, kind masterdata.PartyKind) (masterdata.Party, error)
	AddPartyBalance(ctx context.Context, companyID, partyID int64, delta decimal.Decimal) error
}

// PeriodPort answers whether a date is open for posting.
type PeriodPort interface {
	FindOpenByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)
}

// AuditPort records subledger events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives AR/AP transactions through draft, posting, and voiding, and
// keeps party exposure in step with the control accounts.
type Service struct {
	repo    Repository
	ledger  LedgerPort
	parties PartyPort
	periods PeriodPort
	audit   AuditPort
	now     func() time.Time
}

// NewService constructs the subledger processor.
func NewService(repo Repository, ledgerPort LedgerPort, parties PartyPort, periodPort PeriodPort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerPort, parties: parties, periods: periodPort, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateTransaction stores a draft after validating the party and the date.
// Drafts carry no ledger or balance effect.
func (s *Service) CreateTransaction(ctx context.Context, in CreateInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	party, err := s.parties.RequireActiveParty(ctx, in.CompanyID, in.PartyID, in.PartyKind)
	if err != nil {
		return Transaction{}, err
	}
	if _, err := s.periods.FindOpenByDate(ctx, in.CompanyID, in.Date); err != nil {
		return Transaction{}, err
	}
	dueDate := in.DueDate
	if dueDate.IsZero() {
		dueDate = in.Date.AddDate(0, 0, party.TermsDays)
	}
	var txn Transaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.Insert(ctx, in, dueDate)
		if err != nil {
			return err
		}
		txn = inserted
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "subledger.create", txn.ID, map[string]any{
		"type":   string(in.Type),
		"party":  in.PartyID,
		"amount": txn.Amount.String(),
	})
	return txn, nil
}

// PostTransaction posts a draft: the journal entry derived from the company
// template is posted through the ledger, outstanding is opened at the full
// amount, and the party balance moves by the signed amount. The ledger
// posting, the status change, and the party balance ride one transaction; any
// failure rolls all of them back and leaves the draft untouched.
func (s *Service) PostTransaction(ctx context.Context, companyID, txnID int64) (Transaction, error) {
	if companyID == 0 || txnID == 0 {
		return Transaction{}, shared.Validationf("transaction", "company and transaction required")
	}
	cfg, err := s.repo.TemplateConfigFor(ctx, companyID)
	if err != nil {
		return Transaction{}, err
	}
	var posted Transaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, companyID, txnID)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return shared.Violation(ErrInvalidStatus, "subledger_transaction", txnID)
		}
		input, err := journalFor(current, cfg)
		if err != nil {
			return err
		}
		entry, err := s.ledger.PostNew(ctx, input)
		if err != nil {
			return err
		}
		if err := tx.MarkPosted(ctx, current.ID, entry.ID, current.Amount); err != nil {
			return err
		}
		signed := current.Amount
		if current.Polarity() < 0 {
			signed = signed.Neg()
		}
		if err := s.parties.AddPartyBalance(ctx, companyID, current.PartyID, signed); err != nil {
			return err
		}
		posted = current
		posted.Status = StatusPosted
		posted.Outstanding = current.Amount
		entryID := entry.ID
		posted.JournalEntryID = &entryID
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, companyID, "subledger.post", txnID, map[string]any{
		"journal_entry_id": *posted.JournalEntryID,
		"amount":           posted.Amount.String(),
	})
	return posted, nil
}

// VoidTransaction voids a posted transaction that has no allocations applied.
// The backing journal entry is reversed; partially or fully allocated
// transactions must have their allocations reversed first.
func (s *Service) VoidTransaction(ctx context.Context, companyID, txnID int64, reason string) (Transaction, error) {
	if companyID == 0 || txnID == 0 {
		return Transaction{}, shared.Validationf("transaction", "company and transaction required")
	}
	var voided Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, companyID, txnID)
		if err != nil {
			return err
		}
		if current.Status != StatusPosted {
			return shared.Violation(ErrInvalidStatus, "subledger_transaction", txnID)
		}
		if !current.Outstanding.Equal(current.Amount) {
			return shared.Violation(ErrAllocated, "subledger_transaction", txnID)
		}
		if current.JournalEntryID != nil {
			if _, err := s.ledger.VoidEntry(ctx, ledger.VoidInput{
				CompanyID: companyID,
				EntryID:   *current.JournalEntryID,
				Reason:    reason,
			}); err != nil {
				return err
			}
		}
		if err := tx.MarkVoided(ctx, current.ID); err != nil {
			return err
		}
		signed := current.Amount
		if current.Polarity() > 0 {
			signed = signed.Neg()
		}
		if err := s.parties.AddPartyBalance(ctx, companyID, current.PartyID, signed); err != nil {
			return err
		}
		voided = current
		voided.Status = StatusVoided
		voided.Outstanding = decimal.Zero
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, companyID, "subledger.void", txnID, map[string]any{"reason": reason})
	return voided, nil
}

// Get loads one transaction with its charge lines.
func (s *Service) Get(ctx context.Context, companyID, txnID int64) (Transaction, error) {
	return s.repo.Get(ctx, companyID, txnID)
}

// ListByParty returns the party's full transaction history.
func (s *Service) ListByParty(ctx context.Context, companyID, partyID int64) ([]Transaction, error) {
	return s.repo.ListByParty(ctx, companyID, partyID)
}

// OpenTransactions returns posted transactions with an outstanding amount,
// oldest first.
func (s *Service) OpenTransactions(ctx context.Context, companyID, partyID int64, asOf time.Time) ([]Transaction, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.ListOpenByParty(ctx, companyID, partyID, asOf)
}

// Ageing buckets open transactions by days outstanding at the cutoff.
// Invoices contribute positively, payments and credit notes negatively, so a
// bucket can legitimately go negative when unallocated credits dominate.
func (s *Service) Ageing(ctx context.Context, in AgeingInput) ([]AgeingBucket, error) {
	if in.CompanyID == 0 {
		return nil, shared.Validationf("company", "required")
	}
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	var (
		open []Transaction
		err  error
	)
	if in.PartyID != 0 {
		open, err = s.repo.ListOpenByParty(ctx, in.CompanyID, in.PartyID, asOf)
	} else {
		open, err = s.repo.ListOpenByKind(ctx, in.CompanyID, in.PartyKind, asOf)
	}
	if err != nil {
		return nil, err
	}
	return AgeTransactions(open, asOf, in.BucketDays), nil
}

// AgeTransactions is the pure bucketing step behind Ageing. Bucket edges are
// upper bounds in days; a final open-ended bucket catches the remainder.
func AgeTransactions(open []Transaction, asOf time.Time, bucketDays []int) []AgeingBucket {
	if len(bucketDays) == 0 {
		bucketDays = []int{30, 60, 90, 120}
	}
	buckets := make([]AgeingBucket, len(bucketDays)+1)
	prev := 0
	for i, edge := range bucketDays {
		buckets[i].Label = fmt.Sprintf("%d-%d", prev, edge)
		prev = edge + 1
	}
	buckets[len(bucketDays)].Label = fmt.Sprintf("%d+", prev)

	for _, txn := range open {
		age := int(asOf.Sub(txn.Date).Hours() / 24)
		if age < 0 {
			age = 0
		}
		signed := txn.Outstanding
		if txn.Polarity() < 0 {
			signed = signed.Neg()
		}
		idx := len(bucketDays)
		for i, edge := range bucketDays {
			if age <= edge {
				idx = i
				break
			}
		}
		buckets[idx].Amount = buckets[idx].Amount.Add(signed)
	}
	return buckets
}

// DraftTransactionIDsInRange implements the period-close pending check.
func (s *Service) DraftTransactionIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	return s.repo.DraftTransactionIDsInRange(ctx, companyID, from, to)
}

// RejectDraftTransactions voids draft transactions during a forced period
// close. Drafts have no journal or balance effect, so only status changes.
func (s *Service) RejectDraftTransactions(ctx context.Context, companyID int64, ids []int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range ids {
			current, err := tx.GetForUpdate(ctx, companyID, id)
			if err != nil {
				return err
			}
			if current.Status != StatusDraft {
				return shared.Violation(ErrInvalidStatus, "subledger_transaction", id)
			}
			if err := tx.UpdateStatus(ctx, id, StatusVoided); err != nil {
				return err
			}
			s.recordAudit(ctx, companyID, "subledger.reject_draft", id, nil)
		}
		return nil
	})
}

func (s *Service) recordAudit(ctx context.Context, companyID int64, action string, txnID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		Action:    action,
		Entity:    "subledger_transaction",
		EntityID:  fmt.Sprintf("%d", txnID),
		Meta:      meta,
		At:        s.now(),
	})
}
