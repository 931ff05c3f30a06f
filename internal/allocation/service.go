package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/subledger"
)

// AuditPort records allocation events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service matches credit-side documents against invoices and maintains the
// outstanding amounts on both. It never touches the general ledger: an
// allocation shifts exposure between documents of the same party, the control
// account total is unchanged.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the allocation engine.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Allocate applies part of a payment or credit note against an invoice. Both
// transactions must belong to the same party, be posted, and have enough
// outstanding to cover the amount. Whichever side reaches zero outstanding is
// closed.
func (s *Service) Allocate(ctx context.Context, in AllocateInput) (Allocation, error) {
	if err := in.Validate(); err != nil {
		return Allocation{}, err
	}
	var alloc Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		credit, debit, err := s.lockPair(ctx, tx, in.CompanyID, in.CreditTxID, in.DebitTxID)
		if err != nil {
			return err
		}
		if err := checkOpenPair(credit, debit); err != nil {
			return err
		}
		if in.Amount.GreaterThan(credit.Outstanding) || in.Amount.GreaterThan(debit.Outstanding) {
			return shared.Violation(ErrOverAllocation, "allocation", 0)
		}
		if err := s.apply(ctx, tx, credit, in.Amount); err != nil {
			return err
		}
		if err := s.apply(ctx, tx, debit, in.Amount); err != nil {
			return err
		}
		inserted, err := tx.Insert(ctx, in)
		if err != nil {
			return err
		}
		alloc = inserted
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "allocation.create", alloc.ID, map[string]any{
		"credit_tx": in.CreditTxID,
		"debit_tx":  in.DebitTxID,
		"amount":    in.Amount.String(),
	})
	return alloc, nil
}

// AutoAllocate spreads a payment or credit note across the party's open
// invoices, oldest first, until the credit is exhausted or no open invoice
// remains.
func (s *Service) AutoAllocate(ctx context.Context, companyID, creditTxID int64) ([]Allocation, error) {
	if companyID == 0 || creditTxID == 0 {
		return nil, shared.Validationf("allocation", "company and transaction required")
	}
	var allocs []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		credit, err := tx.GetTransaction(ctx, companyID, creditTxID)
		if err != nil {
			return err
		}
		if credit.Polarity() >= 0 {
			return shared.Violation(ErrSamePolarity, "subledger_transaction", creditTxID)
		}
		if credit.Status != subledger.StatusPosted || !credit.Outstanding.IsPositive() {
			return shared.Violation(ErrNotOpen, "subledger_transaction", creditTxID)
		}
		invoiceIDs, err := tx.OpenDebitIDs(ctx, companyID, credit.PartyID)
		if err != nil {
			return err
		}
		if len(invoiceIDs) == 0 {
			return nil
		}
		// One lock pass covering the credit and every candidate invoice,
		// ascending by id; consumption order stays oldest first. Rows are
		// re-checked after the lock since the ids were read unlocked.
		ids := append([]int64{creditTxID}, invoiceIDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		locked, err := tx.GetTransactionsForUpdate(ctx, companyID, ids)
		if err != nil {
			return err
		}
		credit, ok := locked[creditTxID]
		if !ok {
			return subledger.ErrTransactionNotFound
		}
		if credit.Status != subledger.StatusPosted || !credit.Outstanding.IsPositive() {
			return shared.Violation(ErrNotOpen, "subledger_transaction", creditTxID)
		}
		remaining := credit.Outstanding
		for _, id := range invoiceIDs {
			if !remaining.IsPositive() {
				break
			}
			invoice, ok := locked[id]
			if !ok || invoice.Status != subledger.StatusPosted || !invoice.Outstanding.IsPositive() {
				continue
			}
			amount := decimal.Min(remaining, invoice.Outstanding)
			if err := s.apply(ctx, tx, invoice, amount); err != nil {
				return err
			}
			credit.Outstanding = remaining
			if err := s.apply(ctx, tx, credit, amount); err != nil {
				return err
			}
			inserted, err := tx.Insert(ctx, AllocateInput{
				CompanyID:  companyID,
				CreditTxID: creditTxID,
				DebitTxID:  id,
				Amount:     amount,
			})
			if err != nil {
				return err
			}
			allocs = append(allocs, inserted)
			remaining = remaining.Sub(amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, alloc := range allocs {
		s.recordAudit(ctx, companyID, "allocation.auto", alloc.ID, map[string]any{
			"credit_tx": alloc.CreditTxID,
			"debit_tx":  alloc.DebitTxID,
			"amount":    alloc.Amount.String(),
		})
	}
	return allocs, nil
}

// Reverse undoes an active allocation, restoring outstanding on both sides
// and reopening any transaction that had been closed by it. Outstanding can
// never exceed the original amount; hitting that guard means stored state is
// corrupt.
func (s *Service) Reverse(ctx context.Context, companyID, allocationID int64) (Allocation, error) {
	if companyID == 0 || allocationID == 0 {
		return Allocation{}, shared.Validationf("allocation", "company and allocation required")
	}
	var alloc Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, companyID, allocationID)
		if err != nil {
			return err
		}
		if current.Status == StatusReversed {
			return shared.Violation(ErrAlreadyReversed, "allocation", allocationID)
		}
		credit, debit, err := s.lockPair(ctx, tx, companyID, current.CreditTxID, current.DebitTxID)
		if err != nil {
			return err
		}
		for _, txn := range []subledger.Transaction{credit, debit} {
			restored := txn.Outstanding.Add(current.Amount)
			if restored.GreaterThan(txn.Amount) {
				return shared.Integrityf("subledger_transaction", txn.ID,
					"reversal would raise outstanding to %s above amount %s", restored.String(), txn.Amount.String())
			}
			status := txn.Status
			if status == subledger.StatusClosed {
				status = subledger.StatusPosted
			}
			if err := tx.ApplyOutstanding(ctx, txn.ID, current.Amount, status); err != nil {
				return err
			}
		}
		if err := tx.MarkReversed(ctx, allocationID); err != nil {
			return err
		}
		alloc = current
		alloc.Status = StatusReversed
		now := s.now()
		alloc.ReversedAt = &now
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	s.recordAudit(ctx, companyID, "allocation.reverse", allocationID, nil)
	return alloc, nil
}

// Get loads one allocation.
func (s *Service) Get(ctx context.Context, companyID, allocationID int64) (Allocation, error) {
	return s.repo.Get(ctx, companyID, allocationID)
}

// ListForTransaction returns allocations referencing the transaction on
// either side.
func (s *Service) ListForTransaction(ctx context.Context, companyID, txnID int64) ([]Allocation, error) {
	return s.repo.ListForTransaction(ctx, companyID, txnID)
}

// lockPair locks both transactions in ascending id order and returns them as
// (credit, debit).
func (s *Service) lockPair(ctx context.Context, tx TxRepository, companyID, creditID, debitID int64) (subledger.Transaction, subledger.Transaction, error) {
	ids := []int64{creditID, debitID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	txns, err := tx.GetTransactionsForUpdate(ctx, companyID, ids)
	if err != nil {
		return subledger.Transaction{}, subledger.Transaction{}, err
	}
	credit, ok := txns[creditID]
	if !ok {
		return subledger.Transaction{}, subledger.Transaction{}, shared.Violation(subledger.ErrTransactionNotFound, "subledger_transaction", creditID)
	}
	debit, ok := txns[debitID]
	if !ok {
		return subledger.Transaction{}, subledger.Transaction{}, shared.Violation(subledger.ErrTransactionNotFound, "subledger_transaction", debitID)
	}
	return credit, debit, nil
}

// checkOpenPair enforces party, polarity, and open-status rules on a
// credit/debit pair.
func checkOpenPair(credit, debit subledger.Transaction) error {
	if credit.PartyID != debit.PartyID || credit.PartyKind != debit.PartyKind {
		return ErrPartyMismatch
	}
	if credit.Polarity() == debit.Polarity() {
		return ErrSamePolarity
	}
	if credit.Polarity() >= 0 {
		return shared.Validationf("allocation", "credit side %d is not a payment or credit note", credit.ID)
	}
	for _, txn := range []subledger.Transaction{credit, debit} {
		if txn.Status != subledger.StatusPosted || !txn.Outstanding.IsPositive() {
			return shared.Violation(ErrNotOpen, "subledger_transaction", txn.ID)
		}
	}
	return nil
}

// apply reduces a transaction's outstanding by amount, closing it at zero.
func (s *Service) apply(ctx context.Context, tx TxRepository, txn subledger.Transaction, amount decimal.Decimal) error {
	next := txn.Outstanding.Sub(amount)
	status := txn.Status
	if next.IsZero() {
		status = subledger.StatusClosed
	}
	return tx.ApplyOutstanding(ctx, txn.ID, amount.Neg(), status)
}

func (s *Service) recordAudit(ctx context.Context, companyID int64, action string, allocationID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		Action:    action,
		Entity:    "allocation",
		EntityID:  fmt.Sprintf("%d", allocationID),
		Meta:      meta,
		At:        s.now(),
	})
}
