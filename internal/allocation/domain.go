package allocation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates allocation lifecycle values.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReversed Status = "REVERSED"
)

// Allocation matches part of a credit-side transaction (payment or credit
// note) against a debit-side transaction (invoice). Both outstanding amounts
// were reduced by Amount when the allocation became active.
type Allocation struct {
	ID         int64
	CompanyID  int64
	CreditTxID int64
	DebitTxID  int64
	Amount     decimal.Decimal
	Status     Status
	CreatedAt  time.Time
	ReversedAt *time.Time
}

// AllocateInput groups fields for a manual allocation.
type AllocateInput struct {
	CompanyID  int64
	CreditTxID int64
	DebitTxID  int64
	Amount     decimal.Decimal
}

// Validate checks shape before any lookup.
func (in AllocateInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("allocation: company required")
	}
	if in.CreditTxID == 0 || in.DebitTxID == 0 {
		return errors.New("allocation: both transactions required")
	}
	if in.CreditTxID == in.DebitTxID {
		return ErrSelfAllocation
	}
	if !in.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

var (
	// ErrAllocationNotFound indicates a missing allocation row.
	ErrAllocationNotFound = errors.New("allocation: allocation not found")
	// ErrNonPositiveAmount indicates a zero or negative allocation amount.
	ErrNonPositiveAmount = errors.New("allocation: amount must be positive")
	// ErrSelfAllocation indicates both sides reference the same transaction.
	ErrSelfAllocation = errors.New("allocation: cannot allocate a transaction to itself")
	// ErrPartyMismatch indicates the two transactions belong to different parties.
	ErrPartyMismatch = errors.New("allocation: transactions belong to different parties")
	// ErrSamePolarity indicates both transactions move the party balance the
	// same way; an allocation needs one debit-side and one credit-side document.
	ErrSamePolarity = errors.New("allocation: transactions have the same polarity")
	// ErrNotOpen indicates a transaction is not posted with outstanding amount.
	ErrNotOpen = errors.New("allocation: transaction not open for allocation")
	// ErrOverAllocation indicates the amount exceeds an outstanding balance.
	ErrOverAllocation = errors.New("allocation: amount exceeds outstanding balance")
	// ErrAlreadyReversed indicates a second reversal of the same allocation.
	ErrAlreadyReversed = errors.New("allocation: already reversed")
)
