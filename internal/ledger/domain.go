package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NormalBalance indicates which side increases the account.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
	EntryStatusVoided EntryStatus = "VOIDED"
)

// Account models a chart of accounts node. Balance is the running signed
// amount, debit-positive regardless of the account's normal balance.
type Account struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	Type      AccountType
	Normal    NormalBalance
	ParentID  *int64
	IsControl bool
	IsActive  bool
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64
	CompanyID    int64
	Number       int64
	PeriodID     int64
	Date         time.Time
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	Status       EntryStatus
	ReversalOfID *int64
	PostedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores a debit or credit amount for an account. Exactly one of
// Debit/Credit is nonzero on a valid line.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	CreatedAt time.Time
}

// Signed returns the line effect, debit-positive.
func (l JournalLine) Signed() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// LineInput describes a journal line for a posting request.
type LineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// PostingInput groups fields required to create and post a journal entry.
type PostingInput struct {
	CompanyID    int64
	Date         time.Time
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	// ViaSubledger permits lines against control accounts. Only the
	// subledger processor sets it.
	ViaSubledger bool
	Lines        []LineInput
}

// DraftInput creates an unposted entry; balance is enforced at posting time.
type DraftInput struct {
	CompanyID    int64
	Date         time.Time
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	Lines        []LineInput
}

// VoidInput wraps parameters for voiding a posted entry.
type VoidInput struct {
	CompanyID int64
	EntryID   int64
	Reason    string
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrPeriodClosed indicates the entry date falls in a closed period.
	ErrPeriodClosed = errors.New("ledger: period is closed for posting")
	// ErrNoOpenPeriod indicates no period covers the posting date.
	ErrNoOpenPeriod = errors.New("ledger: no accounting period covers date")
	// ErrAlreadyPosted indicates a re-post of a posted entry.
	ErrAlreadyPosted = errors.New("ledger: entry already posted")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrAccountNotFound indicates a line references an unknown account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountInactive indicates a line references a deactivated account.
	ErrAccountInactive = errors.New("ledger: account inactive")
	// ErrControlAccount indicates a direct posting against a control account.
	ErrControlAccount = errors.New("ledger: control accounts accept subledger postings only")
	// ErrInvalidStatus indicates the entry state forbids the action.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrDateOutOfRange indicates the entry date falls outside its period.
	ErrDateOutOfRange = errors.New("ledger: date outside period")
)

// validateLines checks per-line shape shared by drafts and postings.
func validateLines(lines []LineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	for idx, line := range lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		debitSet := line.Debit.IsPositive()
		creditSet := line.Credit.IsPositive()
		if debitSet == creditSet {
			return fmt.Errorf("ledger: line %d requires exactly one of debit or credit", idx)
		}
	}
	return nil
}

// Validate ensures posting input meets full posting criteria.
func (in PostingInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("ledger: company required")
	}
	if in.Date.IsZero() {
		return errors.New("ledger: date required")
	}
	if in.SourceModule == "" {
		return errors.New("ledger: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("ledger: source id required")
	}
	if err := validateLines(in.Lines); err != nil {
		return err
	}
	var debit, credit decimal.Decimal
	for _, line := range in.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return ErrUnbalanced
	}
	return nil
}

// Validate checks draft shape without enforcing balance.
func (in DraftInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("ledger: company required")
	}
	if in.Date.IsZero() {
		return errors.New("ledger: date required")
	}
	return validateLines(in.Lines)
}

// TrialBalanceRow aggregates one account for the trial balance.
type TrialBalanceRow struct {
	AccountID   int64
	AccountCode string
	AccountName string
	Type        AccountType
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}
