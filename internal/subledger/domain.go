package subledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
)

// TxType enumerates subledger business documents.
type TxType string

const (
	TxTypeInvoice    TxType = "INVOICE"
	TxTypePayment    TxType = "PAYMENT"
	TxTypeCreditNote TxType = "CREDIT_NOTE"
)

// Status enumerates transaction lifecycle values.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
	StatusVoided Status = "VOIDED"
	StatusClosed Status = "CLOSED"
)

// Transaction is an AR/AP business document tracked against a party.
// Outstanding is always Amount minus the sum of active allocations.
type Transaction struct {
	ID             int64
	CompanyID      int64
	Type           TxType
	PartyKind      masterdata.PartyKind
	PartyID        int64
	Reference      string
	Amount         decimal.Decimal
	Outstanding    decimal.Decimal
	Date           time.Time
	DueDate        time.Time
	JournalEntryID *int64
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []ChargeLine
}

// ChargeLine splits a transaction amount across revenue/expense accounts.
// AccountID zero falls back to the company's template default.
type ChargeLine struct {
	ID            int64
	TransactionID int64
	AccountID     int64
	Description   string
	Amount        decimal.Decimal
	Tax           decimal.Decimal
}

// Polarity reports the direction of the transaction's effect on the party
// balance: +1 increases what the party owes (or is owed), -1 reduces it.
func (t Transaction) Polarity() int {
	if t.Type == TxTypeInvoice {
		return 1
	}
	return -1
}

// Total returns line amounts plus tax.
func (t Transaction) Total() decimal.Decimal {
	var total decimal.Decimal
	for _, line := range t.Lines {
		total = total.Add(line.Amount).Add(line.Tax)
	}
	return total
}

// CreateInput groups fields to create a draft transaction.
type CreateInput struct {
	CompanyID int64
	Type      TxType
	PartyKind masterdata.PartyKind
	PartyID   int64
	Reference string
	Date      time.Time
	DueDate   time.Time
	Lines     []ChargeLineInput
}

// ChargeLineInput describes one charge on a new transaction.
type ChargeLineInput struct {
	AccountID   int64
	Description string
	Amount      decimal.Decimal
	Tax         decimal.Decimal
}

// Validate checks input shape before any lookup.
func (in CreateInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("subledger: company required")
	}
	switch in.Type {
	case TxTypeInvoice, TxTypePayment, TxTypeCreditNote:
	default:
		return ErrUnknownType
	}
	switch in.PartyKind {
	case masterdata.PartyCustomer, masterdata.PartySupplier:
	default:
		return errors.New("subledger: party kind required")
	}
	if in.PartyID == 0 {
		return errors.New("subledger: party required")
	}
	if in.Date.IsZero() {
		return errors.New("subledger: date required")
	}
	if len(in.Lines) == 0 {
		return errors.New("subledger: at least one line required")
	}
	var total decimal.Decimal
	for idx, line := range in.Lines {
		if line.Amount.IsNegative() || line.Tax.IsNegative() {
			return ErrNonPositiveAmount
		}
		if line.Amount.IsZero() && line.Tax.IsZero() {
			return errors.New("subledger: empty line " + itoa(idx))
		}
		total = total.Add(line.Amount).Add(line.Tax)
	}
	if !total.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for v > 0 {
		pos--
		buf[pos] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[pos:])
}

// AgeingBucket summarises open exposure inside one time bucket.
type AgeingBucket struct {
	Label  string
	Amount decimal.Decimal
}

// AgeingInput scopes an ageing computation. BucketDays defaults to
// 30/60/90/120 when empty.
type AgeingInput struct {
	CompanyID  int64
	PartyKind  masterdata.PartyKind
	PartyID    int64
	AsOf       time.Time
	BucketDays []int
}

var (
	// ErrUnknownType indicates an unsupported transaction type.
	ErrUnknownType = errors.New("subledger: unknown transaction type")
	// ErrNonPositiveAmount indicates a zero or negative amount.
	ErrNonPositiveAmount = errors.New("subledger: amount must be positive")
	// ErrTransactionNotFound indicates a missing transaction.
	ErrTransactionNotFound = errors.New("subledger: transaction not found")
	// ErrInvalidStatus indicates the transaction state forbids the action.
	ErrInvalidStatus = errors.New("subledger: invalid status transition")
	// ErrAllocated blocks voiding once any allocation has been applied.
	ErrAllocated = errors.New("subledger: transaction has allocations applied")
	// ErrTemplateIncomplete indicates the posting template lacks an account.
	ErrTemplateIncomplete = errors.New("subledger: posting template incomplete")
)
