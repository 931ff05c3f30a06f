package periods

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates valid period states.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Period represents a fiscal period window scoped to a company.
type Period struct {
	ID        int64
	CompanyID int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    Status
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether the date falls inside the period window.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

// CreateInput captures validation rules for new periods.
type CreateInput struct {
	CompanyID int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
}

// Validate ensures the create period input is coherent.
func (in CreateInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("periods: company id required")
	}
	if strings.TrimSpace(in.Code) == "" {
		return errors.New("periods: code required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return errors.New("periods: start and end date required")
	}
	if in.StartDate.After(in.EndDate) {
		return errors.New("periods: start date cannot be after end date")
	}
	return nil
}

// CloseInput controls a period close request.
type CloseInput struct {
	CompanyID int64
	PeriodID  int64
	// Force re-runs the pending check after rejecting resolvable drafts;
	// pending items are never silently discarded.
	Force bool
}

// PendingItems lists draft documents blocking a close.
type PendingItems struct {
	JournalEntryIDs []int64
	TransactionIDs  []int64
}

// Empty reports whether nothing blocks the close.
func (p PendingItems) Empty() bool {
	return len(p.JournalEntryIDs) == 0 && len(p.TransactionIDs) == 0
}

// ErrPeriodNotFound indicates a missing period row.
var ErrPeriodNotFound = errors.New("periods: period not found")

// ErrPeriodOverlap indicates the requested range conflicts with an existing period.
var ErrPeriodOverlap = errors.New("periods: range overlaps existing period")

// ErrAlreadyClosed indicates a close of a closed period.
var ErrAlreadyClosed = errors.New("periods: period already closed")

// ErrAlreadyOpen indicates an open of an open period.
var ErrAlreadyOpen = errors.New("periods: period already open")

// PendingItemsError reports draft documents dated inside the period.
type PendingItemsError struct {
	PeriodID int64
	Items    PendingItems
}

func (e *PendingItemsError) Error() string {
	return fmt.Sprintf("periods: period %d has %d draft journal entries and %d draft transactions pending",
		e.PeriodID, len(e.Items.JournalEntryIDs), len(e.Items.TransactionIDs))
}
