package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a stocked product valued at weighted-average cost. QtyOnHand uses
// float64 because quantities may be fractional (weights, lengths); money
// stays decimal.
type Item struct {
	ID                  int64
	CompanyID           int64
	SKU                 string
	Name                string
	QtyOnHand           float64
	AvgCost             decimal.Decimal
	InventoryAccountID  int64
	AdjustmentAccountID int64
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Value returns quantity on hand times average cost.
func (i Item) Value() decimal.Decimal {
	return i.AvgCost.Mul(decimal.NewFromFloat(i.QtyOnHand))
}

// AdjustInput describes a stock movement. UnitValue prices an increase; a
// decrease is always valued at the current average cost and ignores it.
type AdjustInput struct {
	CompanyID int64
	ItemID    int64
	QtyDelta  float64
	UnitValue decimal.Decimal
	Date      time.Time
	Reference string
}

// Validate checks shape before any lookup.
func (in AdjustInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("inventory: company required")
	}
	if in.ItemID == 0 {
		return errors.New("inventory: item required")
	}
	if in.QtyDelta == 0 {
		return ErrNoOpAdjustment
	}
	if in.QtyDelta > 0 && !in.UnitValue.IsPositive() {
		return ErrUnitValueRequired
	}
	if in.Date.IsZero() {
		return errors.New("inventory: date required")
	}
	return nil
}

// Movement records one applied adjustment with the values used.
type Movement struct {
	ID             int64
	CompanyID      int64
	ItemID         int64
	QtyDelta       float64
	UnitValue      decimal.Decimal
	Value          decimal.Decimal
	AvgCostAfter   decimal.Decimal
	QtyAfter       float64
	JournalEntryID int64
	Date           time.Time
	Reference      string
	CreatedAt      time.Time
}

var (
	// ErrItemNotFound indicates a missing item row.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrItemInactive indicates the item is deactivated.
	ErrItemInactive = errors.New("inventory: item inactive")
	// ErrNoOpAdjustment indicates a zero quantity delta.
	ErrNoOpAdjustment = errors.New("inventory: zero quantity adjustment")
	// ErrNegativeQty indicates the adjustment would take stock below zero.
	ErrNegativeQty = errors.New("inventory: quantity on hand cannot go negative")
	// ErrUnitValueRequired indicates an increase without a unit value.
	ErrUnitValueRequired = errors.New("inventory: unit value required for stock increase")
)
