package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PartyKind distinguishes customers from suppliers.
type PartyKind string

const (
	PartyCustomer PartyKind = "CUSTOMER"
	PartySupplier PartyKind = "SUPPLIER"
)

// Party models a customer or supplier master record. Balance is the party's
// aggregate open subledger exposure, maintained by the subledger processor.
type Party struct {
	ID        int64
	CompanyID int64
	Kind      PartyKind
	Code      string
	Name      string
	TermsDays int
	IsActive  bool
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrPartyNotFound indicates a missing party row.
var ErrPartyNotFound = errors.New("masterdata: party not found")

// ErrPartyInactive indicates the party is deactivated.
var ErrPartyInactive = errors.New("masterdata: party inactive")
