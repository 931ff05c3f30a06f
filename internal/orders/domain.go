package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SalesOrderStatus tracks how much of a sales order has been invoiced.
type SalesOrderStatus string

const (
	SalesOrderOpen              SalesOrderStatus = "OPEN"
	SalesOrderPartiallyInvoiced SalesOrderStatus = "PARTIALLY_INVOICED"
	SalesOrderInvoiced          SalesOrderStatus = "INVOICED"
	SalesOrderCancelled         SalesOrderStatus = "CANCELLED"
)

// PurchaseOrderStatus tracks how much of a purchase order has been received.
type PurchaseOrderStatus string

const (
	PurchaseOrderOpen              PurchaseOrderStatus = "OPEN"
	PurchaseOrderPartiallyReceived PurchaseOrderStatus = "PARTIALLY_RECEIVED"
	PurchaseOrderReceived          PurchaseOrderStatus = "RECEIVED"
	PurchaseOrderCancelled         PurchaseOrderStatus = "CANCELLED"
)

// GRVStatus tracks how much of a goods received voucher has been invoiced.
type GRVStatus string

const (
	GRVOpen              GRVStatus = "OPEN"
	GRVPartiallyInvoiced GRVStatus = "PARTIALLY_INVOICED"
	GRVInvoiced          GRVStatus = "INVOICED"
)

// SalesOrder is a customer commitment converted into invoices over time.
type SalesOrder struct {
	ID        int64
	CompanyID int64
	PartyID   int64
	Reference string
	Status    SalesOrderStatus
	Date      time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	Lines     []SalesOrderLine
}

// SalesOrderLine carries the ordered and already-invoiced quantities.
type SalesOrderLine struct {
	ID          int64
	OrderID     int64
	ItemID      int64
	Description string
	Qty         float64
	InvoicedQty float64
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
}

// Remainder is the quantity still available to invoice.
func (l SalesOrderLine) Remainder() float64 {
	return l.Qty - l.InvoicedQty
}

// PurchaseOrder is a supplier commitment received into stock over time.
type PurchaseOrder struct {
	ID        int64
	CompanyID int64
	PartyID   int64
	Reference string
	Status    PurchaseOrderStatus
	Date      time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	Lines     []PurchaseOrderLine
}

// PurchaseOrderLine carries the ordered and already-received quantities.
type PurchaseOrderLine struct {
	ID          int64
	OrderID     int64
	ItemID      int64
	Description string
	Qty         float64
	ReceivedQty float64
	UnitCost    decimal.Decimal
	TaxRate     decimal.Decimal
}

// Remainder is the quantity still expected from the supplier.
func (l PurchaseOrderLine) Remainder() float64 {
	return l.Qty - l.ReceivedQty
}

// GRV is a goods received voucher: the receipt leg between a purchase order
// and the supplier invoice.
type GRV struct {
	ID              int64
	CompanyID       int64
	PurchaseOrderID int64
	Reference       string
	Status          GRVStatus
	Date            time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []GRVLine
}

// GRVLine records a received quantity awaiting the supplier invoice.
type GRVLine struct {
	ID          int64
	GRVID       int64
	POLineID    int64
	ItemID      int64
	Description string
	Qty         float64
	InvoicedQty float64
	UnitCost    decimal.Decimal
	TaxRate     decimal.Decimal
}

// Remainder is the received quantity not yet covered by a supplier invoice.
func (l GRVLine) Remainder() float64 {
	return l.Qty - l.InvoicedQty
}

// LineQty names a quantity against an order or voucher line.
type LineQty struct {
	LineID int64
	Qty    float64
}

// OrderLineInput describes one line on a new order.
type OrderLineInput struct {
	ItemID      int64
	Description string
	Qty         float64
	UnitAmount  decimal.Decimal
	TaxRate     decimal.Decimal
}

// CreateOrderInput groups fields shared by sales and purchase order creation.
type CreateOrderInput struct {
	CompanyID int64
	PartyID   int64
	Reference string
	Date      time.Time
	Lines     []OrderLineInput
}

// Validate checks order shape before any lookup.
func (in CreateOrderInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("orders: company required")
	}
	if in.PartyID == 0 {
		return errors.New("orders: party required")
	}
	if in.Date.IsZero() {
		return errors.New("orders: date required")
	}
	if len(in.Lines) == 0 {
		return errors.New("orders: at least one line required")
	}
	for _, line := range in.Lines {
		if line.Qty <= 0 {
			return ErrNonPositiveQty
		}
		if line.UnitAmount.IsNegative() || line.TaxRate.IsNegative() {
			return errors.New("orders: negative amount or tax rate")
		}
	}
	return nil
}

var (
	// ErrOrderNotFound indicates a missing order.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrGRVNotFound indicates a missing goods received voucher.
	ErrGRVNotFound = errors.New("orders: goods received voucher not found")
	// ErrLineNotFound indicates a conversion references an unknown line.
	ErrLineNotFound = errors.New("orders: order line not found")
	// ErrOrderCancelled indicates the order no longer accepts conversions.
	ErrOrderCancelled = errors.New("orders: order cancelled")
	// ErrOrderComplete indicates nothing remains to convert.
	ErrOrderComplete = errors.New("orders: order fully converted")
	// ErrNonPositiveQty indicates a zero or negative quantity.
	ErrNonPositiveQty = errors.New("orders: quantity must be positive")
	// ErrOverConverted indicates a conversion exceeds a line remainder.
	ErrOverConverted = errors.New("orders: quantity exceeds order line remainder")
	// ErrGRVOverInvoiced indicates invoicing beyond the received quantity.
	ErrGRVOverInvoiced = errors.New("orders: quantity exceeds received remainder")
	// ErrNothingToConvert indicates an empty conversion request.
	ErrNothingToConvert = errors.New("orders: nothing to convert")
)
