package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/subledger"
)

// qtyEpsilon absorbs float64 noise when comparing quantities.
const qtyEpsilon = 1e-9

// SubledgerPort creates and posts the invoice documents conversions produce.
type SubledgerPort interface {
	CreateTransaction(ctx context.Context, in subledger.CreateInput) (subledger.Transaction, error)
	PostTransaction(ctx context.Context, companyID, txnID int64) (subledger.Transaction, error)
}

// InventoryPort books received stock.
type InventoryPort interface {
	Adjust(ctx context.Context, in inventory.AdjustInput) (inventory.Movement, error)
}

// PartyPort resolves party master data.
type PartyPort interface {
	RequireActiveParty(ctx context.Context, companyID, partyID int64, kind masterdata.PartyKind) (masterdata.Party, error)
}

// AuditPort records order events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives orders through their conversion chains: sales order to
// customer invoice, purchase order to goods received voucher to supplier
// invoice. Converted quantity on any line never exceeds the ordered quantity.
type Service struct {
	repo      Repository
	subledger SubledgerPort
	inventory InventoryPort
	parties   PartyPort
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs the order conversion service.
func NewService(repo Repository, sl SubledgerPort, inv InventoryPort, parties PartyPort, audit AuditPort) *Service {
	return &Service{repo: repo, subledger: sl, inventory: inv, parties: parties, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateSalesOrder opens a new order against an active customer.
func (s *Service) CreateSalesOrder(ctx context.Context, in CreateOrderInput) (SalesOrder, error) {
	if err := in.Validate(); err != nil {
		return SalesOrder{}, err
	}
	if _, err := s.parties.RequireActiveParty(ctx, in.CompanyID, in.PartyID, masterdata.PartyCustomer); err != nil {
		return SalesOrder{}, err
	}
	var order SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertSalesOrder(ctx, in)
		if err != nil {
			return err
		}
		order = inserted
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "sales_order.create", "sales_order", order.ID, nil)
	return order, nil
}

// CreatePurchaseOrder opens a new order against an active supplier.
func (s *Service) CreatePurchaseOrder(ctx context.Context, in CreateOrderInput) (PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	if _, err := s.parties.RequireActiveParty(ctx, in.CompanyID, in.PartyID, masterdata.PartySupplier); err != nil {
		return PurchaseOrder{}, err
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertPurchaseOrder(ctx, in)
		if err != nil {
			return err
		}
		order = inserted
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "purchase_order.create", "purchase_order", order.ID, nil)
	return order, nil
}

// ConvertInput scopes a sales order conversion. Empty Lines converts every
// line's full remainder.
type ConvertInput struct {
	CompanyID int64
	OrderID   int64
	Reference string
	Date      time.Time
	Lines     []LineQty
}

// ConvertSalesOrder turns order quantities into a posted customer invoice.
// The quantity bookkeeping, the invoice, and its ledger posting share one
// unit of work; the order line caps make over-invoicing impossible regardless
// of how many partial conversions run.
func (s *Service) ConvertSalesOrder(ctx context.Context, in ConvertInput) (subledger.Transaction, error) {
	if in.CompanyID == 0 || in.OrderID == 0 {
		return subledger.Transaction{}, shared.Validationf("order", "company and order required")
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	var invoice subledger.Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetSalesOrderForUpdate(ctx, in.CompanyID, in.OrderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case SalesOrderCancelled:
			return shared.Violation(ErrOrderCancelled, "sales_order", order.ID)
		case SalesOrderInvoiced:
			return shared.Violation(ErrOrderComplete, "sales_order", order.ID)
		}
		take, err := resolveSalesQuantities(order, in.Lines)
		if err != nil {
			return err
		}
		var charges []subledger.ChargeLineInput
		for _, line := range order.Lines {
			qty := take[line.ID]
			if qty <= 0 {
				continue
			}
			amount := line.UnitPrice.Mul(decimal.NewFromFloat(qty))
			charges = append(charges, subledger.ChargeLineInput{
				Description: line.Description,
				Amount:      amount.Round(2),
				Tax:         amount.Mul(line.TaxRate).Round(2),
			})
			if err := tx.AddSalesLineInvoiced(ctx, line.ID, qty); err != nil {
				return err
			}
		}
		if len(charges) == 0 {
			return ErrNothingToConvert
		}
		created, err := s.subledger.CreateTransaction(ctx, subledger.CreateInput{
			CompanyID: in.CompanyID,
			Type:      subledger.TxTypeInvoice,
			PartyKind: masterdata.PartyCustomer,
			PartyID:   order.PartyID,
			Reference: conversionRef(in.Reference, order.Reference),
			Date:      date,
			Lines:     charges,
		})
		if err != nil {
			return err
		}
		posted, err := s.subledger.PostTransaction(ctx, in.CompanyID, created.ID)
		if err != nil {
			return err
		}
		status := deriveSalesStatus(order, take)
		if status != order.Status {
			if err := tx.SetSalesOrderStatus(ctx, order.ID, status); err != nil {
				return err
			}
		}
		invoice = posted
		return nil
	})
	if err != nil {
		return subledger.Transaction{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "sales_order.convert", "sales_order", in.OrderID, map[string]any{
		"invoice_id": invoice.ID,
	})
	return invoice, nil
}

// ReceiveInput scopes a purchase order receipt. Empty Lines receives every
// line's full remainder.
type ReceiveInput struct {
	CompanyID int64
	OrderID   int64
	Reference string
	Date      time.Time
	Lines     []LineQty
}

// ReceivePurchaseOrder books received quantities: a goods received voucher is
// cut, stock is valued into inventory at the order's unit cost, and the order
// status advances.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, in ReceiveInput) (GRV, error) {
	if in.CompanyID == 0 || in.OrderID == 0 {
		return GRV{}, shared.Validationf("order", "company and order required")
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	var grv GRV
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetPurchaseOrderForUpdate(ctx, in.CompanyID, in.OrderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case PurchaseOrderCancelled:
			return shared.Violation(ErrOrderCancelled, "purchase_order", order.ID)
		case PurchaseOrderReceived:
			return shared.Violation(ErrOrderComplete, "purchase_order", order.ID)
		}
		take, err := resolvePurchaseQuantities(order, in.Lines)
		if err != nil {
			return err
		}
		pending := GRV{
			CompanyID:       in.CompanyID,
			PurchaseOrderID: order.ID,
			Reference:       conversionRef(in.Reference, order.Reference),
			Date:            date,
		}
		for _, line := range order.Lines {
			qty := take[line.ID]
			if qty <= 0 {
				continue
			}
			pending.Lines = append(pending.Lines, GRVLine{
				POLineID:    line.ID,
				ItemID:      line.ItemID,
				Description: line.Description,
				Qty:         qty,
				UnitCost:    line.UnitCost,
				TaxRate:     line.TaxRate,
			})
			if err := tx.AddPurchaseLineReceived(ctx, line.ID, qty); err != nil {
				return err
			}
		}
		if len(pending.Lines) == 0 {
			return ErrNothingToConvert
		}
		inserted, err := tx.InsertGRV(ctx, pending)
		if err != nil {
			return err
		}
		for _, line := range inserted.Lines {
			if line.ItemID == 0 {
				continue
			}
			if _, err := s.inventory.Adjust(ctx, inventory.AdjustInput{
				CompanyID: in.CompanyID,
				ItemID:    line.ItemID,
				QtyDelta:  line.Qty,
				UnitValue: line.UnitCost,
				Date:      date,
				Reference: inserted.Reference,
			}); err != nil {
				return err
			}
		}
		status := derivePurchaseStatus(order, take)
		if status != order.Status {
			if err := tx.SetPurchaseOrderStatus(ctx, order.ID, status); err != nil {
				return err
			}
		}
		grv = inserted
		return nil
	})
	if err != nil {
		return GRV{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "purchase_order.receive", "grv", grv.ID, map[string]any{
		"purchase_order_id": in.OrderID,
	})
	return grv, nil
}

// InvoiceGRVInput scopes invoicing a goods received voucher. Empty Lines
// invoices every line's uninvoiced remainder.
type InvoiceGRVInput struct {
	CompanyID int64
	GRVID     int64
	Reference string
	Date      time.Time
	Lines     []LineQty
}

// InvoiceGRV raises and posts a supplier invoice for received quantities. A
// line can never be invoiced beyond what was received.
func (s *Service) InvoiceGRV(ctx context.Context, in InvoiceGRVInput) (subledger.Transaction, error) {
	if in.CompanyID == 0 || in.GRVID == 0 {
		return subledger.Transaction{}, shared.Validationf("grv", "company and voucher required")
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	var invoice subledger.Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grv, err := tx.GetGRVForUpdate(ctx, in.CompanyID, in.GRVID)
		if err != nil {
			return err
		}
		if grv.Status == GRVInvoiced {
			return shared.Violation(ErrOrderComplete, "grv", grv.ID)
		}
		order, err := tx.GetPurchaseOrderForUpdate(ctx, in.CompanyID, grv.PurchaseOrderID)
		if err != nil {
			return err
		}
		take, err := resolveGRVQuantities(grv, in.Lines)
		if err != nil {
			return err
		}
		var charges []subledger.ChargeLineInput
		for _, line := range grv.Lines {
			qty := take[line.ID]
			if qty <= 0 {
				continue
			}
			amount := line.UnitCost.Mul(decimal.NewFromFloat(qty))
			charges = append(charges, subledger.ChargeLineInput{
				Description: line.Description,
				Amount:      amount.Round(2),
				Tax:         amount.Mul(line.TaxRate).Round(2),
			})
			if err := tx.AddGRVLineInvoiced(ctx, line.ID, qty); err != nil {
				return err
			}
		}
		if len(charges) == 0 {
			return ErrNothingToConvert
		}
		created, err := s.subledger.CreateTransaction(ctx, subledger.CreateInput{
			CompanyID: in.CompanyID,
			Type:      subledger.TxTypeInvoice,
			PartyKind: masterdata.PartySupplier,
			PartyID:   order.PartyID,
			Reference: conversionRef(in.Reference, grv.Reference),
			Date:      date,
			Lines:     charges,
		})
		if err != nil {
			return err
		}
		posted, err := s.subledger.PostTransaction(ctx, in.CompanyID, created.ID)
		if err != nil {
			return err
		}
		status := deriveGRVStatus(grv, take)
		if status != grv.Status {
			if err := tx.SetGRVStatus(ctx, grv.ID, status); err != nil {
				return err
			}
		}
		invoice = posted
		return nil
	})
	if err != nil {
		return subledger.Transaction{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "grv.invoice", "grv", in.GRVID, map[string]any{
		"invoice_id": invoice.ID,
	})
	return invoice, nil
}

// CancelSalesRemainder drops the uninvoiced quantity from every line. An
// untouched order cancels outright; a partially invoiced one completes at the
// invoiced quantities.
func (s *Service) CancelSalesRemainder(ctx context.Context, companyID, orderID int64) (SalesOrder, error) {
	var order SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSalesOrderForUpdate(ctx, companyID, orderID)
		if err != nil {
			return err
		}
		if current.Status == SalesOrderCancelled {
			return shared.Violation(ErrOrderCancelled, "sales_order", orderID)
		}
		var invoiced float64
		for idx := range current.Lines {
			line := &current.Lines[idx]
			invoiced += line.InvoicedQty
			if line.Remainder() > 0 {
				if err := tx.CapSalesLineQty(ctx, line.ID); err != nil {
					return err
				}
				line.Qty = line.InvoicedQty
			}
		}
		status := SalesOrderInvoiced
		if invoiced <= qtyEpsilon {
			status = SalesOrderCancelled
		}
		if err := tx.SetSalesOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		current.Status = status
		order = current
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, companyID, "sales_order.cancel_remainder", "sales_order", orderID, nil)
	return order, nil
}

// CancelPurchaseRemainder drops the unreceived quantity from every line.
// Receipts already booked stand; only the open commitment goes away.
func (s *Service) CancelPurchaseRemainder(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error) {
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPurchaseOrderForUpdate(ctx, companyID, orderID)
		if err != nil {
			return err
		}
		if current.Status == PurchaseOrderCancelled {
			return shared.Violation(ErrOrderCancelled, "purchase_order", orderID)
		}
		var received float64
		for idx := range current.Lines {
			line := &current.Lines[idx]
			received += line.ReceivedQty
			if line.Remainder() > 0 {
				if err := tx.CapPurchaseLineQty(ctx, line.ID); err != nil {
					return err
				}
				line.Qty = line.ReceivedQty
			}
		}
		status := PurchaseOrderReceived
		if received <= qtyEpsilon {
			status = PurchaseOrderCancelled
		}
		if err := tx.SetPurchaseOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		current.Status = status
		order = current
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, companyID, "purchase_order.cancel_remainder", "purchase_order", orderID, nil)
	return order, nil
}

// GetSalesOrder loads one sales order with lines.
func (s *Service) GetSalesOrder(ctx context.Context, companyID, orderID int64) (SalesOrder, error) {
	return s.repo.GetSalesOrder(ctx, companyID, orderID)
}

// GetPurchaseOrder loads one purchase order with lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, companyID, orderID)
}

// GetGRV loads one goods received voucher with lines.
func (s *Service) GetGRV(ctx context.Context, companyID, grvID int64) (GRV, error) {
	return s.repo.GetGRV(ctx, companyID, grvID)
}

func resolveSalesQuantities(order SalesOrder, requested []LineQty) (map[int64]float64, error) {
	take := map[int64]float64{}
	if len(requested) == 0 {
		for _, line := range order.Lines {
			if line.Remainder() > qtyEpsilon {
				take[line.ID] = line.Remainder()
			}
		}
		return take, nil
	}
	byID := map[int64]SalesOrderLine{}
	for _, line := range order.Lines {
		byID[line.ID] = line
	}
	for _, req := range requested {
		line, ok := byID[req.LineID]
		if !ok {
			return nil, shared.Violation(ErrLineNotFound, "sales_order_line", req.LineID)
		}
		if req.Qty <= 0 {
			return nil, ErrNonPositiveQty
		}
		if req.Qty > line.Remainder()+qtyEpsilon {
			return nil, shared.Violationf(ErrOverConverted, "sales_order_line", req.LineID,
				"requested %v, remainder %v", req.Qty, line.Remainder())
		}
		take[req.LineID] += req.Qty
		if take[req.LineID] > line.Remainder()+qtyEpsilon {
			return nil, shared.Violation(ErrOverConverted, "sales_order_line", req.LineID)
		}
	}
	return take, nil
}

func resolvePurchaseQuantities(order PurchaseOrder, requested []LineQty) (map[int64]float64, error) {
	take := map[int64]float64{}
	if len(requested) == 0 {
		for _, line := range order.Lines {
			if line.Remainder() > qtyEpsilon {
				take[line.ID] = line.Remainder()
			}
		}
		return take, nil
	}
	byID := map[int64]PurchaseOrderLine{}
	for _, line := range order.Lines {
		byID[line.ID] = line
	}
	for _, req := range requested {
		line, ok := byID[req.LineID]
		if !ok {
			return nil, shared.Violation(ErrLineNotFound, "purchase_order_line", req.LineID)
		}
		if req.Qty <= 0 {
			return nil, ErrNonPositiveQty
		}
		if req.Qty > line.Remainder()+qtyEpsilon {
			return nil, shared.Violationf(ErrOverConverted, "purchase_order_line", req.LineID,
				"requested %v, remainder %v", req.Qty, line.Remainder())
		}
		take[req.LineID] += req.Qty
		if take[req.LineID] > line.Remainder()+qtyEpsilon {
			return nil, shared.Violation(ErrOverConverted, "purchase_order_line", req.LineID)
		}
	}
	return take, nil
}

func resolveGRVQuantities(grv GRV, requested []LineQty) (map[int64]float64, error) {
	take := map[int64]float64{}
	if len(requested) == 0 {
		for _, line := range grv.Lines {
			if line.Remainder() > qtyEpsilon {
				take[line.ID] = line.Remainder()
			}
		}
		return take, nil
	}
	byID := map[int64]GRVLine{}
	for _, line := range grv.Lines {
		byID[line.ID] = line
	}
	for _, req := range requested {
		line, ok := byID[req.LineID]
		if !ok {
			return nil, shared.Violation(ErrLineNotFound, "grv_line", req.LineID)
		}
		if req.Qty <= 0 {
			return nil, ErrNonPositiveQty
		}
		if req.Qty > line.Remainder()+qtyEpsilon {
			return nil, shared.Violationf(ErrGRVOverInvoiced, "grv_line", req.LineID,
				"requested %v, remainder %v", req.Qty, line.Remainder())
		}
		take[req.LineID] += req.Qty
		if take[req.LineID] > line.Remainder()+qtyEpsilon {
			return nil, shared.Violation(ErrGRVOverInvoiced, "grv_line", req.LineID)
		}
	}
	return take, nil
}

func deriveSalesStatus(order SalesOrder, take map[int64]float64) SalesOrderStatus {
	allDone := true
	anyInvoiced := false
	for _, line := range order.Lines {
		after := line.InvoicedQty + take[line.ID]
		if after > qtyEpsilon {
			anyInvoiced = true
		}
		if line.Qty-after > qtyEpsilon {
			allDone = false
		}
	}
	switch {
	case allDone:
		return SalesOrderInvoiced
	case anyInvoiced:
		return SalesOrderPartiallyInvoiced
	default:
		return SalesOrderOpen
	}
}

func derivePurchaseStatus(order PurchaseOrder, take map[int64]float64) PurchaseOrderStatus {
	allDone := true
	anyReceived := false
	for _, line := range order.Lines {
		after := line.ReceivedQty + take[line.ID]
		if after > qtyEpsilon {
			anyReceived = true
		}
		if line.Qty-after > qtyEpsilon {
			allDone = false
		}
	}
	switch {
	case allDone:
		return PurchaseOrderReceived
	case anyReceived:
		return PurchaseOrderPartiallyReceived
	default:
		return PurchaseOrderOpen
	}
}

func deriveGRVStatus(grv GRV, take map[int64]float64) GRVStatus {
	allDone := true
	anyInvoiced := false
	for _, line := range grv.Lines {
		after := line.InvoicedQty + take[line.ID]
		if after > qtyEpsilon {
			anyInvoiced = true
		}
		if line.Qty-after > qtyEpsilon {
			allDone = false
		}
	}
	switch {
	case allDone:
		return GRVInvoiced
	case anyInvoiced:
		return GRVPartiallyInvoiced
	default:
		return GRVOpen
	}
}

func conversionRef(explicit, inherited string) string {
	if explicit != "" {
		return explicit
	}
	return inherited
}

func (s *Service) recordAudit(ctx context.Context, companyID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		Action:    action,
		Entity:    entity,
		EntityID:  fmt.Sprintf("%d", id),
		Meta:      meta,
		At:        s.now(),
	})
}
