package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for orders and receipts.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSalesOrder(ctx context.Context, companyID, orderID int64) (SalesOrder, error)
	GetPurchaseOrder(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error)
	GetGRV(ctx context.Context, companyID, grvID int64) (GRV, error)
	ListSalesOrders(ctx context.Context, companyID int64) ([]SalesOrder, error)
	ListPurchaseOrders(ctx context.Context, companyID int64) ([]PurchaseOrder, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertSalesOrder(ctx context.Context, in CreateOrderInput) (SalesOrder, error)
	GetSalesOrderForUpdate(ctx context.Context, companyID, orderID int64) (SalesOrder, error)
	AddSalesLineInvoiced(ctx context.Context, lineID int64, qty float64) error
	CapSalesLineQty(ctx context.Context, lineID int64) error
	SetSalesOrderStatus(ctx context.Context, orderID int64, status SalesOrderStatus) error

	InsertPurchaseOrder(ctx context.Context, in CreateOrderInput) (PurchaseOrder, error)
	GetPurchaseOrderForUpdate(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error)
	AddPurchaseLineReceived(ctx context.Context, lineID int64, qty float64) error
	CapPurchaseLineQty(ctx context.Context, lineID int64) error
	SetPurchaseOrderStatus(ctx context.Context, orderID int64, status PurchaseOrderStatus) error

	InsertGRV(ctx context.Context, grv GRV) (GRV, error)
	GetGRVForUpdate(ctx context.Context, companyID, grvID int64) (GRV, error)
	AddGRVLineInvoiced(ctx context.Context, lineID int64, qty float64) error
	SetGRVStatus(ctx context.Context, grvID int64, status GRVStatus) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed orders repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// WithTx joins the ambient transaction when the context carries one. A
// conversion's document writes, subledger invoice, inventory movement, and
// ledger postings all ride the coordinator's transaction and commit together.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return mapConflict(shared.RunInTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

func (r *repository) q(ctx context.Context) shared.Querier {
	return shared.QuerierFrom(ctx, r.db)
}

func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03") {
		return &shared.ConflictError{Entity: "order"}
	}
	return err
}

const salesOrderColumns = `id, company_id, party_id, reference, status, date, created_at, updated_at`

func getSalesOrder(ctx context.Context, q shared.Querier, companyID, orderID int64, lock bool) (SalesOrder, error) {
	query := `SELECT ` + salesOrderColumns + ` FROM sales_orders WHERE company_id=$1 AND id=$2`
	if lock {
		query += ` FOR UPDATE`
	}
	var o SalesOrder
	err := q.QueryRow(ctx, query, companyID, orderID).
		Scan(&o.ID, &o.CompanyID, &o.PartyID, &o.Reference, &o.Status, &o.Date, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesOrder{}, ErrOrderNotFound
		}
		return SalesOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, order_id, item_id, description, qty, invoiced_qty, unit_price, tax_rate
FROM sales_order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return SalesOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l SalesOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.Description, &l.Qty, &l.InvoicedQty, &l.UnitPrice, &l.TaxRate); err != nil {
			return SalesOrder{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *repository) GetSalesOrder(ctx context.Context, companyID, orderID int64) (SalesOrder, error) {
	return getSalesOrder(ctx, r.q(ctx), companyID, orderID, false)
}

const purchaseOrderColumns = `id, company_id, party_id, reference, status, date, created_at, updated_at`

func getPurchaseOrder(ctx context.Context, q shared.Querier, companyID, orderID int64, lock bool) (PurchaseOrder, error) {
	query := `SELECT ` + purchaseOrderColumns + ` FROM purchase_orders WHERE company_id=$1 AND id=$2`
	if lock {
		query += ` FOR UPDATE`
	}
	var o PurchaseOrder
	err := q.QueryRow(ctx, query, companyID, orderID).
		Scan(&o.ID, &o.CompanyID, &o.PartyID, &o.Reference, &o.Status, &o.Date, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrOrderNotFound
		}
		return PurchaseOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, order_id, item_id, description, qty, received_qty, unit_cost, tax_rate
FROM purchase_order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.Description, &l.Qty, &l.ReceivedQty, &l.UnitCost, &l.TaxRate); err != nil {
			return PurchaseOrder{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *repository) GetPurchaseOrder(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error) {
	return getPurchaseOrder(ctx, r.q(ctx), companyID, orderID, false)
}

func getGRV(ctx context.Context, q shared.Querier, companyID, grvID int64, lock bool) (GRV, error) {
	query := `SELECT id, company_id, purchase_order_id, reference, status, date, created_at, updated_at FROM grvs WHERE company_id=$1 AND id=$2`
	if lock {
		query += ` FOR UPDATE`
	}
	var g GRV
	err := q.QueryRow(ctx, query, companyID, grvID).
		Scan(&g.ID, &g.CompanyID, &g.PurchaseOrderID, &g.Reference, &g.Status, &g.Date, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GRV{}, ErrGRVNotFound
		}
		return GRV{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, grv_id, po_line_id, item_id, description, qty, invoiced_qty, unit_cost, tax_rate
FROM grv_lines WHERE grv_id=$1 ORDER BY id`, grvID)
	if err != nil {
		return GRV{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l GRVLine
		if err := rows.Scan(&l.ID, &l.GRVID, &l.POLineID, &l.ItemID, &l.Description, &l.Qty, &l.InvoicedQty, &l.UnitCost, &l.TaxRate); err != nil {
			return GRV{}, err
		}
		g.Lines = append(g.Lines, l)
	}
	return g, rows.Err()
}

func (r *repository) GetGRV(ctx context.Context, companyID, grvID int64) (GRV, error) {
	return getGRV(ctx, r.q(ctx), companyID, grvID, false)
}

func (r *repository) ListSalesOrders(ctx context.Context, companyID int64) ([]SalesOrder, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+salesOrderColumns+` FROM sales_orders WHERE company_id=$1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SalesOrder
	for rows.Next() {
		var o SalesOrder
		if err := rows.Scan(&o.ID, &o.CompanyID, &o.PartyID, &o.Reference, &o.Status, &o.Date, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *repository) ListPurchaseOrders(ctx context.Context, companyID int64) ([]PurchaseOrder, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE company_id=$1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		var o PurchaseOrder
		if err := rows.Scan(&o.ID, &o.CompanyID, &o.PartyID, &o.Reference, &o.Status, &o.Date, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertSalesOrder(ctx context.Context, in CreateOrderInput) (SalesOrder, error) {
	o := SalesOrder{
		CompanyID: in.CompanyID,
		PartyID:   in.PartyID,
		Reference: in.Reference,
		Status:    SalesOrderOpen,
		Date:      in.Date,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO sales_orders (company_id, party_id, reference, status, date)
VALUES ($1,$2,$3,'OPEN',$4) RETURNING id, created_at, updated_at`,
		in.CompanyID, in.PartyID, in.Reference, in.Date).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return SalesOrder{}, err
	}
	for _, line := range in.Lines {
		stored := SalesOrderLine{
			OrderID:     o.ID,
			ItemID:      line.ItemID,
			Description: line.Description,
			Qty:         line.Qty,
			UnitPrice:   line.UnitAmount,
			TaxRate:     line.TaxRate,
		}
		err := r.tx.QueryRow(ctx, `INSERT INTO sales_order_lines (order_id, item_id, description, qty, invoiced_qty, unit_price, tax_rate)
VALUES ($1,$2,$3,$4,0,$5,$6) RETURNING id`,
			o.ID, line.ItemID, line.Description, line.Qty, line.UnitAmount, line.TaxRate).
			Scan(&stored.ID)
		if err != nil {
			return SalesOrder{}, err
		}
		o.Lines = append(o.Lines, stored)
	}
	return o, nil
}

func (r *txRepository) GetSalesOrderForUpdate(ctx context.Context, companyID, orderID int64) (SalesOrder, error) {
	return getSalesOrder(ctx, r.tx, companyID, orderID, true)
}

func (r *txRepository) AddSalesLineInvoiced(ctx context.Context, lineID int64, qty float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE sales_order_lines SET invoiced_qty = invoiced_qty + $2 WHERE id=$1`, lineID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepository) CapSalesLineQty(ctx context.Context, lineID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_order_lines SET qty = invoiced_qty WHERE id=$1`, lineID)
	return err
}

func (r *txRepository) SetSalesOrderStatus(ctx context.Context, orderID int64, status SalesOrderStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE sales_orders SET status=$2, updated_at=NOW() WHERE id=$1`, orderID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepository) InsertPurchaseOrder(ctx context.Context, in CreateOrderInput) (PurchaseOrder, error) {
	o := PurchaseOrder{
		CompanyID: in.CompanyID,
		PartyID:   in.PartyID,
		Reference: in.Reference,
		Status:    PurchaseOrderOpen,
		Date:      in.Date,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (company_id, party_id, reference, status, date)
VALUES ($1,$2,$3,'OPEN',$4) RETURNING id, created_at, updated_at`,
		in.CompanyID, in.PartyID, in.Reference, in.Date).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	for _, line := range in.Lines {
		stored := PurchaseOrderLine{
			OrderID:     o.ID,
			ItemID:      line.ItemID,
			Description: line.Description,
			Qty:         line.Qty,
			UnitCost:    line.UnitAmount,
			TaxRate:     line.TaxRate,
		}
		err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (order_id, item_id, description, qty, received_qty, unit_cost, tax_rate)
VALUES ($1,$2,$3,$4,0,$5,$6) RETURNING id`,
			o.ID, line.ItemID, line.Description, line.Qty, line.UnitAmount, line.TaxRate).
			Scan(&stored.ID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		o.Lines = append(o.Lines, stored)
	}
	return o, nil
}

func (r *txRepository) GetPurchaseOrderForUpdate(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error) {
	return getPurchaseOrder(ctx, r.tx, companyID, orderID, true)
}

func (r *txRepository) AddPurchaseLineReceived(ctx context.Context, lineID int64, qty float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET received_qty = received_qty + $2 WHERE id=$1`, lineID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepository) CapPurchaseLineQty(ctx context.Context, lineID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET qty = received_qty WHERE id=$1`, lineID)
	return err
}

func (r *txRepository) SetPurchaseOrderStatus(ctx context.Context, orderID int64, status PurchaseOrderStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, orderID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepository) InsertGRV(ctx context.Context, grv GRV) (GRV, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO grvs (company_id, purchase_order_id, reference, status, date)
VALUES ($1,$2,$3,'OPEN',$4) RETURNING id, created_at, updated_at`,
		grv.CompanyID, grv.PurchaseOrderID, grv.Reference, grv.Date).
		Scan(&grv.ID, &grv.CreatedAt, &grv.UpdatedAt)
	if err != nil {
		return GRV{}, err
	}
	grv.Status = GRVOpen
	for idx := range grv.Lines {
		line := &grv.Lines[idx]
		line.GRVID = grv.ID
		err := r.tx.QueryRow(ctx, `INSERT INTO grv_lines (grv_id, po_line_id, item_id, description, qty, invoiced_qty, unit_cost, tax_rate)
VALUES ($1,$2,$3,$4,$5,0,$6,$7) RETURNING id`,
			grv.ID, line.POLineID, line.ItemID, line.Description, line.Qty, line.UnitCost, line.TaxRate).
			Scan(&line.ID)
		if err != nil {
			return GRV{}, err
		}
	}
	return grv, nil
}

func (r *txRepository) GetGRVForUpdate(ctx context.Context, companyID, grvID int64) (GRV, error) {
	return getGRV(ctx, r.tx, companyID, grvID, true)
}

func (r *txRepository) AddGRVLineInvoiced(ctx context.Context, lineID int64, qty float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE grv_lines SET invoiced_qty = invoiced_qty + $2 WHERE id=$1`, lineID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepository) SetGRVStatus(ctx context.Context, grvID int64, status GRVStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE grvs SET status=$2, updated_at=NOW() WHERE id=$1`, grvID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrGRVNotFound
	}
	return nil
}
