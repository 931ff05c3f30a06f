package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for stock items and movements.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, companyID, itemID int64) (Item, error)
	ListItems(ctx context.Context, companyID int64) ([]Item, error)
	ListMovements(ctx context.Context, companyID, itemID int64) ([]Movement, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, companyID, itemID int64) (Item, error)
	UpdateItemStock(ctx context.Context, item Item) error
	InsertMovement(ctx context.Context, movement Movement) (Movement, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed inventory repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// WithTx joins the ambient transaction when the context carries one; the
// valuation journal posted through the ledger then commits with the stock
// update, or neither does.
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
		return &shared.ConflictError{Entity: "inventory_item"}
	}
	return err
}

const itemColumns = `id, company_id, sku, name, qty_on_hand, avg_cost, inventory_account_id, adjustment_account_id, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.CompanyID, &i.SKU, &i.Name, &i.QtyOnHand, &i.AvgCost,
		&i.InventoryAccountID, &i.AdjustmentAccountID, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return i, nil
}

func (r *repository) GetItem(ctx context.Context, companyID, itemID int64) (Item, error) {
	return scanItem(r.q(ctx).QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE company_id=$1 AND id=$2`, companyID, itemID))
}

func (r *repository) ListItems(ctx context.Context, companyID int64) ([]Item, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE company_id=$1 ORDER BY sku`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *repository) ListMovements(ctx context.Context, companyID, itemID int64) ([]Movement, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT id, company_id, item_id, qty_delta, unit_value, value, avg_cost_after, qty_after, journal_entry_id, date, reference, created_at
FROM inventory_movements WHERE company_id=$1 AND item_id=$2 ORDER BY id`, companyID, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ItemID, &m.QtyDelta, &m.UnitValue, &m.Value,
			&m.AvgCostAfter, &m.QtyAfter, &m.JournalEntryID, &m.Date, &m.Reference, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, companyID, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, itemID))
}

func (r *txRepository) UpdateItemStock(ctx context.Context, item Item) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_items SET qty_on_hand=$2, avg_cost=$3, updated_at=NOW() WHERE id=$1`,
		item.ID, item.QtyOnHand, item.AvgCost)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements
(company_id, item_id, qty_delta, unit_value, value, avg_cost_after, qty_after, journal_entry_id, date, reference)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		m.CompanyID, m.ItemID, m.QtyDelta, m.UnitValue, m.Value, m.AvgCostAfter, m.QtyAfter, m.JournalEntryID, m.Date, m.Reference).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}
