package allocation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/subledger"
)

// Repository encapsulates DB operations for allocations. The transaction
// scope also covers the outstanding amounts on the two subledger rows an
// allocation touches; those rows are owned by this engine while locked.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, allocationID int64) (Allocation, error)
	ListForTransaction(ctx context.Context, companyID, txnID int64) ([]Allocation, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	// GetTransaction reads one subledger transaction without locking it,
	// for validation ahead of the lock pass.
	GetTransaction(ctx context.Context, companyID, txnID int64) (subledger.Transaction, error)
	// GetTransactionsForUpdate locks the given subledger transactions in
	// ascending id order and returns them keyed by id.
	GetTransactionsForUpdate(ctx context.Context, companyID int64, ids []int64) (map[int64]subledger.Transaction, error)
	// OpenDebitIDs lists the party's open invoices oldest first, without
	// locking; callers lock the full id set afterwards in ascending order.
	OpenDebitIDs(ctx context.Context, companyID, partyID int64) ([]int64, error)
	ApplyOutstanding(ctx context.Context, txnID int64, delta decimal.Decimal, status subledger.Status) error
	Insert(ctx context.Context, in AllocateInput) (Allocation, error)
	GetForUpdate(ctx context.Context, companyID, allocationID int64) (Allocation, error)
	MarkReversed(ctx context.Context, allocationID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed allocation repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

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
		return &shared.ConflictError{Entity: "allocation"}
	}
	return err
}

const allocationColumns = `id, company_id, credit_tx_id, debit_tx_id, amount, status, created_at, reversed_at`

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	err := row.Scan(&a.ID, &a.CompanyID, &a.CreditTxID, &a.DebitTxID, &a.Amount, &a.Status, &a.CreatedAt, &a.ReversedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, ErrAllocationNotFound
		}
		return Allocation{}, err
	}
	return a, nil
}

func (r *repository) Get(ctx context.Context, companyID, allocationID int64) (Allocation, error) {
	return scanAllocation(r.q(ctx).QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE company_id=$1 AND id=$2`, companyID, allocationID))
}

func (r *repository) ListForTransaction(ctx context.Context, companyID, txnID int64) ([]Allocation, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+allocationColumns+` FROM allocations
WHERE company_id=$1 AND (credit_tx_id=$2 OR debit_tx_id=$2) ORDER BY id`, companyID, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

const subledgerTxnColumns = `id, company_id, type, party_kind, party_id, reference, amount, outstanding, date, due_date, journal_entry_id, status, created_at, updated_at`

func (r *txRepository) GetTransaction(ctx context.Context, companyID, txnID int64) (subledger.Transaction, error) {
	var t subledger.Transaction
	err := r.tx.QueryRow(ctx, `SELECT `+subledgerTxnColumns+`
FROM subledger_transactions WHERE company_id=$1 AND id=$2`, companyID, txnID).
		Scan(&t.ID, &t.CompanyID, &t.Type, &t.PartyKind, &t.PartyID, &t.Reference, &t.Amount, &t.Outstanding,
			&t.Date, &t.DueDate, &t.JournalEntryID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return subledger.Transaction{}, subledger.ErrTransactionNotFound
		}
		return subledger.Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) GetTransactionsForUpdate(ctx context.Context, companyID int64, ids []int64) (map[int64]subledger.Transaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+subledgerTxnColumns+`
FROM subledger_transactions WHERE company_id=$1 AND id = ANY($2) ORDER BY id ASC FOR UPDATE`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]subledger.Transaction, len(ids))
	for rows.Next() {
		var t subledger.Transaction
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Type, &t.PartyKind, &t.PartyID, &t.Reference, &t.Amount, &t.Outstanding,
			&t.Date, &t.DueDate, &t.JournalEntryID, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}

func (r *txRepository) OpenDebitIDs(ctx context.Context, companyID, partyID int64) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM subledger_transactions
WHERE company_id=$1 AND party_id=$2 AND type='INVOICE' AND status='POSTED' AND outstanding > 0
ORDER BY date ASC, id ASC`, companyID, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) ApplyOutstanding(ctx context.Context, txnID int64, delta decimal.Decimal, status subledger.Status) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE subledger_transactions
SET outstanding = outstanding + $2, status = $3, updated_at = NOW() WHERE id=$1`, txnID, delta, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return subledger.ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) Insert(ctx context.Context, in AllocateInput) (Allocation, error) {
	a := Allocation{
		CompanyID:  in.CompanyID,
		CreditTxID: in.CreditTxID,
		DebitTxID:  in.DebitTxID,
		Amount:     in.Amount,
		Status:     StatusActive,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO allocations (company_id, credit_tx_id, debit_tx_id, amount, status)
VALUES ($1,$2,$3,$4,'ACTIVE') RETURNING id, created_at`,
		in.CompanyID, in.CreditTxID, in.DebitTxID, in.Amount).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Allocation{}, err
	}
	return a, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, companyID, allocationID int64) (Allocation, error) {
	return scanAllocation(r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations
WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, allocationID))
}

func (r *txRepository) MarkReversed(ctx context.Context, allocationID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE allocations SET status='REVERSED', reversed_at=NOW() WHERE id=$1`, allocationID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAllocationNotFound
	}
	return nil
}
