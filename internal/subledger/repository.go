package subledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for subledger transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, txnID int64) (Transaction, error)
	ListByParty(ctx context.Context, companyID, partyID int64) ([]Transaction, error)
	ListOpenByParty(ctx context.Context, companyID, partyID int64, asOf time.Time) ([]Transaction, error)
	ListOpenByKind(ctx context.Context, companyID int64, kind masterdata.PartyKind, asOf time.Time) ([]Transaction, error)
	DraftTransactionIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error)
	TemplateConfigFor(ctx context.Context, companyID int64) (TemplateConfig, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, companyID, txnID int64) (Transaction, error)
	Insert(ctx context.Context, in CreateInput, dueDate time.Time) (Transaction, error)
	MarkPosted(ctx context.Context, txnID, journalEntryID int64, outstanding decimal.Decimal) error
	MarkVoided(ctx context.Context, txnID int64) error
	UpdateStatus(ctx context.Context, txnID int64, status Status) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed subledger repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// WithTx joins the ambient transaction when the context carries one; the
// posting a transaction triggers in the ledger then commits with the status
// change here, or neither does.
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
		return &shared.ConflictError{Entity: "subledger_transaction"}
	}
	return err
}

const txnColumns = `id, company_id, type, party_kind, party_id, reference, amount, outstanding, date, due_date, journal_entry_id, status, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.CompanyID, &t.Type, &t.PartyKind, &t.PartyID, &t.Reference, &t.Amount, &t.Outstanding,
		&t.Date, &t.DueDate, &t.JournalEntryID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func attachLines(ctx context.Context, q shared.Querier, txn *Transaction) error {
	rows, err := q.Query(ctx, `SELECT id, transaction_id, account_id, description, amount, tax
FROM subledger_lines WHERE transaction_id=$1 ORDER BY id ASC`, txn.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var line ChargeLine
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.AccountID, &line.Description, &line.Amount, &line.Tax); err != nil {
			return err
		}
		txn.Lines = append(txn.Lines, line)
	}
	return rows.Err()
}

func getTransaction(ctx context.Context, q shared.Querier, companyID, txnID int64, lock bool) (Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM subledger_transactions WHERE company_id=$1 AND id=$2`
	if lock {
		query += ` FOR UPDATE`
	}
	txn, err := scanTransaction(q.QueryRow(ctx, query, companyID, txnID))
	if err != nil {
		return Transaction{}, err
	}
	if err := attachLines(ctx, q, &txn); err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (r *repository) Get(ctx context.Context, companyID, txnID int64) (Transaction, error) {
	return getTransaction(ctx, r.q(ctx), companyID, txnID, false)
}

func listTransactions(ctx context.Context, q shared.Querier, query string, args ...any) ([]Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) ListByParty(ctx context.Context, companyID, partyID int64) ([]Transaction, error) {
	return listTransactions(ctx, r.q(ctx), `SELECT `+txnColumns+` FROM subledger_transactions
WHERE company_id=$1 AND party_id=$2 ORDER BY date, id`, companyID, partyID)
}

// ListOpenByParty returns posted transactions with outstanding amounts,
// oldest first, the order auto-allocation consumes them in.
func (r *repository) ListOpenByParty(ctx context.Context, companyID, partyID int64, asOf time.Time) ([]Transaction, error) {
	return listTransactions(ctx, r.q(ctx), `SELECT `+txnColumns+` FROM subledger_transactions
WHERE company_id=$1 AND party_id=$2 AND status='POSTED' AND outstanding <> 0 AND date <= $3
ORDER BY date ASC, id ASC`, companyID, partyID, asOf)
}

func (r *repository) ListOpenByKind(ctx context.Context, companyID int64, kind masterdata.PartyKind, asOf time.Time) ([]Transaction, error) {
	return listTransactions(ctx, r.q(ctx), `SELECT `+txnColumns+` FROM subledger_transactions
WHERE company_id=$1 AND party_kind=$2 AND status='POSTED' AND outstanding <> 0 AND date <= $3
ORDER BY party_id, date ASC, id ASC`, companyID, kind, asOf)
}

func (r *repository) DraftTransactionIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT id FROM subledger_transactions
WHERE company_id=$1 AND status='DRAFT' AND date BETWEEN $2 AND $3 ORDER BY id`, companyID, from, to)
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

func (r *repository) TemplateConfigFor(ctx context.Context, companyID int64) (TemplateConfig, error) {
	var cfg TemplateConfig
	err := r.q(ctx).QueryRow(ctx, `SELECT company_id, ar_control_account_id, ap_control_account_id, cash_account_id,
sales_revenue_account_id, sales_tax_account_id, purchases_account_id, purchase_tax_account_id
FROM posting_templates WHERE company_id=$1`, companyID).
		Scan(&cfg.CompanyID, &cfg.ARControlAccountID, &cfg.APControlAccountID, &cfg.CashAccountID,
			&cfg.SalesRevenueAccountID, &cfg.SalesTaxAccountID, &cfg.PurchasesAccountID, &cfg.PurchaseTaxAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TemplateConfig{}, ErrTemplateIncomplete
		}
		return TemplateConfig{}, err
	}
	return cfg, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, companyID, txnID int64) (Transaction, error) {
	return getTransaction(ctx, r.tx, companyID, txnID, true)
}

func (r *txRepository) Insert(ctx context.Context, in CreateInput, dueDate time.Time) (Transaction, error) {
	var total decimal.Decimal
	for _, line := range in.Lines {
		total = total.Add(line.Amount).Add(line.Tax)
	}
	txn := Transaction{
		CompanyID:   in.CompanyID,
		Type:        in.Type,
		PartyKind:   in.PartyKind,
		PartyID:     in.PartyID,
		Reference:   in.Reference,
		Amount:      total,
		Outstanding: decimal.Zero,
		Date:        in.Date,
		DueDate:     dueDate,
		Status:      StatusDraft,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO subledger_transactions
(company_id, type, party_kind, party_id, reference, amount, outstanding, date, due_date, status)
VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,'DRAFT')
RETURNING id, created_at, updated_at`,
		in.CompanyID, in.Type, in.PartyKind, in.PartyID, in.Reference, total, in.Date, dueDate).
		Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}
	for _, line := range in.Lines {
		var stored ChargeLine
		stored.TransactionID = txn.ID
		stored.AccountID = line.AccountID
		stored.Description = line.Description
		stored.Amount = line.Amount
		stored.Tax = line.Tax
		err := r.tx.QueryRow(ctx, `INSERT INTO subledger_lines (transaction_id, account_id, description, amount, tax)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, txn.ID, line.AccountID, line.Description, line.Amount, line.Tax).
			Scan(&stored.ID)
		if err != nil {
			return Transaction{}, err
		}
		txn.Lines = append(txn.Lines, stored)
	}
	return txn, nil
}

func (r *txRepository) MarkPosted(ctx context.Context, txnID, journalEntryID int64, outstanding decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE subledger_transactions
SET status='POSTED', journal_entry_id=$2, outstanding=$3, updated_at=NOW() WHERE id=$1`, txnID, journalEntryID, outstanding)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) MarkVoided(ctx context.Context, txnID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE subledger_transactions
SET status='VOIDED', outstanding=0, updated_at=NOW() WHERE id=$1`, txnID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, txnID int64, status Status) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE subledger_transactions SET status=$2, updated_at=NOW() WHERE id=$1`, txnID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
