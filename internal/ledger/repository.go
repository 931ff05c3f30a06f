package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for the ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, companyID, accountID int64) (Account, error)
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	GetEntryWithLines(ctx context.Context, companyID, entryID int64) (JournalEntry, error)
	AccountBalanceAsOf(ctx context.Context, companyID, accountID int64, asOf time.Time) (decimal.Decimal, error)
	TrialBalance(ctx context.Context, companyID int64, asOf time.Time) ([]TrialBalanceRow, error)
	SumSignedBalances(ctx context.Context, companyID int64) (decimal.Decimal, error)
	DraftEntryIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error)
	CompanyIDs(ctx context.Context) ([]int64, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetPeriodCoveringForUpdate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)
	GetAccountsForUpdate(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error)
	InsertEntry(ctx context.Context, in DraftInput, periodID int64, status EntryStatus, reversalOf *int64) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	GetEntryWithLinesForUpdate(ctx context.Context, companyID, entryID int64) (JournalEntry, error)
	UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error
	AddAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed ledger repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// WithTx joins the ambient transaction when the context carries one, so a
// posting requested by another module commits with that module's work.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return mapConflict(shared.RunInTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

func (r *repository) q(ctx context.Context) shared.Querier {
	return shared.QuerierFrom(ctx, r.db)
}

// mapConflict translates serialization and lock failures into the shared
// conflict class.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03") {
		return &shared.ConflictError{Entity: "journal_entry"}
	}
	return err
}

const accountColumns = `id, company_id, code, name, type, normal_balance, parent_id, is_control, is_active, balance, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.Normal, &a.ParentID, &a.IsControl, &a.IsActive, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) GetAccount(ctx context.Context, companyID, accountID int64) (Account, error) {
	row := r.q(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 AND id=$2`, companyID, accountID)
	return scanAccount(row)
}

func (r *repository) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

const entryColumns = `id, company_id, number, period_id, date, reference, source_module, source_id, memo, status, reversal_of_id, posted_at, created_at, updated_at`

func (r *repository) GetEntryWithLines(ctx context.Context, companyID, entryID int64) (JournalEntry, error) {
	return getEntryWithLines(ctx, r.q(ctx), companyID, entryID, false)
}

func getEntryWithLines(ctx context.Context, q shared.Querier, companyID, entryID int64, lock bool) (JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE company_id=$1 AND id=$2`
	if lock {
		query += ` FOR UPDATE`
	}
	var e JournalEntry
	err := q.QueryRow(ctx, query, companyID, entryID).
		Scan(&e.ID, &e.CompanyID, &e.Number, &e.PeriodID, &e.Date, &e.Reference, &e.SourceModule, &e.SourceID, &e.Memo, &e.Status, &e.ReversalOfID, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, created_at FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.CreatedAt); err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, line)
	}
	return e, rows.Err()
}

// AccountBalanceAsOf sums every effect that ever posted, filtering on
// posted_at rather than status: a voided original stays in the sum alongside
// its reversal, so the cutoff view matches the running balance. Drafts and
// rejected drafts never posted and stay out.
func (r *repository) AccountBalanceAsOf(ctx context.Context, companyID, accountID int64, asOf time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q(ctx).QueryRow(ctx, `SELECT COALESCE(SUM(l.debit - l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.company_id=$1 AND l.account_id=$2 AND e.posted_at IS NOT NULL AND e.date <= $3`, companyID, accountID, asOf).Scan(&sum)
	return sum, err
}

func (r *repository) TrialBalance(ctx context.Context, companyID int64, asOf time.Time) ([]TrialBalanceRow, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT a.id, a.code, a.name, a.type,
COALESCE(SUM(l.debit), 0) AS debit, COALESCE(SUM(l.credit), 0) AS credit
FROM accounts a
LEFT JOIN journal_lines l ON l.account_id = a.id
LEFT JOIN journal_entries e ON e.id = l.entry_id AND e.posted_at IS NOT NULL AND e.date <= $2
WHERE a.company_id = $1
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code`, companyID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountID, &row.AccountCode, &row.AccountName, &row.Type, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) SumSignedBalances(ctx context.Context, companyID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q(ctx).QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM accounts WHERE company_id=$1`, companyID).Scan(&sum)
	return sum, err
}

func (r *repository) DraftEntryIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT id FROM journal_entries WHERE company_id=$1 AND status='DRAFT' AND date BETWEEN $2 AND $3 ORDER BY id`, companyID, from, to)
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

func (r *repository) CompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT DISTINCT company_id FROM accounts ORDER BY company_id`)
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

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetPeriodCoveringForUpdate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, code, start_date, end_date, status, closed_at, created_at, updated_at
FROM accounting_periods WHERE company_id=$1 AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1 FOR UPDATE`, companyID, date).
		Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, ErrNoOpenPeriod
		}
		return periods.Period{}, err
	}
	return p, nil
}

// GetAccountsForUpdate locks the referenced accounts in ascending id order so
// concurrent postings touching the same accounts cannot deadlock.
func (r *txRepository) GetAccountsForUpdate(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 AND id = ANY($2) ORDER BY id ASC FOR UPDATE`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) InsertEntry(ctx context.Context, in DraftInput, periodID int64, status EntryStatus, reversalOf *int64) (JournalEntry, error) {
	entry := JournalEntry{
		CompanyID:    in.CompanyID,
		PeriodID:     periodID,
		Date:         in.Date,
		Reference:    in.Reference,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		Status:       status,
		ReversalOfID: reversalOf,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, period_id, date, reference, source_module, source_id, memo, status, reversal_of_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, CASE WHEN $8='POSTED' THEN NOW() ELSE NULL END)
RETURNING id, number, posted_at, created_at, updated_at`,
		in.CompanyID, periodID, in.Date, in.Reference, in.SourceModule, in.SourceID, in.Memo, status, reversalOf).
		Scan(&entry.ID, &entry.Number, &entry.PostedAt, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_journal_source" {
			return JournalEntry{}, ErrAlreadyPosted
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit) VALUES ($1,$2,$3,$4)`,
			entryID, line.AccountID, line.Debit, line.Credit); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetEntryWithLinesForUpdate(ctx context.Context, companyID, entryID int64) (JournalEntry, error) {
	return getEntryWithLines(ctx, r.tx, companyID, entryID, true)
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, posted_at=CASE WHEN $2='POSTED' THEN NOW() ELSE posted_at END, updated_at=NOW() WHERE id=$1`, entryID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) AddAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2, updated_at=NOW() WHERE id=$1`, accountID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
