package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for accounting periods.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, periodID int64) (Period, error)
	List(ctx context.Context, companyID int64) ([]Period, error)
	FindOpenByDate(ctx context.Context, companyID int64, date time.Time) (Period, error)
	RangeConflict(ctx context.Context, companyID int64, start, end time.Time) (bool, error)
	Insert(ctx context.Context, in CreateInput) (Period, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, companyID, periodID int64) (Period, error)
	UpdateStatus(ctx context.Context, periodID int64, status Status) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed periods repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const columns = `id, company_id, code, start_date, end_date, status, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// WithTx joins the ambient transaction when the context carries one, so the
// close sequence and the draft rejections it triggers commit together.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return shared.RunInTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) q(ctx context.Context) shared.Querier {
	return shared.QuerierFrom(ctx, r.db)
}

func (r *repository) Get(ctx context.Context, companyID, periodID int64) (Period, error) {
	return scanPeriod(r.q(ctx).QueryRow(ctx, `SELECT `+columns+` FROM accounting_periods WHERE company_id=$1 AND id=$2`, companyID, periodID))
}

func (r *repository) List(ctx context.Context, companyID int64) ([]Period, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+columns+` FROM accounting_periods WHERE company_id=$1 ORDER BY start_date`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) FindOpenByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	return scanPeriod(r.q(ctx).QueryRow(ctx, `SELECT `+columns+` FROM accounting_periods
WHERE company_id=$1 AND status='OPEN' AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, companyID, date))
}

func (r *repository) RangeConflict(ctx context.Context, companyID int64, start, end time.Time) (bool, error) {
	var count int
	err := r.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM accounting_periods
WHERE company_id=$1 AND start_date <= $3 AND end_date >= $2`, companyID, start, end).Scan(&count)
	return count > 0, err
}

func (r *repository) Insert(ctx context.Context, in CreateInput) (Period, error) {
	p := Period{CompanyID: in.CompanyID, Code: in.Code, StartDate: in.StartDate, EndDate: in.EndDate, Status: StatusOpen}
	err := r.q(ctx).QueryRow(ctx, `INSERT INTO accounting_periods (company_id, code, start_date, end_date, status)
VALUES ($1,$2,$3,$4,'OPEN') RETURNING id, created_at, updated_at`, in.CompanyID, in.Code, in.StartDate, in.EndDate).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Period{}, err
	}
	return p, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, companyID, periodID int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+columns+` FROM accounting_periods WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, periodID))
}

func (r *txRepository) UpdateStatus(ctx context.Context, periodID int64, status Status) error {
	closedAt := "NULL"
	if status == StatusClosed {
		closedAt = "NOW()"
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET status=$2, closed_at=`+closedAt+`, updated_at=NOW() WHERE id=$1`, periodID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}
