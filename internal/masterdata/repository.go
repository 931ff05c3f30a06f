package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for master data.
type Repository interface {
	GetParty(ctx context.Context, companyID, partyID int64) (Party, error)
	ListParties(ctx context.Context, companyID int64, kind PartyKind) ([]Party, error)
	AddPartyBalance(ctx context.Context, companyID, partyID int64, delta decimal.Decimal) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed master data repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const partyColumns = `id, company_id, kind, code, name, terms_days, is_active, balance, created_at, updated_at`

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	err := row.Scan(&p.ID, &p.CompanyID, &p.Kind, &p.Code, &p.Name, &p.TermsDays, &p.IsActive, &p.Balance, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, err
	}
	return p, nil
}

// q resolves statements against the ambient transaction when one is open, so
// a party balance moved inside a posting commits with that posting.
func (r *repository) q(ctx context.Context) shared.Querier {
	return shared.QuerierFrom(ctx, r.db)
}

func (r *repository) GetParty(ctx context.Context, companyID, partyID int64) (Party, error) {
	return scanParty(r.q(ctx).QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE company_id=$1 AND id=$2`, companyID, partyID))
}

func (r *repository) ListParties(ctx context.Context, companyID int64, kind PartyKind) ([]Party, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+partyColumns+` FROM parties WHERE company_id=$1 AND ($2 = '' OR kind=$2) ORDER BY code`, companyID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) AddPartyBalance(ctx context.Context, companyID, partyID int64, delta decimal.Decimal) error {
	cmd, err := r.q(ctx).Exec(ctx, `UPDATE parties SET balance = balance + $3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, partyID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPartyNotFound
	}
	return nil
}
