package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/subledger"
)

// LedgerPort is the slice of the ledger reporting reads from.
type LedgerPort interface {
	TrialBalance(ctx context.Context, companyID int64, asOf time.Time) ([]ledger.TrialBalanceRow, error)
}

// SubledgerPort supplies the ageing computation.
type SubledgerPort interface {
	Ageing(ctx context.Context, in subledger.AgeingInput) ([]subledger.AgeingBucket, error)
}

// TrialBalanceReport lists per-account debit/credit totals with the ledger
// identity check already applied.
type TrialBalanceReport struct {
	CompanyID   int64                    `json:"company_id"`
	AsOf        time.Time                `json:"as_of"`
	Rows        []ledger.TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal          `json:"total_debit"`
	TotalCredit decimal.Decimal          `json:"total_credit"`
}

// AgeingReport buckets a party's or side's open exposure by age.
type AgeingReport struct {
	CompanyID int64                    `json:"company_id"`
	PartyKind masterdata.PartyKind     `json:"party_kind"`
	PartyID   int64                    `json:"party_id,omitempty"`
	AsOf      time.Time                `json:"as_of"`
	Buckets   []subledger.AgeingBucket `json:"buckets"`
}

// Snapshot bundles the reports a close-out review reads together.
type Snapshot struct {
	TrialBalance TrialBalanceReport `json:"trial_balance"`
	Receivables  AgeingReport       `json:"receivables"`
	Payables     AgeingReport       `json:"payables"`
}

// Service assembles financial reports. Results are cached in Redis keyed by
// company, cutoff, and the cache version; entries age out by TTL and the
// invalidate endpoint bumps the version to drop them all at once.
type Service struct {
	ledger    LedgerPort
	subledger SubledgerPort
	cache     *Cache
	now       func() time.Time
}

// NewService constructs the reports service.
func NewService(ledgerPort LedgerPort, subledgerPort SubledgerPort, cache *Cache) *Service {
	return &Service{ledger: ledgerPort, subledger: subledgerPort, cache: cache, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// TrialBalance aggregates posted totals per account as of the cutoff. Total
// debits always equal total credits; a mismatch is reported as corruption,
// never returned as data.
func (s *Service) TrialBalance(ctx context.Context, companyID int64, asOf time.Time) (TrialBalanceReport, error) {
	if companyID == 0 {
		return TrialBalanceReport{}, shared.Validationf("company", "required")
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	key, err := s.cache.BuildKey(ctx, "reports", "tb", fmt.Sprintf("%d", companyID), asOf.Format("2006-01-02"))
	if err != nil {
		return TrialBalanceReport{}, err
	}
	var report TrialBalanceReport
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		return s.loadTrialBalance(ctx, companyID, asOf)
	})
	if err != nil {
		return TrialBalanceReport{}, err
	}
	return report, nil
}

func (s *Service) loadTrialBalance(ctx context.Context, companyID int64, asOf time.Time) (TrialBalanceReport, error) {
	rows, err := s.ledger.TrialBalance(ctx, companyID, asOf)
	if err != nil {
		return TrialBalanceReport{}, err
	}
	report := TrialBalanceReport{CompanyID: companyID, AsOf: asOf, Rows: rows}
	for _, row := range rows {
		report.TotalDebit = report.TotalDebit.Add(row.Debit)
		report.TotalCredit = report.TotalCredit.Add(row.Credit)
	}
	if !report.TotalDebit.Equal(report.TotalCredit) {
		return TrialBalanceReport{}, shared.Integrityf("trial_balance", companyID,
			"debits %s != credits %s", report.TotalDebit.String(), report.TotalCredit.String())
	}
	return report, nil
}

// Ageing buckets open exposure for one side of the subledger, optionally
// scoped to a single party.
func (s *Service) Ageing(ctx context.Context, companyID int64, kind masterdata.PartyKind, partyID int64, asOf time.Time) (AgeingReport, error) {
	if companyID == 0 {
		return AgeingReport{}, shared.Validationf("company", "required")
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	key, err := s.cache.BuildKey(ctx, "reports", "ageing", fmt.Sprintf("%d", companyID), string(kind), fmt.Sprintf("%d", partyID), asOf.Format("2006-01-02"))
	if err != nil {
		return AgeingReport{}, err
	}
	var report AgeingReport
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		buckets, err := s.subledger.Ageing(ctx, subledger.AgeingInput{
			CompanyID: companyID,
			PartyKind: kind,
			PartyID:   partyID,
			AsOf:      asOf,
		})
		if err != nil {
			return nil, err
		}
		return AgeingReport{CompanyID: companyID, PartyKind: kind, PartyID: partyID, AsOf: asOf, Buckets: buckets}, nil
	})
	if err != nil {
		return AgeingReport{}, err
	}
	return report, nil
}

// CompanySnapshot loads the trial balance and both ageing sides in parallel.
func (s *Service) CompanySnapshot(ctx context.Context, companyID int64, asOf time.Time) (Snapshot, error) {
	if companyID == 0 {
		return Snapshot{}, shared.Validationf("company", "required")
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tb, err := s.TrialBalance(ctx, companyID, asOf)
		if err != nil {
			return err
		}
		snap.TrialBalance = tb
		return nil
	})
	g.Go(func() error {
		ar, err := s.Ageing(ctx, companyID, masterdata.PartyCustomer, 0, asOf)
		if err != nil {
			return err
		}
		snap.Receivables = ar
		return nil
	})
	g.Go(func() error {
		ap, err := s.Ageing(ctx, companyID, masterdata.PartySupplier, 0, asOf)
		if err != nil {
			return err
		}
		snap.Payables = ap
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
