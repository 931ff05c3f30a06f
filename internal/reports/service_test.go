package reports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/subledger"
)

const testCompany = int64(1)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeLedger struct {
	calls int
	rows  []ledger.TrialBalanceRow
}

func (f *fakeLedger) TrialBalance(ctx context.Context, companyID int64, asOf time.Time) ([]ledger.TrialBalanceRow, error) {
	f.calls++
	return f.rows, nil
}

type fakeSubledger struct {
	calls int
}

func (f *fakeSubledger) Ageing(ctx context.Context, in subledger.AgeingInput) ([]subledger.AgeingBucket, error) {
	f.calls++
	return []subledger.AgeingBucket{
		{Label: "0-30", Amount: amt("100")},
		{Label: "31+", Amount: amt("40")},
	}, nil
}

func balancedRows() []ledger.TrialBalanceRow {
	return []ledger.TrialBalanceRow{
		{AccountID: 1, AccountCode: "1000", Type: ledger.AccountTypeAsset, Debit: amt("500"), Credit: amt("0")},
		{AccountID: 2, AccountCode: "4000", Type: ledger.AccountTypeRevenue, Debit: amt("0"), Credit: amt("500")},
	}
}

func newFixture(t *testing.T, rows []ledger.TrialBalanceRow) (*Service, *fakeLedger, *fakeSubledger) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gl := &fakeLedger{rows: rows}
	sl := &fakeSubledger{}
	svc := NewService(gl, sl, NewCache(client, time.Minute))
	svc.WithNow(func() time.Time { return time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC) })
	return svc, gl, sl
}

func TestTrialBalanceTotals(t *testing.T) {
	svc, _, _ := newFixture(t, balancedRows())

	report, err := svc.TrialBalance(context.Background(), testCompany, time.Time{})
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)
	require.True(t, report.TotalDebit.Equal(amt("500")))
	require.True(t, report.TotalCredit.Equal(amt("500")))
}

func TestTrialBalanceCached(t *testing.T) {
	svc, gl, _ := newFixture(t, balancedRows())
	ctx := context.Background()

	_, err := svc.TrialBalance(ctx, testCompany, time.Time{})
	require.NoError(t, err)
	_, err = svc.TrialBalance(ctx, testCompany, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, gl.calls)

	// Invalidation forces a reload.
	require.NoError(t, svc.Invalidate(ctx))
	_, err = svc.TrialBalance(ctx, testCompany, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, gl.calls)
}

func TestTrialBalanceUnbalancedIsCorruption(t *testing.T) {
	rows := balancedRows()
	rows[1].Credit = amt("499")
	svc, _, _ := newFixture(t, rows)

	_, err := svc.TrialBalance(context.Background(), testCompany, time.Time{})
	var integrity *shared.IntegrityError
	require.ErrorAs(t, err, &integrity)
}

func TestAgeingReport(t *testing.T) {
	svc, _, sl := newFixture(t, balancedRows())

	report, err := svc.Ageing(context.Background(), testCompany, masterdata.PartyCustomer, 0, time.Time{})
	require.NoError(t, err)
	require.Equal(t, masterdata.PartyCustomer, report.PartyKind)
	require.Len(t, report.Buckets, 2)
	require.Equal(t, 1, sl.calls)

	// Second read is a cache hit.
	_, err = svc.Ageing(context.Background(), testCompany, masterdata.PartyCustomer, 0, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, sl.calls)
}

func TestCompanySnapshot(t *testing.T) {
	svc, gl, sl := newFixture(t, balancedRows())

	snap, err := svc.CompanySnapshot(context.Background(), testCompany, time.Time{})
	require.NoError(t, err)
	require.Len(t, snap.TrialBalance.Rows, 2)
	require.Equal(t, masterdata.PartyCustomer, snap.Receivables.PartyKind)
	require.Equal(t, masterdata.PartySupplier, snap.Payables.PartyKind)
	require.Equal(t, 1, gl.calls)
	require.Equal(t, 2, sl.calls)
}
