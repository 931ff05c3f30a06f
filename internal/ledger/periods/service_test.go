package periods

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const testCompany = int64(1)

type memRepo struct {
	periods map[int64]*Period
	nextID  int64
}

func newMemRepo() *memRepo {
	return &memRepo{periods: map[int64]*Period{}, nextID: 1}
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) Get(ctx context.Context, companyID, periodID int64) (Period, error) {
	p, ok := r.periods[periodID]
	if !ok || p.CompanyID != companyID {
		return Period{}, ErrPeriodNotFound
	}
	return *p, nil
}

func (r *memRepo) List(ctx context.Context, companyID int64) ([]Period, error) {
	var out []Period
	for _, p := range r.periods {
		if p.CompanyID == companyID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRepo) FindOpenByDate(ctx context.Context, companyID int64, when time.Time) (Period, error) {
	for _, p := range r.periods {
		if p.CompanyID == companyID && p.Status == StatusOpen && p.Contains(when) {
			return *p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

func (r *memRepo) RangeConflict(ctx context.Context, companyID int64, start, end time.Time) (bool, error) {
	for _, p := range r.periods {
		if p.CompanyID != companyID {
			continue
		}
		if !start.After(p.EndDate) && !end.Before(p.StartDate) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) Insert(ctx context.Context, in CreateInput) (Period, error) {
	p := Period{
		ID:        r.nextID,
		CompanyID: in.CompanyID,
		Code:      in.Code,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Status:    StatusOpen,
	}
	r.nextID++
	stored := p
	r.periods[p.ID] = &stored
	return p, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, companyID, periodID int64) (Period, error) {
	return r.Get(ctx, companyID, periodID)
}

func (r *memRepo) UpdateStatus(ctx context.Context, periodID int64, status Status) error {
	p, ok := r.periods[periodID]
	if !ok {
		return ErrPeriodNotFound
	}
	p.Status = status
	return nil
}

// fakeDrafts simulates the ledger/subledger sides of the pending check. The
// reject call clears the ids, mirroring how voided drafts drop out of the
// re-run.
type fakeDrafts struct {
	ids      []int64
	rejected [][]int64
	stuck    bool
}

func (f *fakeDrafts) take(companyID int64, from, to time.Time) []int64 {
	out := make([]int64, len(f.ids))
	copy(out, f.ids)
	return out
}

func (f *fakeDrafts) reject(ids []int64) {
	f.rejected = append(f.rejected, ids)
	if !f.stuck {
		f.ids = nil
	}
}

type fakeLedgerDrafts struct{ fakeDrafts }

func (f *fakeLedgerDrafts) DraftEntryIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	return f.take(companyID, from, to), nil
}

func (f *fakeLedgerDrafts) RejectDraftEntries(ctx context.Context, companyID int64, ids []int64) error {
	f.reject(ids)
	return nil
}

type fakeSubledgerDrafts struct{ fakeDrafts }

func (f *fakeSubledgerDrafts) DraftTransactionIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	return f.take(companyID, from, to), nil
}

func (f *fakeSubledgerDrafts) RejectDraftTransactions(ctx context.Context, companyID int64, ids []int64) error {
	f.reject(ids)
	return nil
}

type recordedAudit struct {
	actions []string
}

func (a *recordedAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func newTestService(repo *memRepo, gl *fakeLedgerDrafts, sl *fakeSubledgerDrafts) (*Service, *recordedAudit) {
	audit := &recordedAudit{}
	svc := NewService(repo, gl, sl, audit)
	svc.WithNow(func() time.Time { return date(2026, 4, 1) })
	return svc, audit
}

func marchInput() CreateInput {
	return CreateInput{
		CompanyID: testCompany,
		Code:      "2026-03",
		StartDate: date(2026, 3, 1),
		EndDate:   date(2026, 3, 31),
	}
}

func TestCreatePeriod(t *testing.T) {
	svc, _ := newTestService(newMemRepo(), &fakeLedgerDrafts{}, &fakeSubledgerDrafts{})

	period, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)
	require.Equal(t, StatusOpen, period.Status)
	require.Equal(t, "2026-03", period.Code)
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc, _ := newTestService(newMemRepo(), &fakeLedgerDrafts{}, &fakeSubledgerDrafts{})

	_, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)

	overlap := marchInput()
	overlap.Code = "2026-03b"
	overlap.StartDate = date(2026, 3, 15)
	overlap.EndDate = date(2026, 4, 15)
	_, err = svc.Create(context.Background(), overlap)
	require.ErrorIs(t, err, ErrPeriodOverlap)
}

func TestCreateRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(newMemRepo(), &fakeLedgerDrafts{}, &fakeSubledgerDrafts{})

	input := marchInput()
	input.StartDate, input.EndDate = input.EndDate, input.StartDate
	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)
}

func TestCloseCleanPeriod(t *testing.T) {
	repo := newMemRepo()
	svc, audit := newTestService(repo, &fakeLedgerDrafts{}, &fakeSubledgerDrafts{})

	period, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)

	closed, err := svc.Close(context.Background(), CloseInput{CompanyID: testCompany, PeriodID: period.ID})
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	require.Contains(t, audit.actions, "period.close")

	_, err = svc.Close(context.Background(), CloseInput{CompanyID: testCompany, PeriodID: period.ID})
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestCloseBlockedByPendingDrafts(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedgerDrafts{fakeDrafts{ids: []int64{7}}}
	sl := &fakeSubledgerDrafts{fakeDrafts{ids: []int64{31}}}
	svc, _ := newTestService(repo, gl, sl)

	period, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)

	_, err = svc.Close(context.Background(), CloseInput{CompanyID: testCompany, PeriodID: period.ID})
	var pending *PendingItemsError
	require.True(t, errors.As(err, &pending))
	require.Equal(t, []int64{7}, pending.Items.JournalEntryIDs)
	require.Equal(t, []int64{31}, pending.Items.TransactionIDs)
	require.Empty(t, gl.rejected, "non-forced close must not reject drafts")

	got, err := svc.Get(context.Background(), testCompany, period.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, got.Status)
}

func TestForceCloseRejectsDrafts(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedgerDrafts{fakeDrafts{ids: []int64{7, 8}}}
	sl := &fakeSubledgerDrafts{fakeDrafts{ids: []int64{31}}}
	svc, _ := newTestService(repo, gl, sl)

	period, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)

	closed, err := svc.Close(context.Background(), CloseInput{CompanyID: testCompany, PeriodID: period.ID, Force: true})
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
	require.Equal(t, [][]int64{{7, 8}}, gl.rejected)
	require.Equal(t, [][]int64{{31}}, sl.rejected)
}

func TestForceCloseFailsWhenDraftsPersist(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedgerDrafts{fakeDrafts{ids: []int64{7}, stuck: true}}
	svc, _ := newTestService(repo, gl, &fakeSubledgerDrafts{})

	period, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)

	_, err = svc.Close(context.Background(), CloseInput{CompanyID: testCompany, PeriodID: period.ID, Force: true})
	var pending *PendingItemsError
	require.True(t, errors.As(err, &pending))

	got, err := svc.Get(context.Background(), testCompany, period.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, got.Status)
}

func TestOpenReopensClosedPeriod(t *testing.T) {
	repo := newMemRepo()
	svc, audit := newTestService(repo, &fakeLedgerDrafts{}, &fakeSubledgerDrafts{})

	period, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)
	_, err = svc.Close(context.Background(), CloseInput{CompanyID: testCompany, PeriodID: period.ID})
	require.NoError(t, err)

	reopened, err := svc.Open(context.Background(), testCompany, period.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, reopened.Status)
	require.Nil(t, reopened.ClosedAt)
	require.Contains(t, audit.actions, "period.open")

	_, err = svc.Open(context.Background(), testCompany, period.ID)
	require.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestFindOpenByDateSkipsClosed(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &fakeLedgerDrafts{}, &fakeSubledgerDrafts{})

	period, err := svc.Create(context.Background(), marchInput())
	require.NoError(t, err)

	found, err := svc.FindOpenByDate(context.Background(), testCompany, date(2026, 3, 10))
	require.NoError(t, err)
	require.Equal(t, period.ID, found.ID)

	_, err = svc.Close(context.Background(), CloseInput{CompanyID: testCompany, PeriodID: period.ID})
	require.NoError(t, err)

	_, err = svc.FindOpenByDate(context.Background(), testCompany, date(2026, 3, 10))
	require.ErrorIs(t, err, ErrPeriodNotFound)
}
