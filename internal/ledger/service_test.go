package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const testCompany = int64(1)

type memRepo struct {
	accounts map[int64]*Account
	entries  map[int64]*JournalEntry
	periods  []periods.Period
	nextID   int64
	nextNum  int64
}

func newMemRepo() *memRepo {
	r := &memRepo{
		accounts: map[int64]*Account{},
		entries:  map[int64]*JournalEntry{},
		nextID:   1,
		nextNum:  1,
	}
	r.periods = []periods.Period{{
		ID:        1,
		CompanyID: testCompany,
		Code:      "2026-03",
		StartDate: date(2026, 3, 1),
		EndDate:   date(2026, 3, 31),
		Status:    periods.StatusOpen,
	}}
	for _, a := range []Account{
		{ID: 10, CompanyID: testCompany, Code: "1000", Name: "Cash", Type: AccountTypeAsset, Normal: NormalDebit, IsActive: true},
		{ID: 11, CompanyID: testCompany, Code: "1100", Name: "Accounts Receivable", Type: AccountTypeAsset, Normal: NormalDebit, IsControl: true, IsActive: true},
		{ID: 40, CompanyID: testCompany, Code: "4000", Name: "Sales", Type: AccountTypeRevenue, Normal: NormalCredit, IsActive: true},
		{ID: 50, CompanyID: testCompany, Code: "5000", Name: "Rent", Type: AccountTypeExpense, Normal: NormalDebit, IsActive: true},
		{ID: 60, CompanyID: testCompany, Code: "6000", Name: "Old Equipment", Type: AccountTypeAsset, Normal: NormalDebit, IsActive: false},
	} {
		stored := a
		r.accounts[a.ID] = &stored
	}
	return r
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) GetAccount(ctx context.Context, companyID, accountID int64) (Account, error) {
	account, ok := r.accounts[accountID]
	if !ok || account.CompanyID != companyID {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

func (r *memRepo) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	var out []Account
	for _, account := range r.accounts {
		if account.CompanyID == companyID {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (r *memRepo) GetEntryWithLines(ctx context.Context, companyID, entryID int64) (JournalEntry, error) {
	entry, ok := r.entries[entryID]
	if !ok || entry.CompanyID != companyID {
		return JournalEntry{}, ErrEntryNotFound
	}
	return *entry, nil
}

func (r *memRepo) AccountBalanceAsOf(ctx context.Context, companyID, accountID int64, asOf time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	for _, entry := range r.entries {
		if entry.CompanyID != companyID || entry.PostedAt == nil || entry.Date.After(asOf) {
			continue
		}
		for _, line := range entry.Lines {
			if line.AccountID == accountID {
				sum = sum.Add(line.Signed())
			}
		}
	}
	return sum, nil
}

func (r *memRepo) TrialBalance(ctx context.Context, companyID int64, asOf time.Time) ([]TrialBalanceRow, error) {
	rows := map[int64]*TrialBalanceRow{}
	for _, entry := range r.entries {
		if entry.CompanyID != companyID || entry.PostedAt == nil || entry.Date.After(asOf) {
			continue
		}
		for _, line := range entry.Lines {
			row, ok := rows[line.AccountID]
			if !ok {
				account := r.accounts[line.AccountID]
				row = &TrialBalanceRow{AccountID: line.AccountID, AccountCode: account.Code, AccountName: account.Name, Type: account.Type}
				rows[line.AccountID] = row
			}
			row.Debit = row.Debit.Add(line.Debit)
			row.Credit = row.Credit.Add(line.Credit)
		}
	}
	var out []TrialBalanceRow
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (r *memRepo) SumSignedBalances(ctx context.Context, companyID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	for _, account := range r.accounts {
		if account.CompanyID == companyID {
			sum = sum.Add(account.Balance)
		}
	}
	return sum, nil
}

func (r *memRepo) DraftEntryIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	var ids []int64
	for _, entry := range r.entries {
		if entry.CompanyID == companyID && entry.Status == EntryStatusDraft && !entry.Date.Before(from) && !entry.Date.After(to) {
			ids = append(ids, entry.ID)
		}
	}
	return ids, nil
}

func (r *memRepo) CompanyIDs(ctx context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, account := range r.accounts {
		if !seen[account.CompanyID] {
			seen[account.CompanyID] = true
			ids = append(ids, account.CompanyID)
		}
	}
	return ids, nil
}

func (r *memRepo) GetPeriodCoveringForUpdate(ctx context.Context, companyID int64, when time.Time) (periods.Period, error) {
	for _, p := range r.periods {
		if p.CompanyID == companyID && p.Contains(when) {
			return p, nil
		}
	}
	return periods.Period{}, ErrNoOpenPeriod
}

func (r *memRepo) GetAccountsForUpdate(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error) {
	out := map[int64]Account{}
	for _, id := range ids {
		if account, ok := r.accounts[id]; ok && account.CompanyID == companyID {
			out[id] = *account
		}
	}
	return out, nil
}

func (r *memRepo) InsertEntry(ctx context.Context, in DraftInput, periodID int64, status EntryStatus, reversalOf *int64) (JournalEntry, error) {
	entry := JournalEntry{
		ID:           r.nextID,
		CompanyID:    in.CompanyID,
		Number:       r.nextNum,
		PeriodID:     periodID,
		Date:         in.Date,
		Reference:    in.Reference,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		Status:       status,
		ReversalOfID: reversalOf,
	}
	if status == EntryStatusPosted {
		now := time.Now()
		entry.PostedAt = &now
	}
	r.nextID++
	r.nextNum++
	stored := entry
	r.entries[entry.ID] = &stored
	return entry, nil
}

func (r *memRepo) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	entry := r.entries[entryID]
	for _, line := range lines {
		entry.Lines = append(entry.Lines, JournalLine{EntryID: entryID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	return nil
}

func (r *memRepo) GetEntryWithLinesForUpdate(ctx context.Context, companyID, entryID int64) (JournalEntry, error) {
	return r.GetEntryWithLines(ctx, companyID, entryID)
}

func (r *memRepo) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	entry, ok := r.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = status
	if status == EntryStatusPosted && entry.PostedAt == nil {
		now := time.Now()
		entry.PostedAt = &now
	}
	return nil
}

func (r *memRepo) AddAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	account, ok := r.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = account.Balance.Add(delta)
	return nil
}

func (r *memRepo) closePeriod() {
	r.periods[0].Status = periods.StatusClosed
}

type recordedAudit struct {
	actions []string
}

func (a *recordedAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func newTestService(repo *memRepo) (*Service, *recordedAudit) {
	audit := &recordedAudit{}
	svc := NewService(repo, audit)
	svc.WithNow(func() time.Time { return date(2026, 3, 15) })
	return svc, audit
}

func balancedInput() PostingInput {
	return PostingInput{
		CompanyID:    testCompany,
		Date:         date(2026, 3, 10),
		Reference:    "INV-1",
		SourceModule: "manual",
		SourceID:     uuid.New(),
		Lines: []LineInput{
			{AccountID: 10, Debit: decimal.NewFromInt(100)},
			{AccountID: 40, Credit: decimal.NewFromInt(100)},
		},
	}
}

func TestPostNewBalancedEntry(t *testing.T) {
	repo := newMemRepo()
	svc, audit := newTestService(repo)

	entry, err := svc.PostNew(context.Background(), balancedInput())
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, entry.Status)
	require.Len(t, entry.Lines, 2)

	require.True(t, repo.accounts[10].Balance.Equal(decimal.NewFromInt(100)))
	require.True(t, repo.accounts[40].Balance.Equal(decimal.NewFromInt(-100)))
	require.NoError(t, svc.CheckIntegrity(context.Background(), testCompany))
	require.Contains(t, audit.actions, "journal.post")
}

func TestPostNewRejectsUnbalanced(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	input := balancedInput()
	input.Lines[1].Credit = decimal.NewFromInt(90)
	_, err := svc.PostNew(context.Background(), input)
	require.ErrorIs(t, err, ErrUnbalanced)
	require.True(t, repo.accounts[10].Balance.IsZero())
}

func TestPostNewRequiresTwoLines(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	input := balancedInput()
	input.Lines = input.Lines[:1]
	_, err := svc.PostNew(context.Background(), input)
	require.ErrorIs(t, err, ErrTooFewLines)
}

func TestPostNewRejectsLineWithBothSides(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	input := balancedInput()
	input.Lines[0].Credit = decimal.NewFromInt(100)
	_, err := svc.PostNew(context.Background(), input)
	require.Error(t, err)
}

func TestPostNewClosedPeriod(t *testing.T) {
	repo := newMemRepo()
	repo.closePeriod()
	svc, _ := newTestService(repo)

	_, err := svc.PostNew(context.Background(), balancedInput())
	require.ErrorIs(t, err, ErrPeriodClosed)
	require.True(t, repo.accounts[10].Balance.IsZero())
}

func TestPostNewNoCoveringPeriod(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	input := balancedInput()
	input.Date = date(2026, 7, 1)
	_, err := svc.PostNew(context.Background(), input)
	require.ErrorIs(t, err, ErrNoOpenPeriod)
}

func TestPostNewControlAccountBlocked(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	input := balancedInput()
	input.Lines[0].AccountID = 11
	_, err := svc.PostNew(context.Background(), input)
	require.ErrorIs(t, err, ErrControlAccount)

	input.ViaSubledger = true
	_, err = svc.PostNew(context.Background(), input)
	require.NoError(t, err)
	require.True(t, repo.accounts[11].Balance.Equal(decimal.NewFromInt(100)))
}

func TestPostNewInactiveAccount(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	input := balancedInput()
	input.Lines[0].AccountID = 60
	_, err := svc.PostNew(context.Background(), input)
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestDraftThenPost(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	draft, err := svc.CreateDraft(context.Background(), DraftInput{
		CompanyID:    testCompany,
		Date:         date(2026, 3, 12),
		SourceModule: "manual",
		SourceID:     uuid.New(),
		Lines: []LineInput{
			{AccountID: 50, Debit: decimal.NewFromInt(40)},
			{AccountID: 10, Credit: decimal.NewFromInt(40)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, EntryStatusDraft, draft.Status)
	require.True(t, repo.accounts[50].Balance.IsZero(), "drafts must not move balances")

	posted, err := svc.PostDraft(context.Background(), testCompany, draft.ID)
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, posted.Status)
	require.True(t, repo.accounts[50].Balance.Equal(decimal.NewFromInt(40)))

	_, err = svc.PostDraft(context.Background(), testCompany, draft.ID)
	require.ErrorIs(t, err, ErrAlreadyPosted)
	require.True(t, repo.accounts[50].Balance.Equal(decimal.NewFromInt(40)), "double post must not re-apply")
}

func TestVoidEntryPostsReversal(t *testing.T) {
	repo := newMemRepo()
	svc, audit := newTestService(repo)

	entry, err := svc.PostNew(context.Background(), balancedInput())
	require.NoError(t, err)

	reversal, err := svc.VoidEntry(context.Background(), VoidInput{CompanyID: testCompany, EntryID: entry.ID, Reason: "wrong amount"})
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, reversal.Status)
	require.NotNil(t, reversal.ReversalOfID)
	require.Equal(t, entry.ID, *reversal.ReversalOfID)

	require.Equal(t, EntryStatusVoided, repo.entries[entry.ID].Status)
	require.True(t, repo.accounts[10].Balance.IsZero())
	require.True(t, repo.accounts[40].Balance.IsZero())
	require.NoError(t, svc.CheckIntegrity(context.Background(), testCompany))
	require.Contains(t, audit.actions, "journal.void")
}

func TestVoidKeepsAsOfBalanceAtZero(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	entry, err := svc.PostNew(context.Background(), balancedInput())
	require.NoError(t, err)

	_, err = svc.VoidEntry(context.Background(), VoidInput{CompanyID: testCompany, EntryID: entry.ID, Reason: "duplicate"})
	require.NoError(t, err)

	// The voided original and its reversal both stay in the as-of sum, so
	// the cutoff balance agrees with the zeroed running balance.
	for _, accountID := range []int64{10, 40} {
		balance, err := svc.AccountBalance(context.Background(), testCompany, accountID, date(2026, 3, 31))
		require.NoError(t, err)
		require.True(t, balance.IsZero(), "account %d as-of balance = %s, want 0", accountID, balance)
		require.True(t, repo.accounts[accountID].Balance.IsZero())
	}

	rows, err := svc.TrialBalance(context.Background(), testCompany, date(2026, 3, 31))
	require.NoError(t, err)
	for _, row := range rows {
		require.True(t, row.Debit.Equal(row.Credit), "account %s debit %s credit %s", row.AccountCode, row.Debit, row.Credit)
	}
}

func TestRejectedDraftStaysOutOfAsOfBalance(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	draft, err := svc.CreateDraft(context.Background(), DraftInput{
		CompanyID:    testCompany,
		Date:         date(2026, 3, 12),
		SourceModule: "manual",
		SourceID:     uuid.New(),
		Lines: []LineInput{
			{AccountID: 50, Debit: decimal.NewFromInt(40)},
			{AccountID: 10, Credit: decimal.NewFromInt(40)},
		},
	})
	require.NoError(t, err)
	require.NoError(t, svc.RejectDraftEntries(context.Background(), testCompany, []int64{draft.ID}))

	// A draft voided without ever posting has no balance effect.
	balance, err := svc.AccountBalance(context.Background(), testCompany, 50, date(2026, 3, 31))
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestVoidDraftRejected(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	draft, err := svc.CreateDraft(context.Background(), DraftInput{
		CompanyID:    testCompany,
		Date:         date(2026, 3, 12),
		SourceModule: "manual",
		SourceID:     uuid.New(),
		Lines: []LineInput{
			{AccountID: 50, Debit: decimal.NewFromInt(40)},
			{AccountID: 10, Credit: decimal.NewFromInt(40)},
		},
	})
	require.NoError(t, err)

	_, err = svc.VoidEntry(context.Background(), VoidInput{CompanyID: testCompany, EntryID: draft.ID})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRejectDraftEntries(t *testing.T) {
	repo := newMemRepo()
	svc, audit := newTestService(repo)

	draft, err := svc.CreateDraft(context.Background(), DraftInput{
		CompanyID:    testCompany,
		Date:         date(2026, 3, 20),
		SourceModule: "manual",
		SourceID:     uuid.New(),
		Lines: []LineInput{
			{AccountID: 50, Debit: decimal.NewFromInt(10)},
			{AccountID: 10, Credit: decimal.NewFromInt(10)},
		},
	})
	require.NoError(t, err)

	ids, err := svc.DraftEntryIDsInRange(context.Background(), testCompany, date(2026, 3, 1), date(2026, 3, 31))
	require.NoError(t, err)
	require.Equal(t, []int64{draft.ID}, ids)

	require.NoError(t, svc.RejectDraftEntries(context.Background(), testCompany, ids))
	require.Equal(t, EntryStatusVoided, repo.entries[draft.ID].Status)
	require.Contains(t, audit.actions, "journal.reject_draft")

	err = svc.RejectDraftEntries(context.Background(), testCompany, ids)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAccountBalanceHonoursCutoff(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	early := balancedInput()
	early.Date = date(2026, 3, 5)
	_, err := svc.PostNew(context.Background(), early)
	require.NoError(t, err)

	late := balancedInput()
	late.Date = date(2026, 3, 25)
	late.SourceID = uuid.New()
	_, err = svc.PostNew(context.Background(), late)
	require.NoError(t, err)

	balance, err := svc.AccountBalance(context.Background(), testCompany, 10, date(2026, 3, 10))
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)))

	balance, err = svc.AccountBalance(context.Background(), testCompany, 10, date(2026, 3, 31))
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(200)))
}

func TestCheckIntegrityDetectsCorruption(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	repo.accounts[10].Balance = decimal.NewFromInt(5)
	err := svc.CheckIntegrity(context.Background(), testCompany)
	var integrity *shared.IntegrityError
	require.True(t, errors.As(err, &integrity))
}

func TestTrialBalanceTotalsMatch(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	_, err := svc.PostNew(context.Background(), balancedInput())
	require.NoError(t, err)

	rows, err := svc.TrialBalance(context.Background(), testCompany, date(2026, 3, 31))
	require.NoError(t, err)

	var debit, credit decimal.Decimal
	for _, row := range rows {
		debit = debit.Add(row.Debit)
		credit = credit.Add(row.Credit)
	}
	require.True(t, debit.Equal(credit))
	require.True(t, debit.Equal(decimal.NewFromInt(100)))
}
