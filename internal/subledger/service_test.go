package subledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
)

const testCompany = int64(1)

var testTemplate = TemplateConfig{
	CompanyID:             testCompany,
	ARControlAccountID:    100,
	APControlAccountID:    200,
	CashAccountID:         300,
	SalesRevenueAccountID: 400,
	SalesTaxAccountID:     410,
	PurchasesAccountID:    500,
	PurchaseTaxAccountID:  510,
}

type memRepo struct {
	txns   map[int64]*Transaction
	nextID int64
	cfg    TemplateConfig
}

func newMemRepo() *memRepo {
	return &memRepo{txns: map[int64]*Transaction{}, nextID: 1, cfg: testTemplate}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) Get(ctx context.Context, companyID, txnID int64) (Transaction, error) {
	txn, ok := r.txns[txnID]
	if !ok || txn.CompanyID != companyID {
		return Transaction{}, ErrTransactionNotFound
	}
	return *txn, nil
}

func (r *memRepo) ListByParty(ctx context.Context, companyID, partyID int64) ([]Transaction, error) {
	var out []Transaction
	for _, txn := range r.txns {
		if txn.CompanyID == companyID && txn.PartyID == partyID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (r *memRepo) ListOpenByParty(ctx context.Context, companyID, partyID int64, asOf time.Time) ([]Transaction, error) {
	var out []Transaction
	for _, txn := range r.txns {
		if txn.CompanyID == companyID && txn.PartyID == partyID && txn.Status == StatusPosted && !txn.Outstanding.IsZero() && !txn.Date.After(asOf) {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (r *memRepo) ListOpenByKind(ctx context.Context, companyID int64, kind masterdata.PartyKind, asOf time.Time) ([]Transaction, error) {
	var out []Transaction
	for _, txn := range r.txns {
		if txn.CompanyID == companyID && txn.PartyKind == kind && txn.Status == StatusPosted && !txn.Outstanding.IsZero() && !txn.Date.After(asOf) {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (r *memRepo) DraftTransactionIDsInRange(ctx context.Context, companyID int64, from, to time.Time) ([]int64, error) {
	var ids []int64
	for _, txn := range r.txns {
		if txn.CompanyID == companyID && txn.Status == StatusDraft && !txn.Date.Before(from) && !txn.Date.After(to) {
			ids = append(ids, txn.ID)
		}
	}
	return ids, nil
}

func (r *memRepo) TemplateConfigFor(ctx context.Context, companyID int64) (TemplateConfig, error) {
	return r.cfg, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, companyID, txnID int64) (Transaction, error) {
	return r.Get(ctx, companyID, txnID)
}

func (r *memRepo) Insert(ctx context.Context, in CreateInput, dueDate time.Time) (Transaction, error) {
	var total decimal.Decimal
	txn := Transaction{
		ID:        r.nextID,
		CompanyID: in.CompanyID,
		Type:      in.Type,
		PartyKind: in.PartyKind,
		PartyID:   in.PartyID,
		Reference: in.Reference,
		Date:      in.Date,
		DueDate:   dueDate,
		Status:    StatusDraft,
	}
	for _, line := range in.Lines {
		total = total.Add(line.Amount).Add(line.Tax)
		txn.Lines = append(txn.Lines, ChargeLine{
			TransactionID: txn.ID,
			AccountID:     line.AccountID,
			Description:   line.Description,
			Amount:        line.Amount,
			Tax:           line.Tax,
		})
	}
	txn.Amount = total
	r.nextID++
	stored := txn
	r.txns[txn.ID] = &stored
	return txn, nil
}

func (r *memRepo) MarkPosted(ctx context.Context, txnID, journalEntryID int64, outstanding decimal.Decimal) error {
	txn, ok := r.txns[txnID]
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = StatusPosted
	txn.JournalEntryID = &journalEntryID
	txn.Outstanding = outstanding
	return nil
}

func (r *memRepo) MarkVoided(ctx context.Context, txnID int64) error {
	txn, ok := r.txns[txnID]
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = StatusVoided
	txn.Outstanding = decimal.Zero
	return nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, txnID int64, status Status) error {
	txn, ok := r.txns[txnID]
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = status
	return nil
}

type fakeLedger struct {
	nextEntryID int64
	posted      []ledger.PostingInput
	voided      []ledger.VoidInput
	failPost    error
}

func (f *fakeLedger) PostNew(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error) {
	if f.failPost != nil {
		return ledger.JournalEntry{}, f.failPost
	}
	f.nextEntryID++
	f.posted = append(f.posted, input)
	return ledger.JournalEntry{ID: f.nextEntryID, CompanyID: input.CompanyID, Status: ledger.EntryStatusPosted}, nil
}

func (f *fakeLedger) VoidEntry(ctx context.Context, input ledger.VoidInput) (ledger.JournalEntry, error) {
	f.voided = append(f.voided, input)
	f.nextEntryID++
	return ledger.JournalEntry{ID: f.nextEntryID, Status: ledger.EntryStatusPosted}, nil
}

type fakeParties struct {
	parties  map[int64]masterdata.Party
	balances map[int64]decimal.Decimal
}

func newFakeParties(parties ...masterdata.Party) *fakeParties {
	f := &fakeParties{parties: map[int64]masterdata.Party{}, balances: map[int64]decimal.Decimal{}}
	for _, p := range parties {
		f.parties[p.ID] = p
	}
	return f
}

func (f *fakeParties) RequireActiveParty(ctx context.Context, companyID, partyID int64, kind masterdata.PartyKind) (masterdata.Party, error) {
	party, ok := f.parties[partyID]
	if !ok || party.CompanyID != companyID {
		return masterdata.Party{}, masterdata.ErrPartyNotFound
	}
	if party.Kind != kind {
		return masterdata.Party{}, masterdata.ErrPartyNotFound
	}
	if !party.IsActive {
		return masterdata.Party{}, masterdata.ErrPartyInactive
	}
	return party, nil
}

func (f *fakeParties) AddPartyBalance(ctx context.Context, companyID, partyID int64, delta decimal.Decimal) error {
	f.balances[partyID] = f.balances[partyID].Add(delta)
	return nil
}

type fakePeriods struct {
	closed bool
}

func (f *fakePeriods) FindOpenByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	if f.closed {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return periods.Period{ID: 1, CompanyID: companyID, Status: periods.StatusOpen}, nil
}

func newTestService(repo *memRepo, gl *fakeLedger, parties *fakeParties, p *fakePeriods) *Service {
	svc := NewService(repo, gl, parties, p, nil)
	svc.WithNow(func() time.Time { return time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC) })
	return svc
}

func customer(id int64) masterdata.Party {
	return masterdata.Party{ID: id, CompanyID: testCompany, Kind: masterdata.PartyCustomer, TermsDays: 30, IsActive: true}
}

func supplier(id int64) masterdata.Party {
	return masterdata.Party{ID: id, CompanyID: testCompany, Kind: masterdata.PartySupplier, TermsDays: 30, IsActive: true}
}

func invoiceInput(partyID int64, amount, tax string) CreateInput {
	return CreateInput{
		CompanyID: testCompany,
		Type:      TxTypeInvoice,
		PartyKind: masterdata.PartyCustomer,
		PartyID:   partyID,
		Reference: "INV-001",
		Date:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Lines: []ChargeLineInput{
			{Description: "Services", Amount: decimal.RequireFromString(amount), Tax: decimal.RequireFromString(tax)},
		},
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	svc := newTestService(newMemRepo(), &fakeLedger{}, newFakeParties(customer(7)), &fakePeriods{})

	in := invoiceInput(7, "100", "15")
	in.Type = "BOGUS"
	_, err := svc.CreateTransaction(context.Background(), in)
	require.ErrorIs(t, err, ErrUnknownType)

	in = invoiceInput(7, "100", "15")
	in.Lines = nil
	_, err = svc.CreateTransaction(context.Background(), in)
	require.Error(t, err)

	in = invoiceInput(7, "0", "0")
	_, err = svc.CreateTransaction(context.Background(), in)
	require.Error(t, err)
}

func TestCreateTransactionInactiveParty(t *testing.T) {
	inactive := customer(7)
	inactive.IsActive = false
	svc := newTestService(newMemRepo(), &fakeLedger{}, newFakeParties(inactive), &fakePeriods{})

	_, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.ErrorIs(t, err, masterdata.ErrPartyInactive)
}

func TestCreateTransactionClosedPeriod(t *testing.T) {
	svc := newTestService(newMemRepo(), &fakeLedger{}, newFakeParties(customer(7)), &fakePeriods{closed: true})

	_, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.ErrorIs(t, err, periods.ErrPeriodNotFound)
}

func TestCreateTransactionDueDateFromTerms(t *testing.T) {
	svc := newTestService(newMemRepo(), &fakeLedger{}, newFakeParties(customer(7)), &fakePeriods{})

	txn, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.NoError(t, err)
	require.Equal(t, StatusDraft, txn.Status)
	require.True(t, txn.Outstanding.IsZero())
	require.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), txn.DueDate)
}

func TestPostCustomerInvoice(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedger{}
	parties := newFakeParties(customer(7))
	svc := newTestService(repo, gl, parties, &fakePeriods{})

	txn, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "15"))
	require.NoError(t, err)

	posted, err := svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.True(t, posted.Outstanding.Equal(decimal.RequireFromString("115")))
	require.NotNil(t, posted.JournalEntryID)

	require.Len(t, gl.posted, 1)
	entry := gl.posted[0]
	require.True(t, entry.ViaSubledger)
	require.Len(t, entry.Lines, 3)
	require.Equal(t, testTemplate.ARControlAccountID, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(decimal.RequireFromString("115")))
	require.Equal(t, testTemplate.SalesRevenueAccountID, entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(decimal.RequireFromString("100")))
	require.Equal(t, testTemplate.SalesTaxAccountID, entry.Lines[2].AccountID)
	require.True(t, entry.Lines[2].Credit.Equal(decimal.RequireFromString("15")))

	require.True(t, parties.balances[7].Equal(decimal.RequireFromString("115")))
}

func TestPostSupplierInvoiceFlipsSides(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedger{}
	parties := newFakeParties(supplier(9))
	svc := newTestService(repo, gl, parties, &fakePeriods{})

	in := invoiceInput(9, "200", "30")
	in.PartyKind = masterdata.PartySupplier
	txn, err := svc.CreateTransaction(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)

	entry := gl.posted[0]
	require.Equal(t, testTemplate.APControlAccountID, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Credit.Equal(decimal.RequireFromString("230")))
	require.Equal(t, testTemplate.PurchasesAccountID, entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Debit.Equal(decimal.RequireFromString("200")))
	require.Equal(t, testTemplate.PurchaseTaxAccountID, entry.Lines[2].AccountID)
	require.True(t, entry.Lines[2].Debit.Equal(decimal.RequireFromString("30")))
}

func TestPostCustomerPayment(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedger{}
	parties := newFakeParties(customer(7))
	svc := newTestService(repo, gl, parties, &fakePeriods{})

	in := invoiceInput(7, "50", "0")
	in.Type = TxTypePayment
	txn, err := svc.CreateTransaction(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)

	entry := gl.posted[0]
	require.Len(t, entry.Lines, 2)
	require.Equal(t, testTemplate.CashAccountID, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(decimal.RequireFromString("50")))
	require.Equal(t, testTemplate.ARControlAccountID, entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(decimal.RequireFromString("50")))

	// Payments reduce what the customer owes.
	require.True(t, parties.balances[7].Equal(decimal.RequireFromString("-50")))
}

func TestPostTransactionTwice(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLedger{}, newFakeParties(customer(7)), &fakePeriods{})

	txn, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.NoError(t, err)

	_, err = svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)
	_, err = svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestPostTransactionLedgerFailureLeavesDraft(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedger{failPost: errors.New("boom")}
	svc := newTestService(repo, gl, newFakeParties(customer(7)), &fakePeriods{})

	txn, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.NoError(t, err)

	_, err = svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.Error(t, err)

	current, err := svc.Get(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
}

func TestVoidTransaction(t *testing.T) {
	repo := newMemRepo()
	gl := &fakeLedger{}
	parties := newFakeParties(customer(7))
	svc := newTestService(repo, gl, parties, &fakePeriods{})

	txn, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.NoError(t, err)
	posted, err := svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)

	voided, err := svc.VoidTransaction(context.Background(), testCompany, posted.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)
	require.True(t, voided.Outstanding.IsZero())
	require.Len(t, gl.voided, 1)
	require.Equal(t, *posted.JournalEntryID, gl.voided[0].EntryID)
	require.True(t, parties.balances[7].IsZero())
}

func TestVoidAllocatedTransactionBlocked(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLedger{}, newFakeParties(customer(7)), &fakePeriods{})

	txn, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.NoError(t, err)
	_, err = svc.PostTransaction(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)

	// Simulate a partial allocation against the invoice.
	repo.txns[txn.ID].Outstanding = decimal.RequireFromString("40")

	_, err = svc.VoidTransaction(context.Background(), testCompany, txn.ID, "")
	require.ErrorIs(t, err, ErrAllocated)
}

func TestRejectDraftTransactions(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLedger{}, newFakeParties(customer(7)), &fakePeriods{})

	txn, err := svc.CreateTransaction(context.Background(), invoiceInput(7, "100", "0"))
	require.NoError(t, err)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	ids, err := svc.DraftTransactionIDsInRange(context.Background(), testCompany, from, to)
	require.NoError(t, err)
	require.Equal(t, []int64{txn.ID}, ids)

	require.NoError(t, svc.RejectDraftTransactions(context.Background(), testCompany, ids))

	current, err := svc.Get(context.Background(), testCompany, txn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, current.Status)

	ids, err = svc.DraftTransactionIDsInRange(context.Background(), testCompany, from, to)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestAgeTransactions(t *testing.T) {
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	day := func(daysAgo int) time.Time { return asOf.AddDate(0, 0, -daysAgo) }
	amt := decimal.RequireFromString

	open := []Transaction{
		{Type: TxTypeInvoice, Date: day(10), Outstanding: amt("100")},
		{Type: TxTypeInvoice, Date: day(45), Outstanding: amt("200")},
		{Type: TxTypeInvoice, Date: day(95), Outstanding: amt("300")},
		{Type: TxTypeInvoice, Date: day(400), Outstanding: amt("50")},
		{Type: TxTypePayment, Date: day(5), Outstanding: amt("120")},
	}

	buckets := AgeTransactions(open, asOf, nil)
	require.Len(t, buckets, 5)
	require.Equal(t, "0-30", buckets[0].Label)
	require.Equal(t, "31-60", buckets[1].Label)
	require.Equal(t, "61-90", buckets[2].Label)
	require.Equal(t, "91-120", buckets[3].Label)
	require.Equal(t, "121+", buckets[4].Label)

	// Unallocated payment nets against the current bucket.
	require.True(t, buckets[0].Amount.Equal(amt("-20")))
	require.True(t, buckets[1].Amount.Equal(amt("200")))
	require.True(t, buckets[2].Amount.IsZero())
	require.True(t, buckets[3].Amount.Equal(amt("300")))
	require.True(t, buckets[4].Amount.Equal(amt("50")))
}

func TestAgeTransactionsCustomBuckets(t *testing.T) {
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	open := []Transaction{
		{Type: TxTypeInvoice, Date: asOf.AddDate(0, 0, -20), Outstanding: decimal.RequireFromString("80")},
	}
	buckets := AgeTransactions(open, asOf, []int{15, 45})
	require.Len(t, buckets, 3)
	require.Equal(t, "0-15", buckets[0].Label)
	require.Equal(t, "16-45", buckets[1].Label)
	require.Equal(t, "46+", buckets[2].Label)
	require.True(t, buckets[1].Amount.Equal(decimal.RequireFromString("80")))
}
