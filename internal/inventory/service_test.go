package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

const testCompany = int64(1)

type memRepo struct {
	items     map[int64]*Item
	movements []Movement
	nextID    int64
}

func newMemRepo(items ...Item) *memRepo {
	r := &memRepo{items: map[int64]*Item{}, nextID: 1}
	for _, item := range items {
		stored := item
		r.items[item.ID] = &stored
	}
	return r
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) GetItem(ctx context.Context, companyID, itemID int64) (Item, error) {
	item, ok := r.items[itemID]
	if !ok || item.CompanyID != companyID {
		return Item{}, ErrItemNotFound
	}
	return *item, nil
}

func (r *memRepo) ListItems(ctx context.Context, companyID int64) ([]Item, error) {
	var out []Item
	for _, item := range r.items {
		if item.CompanyID == companyID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (r *memRepo) ListMovements(ctx context.Context, companyID, itemID int64) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.CompanyID == companyID && m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) GetItemForUpdate(ctx context.Context, companyID, itemID int64) (Item, error) {
	return r.GetItem(ctx, companyID, itemID)
}

func (r *memRepo) UpdateItemStock(ctx context.Context, item Item) error {
	stored, ok := r.items[item.ID]
	if !ok {
		return ErrItemNotFound
	}
	stored.QtyOnHand = item.QtyOnHand
	stored.AvgCost = item.AvgCost
	return nil
}

func (r *memRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	m.ID = r.nextID
	r.nextID++
	r.movements = append(r.movements, m)
	return m, nil
}

type fakeLedger struct {
	nextEntryID int64
	posted      []ledger.PostingInput
	failPost    error
}

func (f *fakeLedger) PostNew(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error) {
	if f.failPost != nil {
		return ledger.JournalEntry{}, f.failPost
	}
	f.nextEntryID++
	f.posted = append(f.posted, input)
	return ledger.JournalEntry{ID: f.nextEntryID, Status: ledger.EntryStatusPosted}, nil
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func widget() Item {
	return Item{
		ID:                  1,
		CompanyID:           testCompany,
		SKU:                 "WID-1",
		Name:                "Widget",
		InventoryAccountID:  120,
		AdjustmentAccountID: 121,
		IsActive:            true,
	}
}

func adjust(qty float64, unitValue string) AdjustInput {
	in := AdjustInput{
		CompanyID: testCompany,
		ItemID:    1,
		QtyDelta:  qty,
		Date:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Reference: "ADJ-1",
	}
	if unitValue != "" {
		in.UnitValue = amt(unitValue)
	}
	return in
}

func TestAdjustValidation(t *testing.T) {
	svc := NewService(newMemRepo(widget()), &fakeLedger{}, nil)

	_, err := svc.Adjust(context.Background(), adjust(0, "5"))
	require.ErrorIs(t, err, ErrNoOpAdjustment)

	_, err = svc.Adjust(context.Background(), adjust(10, ""))
	require.ErrorIs(t, err, ErrUnitValueRequired)
}

func TestAdjustNegativeStockBlocked(t *testing.T) {
	item := widget()
	item.QtyOnHand = 3
	item.AvgCost = amt("5")
	repo := newMemRepo(item)
	svc := NewService(repo, &fakeLedger{}, nil)

	_, err := svc.Adjust(context.Background(), adjust(-4, ""))
	require.ErrorIs(t, err, ErrNegativeQty)
	require.Equal(t, 3.0, repo.items[1].QtyOnHand)
}

func TestAdjustInactiveItem(t *testing.T) {
	item := widget()
	item.IsActive = false
	svc := NewService(newMemRepo(item), &fakeLedger{}, nil)

	_, err := svc.Adjust(context.Background(), adjust(5, "4"))
	require.ErrorIs(t, err, ErrItemInactive)
}

func TestWeightedAverageRepricing(t *testing.T) {
	repo := newMemRepo(widget())
	gl := &fakeLedger{}
	svc := NewService(repo, gl, nil)
	ctx := context.Background()

	// Receive 10 @ 5.00.
	m1, err := svc.Adjust(ctx, adjust(10, "5"))
	require.NoError(t, err)
	require.Equal(t, 10.0, m1.QtyAfter)
	require.True(t, m1.AvgCostAfter.Equal(amt("5")))
	require.True(t, m1.Value.Equal(amt("50")))

	// Receive 10 @ 7.00: average moves to 6.00.
	m2, err := svc.Adjust(ctx, adjust(10, "7"))
	require.NoError(t, err)
	require.Equal(t, 20.0, m2.QtyAfter)
	require.True(t, m2.AvgCostAfter.Equal(amt("6")))

	// Issue 5: valued at the running average, which does not move.
	m3, err := svc.Adjust(ctx, adjust(-5, ""))
	require.NoError(t, err)
	require.Equal(t, 15.0, m3.QtyAfter)
	require.True(t, m3.AvgCostAfter.Equal(amt("6")))
	require.True(t, m3.Value.Equal(amt("30")))
	require.True(t, m3.UnitValue.Equal(amt("6")))

	require.True(t, repo.items[1].Value().Equal(amt("90")))
}

func TestAdjustJournalLines(t *testing.T) {
	item := widget()
	item.QtyOnHand = 10
	item.AvgCost = amt("6")
	repo := newMemRepo(item)
	gl := &fakeLedger{}
	svc := NewService(repo, gl, nil)

	// Increase debits inventory.
	_, err := svc.Adjust(context.Background(), adjust(2, "6"))
	require.NoError(t, err)
	entry := gl.posted[0]
	require.Equal(t, "inventory", entry.SourceModule)
	require.Equal(t, int64(120), entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(amt("12")))
	require.Equal(t, int64(121), entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(amt("12")))

	// Decrease credits inventory.
	_, err = svc.Adjust(context.Background(), adjust(-3, ""))
	require.NoError(t, err)
	entry = gl.posted[1]
	require.Equal(t, int64(121), entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(amt("18")))
	require.Equal(t, int64(120), entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(amt("18")))
}

func TestAdjustLedgerFailureLeavesItem(t *testing.T) {
	item := widget()
	item.QtyOnHand = 10
	item.AvgCost = amt("6")
	repo := newMemRepo(item)
	svc := NewService(repo, &fakeLedger{failPost: errors.New("boom")}, nil)

	_, err := svc.Adjust(context.Background(), adjust(5, "8"))
	require.Error(t, err)
	require.Equal(t, 10.0, repo.items[1].QtyOnHand)
	require.True(t, repo.items[1].AvgCost.Equal(amt("6")))
	require.Empty(t, repo.movements)
}

func TestAdjustFractionalAverage(t *testing.T) {
	repo := newMemRepo(widget())
	svc := NewService(repo, &fakeLedger{}, nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, adjust(3, "10"))
	require.NoError(t, err)
	m, err := svc.Adjust(ctx, adjust(1, "11"))
	require.NoError(t, err)
	// (3*10 + 1*11) / 4 = 10.25
	require.True(t, m.AvgCostAfter.Equal(amt("10.25")))
}
