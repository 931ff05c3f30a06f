package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LedgerPort posts valuation movements to the general ledger.
type LedgerPort interface {
	PostNew(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error)
}

// AuditPort records inventory events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains quantity on hand and weighted-average cost per item. Every
// applied adjustment produces a balanced journal entry valuing the movement.
type Service struct {
	repo   Repository
	ledger LedgerPort
	audit  AuditPort
	now    func() time.Time
}

// NewService constructs the inventory valuation engine.
func NewService(repo Repository, ledgerPort LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerPort, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetItem loads one item.
func (s *Service) GetItem(ctx context.Context, companyID, itemID int64) (Item, error) {
	return s.repo.GetItem(ctx, companyID, itemID)
}

// ListItems retrieves all items for a company.
func (s *Service) ListItems(ctx context.Context, companyID int64) ([]Item, error) {
	return s.repo.ListItems(ctx, companyID)
}

// ListMovements returns the movement history of an item.
func (s *Service) ListMovements(ctx context.Context, companyID, itemID int64) ([]Movement, error) {
	return s.repo.ListMovements(ctx, companyID, itemID)
}

// Adjust applies a quantity movement with the item row locked. Increases
// reprice the average cost from the incoming unit value; decreases consume
// stock at the current average and never move it. The journal entry and the
// stock update ride one transaction; a failed posting leaves the item
// untouched.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, in.CompanyID, in.ItemID)
		if err != nil {
			return err
		}
		if !item.IsActive {
			return shared.Violation(ErrItemInactive, "inventory_item", item.ID)
		}
		newQty := item.QtyOnHand + in.QtyDelta
		if newQty < 0 {
			return shared.Violationf(ErrNegativeQty, "inventory_item", item.ID,
				"on hand %v, delta %v", item.QtyOnHand, in.QtyDelta)
		}

		var value decimal.Decimal
		unitValue := in.UnitValue
		if in.QtyDelta > 0 {
			value = in.UnitValue.Mul(decimal.NewFromFloat(in.QtyDelta))
			oldValue := item.AvgCost.Mul(decimal.NewFromFloat(item.QtyOnHand))
			item.AvgCost = oldValue.Add(value).Div(decimal.NewFromFloat(newQty))
		} else {
			unitValue = item.AvgCost
			value = item.AvgCost.Mul(decimal.NewFromFloat(-in.QtyDelta))
		}
		item.QtyOnHand = newQty

		entry, err := s.ledger.PostNew(ctx, journalForMovement(item, in, value))
		if err != nil {
			return err
		}
		if err := tx.UpdateItemStock(ctx, item); err != nil {
			return err
		}
		inserted, err := tx.InsertMovement(ctx, Movement{
			CompanyID:      in.CompanyID,
			ItemID:         item.ID,
			QtyDelta:       in.QtyDelta,
			UnitValue:      unitValue,
			Value:          value,
			AvgCostAfter:   item.AvgCost,
			QtyAfter:       item.QtyOnHand,
			JournalEntryID: entry.ID,
			Date:           in.Date,
			Reference:      in.Reference,
		})
		if err != nil {
			return err
		}
		movement = inserted
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, in.CompanyID, "inventory.adjust", in.ItemID, map[string]any{
		"qty_delta": in.QtyDelta,
		"value":     movement.Value.String(),
		"journal":   movement.JournalEntryID,
	})
	return movement, nil
}

// journalForMovement values a stock movement: increases debit the inventory
// account against the adjustment account, decreases run the other way.
func journalForMovement(item Item, in AdjustInput, value decimal.Decimal) ledger.PostingInput {
	amount := value.Round(2)
	lines := []ledger.LineInput{
		{AccountID: item.InventoryAccountID, Debit: amount},
		{AccountID: item.AdjustmentAccountID, Credit: amount},
	}
	if in.QtyDelta < 0 {
		lines[0], lines[1] = ledger.LineInput{AccountID: item.AdjustmentAccountID, Debit: amount},
			ledger.LineInput{AccountID: item.InventoryAccountID, Credit: amount}
	}
	return ledger.PostingInput{
		CompanyID:    in.CompanyID,
		Date:         in.Date,
		Reference:    in.Reference,
		SourceModule: "inventory",
		SourceID:     uuid.New(),
		Memo:         fmt.Sprintf("Stock adjustment %s (%+v)", item.SKU, in.QtyDelta),
		Lines:        lines,
	}
}

func (s *Service) recordAudit(ctx context.Context, companyID int64, action string, itemID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		Action:    action,
		Entity:    "inventory_item",
		EntityID:  fmt.Sprintf("%d", itemID),
		Meta:      meta,
		At:        s.now(),
	})
}
