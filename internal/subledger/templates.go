package subledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
)

// TemplateConfig maps transaction types to the control and offset accounts
// used when generating journal entries. One config per company.
type TemplateConfig struct {
	CompanyID             int64
	ARControlAccountID    int64
	APControlAccountID    int64
	CashAccountID         int64
	SalesRevenueAccountID int64
	SalesTaxAccountID     int64
	PurchasesAccountID    int64
	PurchaseTaxAccountID  int64
}

func (c TemplateConfig) controlFor(kind masterdata.PartyKind) int64 {
	if kind == masterdata.PartyCustomer {
		return c.ARControlAccountID
	}
	return c.APControlAccountID
}

func (c TemplateConfig) offsetFor(kind masterdata.PartyKind) int64 {
	if kind == masterdata.PartyCustomer {
		return c.SalesRevenueAccountID
	}
	return c.PurchasesAccountID
}

func (c TemplateConfig) taxFor(kind masterdata.PartyKind) int64 {
	if kind == masterdata.PartyCustomer {
		return c.SalesTaxAccountID
	}
	return c.PurchaseTaxAccountID
}

// journalFor expands a transaction into a balanced posting request against the
// company's template accounts. Customer invoices debit the AR control and
// credit revenue plus tax; payments and credit notes mirror that; the supplier
// side is the customer side with debits and credits swapped.
func journalFor(txn Transaction, cfg TemplateConfig) (ledger.PostingInput, error) {
	control := cfg.controlFor(txn.PartyKind)
	if control == 0 || cfg.CashAccountID == 0 {
		return ledger.PostingInput{}, ErrTemplateIncomplete
	}

	total := txn.Total()
	var lines []ledger.LineInput

	switch txn.Type {
	case TxTypeInvoice, TxTypeCreditNote:
		var tax decimal.Decimal
		offsets := map[int64]decimal.Decimal{}
		order := []int64{}
		for _, line := range txn.Lines {
			accountID := line.AccountID
			if accountID == 0 {
				accountID = cfg.offsetFor(txn.PartyKind)
			}
			if accountID == 0 {
				return ledger.PostingInput{}, ErrTemplateIncomplete
			}
			if _, seen := offsets[accountID]; !seen {
				order = append(order, accountID)
			}
			offsets[accountID] = offsets[accountID].Add(line.Amount)
			tax = tax.Add(line.Tax)
		}
		if tax.IsPositive() && cfg.taxFor(txn.PartyKind) == 0 {
			return ledger.PostingInput{}, ErrTemplateIncomplete
		}
		lines = append(lines, ledger.LineInput{AccountID: control, Debit: total})
		for _, accountID := range order {
			if amt := offsets[accountID]; amt.IsPositive() {
				lines = append(lines, ledger.LineInput{AccountID: accountID, Credit: amt})
			}
		}
		if tax.IsPositive() {
			lines = append(lines, ledger.LineInput{AccountID: cfg.taxFor(txn.PartyKind), Credit: tax})
		}
	case TxTypePayment:
		lines = append(lines,
			ledger.LineInput{AccountID: cfg.CashAccountID, Debit: total},
			ledger.LineInput{AccountID: control, Credit: total},
		)
	default:
		return ledger.PostingInput{}, ErrUnknownType
	}

	// A customer invoice debits the control; every other combination flips.
	// CreditNote reuses the invoice shape then flips, payments flip on the
	// supplier side only.
	flip := false
	if txn.Type == TxTypeCreditNote {
		flip = !flip
	}
	if txn.PartyKind == masterdata.PartySupplier {
		flip = !flip
	}
	if flip {
		for i := range lines {
			lines[i].Debit, lines[i].Credit = lines[i].Credit, lines[i].Debit
		}
	}

	return ledger.PostingInput{
		CompanyID:    txn.CompanyID,
		Date:         txn.Date,
		Reference:    txn.Reference,
		SourceModule: "subledger",
		SourceID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte("subledger/"+itoa64(txn.ID))),
		Memo:         string(txn.Type) + " " + txn.Reference,
		ViaSubledger: true,
		Lines:        lines,
	}, nil
}

func itoa64(v int64) string {
	if v < 0 {
		return "-" + itoa64(-v)
	}
	return itoa(int(v))
}
