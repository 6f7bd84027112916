// Package posting maps operational documents to journal entries. Recipes are
// pure functions producing role-tagged debit/credit tuples; the dispatcher
// resolves roles to accounts and flows everything through the journal
// engine. No module writes journal lines directly.
package posting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/ledger/acctcfg"
)

// RecipeLine is one debit/credit pair addressed by role. A zero AccountID
// defers to role resolution; a concrete AccountID (for example a payment's
// financial account) bypasses it.
type RecipeLine struct {
	DebitRole       acctcfg.Role
	DebitAccountID  int64
	CreditRole      acctcfg.Role
	CreditAccountID int64
	Amount          decimal.Decimal
	Memo            string
}

// Recipe is the full posting instruction for one document event.
type Recipe struct {
	RefType     string
	RefID       uuid.UUID
	Date        time.Time
	Description string
	EntityType  string
	EntityID    int64
	ActorID     int64
	Lines       []RecipeLine
}

// DocumentRef derives the deterministic reference id for a document kind and
// numeric id, the natural key behind idempotent posting.
func DocumentRef(kind string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", kind, id)))
}

// SaleDocument carries the sale invoice amounts a recipe needs.
type SaleDocument struct {
	ID         int64
	Number     string
	CustomerID int64
	Date       time.Time
	Total      decimal.Decimal
	Tax        decimal.Decimal
	CostTotal  decimal.Decimal
	ActorID    int64
}

// SaleRevenueRecipe books the customer receivable against revenue. A tax
// liability line is emitted whenever the document carries tax.
func SaleRevenueRecipe(doc SaleDocument) Recipe {
	recipe := Recipe{
		RefType:     "SALE",
		RefID:       DocumentRef("SALE", doc.ID),
		Date:        doc.Date,
		Description: fmt.Sprintf("Sale invoice %s", doc.Number),
		EntityType:  "CUSTOMER",
		EntityID:    doc.CustomerID,
		ActorID:     doc.ActorID,
	}
	revenue := doc.Total.Sub(doc.Tax)
	recipe.Lines = append(recipe.Lines, RecipeLine{
		DebitRole:  acctcfg.RoleCustomerAR,
		CreditRole: acctcfg.RoleSalesRevenue,
		Amount:     revenue,
		Memo:       fmt.Sprintf("Revenue %s", doc.Number),
	})
	if doc.Tax.IsPositive() {
		recipe.Lines = append(recipe.Lines, RecipeLine{
			DebitRole:  acctcfg.RoleCustomerAR,
			CreditRole: acctcfg.RoleTaxPayable,
			Amount:     doc.Tax,
			Memo:       fmt.Sprintf("Tax %s", doc.Number),
		})
	}
	return recipe
}

// SaleCOGSRecipe books cost of goods sold against inventory at the issue
// cost captured by the stock movement.
func SaleCOGSRecipe(doc SaleDocument) Recipe {
	return Recipe{
		RefType:     "SALE_COGS",
		RefID:       DocumentRef("SALE_COGS", doc.ID),
		Date:        doc.Date,
		Description: fmt.Sprintf("COGS for sale %s", doc.Number),
		ActorID:     doc.ActorID,
		Lines: []RecipeLine{{
			DebitRole:  acctcfg.RoleCOGS,
			CreditRole: acctcfg.RoleInventory,
			Amount:     doc.CostTotal,
			Memo:       fmt.Sprintf("COGS %s", doc.Number),
		}},
	}
}

// PurchaseDocument carries the purchase invoice amounts a recipe needs.
type PurchaseDocument struct {
	ID         int64
	Number     string
	SupplierID int64
	Date       time.Time
	Total      decimal.Decimal
	ActorID    int64
	// ToExpense books against the purchases expense role instead of
	// inventory, for the purchases-account policy.
	ToExpense bool
}

// PurchaseRecipe books received goods against the supplier payable.
func PurchaseRecipe(doc PurchaseDocument) Recipe {
	debitRole := acctcfg.RoleInventory
	if doc.ToExpense {
		debitRole = acctcfg.RolePurchases
	}
	return Recipe{
		RefType:     "PURCHASE",
		RefID:       DocumentRef("PURCHASE", doc.ID),
		Date:        doc.Date,
		Description: fmt.Sprintf("Purchase invoice %s", doc.Number),
		EntityType:  "SUPPLIER",
		EntityID:    doc.SupplierID,
		ActorID:     doc.ActorID,
		Lines: []RecipeLine{{
			DebitRole:  debitRole,
			CreditRole: acctcfg.RoleSupplierAP,
			Amount:     doc.Total,
			Memo:       fmt.Sprintf("Goods received %s", doc.Number),
		}},
	}
}

// PaymentDocument carries the amounts of one payment posting. Revision is
// bumped on every unpost so a re-post gets a fresh reference.
type PaymentDocument struct {
	ID                 int64
	Number             string
	PartyID            int64
	Date               time.Time
	Amount             decimal.Decimal
	FinancialAccountID int64
	Revision           int
	ActorID            int64
}

func paymentRef(kind string, doc PaymentDocument) uuid.UUID {
	if doc.Revision > 0 {
		kind = fmt.Sprintf("%s_R%d", kind, doc.Revision)
	}
	return DocumentRef(kind, doc.ID)
}

// SalePaymentRecipe books cash received against the customer receivable.
func SalePaymentRecipe(doc PaymentDocument) Recipe {
	return Recipe{
		RefType:     "SALE_PAYMENT",
		RefID:       paymentRef("SALE_PAYMENT", doc),
		Date:        doc.Date,
		Description: fmt.Sprintf("Payment received %s", doc.Number),
		EntityType:  "CUSTOMER",
		EntityID:    doc.PartyID,
		ActorID:     doc.ActorID,
		Lines: []RecipeLine{{
			DebitAccountID: doc.FinancialAccountID,
			CreditRole:     acctcfg.RoleCustomerAR,
			Amount:         doc.Amount,
			Memo:           fmt.Sprintf("Receipt %s", doc.Number),
		}},
	}
}

// PurchasePaymentRecipe books cash paid against the supplier payable.
func PurchasePaymentRecipe(doc PaymentDocument) Recipe {
	return Recipe{
		RefType:     "PURCHASE_PAYMENT",
		RefID:       paymentRef("PURCHASE_PAYMENT", doc),
		Date:        doc.Date,
		Description: fmt.Sprintf("Payment issued %s", doc.Number),
		EntityType:  "SUPPLIER",
		EntityID:    doc.PartyID,
		ActorID:     doc.ActorID,
		Lines: []RecipeLine{{
			DebitRole:       acctcfg.RoleSupplierAP,
			CreditAccountID: doc.FinancialAccountID,
			Amount:          doc.Amount,
			Memo:            fmt.Sprintf("Disbursement %s", doc.Number),
		}},
	}
}

// PartnerDocument carries one partner equity transaction.
type PartnerDocument struct {
	ID          int64
	PartnerID   int64
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Withdrawal  bool
	Loan        bool
	ActorID     int64
}

// PartnerRecipe books a contribution as cash against partner equity, a loan
// as cash against the partner loan liability, or the mirror for a withdrawal.
func PartnerRecipe(doc PartnerDocument) Recipe {
	line := RecipeLine{
		DebitRole:  acctcfg.RoleCashDefault,
		CreditRole: acctcfg.RolePartnerEquity,
		Amount:     doc.Amount,
		Memo:       doc.Description,
	}
	refType := "PARTNER_CONTRIBUTION"
	switch {
	case doc.Loan:
		line.CreditRole = acctcfg.RolePartnerLoan
		refType = "PARTNER_LOAN"
	case doc.Withdrawal:
		line.DebitRole, line.CreditRole = line.CreditRole, line.DebitRole
		refType = "PARTNER_WITHDRAWAL"
	}
	return Recipe{
		RefType:     refType,
		RefID:       DocumentRef(refType, doc.ID),
		Date:        doc.Date,
		Description: doc.Description,
		EntityType:  "PARTNER",
		EntityID:    doc.PartnerID,
		ActorID:     doc.ActorID,
		Lines:       []RecipeLine{line},
	}
}

// AdjustmentDocument carries an inventory adjustment's cost impact.
type AdjustmentDocument struct {
	MovementID int64
	Number     string
	Date       time.Time
	Delta      decimal.Decimal
	Value      decimal.Decimal
	ActorID    int64
}

// AdjustmentRecipe books gains as inventory against the adjustment account,
// losses as the mirror.
func AdjustmentRecipe(doc AdjustmentDocument) Recipe {
	line := RecipeLine{
		DebitRole:  acctcfg.RoleInventory,
		CreditRole: acctcfg.RoleInventoryAdjust,
		Amount:     doc.Value,
		Memo:       fmt.Sprintf("Stock adjustment %s", doc.Number),
	}
	if doc.Delta.IsNegative() {
		line.DebitRole, line.CreditRole = line.CreditRole, line.DebitRole
	}
	return Recipe{
		RefType:     "INVENTORY_ADJUSTMENT",
		RefID:       DocumentRef("INVENTORY_ADJUSTMENT", doc.MovementID),
		Date:        doc.Date,
		Description: fmt.Sprintf("Inventory adjustment %s", doc.Number),
		ActorID:     doc.ActorID,
		Lines:       []RecipeLine{line},
	}
}

// SaleEditDocument carries the deltas of an edit to a confirmed sale.
type SaleEditDocument struct {
	InvoiceID    int64
	Revision     int
	Number       string
	CustomerID   int64
	Date         time.Time
	RevenueDelta decimal.Decimal
	CostDelta    decimal.Decimal
	ActorID      int64
}

// SaleEditRecipe books the delta of an edited confirmed sale as an
// adjustment instead of mutating the original entry. Each revision gets its
// own reference so the chain stays idempotent per edit.
func SaleEditRecipe(doc SaleEditDocument) Recipe {
	recipe := Recipe{
		RefType:     "SALE_EDIT",
		RefID:       DocumentRef(fmt.Sprintf("SALE_EDIT_R%d", doc.Revision), doc.InvoiceID),
		Date:        doc.Date,
		Description: fmt.Sprintf("Adjustment r%d for sale %s", doc.Revision, doc.Number),
		EntityType:  "CUSTOMER",
		EntityID:    doc.CustomerID,
		ActorID:     doc.ActorID,
	}
	if !doc.RevenueDelta.IsZero() {
		line := RecipeLine{
			DebitRole:  acctcfg.RoleCustomerAR,
			CreditRole: acctcfg.RoleSalesRevenue,
			Amount:     doc.RevenueDelta.Abs(),
			Memo:       fmt.Sprintf("Revenue delta %s", doc.Number),
		}
		if doc.RevenueDelta.IsNegative() {
			line.DebitRole, line.CreditRole = line.CreditRole, line.DebitRole
		}
		recipe.Lines = append(recipe.Lines, line)
	}
	if !doc.CostDelta.IsZero() {
		line := RecipeLine{
			DebitRole:  acctcfg.RoleCOGS,
			CreditRole: acctcfg.RoleInventory,
			Amount:     doc.CostDelta.Abs(),
			Memo:       fmt.Sprintf("COGS delta %s", doc.Number),
		}
		if doc.CostDelta.IsNegative() {
			line.DebitRole, line.CreditRole = line.CreditRole, line.DebitRole
		}
		recipe.Lines = append(recipe.Lines, line)
	}
	return recipe
}
