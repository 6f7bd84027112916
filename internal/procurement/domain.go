package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// InvoiceStatus enumerates the purchase invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusConfirmed InvoiceStatus = "CONFIRMED"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// PaymentStatus is derived from the posted payments against the invoice.
type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "UNPAID"
	PaymentStatusPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentStatusPaid          PaymentStatus = "PAID"
)

// Supplier is the purchase-side party master record.
type Supplier struct {
	ID             int64            `json:"id"`
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	Email          *string          `json:"email,omitempty"`
	Phone          *string          `json:"phone,omitempty"`
	PaymentTermsD  *int             `json:"payment_terms_days,omitempty"`
	PayableAccount *string          `json:"payable_account,omitempty"`
	CreditLimit    *decimal.Decimal `json:"credit_limit,omitempty"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// InvoiceLine is one product line on a purchase invoice. Total is the net
// line value after discount, the amount that lands in stock valuation.
type InvoiceLine struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

// Invoice is a purchase document. Confirmation receives stock at the line
// cost and raises the goods-against-payable journal.
type Invoice struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	SupplierID     int64           `json:"supplier_id"`
	WarehouseID    int64           `json:"warehouse_id"`
	Date           time.Time       `json:"date"`
	Status         InvoiceStatus   `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Lines          []InvoiceLine   `json:"lines,omitempty"`
}

// LineInput is one requested purchase line.
type LineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Discount  decimal.Decimal
}

// InvoiceInput creates or replaces a draft purchase invoice.
type InvoiceInput struct {
	SupplierID  int64
	WarehouseID int64
	Date        time.Time
	Tax         decimal.Decimal
	Notes       string
	ActorID     int64
	Lines       []LineInput
}

var (
	ErrInvoiceNotFound  = errors.New("procurement: invoice not found")
	ErrSupplierNotFound = errors.New("procurement: supplier not found")
	ErrInvalidStatus    = errors.New("procurement: operation not allowed in current status")
	ErrValidation       = errors.New("procurement: validation failed")
	ErrHasPayments      = errors.New("procurement: invoice has posted payments")
	ErrNumberConflict   = errors.New("procurement: invoice number already taken")
)

// Validate checks structural correctness of the input.
func (in InvoiceInput) Validate() error {
	if in.SupplierID == 0 || in.WarehouseID == 0 {
		return errors.New("procurement: supplier and warehouse required")
	}
	if in.Date.IsZero() {
		return errors.New("procurement: date required")
	}
	if len(in.Lines) == 0 {
		return errors.New("procurement: at least one line required")
	}
	if in.Tax.IsNegative() {
		return errors.New("procurement: tax must be >= 0")
	}
	for _, line := range in.Lines {
		if line.ProductID == 0 {
			return errors.New("procurement: line product required")
		}
		if !line.Quantity.IsPositive() {
			return errors.New("procurement: line quantity must be positive")
		}
		if line.UnitCost.IsNegative() || line.Discount.IsNegative() {
			return errors.New("procurement: line cost and discount must be >= 0")
		}
	}
	return nil
}

const costScale = 4

// computeTotals derives subtotal, discount and total from the lines plus
// the header tax amount.
func computeTotals(lines []LineInput, tax decimal.Decimal) (subtotal, discount, total decimal.Decimal, out []InvoiceLine) {
	for _, line := range lines {
		gross := line.Quantity.Mul(line.UnitCost)
		net := gross.Sub(line.Discount)
		subtotal = subtotal.Add(gross)
		discount = discount.Add(line.Discount)
		out = append(out, InvoiceLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitCost:  line.UnitCost,
			Discount:  line.Discount,
			Total:     net,
		})
	}
	total = subtotal.Sub(discount).Add(tax)
	return subtotal, discount, total, out
}

// effectiveUnitCost spreads the line discount into the per-unit cost used
// for stock valuation.
func (l InvoiceLine) effectiveUnitCost() decimal.Decimal {
	if l.Discount.IsZero() || l.Quantity.IsZero() {
		return l.UnitCost
	}
	return l.Total.DivRound(l.Quantity, costScale)
}

// InvoiceNumber formats purchase invoice numbers per calendar year.
func InvoiceNumber(year, seq int) string {
	return shared.DocNumber("PI", year, seq)
}
