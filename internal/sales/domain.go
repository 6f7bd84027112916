package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// InvoiceStatus enumerates the sale invoice lifecycle.
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

// Customer is the sales-side party master record.
type Customer struct {
	ID                int64            `json:"id"`
	Code              string           `json:"code"`
	Name              string           `json:"name"`
	Email             *string          `json:"email,omitempty"`
	Phone             *string          `json:"phone,omitempty"`
	CreditLimit       *decimal.Decimal `json:"credit_limit,omitempty"`
	ReceivableAccount *string          `json:"receivable_account,omitempty"`
	IsActive          bool             `json:"is_active"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// InvoiceLine is one product line on a sale invoice. UnitCost is captured at
// confirmation from the issuing stock movement.
type InvoiceLine struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// Invoice is a sale document. Confirmation issues stock and posts revenue
// and COGS journals; the journal references point at the head of the
// original-then-adjustments chain.
type Invoice struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	CustomerID     int64           `json:"customer_id"`
	WarehouseID    int64           `json:"warehouse_id"`
	Date           time.Time       `json:"date"`
	Status         InvoiceStatus   `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	CostTotal      decimal.Decimal `json:"cost_total"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	COGSEntryID    *int64          `json:"cogs_entry_id,omitempty"`
	Revision       int             `json:"revision"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Lines          []InvoiceLine   `json:"lines,omitempty"`
}

// LineInput is one requested invoice line.
type LineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

// InvoiceInput creates or replaces a draft invoice.
type InvoiceInput struct {
	CustomerID  int64
	WarehouseID int64
	Date        time.Time
	Tax         decimal.Decimal
	Notes       string
	ActorID     int64
	Lines       []LineInput
}

var (
	ErrInvoiceNotFound  = errors.New("sales: invoice not found")
	ErrCustomerNotFound = errors.New("sales: customer not found")
	ErrInvalidStatus    = errors.New("sales: operation not allowed in current status")
	ErrValidation       = errors.New("sales: validation failed")
	ErrHasPayments      = errors.New("sales: invoice has posted payments")
	ErrNumberConflict   = errors.New("sales: invoice number already taken")
)

// Validate checks structural correctness of the input.
func (in InvoiceInput) Validate() error {
	if in.CustomerID == 0 || in.WarehouseID == 0 {
		return errors.New("sales: customer and warehouse required")
	}
	if in.Date.IsZero() {
		return errors.New("sales: date required")
	}
	if len(in.Lines) == 0 {
		return errors.New("sales: at least one line required")
	}
	if in.Tax.IsNegative() {
		return errors.New("sales: tax must be >= 0")
	}
	for _, line := range in.Lines {
		if line.ProductID == 0 {
			return errors.New("sales: line product required")
		}
		if !line.Quantity.IsPositive() {
			return errors.New("sales: line quantity must be positive")
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() {
			return errors.New("sales: line price and discount must be >= 0")
		}
	}
	return nil
}

// computeTotals derives subtotal, discount and total from the lines plus the
// header tax amount.
func computeTotals(lines []LineInput, tax decimal.Decimal) (subtotal, discount, total decimal.Decimal, out []InvoiceLine) {
	for _, line := range lines {
		gross := line.Quantity.Mul(line.UnitPrice)
		net := gross.Sub(line.Discount)
		subtotal = subtotal.Add(gross)
		discount = discount.Add(line.Discount)
		out = append(out, InvoiceLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Discount:  line.Discount,
			Total:     net,
		})
	}
	total = subtotal.Sub(discount).Add(tax)
	return subtotal, discount, total, out
}

// InvoiceNumber formats sale invoice numbers per calendar year.
func InvoiceNumber(year, seq int) string {
	return shared.DocNumber("SI", year, seq)
}
