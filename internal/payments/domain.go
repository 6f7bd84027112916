package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// Kind tells which side of the ledger a payment settles.
type Kind string

const (
	KindSale     Kind = "SALE"
	KindPurchase Kind = "PURCHASE"
)

// Method enumerates how the money moved.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodCard         Method = "CARD"
	MethodCheque       Method = "CHEQUE"
	MethodOther        Method = "OTHER"
)

// Status is the payment document lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// FinancialStatus tracks whether the payment's journal made it into the
// ledger. A journal failure puts the payment back into draft as FAILED
// with the error captured; posting again is the retry.
type FinancialStatus string

const (
	FinancialPending FinancialStatus = "PENDING"
	FinancialSynced  FinancialStatus = "SYNCED"
	FinancialFailed  FinancialStatus = "FAILED"
)

// Payment settles part or all of a sale or purchase invoice from one
// financial account.
type Payment struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"number"`
	Kind               Kind            `json:"kind"`
	InvoiceID          int64           `json:"invoice_id"`
	PartyID            int64           `json:"party_id"`
	Date               time.Time       `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	Method             Method          `json:"method"`
	FinancialAccountID int64           `json:"financial_account_id"`
	Status             Status          `json:"status"`
	JournalEntryID     *int64          `json:"journal_entry_id,omitempty"`
	FinancialStatus    FinancialStatus `json:"financial_status"`
	FinancialError     *string         `json:"financial_error,omitempty"`
	Revision           int             `json:"revision"`
	Notes              string          `json:"notes,omitempty"`
	CreatedBy          int64           `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Input creates or replaces a draft payment.
type Input struct {
	Kind               Kind
	InvoiceID          int64
	Date               time.Time
	Amount             decimal.Decimal
	Method             Method
	FinancialAccountID int64
	Notes              string
	ActorID            int64
}

var (
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrNumberConflict indicates a concurrent creator took the number.
	// Create retries it away; callers never observe it.
	ErrNumberConflict = errors.New("payments: payment number already taken")
	ErrInvalidStatus   = errors.New("payments: operation not allowed in current status")
	ErrValidation      = errors.New("payments: validation failed")
	ErrOverpayment     = errors.New("payments: amount exceeds remaining invoice balance")
	ErrInvoiceClosed   = errors.New("payments: invoice does not accept payments")
	ErrEditForbidden   = errors.New("payments: editing posted payments not permitted")
)

// Validate checks structural correctness of the input.
func (in Input) Validate() error {
	if in.Kind != KindSale && in.Kind != KindPurchase {
		return errors.New("payments: kind must be SALE or PURCHASE")
	}
	if in.InvoiceID == 0 {
		return errors.New("payments: invoice required")
	}
	if in.Date.IsZero() {
		return errors.New("payments: date required")
	}
	if !in.Amount.IsPositive() {
		return errors.New("payments: amount must be positive")
	}
	if in.Method == "" {
		return errors.New("payments: method required")
	}
	if in.FinancialAccountID == 0 {
		return errors.New("payments: financial account required")
	}
	return nil
}

// PaymentNumber formats payment numbers per calendar year.
func PaymentNumber(year, seq int) string {
	return shared.DocNumber("PAY", year, seq)
}

// PayableInvoice is what a payment needs to know about the document it
// settles.
type PayableInvoice struct {
	ID      int64
	Number  string
	PartyID int64
	Total   decimal.Decimal
	Open    bool
}
