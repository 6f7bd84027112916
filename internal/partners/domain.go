package partners

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money put in from money taken out.
type TransactionType string

const (
	TypeContribution TransactionType = "CONTRIBUTION"
	TypeWithdrawal   TransactionType = "WITHDRAWAL"
	TypeLoan         TransactionType = "LOAN"
)

// Partner is an owner whose equity stake the ledger tracks.
type Partner struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Email     *string         `json:"email,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is one contribution or withdrawal. The journal reference
// points at the cash-against-equity entry raised for it.
type Transaction struct {
	ID             int64           `json:"id"`
	PartnerID      int64           `json:"partner_id"`
	Type           TransactionType `json:"type"`
	Date           time.Time       `json:"date"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TransactionInput records one equity movement.
type TransactionInput struct {
	PartnerID   int64
	Type        TransactionType
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	ActorID     int64
}

var (
	ErrPartnerNotFound     = errors.New("partners: partner not found")
	ErrTransactionNotFound = errors.New("partners: transaction not found")
	ErrDuplicateCode       = errors.New("partners: code already taken")
	ErrInactivePartner     = errors.New("partners: partner is inactive")
	ErrInsufficientEquity  = errors.New("partners: withdrawal exceeds partner balance")
	ErrValidation          = errors.New("partners: validation failed")
)

// Validate checks structural correctness of the input.
func (in TransactionInput) Validate() error {
	if in.PartnerID == 0 {
		return errors.New("partners: partner required")
	}
	switch in.Type {
	case TypeContribution, TypeWithdrawal, TypeLoan:
	default:
		return errors.New("partners: type must be CONTRIBUTION, WITHDRAWAL or LOAN")
	}
	if in.Date.IsZero() {
		return errors.New("partners: date required")
	}
	if !in.Amount.IsPositive() {
		return errors.New("partners: amount must be positive")
	}
	return nil
}

// Signed returns the balance impact of the transaction.
func (in TransactionInput) Signed() decimal.Decimal {
	return signedImpact(in.Type, in.Amount)
}

// signedImpact is the balance delta a transaction of the given type
// applies: withdrawals decrease the partner balance, contributions and
// loans increase it.
func signedImpact(typ TransactionType, amount decimal.Decimal) decimal.Decimal {
	if typ == TypeWithdrawal {
		return amount.Neg()
	}
	return amount
}
