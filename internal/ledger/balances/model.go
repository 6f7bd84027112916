package balances

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
)

// AccountSums carries the raw posted debit and credit totals of one account.
type AccountSums struct {
	AccountID int64
	Code      string
	Name      string
	Nature    accounts.Nature
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Signed returns the balance on the account's natural side. Debit-natured
// accounts are positive when debits exceed credits, and vice versa.
func (s AccountSums) Signed() decimal.Decimal {
	if s.Nature == accounts.NatureDebit {
		return s.Debit.Sub(s.Credit)
	}
	return s.Credit.Sub(s.Debit)
}

// TrialBalanceRow classifies one account's balance to the correct column.
type TrialBalanceRow struct {
	AccountID     int64           `json:"account_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	DebitBalance  decimal.Decimal `json:"debit_balance"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
}

// GroupKey buckets rows by the leading code segment for presentation.
func (r TrialBalanceRow) GroupKey() string {
	if idx := strings.Index(r.Code, "."); idx > 0 {
		return r.Code[:idx]
	}
	if len(r.Code) >= 2 {
		return r.Code[:2]
	}
	return r.Code
}

// TrialBalanceGroup aggregates rows sharing a code prefix.
type TrialBalanceGroup struct {
	Key    string            `json:"key"`
	Rows   []TrialBalanceRow `json:"rows"`
	Debit  decimal.Decimal   `json:"debit"`
	Credit decimal.Decimal   `json:"credit"`
}

// TrialBalance lists every active leaf account with a non-zero balance. The
// two total columns must agree.
type TrialBalance struct {
	AsOf        *time.Time          `json:"as_of,omitempty"`
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
}

// LedgerLine is one movement on an account statement.
type LedgerLine struct {
	Date        time.Time       `json:"date"`
	EntryNumber string          `json:"entry_number"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Running     decimal.Decimal `json:"running_balance"`
}

// AccountLedger is a statement over a window with opening and closing
// balances and a per-line running balance.
type AccountLedger struct {
	AccountID   int64           `json:"account_id"`
	Code        string          `json:"code"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Opening     decimal.Decimal `json:"opening_balance"`
	Lines       []LedgerLine    `json:"lines"`
	Closing     decimal.Decimal `json:"closing_balance"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
}
