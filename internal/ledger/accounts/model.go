package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category classifies an account type into one of the five statements groups.
type Category string

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryEquity    Category = "EQUITY"
	CategoryRevenue   Category = "REVENUE"
	CategoryExpense   Category = "EXPENSE"
)

// Nature is the side on which an account's balance is positive.
type Nature string

const (
	NatureDebit  Nature = "DEBIT"
	NatureCredit Nature = "CREDIT"
)

// NatureFor returns the conventional natural side for a category.
func NatureFor(category Category) Nature {
	switch category {
	case CategoryAsset, CategoryExpense:
		return NatureDebit
	default:
		return NatureCredit
	}
}

// AccountType is a classification node in the type tree.
type AccountType struct {
	ID       int64
	Code     string
	Name     string
	Category Category
	Nature   Nature
	ParentID *int64
	Level    int
}

// Account models a chart of accounts node. Only active leaves accept
// postings.
type Account struct {
	ID                  int64
	Code                string
	Name                string
	TypeID              int64
	Nature              Nature
	ParentID            *int64
	Level               int
	Path                string
	IsLeaf              bool
	IsActive            bool
	IsCashAccount       bool
	IsBankAccount       bool
	CreditLimit         *decimal.Decimal
	LowBalanceThreshold *decimal.Decimal
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CanPost reports whether the account may receive journal lines.
func (a Account) CanPost() bool {
	return a.IsActive && a.IsLeaf
}

// CreateInput carries the fields for a new account.
type CreateInput struct {
	Code          string
	Name          string
	TypeID        int64
	ParentID      *int64
	Nature        *Nature
	IsCashAccount bool
	IsBankAccount bool
}
