package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType classifies the origin of a journal entry.
type EntryType string

const (
	EntryTypeManual     EntryType = "MANUAL"
	EntryTypeAutomatic  EntryType = "AUTOMATIC"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
	EntryTypeClosing    EntryType = "CLOSING"
	EntryTypeOpening    EntryType = "OPENING"
)

// EntryStatus enumerates the journal entry lifecycle.
type EntryStatus string

const (
	EntryStatusDraft     EntryStatus = "DRAFT"
	EntryStatusPosted    EntryStatus = "POSTED"
	EntryStatusCancelled EntryStatus = "CANCELLED"
)

// PeriodStatus enumerates valid period states as seen by the ledger.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// Epsilon is the smallest representable currency unit. Debit and credit
// totals closer than this are considered equal.
var Epsilon = decimal.New(1, -2)

// Period is the ledger's view of an accounting period row.
type Period struct {
	ID        int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
}

// AccountRef carries the postability facts the ledger checks per line.
type AccountRef struct {
	ID       int64
	Code     string
	IsLeaf   bool
	IsActive bool
}

// JournalEntry captures posting metadata and lines.
type JournalEntry struct {
	ID          int64
	Number      string
	PeriodID    int64
	Date        time.Time
	Type        EntryType
	Status      EntryStatus
	Description string
	Reference   string
	RefType     string
	RefID       uuid.UUID
	PostedAt    *time.Time
	PostedBy    *int64
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []JournalLine
}

// JournalLine stores a debit or credit amount against a leaf account.
type JournalLine struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	CostCenter  *string
	Project     *string
}

// LineInput describes a journal line in a posting request.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	CostCenter  *string
	Project     *string
}

// EntryInput groups fields required to create a journal entry.
type EntryInput struct {
	Date        time.Time
	Type        EntryType
	Description string
	Reference   string
	RefType     string
	RefID       uuid.UUID
	AutoPost    bool
	ActorID     int64
	Lines       []LineInput
}

// ReverseInput wraps parameters for reversal. Date defaults to the clock
// time so trial balances as of closed periods remain stable.
type ReverseInput struct {
	EntryID     int64
	ActorID     int64
	Date        *time.Time
	Description string
}

var (
	// ErrValidation indicates malformed posting input.
	ErrValidation = errors.New("ledger: invalid posting input")
	// ErrUnbalanced indicates debit and credit totals disagree.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrPeriodClosed indicates the entry date falls in a closed period.
	ErrPeriodClosed = errors.New("ledger: period is closed")
	// ErrNoOpenPeriod indicates no period covers the entry date.
	ErrNoOpenPeriod = errors.New("ledger: no period covers date")
	// ErrInactiveAccount indicates a line references an inactive account.
	ErrInactiveAccount = errors.New("ledger: account is inactive")
	// ErrNonLeafAccount indicates a line references a non-leaf account.
	ErrNonLeafAccount = errors.New("ledger: account is not a leaf")
	// ErrAccountNotFound indicates a line references a missing account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrDuplicatePosting indicates a second journal for the same document.
	ErrDuplicatePosting = errors.New("ledger: document already posted")
	// ErrEntryNotFound indicates the entry does not exist.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrInvalidStatus indicates the lifecycle transition is not allowed.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrEntryImmutable indicates an attempted edit of a posted entry.
	ErrEntryImmutable = errors.New("ledger: posted entry is immutable")
	// ErrNumberConflict indicates a concurrent creator took the number.
	// Retried internally; callers never observe it.
	ErrNumberConflict = errors.New("ledger: entry number conflict")
)

// Validate ensures posting input meets the journal invariants.
func (in EntryInput) Validate() error {
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date required", ErrValidation)
	}
	switch in.Type {
	case EntryTypeManual, EntryTypeAutomatic, EntryTypeAdjustment, EntryTypeClosing, EntryTypeOpening:
	default:
		return fmt.Errorf("%w: unknown entry type %q", ErrValidation, in.Type)
	}
	if len(in.Lines) < 2 {
		return fmt.Errorf("%w: journal requires at least two lines", ErrValidation)
	}
	if (in.RefType == "") != (in.RefID == uuid.Nil) {
		return fmt.Errorf("%w: reference type and id must be set together", ErrValidation)
	}
	var debit, credit decimal.Decimal
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", ErrValidation, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", ErrValidation, idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d must set exactly one of debit and credit", ErrValidation, idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThanOrEqual(Epsilon) {
		return ErrUnbalanced
	}
	return nil
}

// EntryNumber formats the deterministic per-year entry number.
func EntryNumber(year int, seq int) string {
	return fmt.Sprintf("JE-%02d-%04d", year%100, seq)
}
