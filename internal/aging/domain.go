package aging

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side selects which open invoices the report covers.
type Side string

const (
	SideReceivable Side = "RECEIVABLE"
	SidePayable    Side = "PAYABLE"
)

// Bucket boundaries in days outstanding. Anything past the last boundary
// lands in the overdue tail.
var bucketBounds = []int{30, 60, 90}

var bucketLabels = []string{"0-30", "31-60", "61-90", "90+"}

// OpenInvoice is one unpaid (or partially paid) confirmed invoice with its
// outstanding amount as of the report date.
type OpenInvoice struct {
	InvoiceID   int64           `json:"invoice_id"`
	Number      string          `json:"number"`
	PartyID     int64           `json:"party_id"`
	Date        time.Time       `json:"invoice_date"`
	Total       decimal.Decimal `json:"total"`
	Outstanding decimal.Decimal `json:"outstanding"`
	DaysOpen    int             `json:"days_open"`
}

// Bucket groups open invoices by days outstanding.
type Bucket struct {
	Label    string          `json:"label"`
	Invoices []OpenInvoice   `json:"invoices"`
	Total    decimal.Decimal `json:"total"`
}

// Report is the aging view for one side as of a date.
type Report struct {
	Side    Side            `json:"side"`
	AsOf    time.Time       `json:"as_of"`
	Buckets []Bucket        `json:"buckets"`
	Total   decimal.Decimal `json:"total"`
}

var ErrInvalidSide = errors.New("aging: unknown side")

// bucketIndex places a days-open count into its bucket.
func bucketIndex(days int) int {
	for i, bound := range bucketBounds {
		if days <= bound {
			return i
		}
	}
	return len(bucketBounds)
}
