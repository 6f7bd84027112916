package aging

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Service builds aging reports over open invoices.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

// Report buckets the side's open invoices by days outstanding as of the
// given date. A zero asOf means today. Fully paid invoices never appear;
// an invoice whose outstanding dropped to zero between payment posting and
// status recomputation is filtered here as well.
func (s *Service) Report(ctx context.Context, side Side, asOf time.Time) (Report, error) {
	if side != SideReceivable && side != SidePayable {
		return Report{}, ErrInvalidSide
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	invoices, err := s.repo.OpenInvoices(ctx, side, asOf)
	if err != nil {
		return Report{}, err
	}

	report := Report{Side: side, AsOf: asOf, Total: decimal.Zero}
	report.Buckets = make([]Bucket, len(bucketLabels))
	for i, label := range bucketLabels {
		report.Buckets[i] = Bucket{Label: label, Total: decimal.Zero}
	}

	for _, inv := range invoices {
		if !inv.Outstanding.IsPositive() {
			continue
		}
		inv.DaysOpen = int(asOf.Sub(inv.Date).Hours() / 24)
		if inv.DaysOpen < 0 {
			inv.DaysOpen = 0
		}
		idx := bucketIndex(inv.DaysOpen)
		report.Buckets[idx].Invoices = append(report.Buckets[idx].Invoices, inv)
		report.Buckets[idx].Total = report.Buckets[idx].Total.Add(inv.Outstanding)
		report.Total = report.Total.Add(inv.Outstanding)
	}
	return report, nil
}
