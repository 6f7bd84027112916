package aging

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	invoices map[Side][]OpenInvoice
}

func (r *memoryRepo) OpenInvoices(ctx context.Context, side Side, asOf time.Time) ([]OpenInvoice, error) {
	return r.invoices[side], nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func open(id int64, number string, date time.Time, outstanding string) OpenInvoice {
	return OpenInvoice{
		InvoiceID:   id,
		Number:      number,
		PartyID:     1,
		Date:        date,
		Total:       dec(outstanding),
		Outstanding: dec(outstanding),
	}
}

func TestReportBucketsByDaysOpen(t *testing.T) {
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	repo := &memoryRepo{invoices: map[Side][]OpenInvoice{
		SideReceivable: {
			open(1, "SI-25-0001", asOf.AddDate(0, 0, -5), "100.00"),
			open(2, "SI-25-0002", asOf.AddDate(0, 0, -45), "250.00"),
			open(3, "SI-25-0003", asOf.AddDate(0, 0, -75), "80.00"),
			open(4, "SI-25-0004", asOf.AddDate(0, 0, -120), "40.00"),
		},
	}}
	svc := NewService(repo)

	report, err := svc.Report(context.Background(), SideReceivable, asOf)
	require.NoError(t, err)
	require.Len(t, report.Buckets, 4)

	require.Len(t, report.Buckets[0].Invoices, 1)
	require.True(t, report.Buckets[0].Total.Equal(dec("100.00")))
	require.Len(t, report.Buckets[1].Invoices, 1)
	require.True(t, report.Buckets[1].Total.Equal(dec("250.00")))
	require.Len(t, report.Buckets[2].Invoices, 1)
	require.Len(t, report.Buckets[3].Invoices, 1)
	require.True(t, report.Total.Equal(dec("470.00")))
	require.Equal(t, 45, report.Buckets[1].Invoices[0].DaysOpen)
}

func TestReportSkipsZeroOutstanding(t *testing.T) {
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	repo := &memoryRepo{invoices: map[Side][]OpenInvoice{
		SidePayable: {
			open(1, "PI-25-0001", asOf.AddDate(0, 0, -10), "500.00"),
			{InvoiceID: 2, Number: "PI-25-0002", Date: asOf.AddDate(0, 0, -10),
				Total: dec("300"), Outstanding: decimal.Zero},
		},
	}}
	svc := NewService(repo)

	report, err := svc.Report(context.Background(), SidePayable, asOf)
	require.NoError(t, err)
	require.Len(t, report.Buckets[0].Invoices, 1)
	require.True(t, report.Total.Equal(dec("500.00")))
}

func TestReportFutureInvoiceLandsInFirstBucket(t *testing.T) {
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	repo := &memoryRepo{invoices: map[Side][]OpenInvoice{
		SideReceivable: {
			open(1, "SI-25-0009", asOf.AddDate(0, 0, 3), "60.00"),
		},
	}}
	svc := NewService(repo)

	report, err := svc.Report(context.Background(), SideReceivable, asOf)
	require.NoError(t, err)
	require.Len(t, report.Buckets[0].Invoices, 1)
	require.Equal(t, 0, report.Buckets[0].Invoices[0].DaysOpen)
}

func TestReportRejectsUnknownSide(t *testing.T) {
	svc := NewService(&memoryRepo{})
	_, err := svc.Report(context.Background(), Side("BOTH"), time.Time{})
	require.ErrorIs(t, err, ErrInvalidSide)
}
