package payments

import (
	"context"

	"github.com/vantage-erp/vantage-erp/internal/procurement"
	"github.com/vantage-erp/vantage-erp/internal/sales"
)

// SalesSource adapts the sales service to the InvoiceSource port.
type SalesSource struct {
	Service *sales.Service
}

func (a SalesSource) PayableInvoice(ctx context.Context, id int64) (PayableInvoice, error) {
	inv, err := a.Service.Get(ctx, id)
	if err != nil {
		return PayableInvoice{}, err
	}
	return PayableInvoice{
		ID:      inv.ID,
		Number:  inv.Number,
		PartyID: inv.CustomerID,
		Total:   inv.Total,
		Open:    inv.Status == sales.InvoiceStatusConfirmed,
	}, nil
}

func (a SalesSource) RecomputePaymentStatus(ctx context.Context, invoiceID int64) error {
	_, err := a.Service.RecomputePaymentStatus(ctx, invoiceID)
	return err
}

// ProcurementSource adapts the procurement service to the InvoiceSource
// port.
type ProcurementSource struct {
	Service *procurement.Service
}

func (a ProcurementSource) PayableInvoice(ctx context.Context, id int64) (PayableInvoice, error) {
	inv, err := a.Service.Get(ctx, id)
	if err != nil {
		return PayableInvoice{}, err
	}
	return PayableInvoice{
		ID:      inv.ID,
		Number:  inv.Number,
		PartyID: inv.SupplierID,
		Total:   inv.Total,
		Open:    inv.Status == procurement.InvoiceStatusConfirmed,
	}, nil
}

func (a ProcurementSource) RecomputePaymentStatus(ctx context.Context, invoiceID int64) error {
	_, err := a.Service.RecomputePaymentStatus(ctx, invoiceID)
	return err
}
