package aging

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort abstracts open-invoice reads for the report.
type RepositoryPort interface {
	OpenInvoices(ctx context.Context, side Side, asOf time.Time) ([]OpenInvoice, error)
}

// Repository reads open invoices straight from the document tables. Paid
// amounts come from posted payments only, so a draft payment does not age
// an invoice down.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const receivableQuery = `
	SELECT i.id, i.number, i.customer_id, i.invoice_date, i.total,
	       i.total - COALESCE(p.paid, 0) AS outstanding
	FROM sale_invoices i
	LEFT JOIN (
		SELECT invoice_id, SUM(amount) AS paid
		FROM payments
		WHERE kind = 'SALE' AND status = 'POSTED'
		GROUP BY invoice_id
	) p ON p.invoice_id = i.id
	WHERE i.status = 'CONFIRMED'
	  AND i.payment_status <> 'PAID'
	  AND i.invoice_date <= $1
	ORDER BY i.invoice_date, i.id`

const payableQuery = `
	SELECT i.id, i.number, i.supplier_id, i.invoice_date, i.total,
	       i.total - COALESCE(p.paid, 0) AS outstanding
	FROM purchase_invoices i
	LEFT JOIN (
		SELECT invoice_id, SUM(amount) AS paid
		FROM payments
		WHERE kind = 'PURCHASE' AND status = 'POSTED'
		GROUP BY invoice_id
	) p ON p.invoice_id = i.id
	WHERE i.status = 'CONFIRMED'
	  AND i.payment_status <> 'PAID'
	  AND i.invoice_date <= $1
	ORDER BY i.invoice_date, i.id`

func (r *Repository) OpenInvoices(ctx context.Context, side Side, asOf time.Time) ([]OpenInvoice, error) {
	query := receivableQuery
	if side == SidePayable {
		query = payableQuery
	}
	rows, err := r.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("aging: open invoices: %w", err)
	}
	defer rows.Close()

	var invoices []OpenInvoice
	for rows.Next() {
		var inv OpenInvoice
		if err := rows.Scan(&inv.InvoiceID, &inv.Number, &inv.PartyID, &inv.Date,
			&inv.Total, &inv.Outstanding); err != nil {
			return nil, fmt.Errorf("aging: scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
