package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/platform/db"
)

// RepositoryPort is the storage surface the procurement service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error)
	InsertSupplier(ctx context.Context, s Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, s Supplier) error
	PostedPaymentTotal(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

// TxRepository is the transactional slice of the port.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	NextInvoiceSeq(ctx context.Context, year int) (int, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	ReplaceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error
	SetPaymentStatus(ctx context.Context, invoiceID int64, status PaymentStatus) error
	DeleteInvoice(ctx context.Context, id int64) error
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	SupplierID int64
	Status     InvoiceStatus
	Limit      int
}

// Repository is the pgx implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const invoiceColumns = `id, number, supplier_id, warehouse_id, invoice_date, status, payment_status,
	subtotal, discount, tax, total, journal_entry_id, notes, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.SupplierID, &inv.WarehouseID, &inv.Date,
		&inv.Status, &inv.PaymentStatus, &inv.Subtotal, &inv.Discount, &inv.Tax, &inv.Total,
		&inv.JournalEntryID, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM purchase_invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("procurement: get invoice: %w", err)
	}
	inv.Lines, err = r.loadLines(ctx, id)
	return inv, err
}

func (r *Repository) loadLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, product_id, quantity, unit_cost, discount, total
		 FROM purchase_invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load lines: %w", err)
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.Quantity, &l.UnitCost,
			&l.Discount, &l.Total); err != nil {
			return nil, fmt.Errorf("procurement: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM purchase_invoices
		 WHERE ($1 = 0 OR supplier_id = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY invoice_date DESC, id DESC
		 LIMIT $3`, filter.SupplierID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("procurement: list invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("procurement: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

const supplierColumns = `id, code, name, email, phone, payment_terms_days, payable_account, credit_limit, is_active, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Email, &s.Phone, &s.PaymentTermsD,
		&s.PayableAccount, &s.CreditLimit, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, err := scanSupplier(r.pool.QueryRow(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	if err != nil {
		return Supplier{}, fmt.Errorf("procurement: get supplier: %w", err)
	}
	return s, nil
}

func (r *Repository) ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE NOT $1 OR is_active ORDER BY code`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("procurement: list suppliers: %w", err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("procurement: scan supplier: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO suppliers (code, name, email, phone, payment_terms_days, payable_account, credit_limit, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		s.Code, s.Name, s.Email, s.Phone, s.PaymentTermsD, s.PayableAccount, s.CreditLimit, s.IsActive,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_suppliers_code" {
		return Supplier{}, ErrNumberConflict
	}
	if err != nil {
		return Supplier{}, fmt.Errorf("procurement: insert supplier: %w", err)
	}
	return s, nil
}

func (r *Repository) UpdateSupplier(ctx context.Context, s Supplier) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE suppliers SET name = $2, email = $3, phone = $4, payment_terms_days = $5,
		 payable_account = $6, credit_limit = $7, is_active = $8, updated_at = NOW() WHERE id = $1`,
		s.ID, s.Name, s.Email, s.Phone, s.PaymentTermsD, s.PayableAccount, s.CreditLimit, s.IsActive)
	if err != nil {
		return fmt.Errorf("procurement: update supplier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSupplierNotFound
	}
	return nil
}

func (r *Repository) PostedPaymentTotal(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments
		 WHERE kind = 'PURCHASE' AND invoice_id = $1 AND status = 'POSTED'`, invoiceID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("procurement: posted payment total: %w", err)
	}
	return total, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM purchase_invoices WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("procurement: lock invoice: %w", err)
	}
	return inv, nil
}

func (t *txRepository) NextInvoiceSeq(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(CAST(SUBSTRING(number FROM 7) AS INTEGER)), 0) + 1
		 FROM purchase_invoices
		 WHERE EXTRACT(YEAR FROM invoice_date) = $1`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("procurement: next invoice seq: %w", err)
	}
	return seq, nil
}

func (t *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_invoices (number, supplier_id, warehouse_id, invoice_date, status, payment_status,
		 subtotal, discount, tax, total, notes, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at, updated_at`,
		inv.Number, inv.SupplierID, inv.WarehouseID, inv.Date, inv.Status, inv.PaymentStatus,
		inv.Subtotal, inv.Discount, inv.Tax, inv.Total, inv.Notes, inv.CreatedBy,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_purchase_invoices_number" {
		return Invoice{}, ErrNumberConflict
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("procurement: insert invoice: %w", err)
	}
	return inv, nil
}

func (t *txRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_invoices SET invoice_date = $2, status = $3, payment_status = $4,
		 subtotal = $5, discount = $6, tax = $7, total = $8, journal_entry_id = $9, notes = $10, updated_at = NOW()
		 WHERE id = $1`,
		inv.ID, inv.Date, inv.Status, inv.PaymentStatus, inv.Subtotal, inv.Discount, inv.Tax,
		inv.Total, inv.JournalEntryID, inv.Notes)
	if err != nil {
		return fmt.Errorf("procurement: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepository) ReplaceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM purchase_invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("procurement: clear lines: %w", err)
	}
	for _, l := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO purchase_invoice_lines (invoice_id, product_id, quantity, unit_cost, discount, total)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			invoiceID, l.ProductID, l.Quantity, l.UnitCost, l.Discount, l.Total); err != nil {
			return fmt.Errorf("procurement: insert line: %w", err)
		}
	}
	return nil
}

func (t *txRepository) SetPaymentStatus(ctx context.Context, invoiceID int64, status PaymentStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_invoices SET payment_status = $2, updated_at = NOW() WHERE id = $1`,
		invoiceID, status)
	if err != nil {
		return fmt.Errorf("procurement: set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepository) DeleteInvoice(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM purchase_invoice_lines WHERE invoice_id = $1`, id); err != nil {
		return fmt.Errorf("procurement: delete lines: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("procurement: delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
