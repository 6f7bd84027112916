package sales

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

// RepositoryPort is the storage surface the sales service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	GetCustomerByCode(ctx context.Context, code string) (Customer, error)
	ListCustomers(ctx context.Context, activeOnly bool) ([]Customer, error)
	InsertCustomer(ctx context.Context, c Customer) (Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) error
	PostedPaymentTotal(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

// TxRepository is the transactional slice of the port. All status changes
// happen under a row lock taken by GetInvoiceForUpdate.
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
	CustomerID int64
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

const invoiceColumns = `id, number, customer_id, warehouse_id, invoice_date, status, payment_status,
	subtotal, discount, tax, total, cost_total, journal_entry_id, cogs_entry_id, revision, notes, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.WarehouseID, &inv.Date,
		&inv.Status, &inv.PaymentStatus, &inv.Subtotal, &inv.Discount, &inv.Tax, &inv.Total,
		&inv.CostTotal, &inv.JournalEntryID, &inv.COGSEntryID, &inv.Revision, &inv.Notes,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM sale_invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("sales: get invoice: %w", err)
	}
	inv.Lines, err = r.loadLines(ctx, r.pool, id)
	return inv, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) loadLines(ctx context.Context, q querier, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := q.Query(ctx,
		`SELECT id, invoice_id, product_id, quantity, unit_price, discount, total, unit_cost
		 FROM sale_invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("sales: load lines: %w", err)
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.Quantity, &l.UnitPrice,
			&l.Discount, &l.Total, &l.UnitCost); err != nil {
			return nil, fmt.Errorf("sales: scan line: %w", err)
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
		`SELECT `+invoiceColumns+` FROM sale_invoices
		 WHERE ($1 = 0 OR customer_id = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY invoice_date DESC, id DESC
		 LIMIT $3`, filter.CustomerID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("sales: list invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("sales: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

const customerColumns = `id, code, name, email, phone, credit_limit, receivable_account, is_active, created_at, updated_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.CreditLimit,
		&c.ReceivableAccount, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("sales: get customer: %w", err)
	}
	return c, nil
}

func (r *Repository) GetCustomerByCode(ctx context.Context, code string) (Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("sales: get customer by code: %w", err)
	}
	return c, nil
}

func (r *Repository) ListCustomers(ctx context.Context, activeOnly bool) ([]Customer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE NOT $1 OR is_active ORDER BY code`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("sales: list customers: %w", err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("sales: scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) InsertCustomer(ctx context.Context, c Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (code, name, email, phone, credit_limit, receivable_account, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		c.Code, c.Name, c.Email, c.Phone, c.CreditLimit, c.ReceivableAccount, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_customers_code" {
		return Customer{}, ErrNumberConflict
	}
	if err != nil {
		return Customer{}, fmt.Errorf("sales: insert customer: %w", err)
	}
	return c, nil
}

func (r *Repository) UpdateCustomer(ctx context.Context, c Customer) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE customers SET name = $2, email = $3, phone = $4, credit_limit = $5,
		 receivable_account = $6, is_active = $7, updated_at = NOW() WHERE id = $1`,
		c.ID, c.Name, c.Email, c.Phone, c.CreditLimit, c.ReceivableAccount, c.IsActive)
	if err != nil {
		return fmt.Errorf("sales: update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (r *Repository) PostedPaymentTotal(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments
		 WHERE kind = 'SALE' AND invoice_id = $1 AND status = 'POSTED'`, invoiceID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sales: posted payment total: %w", err)
	}
	return total, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM sale_invoices WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("sales: lock invoice: %w", err)
	}
	return inv, nil
}

func (t *txRepository) NextInvoiceSeq(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(CAST(SUBSTRING(number FROM 7) AS INTEGER)), 0) + 1
		 FROM sale_invoices
		 WHERE EXTRACT(YEAR FROM invoice_date) = $1`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sales: next invoice seq: %w", err)
	}
	return seq, nil
}

func (t *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO sale_invoices (number, customer_id, warehouse_id, invoice_date, status, payment_status,
		 subtotal, discount, tax, total, cost_total, revision, notes, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at, updated_at`,
		inv.Number, inv.CustomerID, inv.WarehouseID, inv.Date, inv.Status, inv.PaymentStatus,
		inv.Subtotal, inv.Discount, inv.Tax, inv.Total, inv.CostTotal, inv.Revision, inv.Notes, inv.CreatedBy,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_sale_invoices_number" {
		return Invoice{}, ErrNumberConflict
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("sales: insert invoice: %w", err)
	}
	return inv, nil
}

func (t *txRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE sale_invoices SET invoice_date = $2, status = $3, payment_status = $4,
		 subtotal = $5, discount = $6, tax = $7, total = $8, cost_total = $9,
		 journal_entry_id = $10, cogs_entry_id = $11, revision = $12, notes = $13, updated_at = NOW()
		 WHERE id = $1`,
		inv.ID, inv.Date, inv.Status, inv.PaymentStatus, inv.Subtotal, inv.Discount, inv.Tax,
		inv.Total, inv.CostTotal, inv.JournalEntryID, inv.COGSEntryID, inv.Revision, inv.Notes)
	if err != nil {
		return fmt.Errorf("sales: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepository) ReplaceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM sale_invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("sales: clear lines: %w", err)
	}
	for _, l := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO sale_invoice_lines (invoice_id, product_id, quantity, unit_price, discount, total, unit_cost)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			invoiceID, l.ProductID, l.Quantity, l.UnitPrice, l.Discount, l.Total, l.UnitCost); err != nil {
			return fmt.Errorf("sales: insert line: %w", err)
		}
	}
	return nil
}

func (t *txRepository) SetPaymentStatus(ctx context.Context, invoiceID int64, status PaymentStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE sale_invoices SET payment_status = $2, updated_at = NOW() WHERE id = $1`,
		invoiceID, status)
	if err != nil {
		return fmt.Errorf("sales: set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepository) DeleteInvoice(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM sale_invoice_lines WHERE invoice_id = $1`, id); err != nil {
		return fmt.Errorf("sales: delete lines: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM sale_invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sales: delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
