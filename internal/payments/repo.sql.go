package payments

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

// RepositoryPort is the storage surface the payments service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (Payment, error)
	List(ctx context.Context, filter Filter) ([]Payment, error)
	PostedTotal(ctx context.Context, kind Kind, invoiceID, excludeID int64) (decimal.Decimal, error)
	ListUnsynced(ctx context.Context, limit int) ([]Payment, error)
}

// TxRepository is the transactional slice of the port.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Payment, error)
	NextSeq(ctx context.Context, year int) (int, error)
	Insert(ctx context.Context, p Payment) (Payment, error)
	Update(ctx context.Context, p Payment) error
	Delete(ctx context.Context, id int64) error
}

// Filter narrows List.
type Filter struct {
	Kind      Kind
	InvoiceID int64
	Status    Status
	Limit     int
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

const paymentColumns = `id, number, kind, invoice_id, party_id, payment_date, amount, method,
	financial_account_id, status, journal_entry_id, financial_status, financial_error, revision,
	notes, created_by, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.Number, &p.Kind, &p.InvoiceID, &p.PartyID, &p.Date, &p.Amount,
		&p.Method, &p.FinancialAccountID, &p.Status, &p.JournalEntryID, &p.FinancialStatus,
		&p.FinancialError, &p.Revision, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) Get(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: get: %w", err)
	}
	return p, nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Payment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE ($1 = '' OR kind = $1)
		   AND ($2 = 0 OR invoice_id = $2)
		   AND ($3 = '' OR status = $3)
		 ORDER BY payment_date DESC, id DESC
		 LIMIT $4`, string(filter.Kind), filter.InvoiceID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("payments: list: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (r *Repository) PostedTotal(ctx context.Context, kind Kind, invoiceID, excludeID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments
		 WHERE kind = $1 AND invoice_id = $2 AND status = 'POSTED' AND id <> $3`,
		kind, invoiceID, excludeID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payments: posted total: %w", err)
	}
	return total, nil
}

func (r *Repository) ListUnsynced(ctx context.Context, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = 'POSTED' AND financial_status = 'PENDING'
		 ORDER BY id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("payments: list unsynced: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Payment, error) {
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payments: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: lock: %w", err)
	}
	return p, nil
}

func (t *txRepository) NextSeq(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(CAST(SUBSTRING(number FROM 8) AS INTEGER)), 0) + 1
		 FROM payments
		 WHERE EXTRACT(YEAR FROM payment_date) = $1`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("payments: next seq: %w", err)
	}
	return seq, nil
}

func (t *txRepository) Insert(ctx context.Context, p Payment) (Payment, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO payments (number, kind, invoice_id, party_id, payment_date, amount, method,
		 financial_account_id, status, financial_status, revision, notes, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at, updated_at`,
		p.Number, p.Kind, p.InvoiceID, p.PartyID, p.Date, p.Amount, p.Method,
		p.FinancialAccountID, p.Status, p.FinancialStatus, p.Revision, p.Notes, p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_payments_number" {
		return Payment{}, ErrNumberConflict
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: insert: %w", err)
	}
	return p, nil
}

func (t *txRepository) Update(ctx context.Context, p Payment) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE payments SET payment_date = $2, amount = $3, method = $4, financial_account_id = $5,
		 status = $6, journal_entry_id = $7, financial_status = $8, financial_error = $9,
		 revision = $10, notes = $11, updated_at = NOW()
		 WHERE id = $1`,
		p.ID, p.Date, p.Amount, p.Method, p.FinancialAccountID, p.Status, p.JournalEntryID,
		p.FinancialStatus, p.FinancialError, p.Revision, p.Notes)
	if err != nil {
		return fmt.Errorf("payments: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("payments: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
