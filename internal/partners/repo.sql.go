package partners

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

// RepositoryPort is the storage surface the partners service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (Partner, error)
	List(ctx context.Context, activeOnly bool) ([]Partner, error)
	Insert(ctx context.Context, p Partner) (Partner, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Transactions(ctx context.Context, partnerID int64, limit int) ([]Transaction, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
}

// TxRepository is the transactional slice of the port. AdjustBalance and
// InsertTransaction commit together so the running balance can never drift
// from the transaction log.
type TxRepository interface {
	AdjustBalance(ctx context.Context, partnerID int64, delta decimal.Decimal) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	LinkJournal(ctx context.Context, transactionID, entryID int64) error
	DeleteTransaction(ctx context.Context, transactionID int64) error
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

const partnerColumns = `id, code, name, email, balance, is_active, created_at, updated_at`

func scanPartner(row pgx.Row) (Partner, error) {
	var p Partner
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Email, &p.Balance, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) Get(ctx context.Context, id int64) (Partner, error) {
	p, err := scanPartner(r.pool.QueryRow(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Partner{}, ErrPartnerNotFound
	}
	if err != nil {
		return Partner{}, fmt.Errorf("partners: get: %w", err)
	}
	return p, nil
}

func (r *Repository) List(ctx context.Context, activeOnly bool) ([]Partner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE NOT $1 OR is_active ORDER BY code`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("partners: list: %w", err)
	}
	defer rows.Close()

	var out []Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("partners: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, p Partner) (Partner, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO partners (code, name, email, balance, is_active)
		 VALUES ($1, $2, $3, 0, $4)
		 RETURNING id, balance, created_at, updated_at`,
		p.Code, p.Name, p.Email, p.IsActive,
	).Scan(&p.ID, &p.Balance, &p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_partners_code" {
		return Partner{}, ErrDuplicateCode
	}
	if err != nil {
		return Partner{}, fmt.Errorf("partners: insert: %w", err)
	}
	return p, nil
}

func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE partners SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("partners: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPartnerNotFound
	}
	return nil
}

func (r *Repository) Transactions(ctx context.Context, partnerID int64, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, partner_id, type, txn_date, amount, description, journal_entry_id, created_by, created_at
		 FROM partner_transactions
		 WHERE partner_id = $1
		 ORDER BY txn_date DESC, id DESC
		 LIMIT $2`, partnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("partners: transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.PartnerID, &t.Type, &t.Date, &t.Amount, &t.Description,
			&t.JournalEntryID, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("partners: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	var t Transaction
	err := r.pool.QueryRow(ctx,
		`SELECT id, partner_id, type, txn_date, amount, description, journal_entry_id, created_by, created_at
		 FROM partner_transactions WHERE id = $1`, id).Scan(
		&t.ID, &t.PartnerID, &t.Type, &t.Date, &t.Amount, &t.Description,
		&t.JournalEntryID, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("partners: get transaction: %w", err)
	}
	return t, nil
}

type txRepository struct {
	tx pgx.Tx
}

// AdjustBalance applies the delta in place. Withdrawals that would push the
// balance negative affect no rows and surface as ErrInsufficientEquity.
func (t *txRepository) AdjustBalance(ctx context.Context, partnerID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`UPDATE partners SET balance = balance + $2, updated_at = NOW()
		 WHERE id = $1 AND is_active AND balance + $2 >= 0
		 RETURNING balance`, partnerID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if lookupErr := t.tx.QueryRow(ctx,
			`SELECT is_active FROM partners WHERE id = $1`, partnerID).Scan(&exists); lookupErr != nil {
			if errors.Is(lookupErr, pgx.ErrNoRows) {
				return decimal.Zero, ErrPartnerNotFound
			}
			return decimal.Zero, fmt.Errorf("partners: adjust balance: %w", lookupErr)
		}
		if !exists {
			return decimal.Zero, ErrInactivePartner
		}
		return decimal.Zero, ErrInsufficientEquity
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("partners: adjust balance: %w", err)
	}
	return balance, nil
}

func (t *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO partner_transactions (partner_id, type, txn_date, amount, description, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		txn.PartnerID, txn.Type, txn.Date, txn.Amount, txn.Description, txn.CreatedBy,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("partners: insert transaction: %w", err)
	}
	return txn, nil
}

func (t *txRepository) LinkJournal(ctx context.Context, transactionID, entryID int64) error {
	if _, err := t.tx.Exec(ctx,
		`UPDATE partner_transactions SET journal_entry_id = $2 WHERE id = $1`,
		transactionID, entryID); err != nil {
		return fmt.Errorf("partners: link journal: %w", err)
	}
	return nil
}

func (t *txRepository) DeleteTransaction(ctx context.Context, transactionID int64) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM partner_transactions WHERE id = $1`, transactionID); err != nil {
		return fmt.Errorf("partners: delete transaction: %w", err)
	}
	return nil
}
