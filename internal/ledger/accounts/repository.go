package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// Repository is the persistence surface for the chart of accounts.
type Repository interface {
	GetByID(ctx context.Context, id int64) (Account, error)
	GetByCode(ctx context.Context, code string) (Account, error)
	List(ctx context.Context, onlyActive bool) ([]Account, error)
	ListTypes(ctx context.Context) ([]AccountType, error)
	GetType(ctx context.Context, id int64) (AccountType, error)
	Insert(ctx context.Context, account Account) (Account, error)
	MarkNonLeaf(ctx context.Context, id int64) error
	MarkLeafIfChildless(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	MoveSubtree(ctx context.Context, id int64, newParent *int64, oldPath, newPath string, levelDelta int) error
	Descendants(ctx context.Context, path string) ([]Account, error)
	HasJournalHistory(ctx context.Context, id int64) (bool, error)
	HasDraftReferences(ctx context.Context, id int64) (bool, error)
	NetBalance(ctx context.Context, id int64) (decimal.Decimal, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, code, name, type_id, nature, parent_id, level, path, is_leaf, is_active,
	is_cash_account, is_bank_account, credit_limit, low_balance_threshold, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.TypeID, &a.Nature, &a.ParentID, &a.Level, &a.Path,
		&a.IsLeaf, &a.IsActive, &a.IsCashAccount, &a.IsBankAccount, &a.CreditLimit,
		&a.LowBalanceThreshold, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *repository) GetByCode(ctx context.Context, code string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code = $1`, code)
	return scanAccount(row)
}

func (r *repository) List(ctx context.Context, onlyActive bool) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if onlyActive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY code`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) ListTypes(ctx context.Context) ([]AccountType, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, category, nature, parent_id, level FROM account_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []AccountType
	for rows.Next() {
		var t AccountType
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Nature, &t.ParentID, &t.Level); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (r *repository) GetType(ctx context.Context, id int64) (AccountType, error) {
	var t AccountType
	err := r.db.QueryRow(ctx, `SELECT id, code, name, category, nature, parent_id, level FROM account_types WHERE id = $1`, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Nature, &t.ParentID, &t.Level)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountType{}, shared.ErrNotFound
	}
	if err != nil {
		return AccountType{}, err
	}
	return t, nil
}

func (r *repository) Insert(ctx context.Context, account Account) (Account, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO accounts (code, name, type_id, nature, parent_id, level, path, is_leaf, is_active,
			is_cash_account, is_bank_account, credit_limit, low_balance_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, TRUE, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		account.Code, account.Name, account.TypeID, account.Nature, account.ParentID,
		account.Level, account.Path, account.IsCashAccount, account.IsBankAccount,
		account.CreditLimit, account.LowBalanceThreshold,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		pgErr := (*pgconn.PgError)(nil)
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_accounts_code" {
			return Account{}, ErrDuplicateCode
		}
		return Account{}, err
	}
	account.IsLeaf = true
	account.IsActive = true
	// Path embeds the generated id, so it is finalized after insert.
	account.Path = account.Path + fmt.Sprintf("%d/", account.ID)
	_, err = r.db.Exec(ctx, `UPDATE accounts SET path = $2 WHERE id = $1`, account.ID, account.Path)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (r *repository) MarkNonLeaf(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts SET is_leaf = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repository) MarkLeafIfChildless(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET is_leaf = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM accounts c WHERE c.parent_id = $1)`, id)
	return err
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *repository) MoveSubtree(ctx context.Context, id int64, newParent *int64, oldPath, newPath string, levelDelta int) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	_, err = tx.Exec(ctx, `UPDATE accounts SET parent_id = $2, updated_at = NOW() WHERE id = $1`, id, newParent)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET path = $2 || SUBSTRING(path FROM CHAR_LENGTH($1) + 1),
			level = level + $3,
			updated_at = NOW()
		WHERE path LIKE $1 || '%'`,
		oldPath, newPath, levelDelta)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *repository) Descendants(ctx context.Context, path string) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE path LIKE $1 || '_%' ORDER BY path`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) HasJournalHistory(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) HasDraftReferences(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM journal_lines jl
			JOIN journal_entries je ON je.id = jl.je_id
			WHERE jl.account_id = $1 AND je.status = 'DRAFT'
		)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) NetBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	var net decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(jl.debit - jl.credit), 0)
		FROM journal_lines jl
		JOIN journal_entries je ON je.id = jl.je_id
		WHERE jl.account_id = $1 AND je.status = 'POSTED'`, id).Scan(&net)
	return net, err
}
