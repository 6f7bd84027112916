package balances

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// Repository reads posted journal lines for balance derivations.
type Repository interface {
	AccountSums(ctx context.Context, accountID int64, from, to *time.Time) (AccountSums, error)
	LeafSums(ctx context.Context, asOf *time.Time, category *accounts.Category) ([]AccountSums, error)
	Lines(ctx context.Context, accountID int64, from, to time.Time) ([]LedgerLine, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) AccountSums(ctx context.Context, accountID int64, from, to *time.Time) (AccountSums, error) {
	var sums AccountSums
	err := r.db.QueryRow(ctx, `
		SELECT a.id, a.code, a.name, a.nature,
			COALESCE(SUM(jl.debit) FILTER (WHERE je.status = 'POSTED'
				AND ($2::date IS NULL OR je.date >= $2)
				AND ($3::date IS NULL OR je.date <= $3)), 0),
			COALESCE(SUM(jl.credit) FILTER (WHERE je.status = 'POSTED'
				AND ($2::date IS NULL OR je.date >= $2)
				AND ($3::date IS NULL OR je.date <= $3)), 0)
		FROM accounts a
		LEFT JOIN journal_lines jl ON jl.account_id = a.id
		LEFT JOIN journal_entries je ON je.id = jl.je_id
		WHERE a.id = $1
		GROUP BY a.id, a.code, a.name, a.nature`,
		accountID, from, to,
	).Scan(&sums.AccountID, &sums.Code, &sums.Name, &sums.Nature, &sums.Debit, &sums.Credit)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountSums{}, shared.ErrNotFound
	}
	if err != nil {
		return AccountSums{}, err
	}
	return sums, nil
}

func (r *repository) LeafSums(ctx context.Context, asOf *time.Time, category *accounts.Category) ([]AccountSums, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.code, a.name, a.nature,
			COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
		FROM accounts a
		JOIN account_types t ON t.id = a.type_id
		JOIN journal_lines jl ON jl.account_id = a.id
		JOIN journal_entries je ON je.id = jl.je_id
		WHERE a.is_leaf AND a.is_active AND je.status = 'POSTED'
			AND ($1::date IS NULL OR je.date <= $1)
			AND ($2::text IS NULL OR t.category = $2)
		GROUP BY a.id, a.code, a.name, a.nature
		ORDER BY a.code`,
		asOf, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sums []AccountSums
	for rows.Next() {
		var s AccountSums
		if err := rows.Scan(&s.AccountID, &s.Code, &s.Name, &s.Nature, &s.Debit, &s.Credit); err != nil {
			return nil, err
		}
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

func (r *repository) Lines(ctx context.Context, accountID int64, from, to time.Time) ([]LedgerLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT je.date, je.number, COALESCE(NULLIF(jl.description, ''), je.description), jl.debit, jl.credit
		FROM journal_lines jl
		JOIN journal_entries je ON je.id = jl.je_id
		WHERE jl.account_id = $1 AND je.status = 'POSTED' AND je.date BETWEEN $2 AND $3
		ORDER BY je.date, je.number`,
		accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LedgerLine
	for rows.Next() {
		var line LedgerLine
		if err := rows.Scan(&line.Date, &line.EntryNumber, &line.Description, &line.Debit, &line.Credit); err != nil {
			return nil, err
		}
		line.Running = decimal.Zero
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
