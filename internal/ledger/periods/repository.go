package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// Repository is the persistence surface for accounting periods.
type Repository interface {
	FindByDate(ctx context.Context, date time.Time) (Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	List(ctx context.Context) ([]Period, error)
	FindOverlapping(ctx context.Context, start, end time.Time) ([]Period, error)
	Insert(ctx context.Context, period Period) (Period, error)
	CountDraftEntries(ctx context.Context, periodID int64) (int, error)
	MarkClosed(ctx context.Context, periodID int64, at time.Time, by int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrNotFound
	}
	if err != nil {
		return Period{}, err
	}
	return p, nil
}

func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
		WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date)
	return scanPeriod(row)
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id = $1`, id)
	return scanPeriod(row)
}

func (r *repository) List(ctx context.Context) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *repository) FindOverlapping(ctx context.Context, start, end time.Time) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods
		WHERE start_date <= $2 AND end_date >= $1 ORDER BY start_date`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *repository) Insert(ctx context.Context, period Period) (Period, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO accounting_periods (name, start_date, end_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'OPEN', NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		period.Name, period.StartDate, period.EndDate,
	).Scan(&period.ID, &period.CreatedAt, &period.UpdatedAt)
	if err != nil {
		return Period{}, err
	}
	period.Status = StatusOpen
	return period, nil
}

func (r *repository) CountDraftEntries(ctx context.Context, periodID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE period_id = $1 AND status = 'DRAFT'`, periodID).Scan(&count)
	return count, err
}

func (r *repository) MarkClosed(ctx context.Context, periodID int64, at time.Time, by int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounting_periods
		SET status = 'CLOSED', closed_at = $2, closed_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'`, periodID, at, by)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClosed
	}
	return nil
}
