package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-erp/vantage-erp/internal/platform/db"
)

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EntryFilter narrows ListEntries results.
type EntryFilter struct {
	Status   EntryStatus
	RefType  string
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
}

// TxRepository exposes the transactional operations the journal engine needs.
type TxRepository interface {
	FindPeriodForDate(ctx context.Context, date time.Time) (Period, error)
	InsertCalendarYearPeriod(ctx context.Context, year int) (Period, error)
	GetAccountRef(ctx context.Context, accountID int64) (AccountRef, error)
	NextEntrySeq(ctx context.Context, year int) (int, error)
	InsertEntry(ctx context.Context, in EntryInput, periodID int64, number string) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	LinkSource(ctx context.Context, refType string, refID uuid.UUID, entryID int64) error
	DeleteSource(ctx context.Context, refType string, refID uuid.UUID) error
	GetEntryWithLinesForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	MarkPosted(ctx context.Context, entryID int64, at time.Time, by int64) error
	MarkCancelled(ctx context.Context, entryID int64) error
	DeleteEntry(ctx context.Context, entryID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, number, period_id, date, entry_type, status, description, reference, ref_type, ref_id, posted_at, posted_by, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var refID *uuid.UUID
	err := row.Scan(&e.ID, &e.Number, &e.PeriodID, &e.Date, &e.Type, &e.Status, &e.Description, &e.Reference, &e.RefType, &refID, &e.PostedAt, &e.PostedBy, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	if refID != nil {
		e.RefID = *refID
	}
	return e, nil
}

func (r *txRepository) FindPeriodForDate(ctx context.Context, date time.Time) (Period, error) {
	var p Period
	err := r.tx.QueryRow(ctx, `SELECT id, name, start_date, end_date, status
FROM accounting_periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1 FOR UPDATE`, date).
		Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) InsertCalendarYearPeriod(ctx context.Context, year int) (Period, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	p := Period{Name: start.Format("2006"), StartDate: start, EndDate: end, Status: PeriodStatusOpen}
	err := r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (name, start_date, end_date, status)
VALUES ($1,$2,$3,'OPEN') RETURNING id`, p.Name, p.StartDate, p.EndDate).Scan(&p.ID)
	if err != nil {
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetAccountRef(ctx context.Context, accountID int64) (AccountRef, error) {
	var ref AccountRef
	err := r.tx.QueryRow(ctx, `SELECT id, code, is_leaf, is_active FROM accounts WHERE id=$1`, accountID).
		Scan(&ref.ID, &ref.Code, &ref.IsLeaf, &ref.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRef{}, ErrAccountNotFound
		}
		return AccountRef{}, err
	}
	return ref, nil
}

func (r *txRepository) NextEntrySeq(ctx context.Context, year int) (int, error) {
	prefix := EntryNumber(year, 0)
	prefix = prefix[:len(prefix)-4]
	var seq int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(SUBSTRING(number FROM 7)::int), 0) + 1
FROM journal_entries WHERE number LIKE $1 || '%'`, prefix).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, in EntryInput, periodID int64, number string) (JournalEntry, error) {
	var refID any
	if in.RefType != "" {
		refID = in.RefID
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (number, period_id, date, entry_type, status, description, reference, ref_type, ref_id, created_by)
VALUES ($1,$2,$3,$4,'DRAFT',$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		number, periodID, in.Date, in.Type, in.Description, in.Reference, in.RefType, refID, in.ActorID)
	entry := JournalEntry{
		Number:      number,
		PeriodID:    periodID,
		Date:        in.Date,
		Type:        in.Type,
		Status:      EntryStatusDraft,
		Description: in.Description,
		Reference:   in.Reference,
		RefType:     in.RefType,
		RefID:       in.RefID,
		CreatedBy:   in.ActorID,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_journal_entries_number" {
			return JournalEntry{}, ErrNumberConflict
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, description, cost_center, project)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, entryID, line.AccountID, line.Debit, line.Credit, line.Description, line.CostCenter, line.Project); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, refType string, refID uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (ref_type, ref_id, je_id) VALUES ($1,$2,$3)`, refType, refID, entryID)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
			return ErrDuplicatePosting
		}
		return err
	}
	return nil
}

func (r *txRepository) DeleteSource(ctx context.Context, refType string, refID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM source_links WHERE ref_type=$1 AND ref_id=$2`, refType, refID)
	return err
}

func (r *txRepository) GetEntryWithLinesForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := queryLines(ctx, r.tx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *txRepository) MarkPosted(ctx context.Context, entryID int64, at time.Time, by int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_at=$2, posted_by=$3, updated_at=NOW()
WHERE id=$1 AND status='DRAFT'`, entryID, at, by)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) MarkCancelled(ctx context.Context, entryID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='CANCELLED', updated_at=NOW()
WHERE id=$1 AND status='DRAFT'`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) DeleteEntry(ctx context.Context, entryID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE je_id=$1`, entryID); err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1 AND status='DRAFT'`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, je_id, account_id, debit, credit, description, cost_center, project
FROM journal_lines WHERE je_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.Description, &line.CostCenter, &line.Project); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetEntry loads one journal entry with its lines.
func (r *Repository) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := queryLines(ctx, r.pool, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

// ListEntries returns entries matching the filter, newest first.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE 1=1`
	args := make([]any, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status=$` + strconv.Itoa(len(args))
	}
	if filter.RefType != "" {
		args = append(args, filter.RefType)
		query += ` AND ref_type=$` + strconv.Itoa(len(args))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		query += ` AND date >= $` + strconv.Itoa(len(args))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		query += ` AND date <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY number DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

