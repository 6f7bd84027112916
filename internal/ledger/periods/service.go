package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

var (
	ErrOverlap       = errors.New("periods: window overlaps an existing period")
	ErrAlreadyClosed = errors.New("periods: period is not open")
	ErrDraftsPending = errors.New("periods: draft entries remain in the window")
	ErrNoPeriod      = errors.New("periods: no period covers the date")
	ErrValidation    = errors.New("periods: validation failed")
)

// Config carries the period policies injected by the host.
type Config struct {
	// AutoCreate lets EnsurePeriod create a calendar-year period when none
	// covers the date. Off by default: a missing period is a hard error.
	AutoCreate bool
}

// Service manages the accounting calendar.
type Service struct {
	repo   Repository
	locker *shared.Locker
	audit  shared.AuditRecorder
	cfg    Config
	now    func() time.Time
}

// NewService wires the period manager.
func NewService(repo Repository, locker *shared.Locker, audit shared.AuditRecorder, cfg Config) *Service {
	return &Service{repo: repo, locker: locker, audit: audit, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

// PeriodForDate returns the period covering the date, closed or not.
func (s *Service) PeriodForDate(ctx context.Context, date time.Time) (Period, error) {
	period, err := s.repo.FindByDate(ctx, date)
	if errors.Is(err, shared.ErrNotFound) {
		return Period{}, fmt.Errorf("%w: %s", ErrNoPeriod, date.Format("2006-01-02"))
	}
	return period, err
}

// Open creates a new open period. The window must not intersect any existing
// period.
func (s *Service) Open(ctx context.Context, name string, start, end time.Time, actorID int64) (Period, error) {
	if name == "" {
		return Period{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	if !start.Before(end) {
		return Period{}, fmt.Errorf("%w: start must precede end", ErrValidation)
	}
	overlapping, err := s.repo.FindOverlapping(ctx, start, end)
	if err != nil {
		return Period{}, err
	}
	if len(overlapping) > 0 {
		return Period{}, fmt.Errorf("%w: %s", ErrOverlap, overlapping[0].Name)
	}
	period, err := s.repo.Insert(ctx, Period{Name: name, StartDate: start, EndDate: end})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "period.open", period)
	return period, nil
}

// Close marks a period immutable. Refused while draft entries remain inside
// the window. The close runs under an exclusive lock so a concurrent close
// or post targeting the period cannot interleave.
func (s *Service) Close(ctx context.Context, periodID, actorID int64) (Period, error) {
	release, err := s.locker.Acquire(ctx, shared.PeriodLockKey(periodID))
	if err != nil {
		return Period{}, err
	}
	defer release()

	period, err := s.repo.Get(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if period.Status != StatusOpen {
		return Period{}, fmt.Errorf("%w: %s", ErrAlreadyClosed, period.Name)
	}
	drafts, err := s.repo.CountDraftEntries(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if drafts > 0 {
		return Period{}, fmt.Errorf("%w: %d drafts in %s", ErrDraftsPending, drafts, period.Name)
	}
	now := s.now()
	if err := s.repo.MarkClosed(ctx, periodID, now, actorID); err != nil {
		return Period{}, err
	}
	period.Status = StatusClosed
	period.ClosedAt = &now
	period.ClosedBy = &actorID
	s.record(ctx, actorID, "period.close", period)
	return period, nil
}

// Ensure returns the period covering the date, creating a calendar-year
// period when policy allows.
func (s *Service) Ensure(ctx context.Context, date time.Time, actorID int64) (Period, error) {
	period, err := s.repo.FindByDate(ctx, date)
	if err == nil {
		return period, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Period{}, err
	}
	if !s.cfg.AutoCreate {
		return Period{}, fmt.Errorf("%w: %s", ErrNoPeriod, date.Format("2006-01-02"))
	}
	year := date.Year()
	created, err := s.repo.Insert(ctx, Period{
		Name:      fmt.Sprintf("FY %d", year),
		StartDate: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "period.auto_create", created)
	return created, nil
}

// Get returns a period by id.
func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// List returns all periods ordered by start date.
func (s *Service) List(ctx context.Context) ([]Period, error) {
	return s.repo.List(ctx)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, period Period) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "accounting_period",
		EntityID: fmt.Sprintf("%d", period.ID),
		Meta: map[string]any{
			"name":  period.Name,
			"start": period.StartDate.Format("2006-01-02"),
			"end":   period.EndDate.Format("2006-01-02"),
		},
		At: s.now(),
	})
}
