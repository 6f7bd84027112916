package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// numberRetries bounds the retry loop around entry number collisions.
const numberRetries = 5

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, entryID int64) (JournalEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator drops cached balances for accounts touched by a posting.
type CacheInvalidator interface {
	InvalidateAccounts(ctx context.Context, accountIDs []int64) error
}

// ServiceConfig groups posting policy knobs.
type ServiceConfig struct {
	// AutoCreatePeriods makes the engine open a calendar-year period when
	// none covers a posting date. Off by default: a missing period is a
	// hard error.
	AutoCreatePeriods bool
}

// Service coordinates creating, posting, reversing, and cancelling journal
// entries. Every other module reaches the ledger through this type; nothing
// writes journal lines directly.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache CacheInvalidator
	cfg   ServiceConfig
	now   func() time.Time
}

// NewService constructs the journal engine.
func NewService(repo RepositoryPort, audit AuditPort, cache CacheInvalidator, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEntry validates and persists a new journal entry, optionally posting
// it in the same transaction. Number allocation collisions under concurrent
// creators are retried invisibly.
func (s *Service) CreateEntry(ctx context.Context, input EntryInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	var err error
	for attempt := 0; attempt < numberRetries; attempt++ {
		entry, err = s.createOnce(ctx, input)
		if !errors.Is(err, ErrNumberConflict) {
			break
		}
	}
	if err != nil {
		return JournalEntry{}, err
	}
	if entry.Status == EntryStatusPosted {
		s.afterPosting(ctx, entry, input.ActorID, "journal.post")
	}
	return entry, nil
}

func (s *Service) createOnce(ctx context.Context, input EntryInput) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := s.resolvePeriod(ctx, tx, input.Date)
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			if err := checkPostable(ctx, tx, line.AccountID); err != nil {
				return err
			}
		}
		seq, err := tx.NextEntrySeq(ctx, input.Date.Year())
		if err != nil {
			return err
		}
		number := EntryNumber(input.Date.Year(), seq)
		inserted, err := tx.InsertEntry(ctx, input, period.ID, number)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		if input.RefType != "" {
			if err := tx.LinkSource(ctx, input.RefType, input.RefID, inserted.ID); err != nil {
				return err
			}
		}
		if input.AutoPost {
			now := s.now()
			if err := tx.MarkPosted(ctx, inserted.ID, now, input.ActorID); err != nil {
				return err
			}
			inserted.Status = EntryStatusPosted
			inserted.PostedAt = &now
			inserted.PostedBy = &input.ActorID
		}
		inserted.Lines = toJournalLines(inserted.ID, input.Lines)
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// Post promotes a draft entry. The entry's period must still be open and the
// lines must still balance at the moment of posting.
func (s *Service) Post(ctx context.Context, entryID, actorID int64) (JournalEntry, error) {
	if entryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: entry id required", ErrValidation)
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryWithLinesForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return ErrInvalidStatus
		}
		period, err := tx.FindPeriodForDate(ctx, current.Date)
		if err != nil {
			return err
		}
		if period.Status != PeriodStatusOpen {
			return ErrPeriodClosed
		}
		if err := checkBalanced(current.Lines); err != nil {
			return err
		}
		now := s.now()
		if err := tx.MarkPosted(ctx, current.ID, now, actorID); err != nil {
			return err
		}
		current.Status = EntryStatusPosted
		current.PostedAt = &now
		current.PostedBy = &actorID
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterPosting(ctx, entry, actorID, "journal.post")
	return entry, nil
}

// Reverse creates and posts a symmetric counter-entry. The original is
// retained untouched; reversing the same entry twice fails with
// ErrDuplicatePosting.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: entry id required", ErrValidation)
	}
	var reversal JournalEntry
	var err error
	for attempt := 0; attempt < numberRetries; attempt++ {
		reversal, err = s.reverseOnce(ctx, input)
		if !errors.Is(err, ErrNumberConflict) {
			break
		}
	}
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterPosting(ctx, reversal, input.ActorID, "journal.reverse")
	return reversal, nil
}

func (s *Service) reverseOnce(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryWithLinesForUpdate(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return ErrInvalidStatus
		}
		date := s.now()
		if input.Date != nil {
			date = *input.Date
		}
		period, err := s.resolvePeriod(ctx, tx, date)
		if err != nil {
			return err
		}
		seq, err := tx.NextEntrySeq(ctx, date.Year())
		if err != nil {
			return err
		}
		number := EntryNumber(date.Year(), seq)
		posting := EntryInput{
			Date:        date,
			Type:        EntryTypeAdjustment,
			Description: reversalDescription(input.Description, original.Number),
			Reference:   original.Number,
			RefType:     "REVERSAL",
			RefID:       ReversalRefID(original.ID),
			ActorID:     input.ActorID,
			Lines:       reverseLines(original.Lines),
		}
		inserted, err := tx.InsertEntry(ctx, posting, period.ID, number)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, posting.Lines); err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, posting.RefType, posting.RefID, inserted.ID); err != nil {
			return err
		}
		now := s.now()
		if err := tx.MarkPosted(ctx, inserted.ID, now, input.ActorID); err != nil {
			return err
		}
		inserted.Status = EntryStatusPosted
		inserted.PostedAt = &now
		inserted.PostedBy = &input.ActorID
		inserted.Lines = toJournalLines(inserted.ID, posting.Lines)
		reversal = inserted
		return nil
	})
	return reversal, err
}

// Cancel marks a draft entry as cancelled and releases its document link so
// the document may be posted again.
func (s *Service) Cancel(ctx context.Context, entryID, actorID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryWithLinesForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return ErrInvalidStatus
		}
		if err := tx.MarkCancelled(ctx, current.ID); err != nil {
			return err
		}
		if current.RefType != "" {
			if err := tx.DeleteSource(ctx, current.RefType, current.RefID); err != nil {
				return err
			}
		}
		current.Status = EntryStatusCancelled
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "journal.cancel",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta:     map[string]any{"number": entry.Number},
			At:       s.now(),
		})
	}
	return entry, nil
}

// DeleteDraft hard-deletes a draft entry. Posted and cancelled entries are
// retained for audit; reversal is the only way to undo a posting.
func (s *Service) DeleteDraft(ctx context.Context, entryID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryWithLinesForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return ErrInvalidStatus
		}
		if current.RefType != "" {
			if err := tx.DeleteSource(ctx, current.RefType, current.RefID); err != nil {
				return err
			}
		}
		return tx.DeleteEntry(ctx, current.ID)
	})
}

// GetEntry loads a single entry with lines.
func (s *Service) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, entryID)
}

// ListEntries returns entries matching the filter.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	return s.repo.ListEntries(ctx, filter)
}

func (s *Service) resolvePeriod(ctx context.Context, tx TxRepository, date time.Time) (Period, error) {
	period, err := tx.FindPeriodForDate(ctx, date)
	if err != nil {
		if errors.Is(err, ErrNoOpenPeriod) && s.cfg.AutoCreatePeriods {
			return tx.InsertCalendarYearPeriod(ctx, date.Year())
		}
		return Period{}, err
	}
	if period.Status != PeriodStatusOpen {
		return Period{}, ErrPeriodClosed
	}
	return period, nil
}

func (s *Service) afterPosting(ctx context.Context, entry JournalEntry, actorID int64, action string) {
	if s.cache != nil {
		ids := make([]int64, 0, len(entry.Lines))
		for _, line := range entry.Lines {
			ids = append(ids, line.AccountID)
		}
		_ = s.cache.InvalidateAccounts(ctx, ids)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"number":   entry.Number,
				"ref_type": entry.RefType,
				"ref_id":   entry.RefID.String(),
			},
			At: s.now(),
		})
	}
}

// ReversalRefID derives the deterministic document reference of a reversal,
// ensuring at most one reversal exists per original entry.
func ReversalRefID(originalID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("JE-REVERSAL:%d", originalID)))
}

func checkPostable(ctx context.Context, tx TxRepository, accountID int64) error {
	ref, err := tx.GetAccountRef(ctx, accountID)
	if err != nil {
		return err
	}
	if !ref.IsActive {
		return fmt.Errorf("%w: %s", ErrInactiveAccount, ref.Code)
	}
	if !ref.IsLeaf {
		return fmt.Errorf("%w: %s", ErrNonLeafAccount, ref.Code)
	}
	return nil
}

func checkBalanced(lines []JournalLine) error {
	var debit, credit decimal.Decimal
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThanOrEqual(Epsilon) {
		return ErrUnbalanced
	}
	return nil
}

func reverseLines(lines []JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
			CostCenter:  line.CostCenter,
			Project:     line.Project,
		})
	}
	return out
}

func toJournalLines(entryID int64, lines []LineInput) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			EntryID:     entryID,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
			CostCenter:  line.CostCenter,
			Project:     line.Project,
		})
	}
	return out
}

func reversalDescription(desc, number string) string {
	if desc != "" {
		return desc
	}
	return fmt.Sprintf("Reversal of %s", number)
}
