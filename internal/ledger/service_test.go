package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	periods  []Period
	accounts map[int64]AccountRef
	entries  map[int64]*JournalEntry
	links    map[string]int64
	nextID   int64
	// forcedSeqs makes NextEntrySeq hand out stale numbers, simulating a
	// concurrent creator winning the allocation race.
	forcedSeqs []int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: map[int64]AccountRef{},
		entries:  map[int64]*JournalEntry{},
		links:    map[string]int64{},
	}
}

func (r *memoryRepo) addAccount(id int64, code string) {
	r.accounts[id] = AccountRef{ID: id, Code: code, IsLeaf: true, IsActive: true}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	if e, ok := r.entries[entryID]; ok {
		return *e, nil
	}
	return JournalEntry{}, ErrEntryNotFound
}

func (r *memoryRepo) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) FindPeriodForDate(ctx context.Context, date time.Time) (Period, error) {
	for _, p := range tx.repo.periods {
		if !date.Before(p.StartDate) && !date.After(p.EndDate) {
			return p, nil
		}
	}
	return Period{}, ErrNoOpenPeriod
}

func (tx *memoryTx) InsertCalendarYearPeriod(ctx context.Context, year int) (Period, error) {
	p := Period{
		ID:        int64(len(tx.repo.periods) + 1),
		Name:      fmt.Sprintf("%d", year),
		StartDate: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:    PeriodStatusOpen,
	}
	tx.repo.periods = append(tx.repo.periods, p)
	return p, nil
}

func (tx *memoryTx) GetAccountRef(ctx context.Context, accountID int64) (AccountRef, error) {
	if ref, ok := tx.repo.accounts[accountID]; ok {
		return ref, nil
	}
	return AccountRef{}, ErrAccountNotFound
}

func (tx *memoryTx) NextEntrySeq(ctx context.Context, year int) (int, error) {
	if len(tx.repo.forcedSeqs) > 0 {
		seq := tx.repo.forcedSeqs[0]
		tx.repo.forcedSeqs = tx.repo.forcedSeqs[1:]
		return seq, nil
	}
	prefix := EntryNumber(year, 0)
	prefix = prefix[:len(prefix)-4]
	max := 0
	for _, e := range tx.repo.entries {
		var seq int
		if _, err := fmt.Sscanf(e.Number, prefix+"%04d", &seq); err == nil && seq > max {
			max = seq
		}
	}
	return max + 1, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, in EntryInput, periodID int64, number string) (JournalEntry, error) {
	for _, e := range tx.repo.entries {
		if e.Number == number {
			return JournalEntry{}, ErrNumberConflict
		}
	}
	tx.repo.nextID++
	entry := JournalEntry{
		ID:          tx.repo.nextID,
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
	stored := entry
	tx.repo.entries[entry.ID] = &stored
	return entry, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	tx.repo.entries[entryID].Lines = toJournalLines(entryID, lines)
	return nil
}

func linkKey(refType string, refID uuid.UUID) string {
	return refType + ":" + refID.String()
}

func (tx *memoryTx) LinkSource(ctx context.Context, refType string, refID uuid.UUID, entryID int64) error {
	key := linkKey(refType, refID)
	if _, exists := tx.repo.links[key]; exists {
		return ErrDuplicatePosting
	}
	tx.repo.links[key] = entryID
	return nil
}

func (tx *memoryTx) DeleteSource(ctx context.Context, refType string, refID uuid.UUID) error {
	delete(tx.repo.links, linkKey(refType, refID))
	return nil
}

func (tx *memoryTx) GetEntryWithLinesForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	if e, ok := tx.repo.entries[entryID]; ok {
		return *e, nil
	}
	return JournalEntry{}, ErrEntryNotFound
}

func (tx *memoryTx) MarkPosted(ctx context.Context, entryID int64, at time.Time, by int64) error {
	e, ok := tx.repo.entries[entryID]
	if !ok || e.Status != EntryStatusDraft {
		return ErrInvalidStatus
	}
	e.Status = EntryStatusPosted
	e.PostedAt = &at
	e.PostedBy = &by
	return nil
}

func (tx *memoryTx) MarkCancelled(ctx context.Context, entryID int64) error {
	e, ok := tx.repo.entries[entryID]
	if !ok || e.Status != EntryStatusDraft {
		return ErrInvalidStatus
	}
	e.Status = EntryStatusCancelled
	return nil
}

func (tx *memoryTx) DeleteEntry(ctx context.Context, entryID int64) error {
	delete(tx.repo.entries, entryID)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openPeriod(r *memoryRepo, year int) {
	r.periods = append(r.periods, Period{
		ID:        int64(len(r.periods) + 1),
		Name:      fmt.Sprintf("%d", year),
		StartDate: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:    PeriodStatusOpen,
	})
}

func balancedInput(date time.Time) EntryInput {
	return EntryInput{
		Date:        date,
		Type:        EntryTypeManual,
		Description: "opening balance",
		ActorID:     7,
		Lines: []LineInput{
			{AccountID: 1, Debit: dec("1000.00")},
			{AccountID: 2, Credit: dec("1000.00")},
		},
	}
}

func TestCreateEntryRejectsUnbalanced(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "41010")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	input := EntryInput{
		Date:    time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		Type:    EntryTypeManual,
		ActorID: 7,
		Lines: []LineInput{
			{AccountID: 1, Debit: dec("100.00")},
			{AccountID: 2, Credit: dec("90.00")},
		},
	}
	_, err := svc.CreateEntry(context.Background(), input)
	require.ErrorIs(t, err, ErrUnbalanced)
	require.Empty(t, repo.entries)
}

func TestCreateEntryRejectsBothSidesSet(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	svc := NewService(repo, nil, nil, ServiceConfig{})

	input := balancedInput(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	input.Lines[0].Credit = dec("10.00")
	_, err := svc.CreateEntry(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateEntryRejectsClosedPeriod(t *testing.T) {
	repo := newMemoryRepo()
	repo.periods = append(repo.periods, Period{
		ID:        1,
		Name:      "2024",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:    PeriodStatusClosed,
	})
	repo.addAccount(1, "1001")
	repo.addAccount(2, "3001")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	_, err := svc.CreateEntry(context.Background(), balancedInput(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.ErrorIs(t, err, ErrPeriodClosed)
	require.Empty(t, repo.entries)
}

func TestCreateEntryMissingPeriodPolicy(t *testing.T) {
	repo := newMemoryRepo()
	repo.addAccount(1, "1001")
	repo.addAccount(2, "3001")
	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	svc := NewService(repo, nil, nil, ServiceConfig{})
	_, err := svc.CreateEntry(context.Background(), balancedInput(date))
	require.ErrorIs(t, err, ErrNoOpenPeriod)

	auto := NewService(repo, nil, nil, ServiceConfig{AutoCreatePeriods: true})
	entry, err := auto.CreateEntry(context.Background(), balancedInput(date))
	require.NoError(t, err)
	require.Equal(t, "JE-25-0001", entry.Number)
	require.Len(t, repo.periods, 1)
}

func TestCreateEntryRejectsUnpostableAccounts(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(2, "3001")
	repo.accounts[1] = AccountRef{ID: 1, Code: "1000", IsLeaf: false, IsActive: true}
	svc := NewService(repo, nil, nil, ServiceConfig{})

	_, err := svc.CreateEntry(context.Background(), balancedInput(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.ErrorIs(t, err, ErrNonLeafAccount)

	repo.accounts[1] = AccountRef{ID: 1, Code: "1000", IsLeaf: true, IsActive: false}
	_, err = svc.CreateEntry(context.Background(), balancedInput(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.ErrorIs(t, err, ErrInactiveAccount)
}

func TestEntryNumbersAreSequentialPerYear(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "3001")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	first, err := svc.CreateEntry(context.Background(), balancedInput(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	second, err := svc.CreateEntry(context.Background(), balancedInput(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.Equal(t, "JE-25-0001", first.Number)
	require.Equal(t, "JE-25-0002", second.Number)
}

func TestDuplicateDocumentPostingFails(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "41010")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	input := balancedInput(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	input.RefType = "SALE"
	input.RefID = uuid.NewSHA1(uuid.Nil, []byte("SALE:42"))
	input.AutoPost = true

	_, err := svc.CreateEntry(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.CreateEntry(context.Background(), input)
	require.ErrorIs(t, err, ErrDuplicatePosting)
}

func TestPostLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "3001")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	entry, err := svc.CreateEntry(context.Background(), balancedInput(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.Equal(t, EntryStatusDraft, entry.Status)

	posted, err := svc.Post(context.Background(), entry.ID, 9)
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)
	require.EqualValues(t, 9, *posted.PostedBy)

	// Posting twice is not a legal transition.
	_, err = svc.Post(context.Background(), entry.ID, 9)
	require.ErrorIs(t, err, ErrInvalidStatus)

	// Posted entries cannot be cancelled or hard-deleted.
	_, err = svc.Cancel(context.Background(), entry.ID, 9)
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.ErrorIs(t, svc.DeleteDraft(context.Background(), entry.ID), ErrInvalidStatus)
}

func TestReverseSymmetry(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "41010")
	svc := NewService(repo, nil, nil, ServiceConfig{})
	svc.WithNow(func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) })

	input := balancedInput(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	input.AutoPost = true
	original, err := svc.CreateEntry(context.Background(), input)
	require.NoError(t, err)

	reversal, err := svc.Reverse(context.Background(), ReverseInput{EntryID: original.ID, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, EntryTypeAdjustment, reversal.Type)
	require.Equal(t, EntryStatusPosted, reversal.Status)
	// Reversal carries the reversal date, not the original date.
	require.Equal(t, time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC), reversal.Date)

	// Per-account net of original plus reversal is zero.
	perAccount := map[int64]decimal.Decimal{}
	for _, line := range append(original.Lines, reversal.Lines...) {
		perAccount[line.AccountID] = perAccount[line.AccountID].Add(line.Debit).Sub(line.Credit)
	}
	for accountID, net := range perAccount {
		require.True(t, net.IsZero(), "account %d net %s", accountID, net)
	}

	// A second reversal of the same entry is refused.
	_, err = svc.Reverse(context.Background(), ReverseInput{EntryID: original.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrDuplicatePosting)
}

func TestReverseRetriesNumberConflict(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "41010")
	svc := NewService(repo, nil, nil, ServiceConfig{})
	svc.WithNow(func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) })

	input := balancedInput(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	input.AutoPost = true
	original, err := svc.CreateEntry(context.Background(), input)
	require.NoError(t, err)

	// a stale allocation collides with the original's number once, then
	// the retry picks up the real sequence
	repo.forcedSeqs = []int{1}
	reversal, err := svc.Reverse(context.Background(), ReverseInput{EntryID: original.ID, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, "JE-25-0002", reversal.Number)
	require.Equal(t, EntryStatusPosted, reversal.Status)
}

func TestReverseRequiresPostedEntry(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "3001")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	draft, err := svc.CreateEntry(context.Background(), balancedInput(time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = svc.Reverse(context.Background(), ReverseInput{EntryID: draft.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelReleasesDocumentLink(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "41010")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	input := balancedInput(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	input.RefType = "SALE"
	input.RefID = uuid.NewSHA1(uuid.Nil, []byte("SALE:7"))

	draft, err := svc.CreateEntry(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), draft.ID, 9)
	require.NoError(t, err)

	// The document may be posted again once its draft was cancelled.
	_, err = svc.CreateEntry(context.Background(), input)
	require.NoError(t, err)
}

func TestDeleteDraft(t *testing.T) {
	repo := newMemoryRepo()
	openPeriod(repo, 2025)
	repo.addAccount(1, "1001")
	repo.addAccount(2, "3001")
	svc := NewService(repo, nil, nil, ServiceConfig{})

	draft, err := svc.CreateEntry(context.Background(), balancedInput(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteDraft(context.Background(), draft.ID))
	_, err = svc.GetEntry(context.Background(), draft.ID)
	require.ErrorIs(t, err, ErrEntryNotFound)
}
