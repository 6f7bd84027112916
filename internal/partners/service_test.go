package partners

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/posting"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryRepo struct {
	partners     map[int64]*Partner
	transactions map[int64]*Transaction
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		partners:     make(map[int64]*Partner),
		transactions: make(map[int64]*Transaction),
	}
}

func (r *memoryRepo) addPartner(id int64, balance string, active bool) {
	r.partners[id] = &Partner{ID: id, Code: "P" + decimal.NewFromInt(id).String(), Name: "Partner", Balance: dec(balance), IsActive: active}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Partner, error) {
	p, ok := r.partners[id]
	if !ok {
		return Partner{}, ErrPartnerNotFound
	}
	return *p, nil
}

func (r *memoryRepo) List(ctx context.Context, activeOnly bool) ([]Partner, error) {
	var out []Partner
	for _, p := range r.partners {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *memoryRepo) Insert(ctx context.Context, p Partner) (Partner, error) {
	for _, existing := range r.partners {
		if existing.Code == p.Code {
			return Partner{}, ErrDuplicateCode
		}
	}
	r.nextID++
	p.ID = r.nextID
	r.partners[p.ID] = &p
	return p, nil
}

func (r *memoryRepo) SetActive(ctx context.Context, id int64, active bool) error {
	p, ok := r.partners[id]
	if !ok {
		return ErrPartnerNotFound
	}
	p.IsActive = active
	return nil
}

func (r *memoryRepo) Transactions(ctx context.Context, partnerID int64, limit int) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.transactions {
		if t.PartnerID == partnerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t, ok := r.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return *t, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) AdjustBalance(ctx context.Context, partnerID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	p, ok := t.repo.partners[partnerID]
	if !ok {
		return decimal.Zero, ErrPartnerNotFound
	}
	if !p.IsActive {
		return decimal.Zero, ErrInactivePartner
	}
	next := p.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientEquity
	}
	p.Balance = next
	return next, nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	t.repo.nextID++
	txn.ID = t.repo.nextID
	t.repo.transactions[txn.ID] = &txn
	return txn, nil
}

func (t *memoryTx) LinkJournal(ctx context.Context, transactionID, entryID int64) error {
	txn, ok := t.repo.transactions[transactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	txn.JournalEntryID = &entryID
	return nil
}

func (t *memoryTx) DeleteTransaction(ctx context.Context, transactionID int64) error {
	delete(t.repo.transactions, transactionID)
	return nil
}

type stubPosting struct {
	posted   []posting.Recipe
	reversed []int64
	fail     error
	nextID   int64
}

func (s *stubPosting) Post(ctx context.Context, recipe posting.Recipe) (ledger.JournalEntry, error) {
	if s.fail != nil {
		return ledger.JournalEntry{}, s.fail
	}
	s.nextID++
	s.posted = append(s.posted, recipe)
	return ledger.JournalEntry{ID: s.nextID, Status: ledger.EntryStatusPosted}, nil
}

func (s *stubPosting) ReverseDocument(ctx context.Context, entryID, actorID int64, description string) (ledger.JournalEntry, error) {
	s.reversed = append(s.reversed, entryID)
	s.nextID++
	return ledger.JournalEntry{ID: s.nextID, Status: ledger.EntryStatusPosted}, nil
}

func newTestService(repo *memoryRepo, postings *stubPosting) *Service {
	service := NewService(repo, postings, nil)
	service.WithNow(func() time.Time {
		return time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	})
	return service
}

func contribution(partnerID int64, amount string) TransactionInput {
	return TransactionInput{
		PartnerID: partnerID,
		Type:      TypeContribution,
		Date:      time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
		Amount:    dec(amount),
		ActorID:   1,
	}
}

func withdrawal(partnerID int64, amount string) TransactionInput {
	in := contribution(partnerID, amount)
	in.Type = TypeWithdrawal
	return in
}

func TestRecordContribution(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "0", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	txn, err := service.Record(context.Background(), contribution(1, "5000"))
	require.NoError(t, err)
	require.NotNil(t, txn.JournalEntryID)
	require.True(t, repo.partners[1].Balance.Equal(dec("5000")))

	require.Len(t, postings.posted, 1)
	require.Equal(t, "PARTNER_CONTRIBUTION", postings.posted[0].RefType)
	require.Equal(t, int64(1), postings.posted[0].EntityID)

	stored, err := repo.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, *txn.JournalEntryID, *stored.JournalEntryID)
}

func TestRecordWithdrawal(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "5000", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	_, err := service.Record(context.Background(), withdrawal(1, "2000"))
	require.NoError(t, err)
	require.True(t, repo.partners[1].Balance.Equal(dec("3000")))
	require.Equal(t, "PARTNER_WITHDRAWAL", postings.posted[0].RefType)
}

func TestRecordLoan(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "0", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	in := contribution(1, "10000")
	in.Type = TypeLoan
	_, err := service.Record(context.Background(), in)
	require.NoError(t, err)
	require.True(t, repo.partners[1].Balance.Equal(dec("10000")))
	require.Equal(t, "PARTNER_LOAN", postings.posted[0].RefType)
}

func TestWithdrawalExceedingBalanceRefused(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "1000", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	_, err := service.Record(context.Background(), withdrawal(1, "1000.01"))
	require.ErrorIs(t, err, ErrInsufficientEquity)
	require.True(t, repo.partners[1].Balance.Equal(dec("1000")))
	require.Empty(t, repo.transactions)
	require.Empty(t, postings.posted)
}

func TestRecordRefusedForInactivePartner(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "0", false)
	service := newTestService(repo, &stubPosting{})

	_, err := service.Record(context.Background(), contribution(1, "100"))
	require.ErrorIs(t, err, ErrInactivePartner)
}

func TestJournalFailureRollsBackBalanceAndRow(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "500", true)
	postings := &stubPosting{fail: ledger.ErrPeriodClosed}
	service := newTestService(repo, postings)

	_, err := service.Record(context.Background(), contribution(1, "300"))
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)
	require.True(t, repo.partners[1].Balance.Equal(dec("500")))
	require.Empty(t, repo.transactions)
}

func TestReverseContribution(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "0", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	txn, err := service.Record(context.Background(), contribution(1, "800"))
	require.NoError(t, err)
	entryID := *txn.JournalEntryID

	require.NoError(t, service.Reverse(context.Background(), txn.ID, 1))
	require.Equal(t, []int64{entryID}, postings.reversed)
	require.True(t, repo.partners[1].Balance.IsZero())
	require.Empty(t, repo.transactions)
}

func TestReverseLoanRestoresBalanceToZero(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "0", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	in := contribution(1, "10000")
	in.Type = TypeLoan
	txn, err := service.Record(context.Background(), in)
	require.NoError(t, err)
	require.True(t, repo.partners[1].Balance.Equal(dec("10000")))

	require.NoError(t, service.Reverse(context.Background(), txn.ID, 1))
	require.True(t, repo.partners[1].Balance.IsZero())
	require.Empty(t, repo.transactions)
}

func TestReverseWithdrawalRestoresBalance(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "5000", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	txn, err := service.Record(context.Background(), withdrawal(1, "2000"))
	require.NoError(t, err)
	require.True(t, repo.partners[1].Balance.Equal(dec("3000")))

	require.NoError(t, service.Reverse(context.Background(), txn.ID, 1))
	require.True(t, repo.partners[1].Balance.Equal(dec("5000")))
}

func TestReverseContributionRefusedWhenEquityDrained(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPartner(1, "1000", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings)

	txn, err := service.Record(context.Background(), contribution(1, "500"))
	require.NoError(t, err)
	_, err = service.Record(context.Background(), withdrawal(1, "1400"))
	require.NoError(t, err)

	err = service.Reverse(context.Background(), txn.ID, 1)
	require.ErrorIs(t, err, ErrInsufficientEquity)
	require.Empty(t, postings.reversed)
	require.Len(t, repo.transactions, 2)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	repo := newMemoryRepo()
	service := newTestService(repo, &stubPosting{})

	_, err := service.Create(context.Background(), Partner{Code: "P1", Name: "First"})
	require.NoError(t, err)
	_, err = service.Create(context.Background(), Partner{Code: "P1", Name: "Second"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestRecordValidation(t *testing.T) {
	service := newTestService(newMemoryRepo(), &stubPosting{})

	_, err := service.Record(context.Background(), contribution(1, "0"))
	require.ErrorIs(t, err, ErrValidation)

	in := contribution(1, "100")
	in.Type = "BONUS"
	_, err = service.Record(context.Background(), in)
	require.ErrorIs(t, err, ErrValidation)
}
