package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/posting"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryRepo struct {
	payments map[int64]*Payment
	nextID   int64
	// insertConflicts makes Insert fail with ErrNumberConflict that many
	// times, simulating a concurrent creator taking the number.
	insertConflicts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{payments: make(map[int64]*Payment)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return *p, nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.InvoiceID != 0 && p.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *memoryRepo) PostedTotal(ctx context.Context, kind Kind, invoiceID, excludeID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range r.payments {
		if p.Kind == kind && p.InvoiceID == invoiceID && p.Status == StatusPosted && p.ID != excludeID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (r *memoryRepo) ListUnsynced(ctx context.Context, limit int) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.Status == StatusPosted && p.FinancialStatus == FinancialPending {
			out = append(out, *p)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Payment, error) {
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) NextSeq(ctx context.Context, year int) (int, error) {
	return len(t.repo.payments) + 1, nil
}

func (t *memoryTx) Insert(ctx context.Context, p Payment) (Payment, error) {
	if t.repo.insertConflicts > 0 {
		t.repo.insertConflicts--
		return Payment{}, ErrNumberConflict
	}
	t.repo.nextID++
	p.ID = t.repo.nextID
	stored := p
	t.repo.payments[p.ID] = &stored
	return p, nil
}

func (t *memoryTx) Update(ctx context.Context, p Payment) error {
	if _, ok := t.repo.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	stored := p
	t.repo.payments[p.ID] = &stored
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, id int64) error {
	if _, ok := t.repo.payments[id]; !ok {
		return ErrPaymentNotFound
	}
	delete(t.repo.payments, id)
	return nil
}

type stubSource struct {
	invoices   map[int64]PayableInvoice
	recomputed []int64
}

func newStubSource() *stubSource {
	return &stubSource{invoices: make(map[int64]PayableInvoice)}
}

func (s *stubSource) add(id int64, number string, total string, open bool) {
	s.invoices[id] = PayableInvoice{ID: id, Number: number, PartyID: 3, Total: dec(total), Open: open}
}

func (s *stubSource) PayableInvoice(ctx context.Context, id int64) (PayableInvoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return PayableInvoice{}, ErrInvoiceClosed
	}
	return inv, nil
}

func (s *stubSource) RecomputePaymentStatus(ctx context.Context, invoiceID int64) error {
	s.recomputed = append(s.recomputed, invoiceID)
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

func newTestService(repo *memoryRepo, postings *stubPosting, source *stubSource, cfg Config) *Service {
	service := NewService(repo, postings, source, source, nil, cfg)
	service.WithNow(func() time.Time {
		return time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	})
	return service
}

func saleInput(invoiceID int64, amount string) Input {
	return Input{
		Kind:               KindSale,
		InvoiceID:          invoiceID,
		Date:               time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
		Amount:             dec(amount),
		Method:             MethodBankTransfer,
		FinancialAccountID: 12,
		ActorID:            7,
	}
}

func TestCreateAssignsNumberAndParty(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	service := newTestService(repo, &stubPosting{}, source, Config{})

	payment, err := service.Create(context.Background(), saleInput(1, "50"))
	require.NoError(t, err)
	require.Equal(t, "PAY-25-0001", payment.Number)
	require.Equal(t, StatusDraft, payment.Status)
	require.Equal(t, FinancialPending, payment.FinancialStatus)
	require.Equal(t, int64(3), payment.PartyID)
}

func TestCreateRetriesNumberConflictOnly(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	service := newTestService(repo, &stubPosting{}, source, Config{})

	repo.insertConflicts = 1
	payment, err := service.Create(context.Background(), saleInput(1, "50"))
	require.NoError(t, err)
	require.NotEmpty(t, payment.Number)
	require.Zero(t, repo.insertConflicts)

	// a validation failure is final, not retried
	bad := saleInput(1, "0")
	_, err = service.Create(context.Background(), bad)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateRejectsClosedInvoice(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", false)
	service := newTestService(repo, &stubPosting{}, source, Config{})

	_, err := service.Create(context.Background(), saleInput(1, "50"))
	require.ErrorIs(t, err, ErrInvoiceClosed)
}

func TestPostBooksJournalAgainstFinancialAccount(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings, source, Config{})

	payment, err := service.Create(context.Background(), saleInput(1, "150"))
	require.NoError(t, err)
	posted, err := service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Equal(t, FinancialSynced, posted.FinancialStatus)
	require.NotNil(t, posted.JournalEntryID)

	require.Len(t, postings.posted, 1)
	recipe := postings.posted[0]
	require.Equal(t, "SALE_PAYMENT", recipe.RefType)
	require.Equal(t, int64(12), recipe.Lines[0].DebitAccountID)
	require.True(t, recipe.Lines[0].Amount.Equal(dec("150")))

	require.Equal(t, []int64{1}, source.recomputed)
}

func TestPostRefusesOverpayment(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "100", true)
	service := newTestService(repo, &stubPosting{}, source, Config{})

	first, err := service.Create(context.Background(), saleInput(1, "80"))
	require.NoError(t, err)
	_, err = service.Post(context.Background(), first.ID, 7)
	require.NoError(t, err)

	second, err := service.Create(context.Background(), saleInput(1, "30"))
	require.NoError(t, err)
	_, err = service.Post(context.Background(), second.ID, 7)
	require.ErrorIs(t, err, ErrOverpayment)

	// exactly the remaining balance is fine
	third, err := service.Create(context.Background(), saleInput(1, "20"))
	require.NoError(t, err)
	posted, err := service.Post(context.Background(), third.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
}

func TestPostAllowsOverpaymentWhenConfigured(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "100", true)
	service := newTestService(repo, &stubPosting{}, source, Config{AllowOverpayment: true})

	payment, err := service.Create(context.Background(), saleInput(1, "130"))
	require.NoError(t, err)
	_, err = service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
}

func TestPostJournalFailureRevertsToDraft(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	postings := &stubPosting{fail: ledger.ErrPeriodClosed}
	service := newTestService(repo, postings, source, Config{})

	payment, err := service.Create(context.Background(), saleInput(1, "150"))
	require.NoError(t, err)
	failed, err := service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, failed.Status)
	require.Equal(t, FinancialFailed, failed.FinancialStatus)
	require.NotNil(t, failed.FinancialError)
	require.Nil(t, failed.JournalEntryID)

	// once the period reopens the caller posts again
	postings.fail = nil
	posted, err := service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Equal(t, FinancialSynced, posted.FinancialStatus)
	require.Nil(t, posted.FinancialError)
	require.NotNil(t, posted.JournalEntryID)
}

func TestFailedPaymentDoesNotCountTowardInvoice(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	postings := &stubPosting{fail: ledger.ErrPeriodClosed}
	service := newTestService(repo, postings, source, Config{})

	first, err := service.Create(context.Background(), saleInput(1, "100"))
	require.NoError(t, err)
	failed, err := service.Post(context.Background(), first.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, failed.Status)

	// with the unjournalled payment out of the posted total, a second
	// payment of the same amount clears the overpayment guard
	postings.fail = nil
	second, err := service.Create(context.Background(), saleInput(1, "100"))
	require.NoError(t, err)
	posted, err := service.Post(context.Background(), second.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)

	total, err := repo.PostedTotal(context.Background(), KindSale, 1, 0)
	require.NoError(t, err)
	require.True(t, total.Equal(dec("100")))
}

func TestUnpostReversesAndBumpsRevision(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings, source, Config{})

	payment, err := service.Create(context.Background(), saleInput(1, "150"))
	require.NoError(t, err)
	posted, err := service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	firstRef := postings.posted[0].RefID

	unposted, err := service.Unpost(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, unposted.Status)
	require.Equal(t, FinancialPending, unposted.FinancialStatus)
	require.Equal(t, 1, unposted.Revision)
	require.Nil(t, unposted.JournalEntryID)
	require.Equal(t, []int64{*posted.JournalEntryID}, postings.reversed)

	// the re-post must carry a fresh ledger reference
	_, err = service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	require.NotEqual(t, firstRef, postings.posted[1].RefID)
	require.NotEqual(t, uuid.Nil, postings.posted[1].RefID)
}

func TestEditPostedGatedByPolicy(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	service := newTestService(repo, &stubPosting{}, source, Config{})

	payment, err := service.Create(context.Background(), saleInput(1, "150"))
	require.NoError(t, err)
	_, err = service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)

	_, err = service.EditPosted(context.Background(), payment.ID, saleInput(1, "100"), 7)
	require.ErrorIs(t, err, ErrEditForbidden)
}

func TestEditPolicyFromPredicateConsultsContextActor(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	postings := &stubPosting{}
	predicate := func(ctx context.Context, actor shared.Actor, action string) bool {
		return action == ActionEditPosted && actor.Name == "controller"
	}
	cfg := Config{EditPosted: EditPolicyFromPredicate(predicate)}
	service := newTestService(repo, postings, source, cfg)

	payment, err := service.Create(context.Background(), saleInput(1, "150"))
	require.NoError(t, err)
	_, err = service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)

	// an anonymous context falls back to the bare actor ID, which this
	// predicate refuses
	_, err = service.EditPosted(context.Background(), payment.ID, saleInput(1, "100"), 7)
	require.ErrorIs(t, err, ErrEditForbidden)

	ctx := shared.ContextWithActor(context.Background(), shared.Actor{ID: 7, Name: "controller"})
	edited, err := service.EditPosted(ctx, payment.ID, saleInput(1, "100"), 7)
	require.NoError(t, err)
	require.True(t, edited.Amount.Equal(dec("100")))
}

func TestEditPostedReappliesWithNewAmount(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	postings := &stubPosting{}
	cfg := Config{EditPosted: func(ctx context.Context, actorID int64) bool { return actorID == 7 }}
	service := newTestService(repo, postings, source, cfg)

	payment, err := service.Create(context.Background(), saleInput(1, "150"))
	require.NoError(t, err)
	posted, err := service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)

	edited, err := service.EditPosted(context.Background(), payment.ID, saleInput(1, "100"), 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, edited.Status)
	require.True(t, edited.Amount.Equal(dec("100")))
	require.Equal(t, 1, edited.Revision)
	require.Equal(t, []int64{*posted.JournalEntryID}, postings.reversed)
	require.Len(t, postings.posted, 2)
	require.True(t, postings.posted[1].Lines[0].Amount.Equal(dec("100")))
}

func TestDeleteDraftOnly(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "150", true)
	service := newTestService(repo, &stubPosting{}, source, Config{})

	payment, err := service.Create(context.Background(), saleInput(1, "50"))
	require.NoError(t, err)
	_, err = service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	require.ErrorIs(t, service.Delete(context.Background(), payment.ID, 7), ErrInvalidStatus)

	draft, err := service.Create(context.Background(), saleInput(1, "10"))
	require.NoError(t, err)
	require.NoError(t, service.Delete(context.Background(), draft.ID, 7))
}

func TestSyncOutstandingRetriesPendingPayments(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "500", true)
	postings := &stubPosting{}
	service := newTestService(repo, postings, source, Config{})

	// posted payments whose journal outcome was never stored
	for i, amount := range []string{"100", "200"} {
		id := int64(i + 1)
		repo.payments[id] = &Payment{
			ID: id, Kind: KindSale, InvoiceID: 1, PartyID: 3,
			Number: PaymentNumber(2025, i+1), Amount: dec(amount),
			FinancialAccountID: 12, Status: StatusPosted,
			FinancialStatus: FinancialPending, CreatedBy: 7,
		}
		repo.nextID = id
	}

	synced, failed, err := service.SyncOutstanding(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, synced)
	require.Zero(t, failed)

	for _, p := range repo.payments {
		require.Equal(t, FinancialSynced, p.FinancialStatus)
		require.NotNil(t, p.JournalEntryID)
	}
}

func TestSyncOutstandingSkipsFailedDrafts(t *testing.T) {
	repo := newMemoryRepo()
	source := newStubSource()
	source.add(1, "SI-25-0001", "500", true)
	postings := &stubPosting{fail: ledger.ErrPeriodClosed}
	service := newTestService(repo, postings, source, Config{})

	payment, err := service.Create(context.Background(), saleInput(1, "100"))
	require.NoError(t, err)
	failed, err := service.Post(context.Background(), payment.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, failed.Status)
	require.Equal(t, FinancialFailed, failed.FinancialStatus)

	postings.fail = nil
	synced, failedCount, err := service.SyncOutstanding(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, synced)
	require.Zero(t, failedCount)
	require.Empty(t, postings.posted)
	require.Equal(t, StatusDraft, repo.payments[payment.ID].Status)
}
