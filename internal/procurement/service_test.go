package procurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantage-erp/vantage-erp/internal/inventory"
	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/ledger/acctcfg"
	"github.com/vantage-erp/vantage-erp/internal/posting"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryRepo struct {
	invoices     map[int64]*Invoice
	lines        map[int64][]InvoiceLine
	suppliers    map[int64]*Supplier
	paymentTotal map[int64]decimal.Decimal
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:     make(map[int64]*Invoice),
		lines:        make(map[int64][]InvoiceLine),
		suppliers:    make(map[int64]*Supplier),
		paymentTotal: make(map[int64]decimal.Decimal),
	}
}

func (r *memoryRepo) addSupplier(id int64, code string, active bool) {
	r.suppliers[id] = &Supplier{ID: id, Code: code, Name: code, IsActive: active}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	out := *inv
	out.Lines = append([]InvoiceLine(nil), r.lines[id]...)
	return out, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if filter.SupplierID != 0 && inv.SupplierID != filter.SupplierID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (r *memoryRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, ok := r.suppliers[id]
	if !ok {
		return Supplier{}, ErrSupplierNotFound
	}
	return *s, nil
}

func (r *memoryRepo) ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error) {
	var out []Supplier
	for _, s := range r.suppliers {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *memoryRepo) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	r.nextID++
	s.ID = r.nextID
	r.suppliers[s.ID] = &s
	return s, nil
}

func (r *memoryRepo) UpdateSupplier(ctx context.Context, s Supplier) error {
	if _, ok := r.suppliers[s.ID]; !ok {
		return ErrSupplierNotFound
	}
	r.suppliers[s.ID] = &s
	return nil
}

func (r *memoryRepo) PostedPaymentTotal(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	return r.paymentTotal[invoiceID], nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := t.repo.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return *inv, nil
}

func (t *memoryTx) NextInvoiceSeq(ctx context.Context, year int) (int, error) {
	max := 0
	for _, inv := range t.repo.invoices {
		if inv.Date.Year() != year {
			continue
		}
		var seq int
		fmt.Sscanf(inv.Number[6:], "%d", &seq)
		if seq > max {
			max = seq
		}
	}
	return max + 1, nil
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	for _, existing := range t.repo.invoices {
		if existing.Number == inv.Number {
			return Invoice{}, ErrNumberConflict
		}
	}
	t.repo.nextID++
	inv.ID = t.repo.nextID
	stored := inv
	t.repo.invoices[inv.ID] = &stored
	return inv, nil
}

func (t *memoryTx) UpdateInvoice(ctx context.Context, inv Invoice) error {
	if _, ok := t.repo.invoices[inv.ID]; !ok {
		return ErrInvoiceNotFound
	}
	stored := inv
	stored.Lines = nil
	t.repo.invoices[inv.ID] = &stored
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	t.repo.lines[invoiceID] = append([]InvoiceLine(nil), lines...)
	return nil
}

func (t *memoryTx) SetPaymentStatus(ctx context.Context, invoiceID int64, status PaymentStatus) error {
	inv, ok := t.repo.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.PaymentStatus = status
	return nil
}

func (t *memoryTx) DeleteInvoice(ctx context.Context, id int64) error {
	if _, ok := t.repo.invoices[id]; !ok {
		return ErrInvoiceNotFound
	}
	delete(t.repo.invoices, id)
	delete(t.repo.lines, id)
	return nil
}

type stockKey struct {
	product, warehouse int64
}

type stubStock struct {
	qty    map[stockKey]decimal.Decimal
	moves  []inventory.Movement
	links  map[int64]int64
	nextID int64
}

func newStubStock() *stubStock {
	return &stubStock{
		qty:   make(map[stockKey]decimal.Decimal),
		links: make(map[int64]int64),
	}
}

func (s *stubStock) Receive(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error) {
	key := stockKey{input.ProductID, input.WarehouseID}
	s.qty[key] = s.qty[key].Add(input.Quantity)
	s.nextID++
	movement := inventory.Movement{
		ID:             s.nextID,
		ProductID:      input.ProductID,
		WarehouseID:    input.WarehouseID,
		Type:           inventory.MovementTypeIn,
		Quantity:       input.Quantity,
		UnitCost:       input.UnitCost,
		DocumentType:   input.DocumentType,
		DocumentNumber: input.DocumentNumber,
	}
	s.moves = append(s.moves, movement)
	return movement, nil
}

func (s *stubStock) ReturnOut(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error) {
	key := stockKey{input.ProductID, input.WarehouseID}
	if s.qty[key].LessThan(input.Quantity) {
		return inventory.Movement{}, inventory.ErrInsufficientStock
	}
	s.qty[key] = s.qty[key].Sub(input.Quantity)
	s.nextID++
	movement := inventory.Movement{
		ID:             s.nextID,
		ProductID:      input.ProductID,
		WarehouseID:    input.WarehouseID,
		Type:           inventory.MovementTypeReturnOut,
		Quantity:       input.Quantity.Neg(),
		DocumentType:   input.DocumentType,
		DocumentNumber: input.DocumentNumber,
	}
	s.moves = append(s.moves, movement)
	return movement, nil
}

func (s *stubStock) LinkJournal(ctx context.Context, movementID, journalEntryID int64) error {
	s.links[movementID] = journalEntryID
	return nil
}

type stubPosting struct {
	posted   []posting.Recipe
	reversed []int64
	failOn   string
	nextID   int64
}

func (s *stubPosting) Post(ctx context.Context, recipe posting.Recipe) (ledger.JournalEntry, error) {
	if s.failOn != "" && recipe.RefType == s.failOn {
		return ledger.JournalEntry{}, ledger.ErrPeriodClosed
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

func newTestService(repo *memoryRepo, stock *stubStock, postings *stubPosting, cfg Config) *Service {
	service := NewService(repo, stock, postings, nil, cfg)
	service.WithNow(func() time.Time {
		return time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	})
	return service
}

func draftInput(qty, cost string) InvoiceInput {
	return InvoiceInput{
		SupplierID:  1,
		WarehouseID: 1,
		Date:        time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		ActorID:     7,
		Lines: []LineInput{
			{ProductID: 100, Quantity: dec(qty), UnitCost: dec(cost)},
		},
	}
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	service := newTestService(repo, newStubStock(), &stubPosting{}, Config{})

	first, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)
	require.Equal(t, "PI-25-0001", first.Number)
	require.True(t, first.Total.Equal(dec("50")))

	second, err := service.Create(context.Background(), draftInput("4", "5"))
	require.NoError(t, err)
	require.Equal(t, "PI-25-0002", second.Number)
}

func TestCreateRejectsInactiveSupplier(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", false)
	service := newTestService(repo, newStubStock(), &stubPosting{}, Config{})

	_, err := service.Create(context.Background(), draftInput("1", "5"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestConfirmReceivesStockAndPostsJournal(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	stock := newStubStock()
	postings := &stubPosting{}
	service := newTestService(repo, stock, postings, Config{})

	inv, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)

	confirmed, err := service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.JournalEntryID)
	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("10")))

	require.Len(t, postings.posted, 1)
	recipe := postings.posted[0]
	require.Equal(t, "PURCHASE", recipe.RefType)
	require.Equal(t, acctcfg.RoleInventory, recipe.Lines[0].DebitRole)
	require.Equal(t, acctcfg.RoleSupplierAP, recipe.Lines[0].CreditRole)
	require.True(t, recipe.Lines[0].Amount.Equal(dec("50")))

	// the received movement carries the purchase entry as its back-link
	require.Len(t, stock.moves, 1)
	require.Equal(t, *confirmed.JournalEntryID, stock.links[stock.moves[0].ID])
}

func TestConfirmBooksToExpenseWhenConfigured(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	postings := &stubPosting{}
	service := newTestService(repo, newStubStock(), postings, Config{ExpensePurchases: true})

	inv, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	require.Equal(t, acctcfg.RolePurchases, postings.posted[0].Lines[0].DebitRole)
}

func TestConfirmSpreadsDiscountIntoUnitCost(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	stock := newStubStock()
	service := newTestService(repo, stock, &stubPosting{}, Config{})

	input := draftInput("10", "5")
	input.Lines[0].Discount = dec("5")
	inv, err := service.Create(context.Background(), input)
	require.NoError(t, err)
	require.True(t, inv.Total.Equal(dec("45")))

	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.True(t, stock.moves[0].UnitCost.Equal(dec("4.5")))
}

func TestConfirmCompensatesWhenJournalFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	stock := newStubStock()
	postings := &stubPosting{failOn: "PURCHASE"}
	service := newTestService(repo, stock, postings, Config{})

	inv, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)

	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)
	require.True(t, stock.qty[stockKey{100, 1}].IsZero())

	reloaded, err := service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusDraft, reloaded.Status)
}

func TestCancelReturnsStockAndReversesJournal(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	stock := newStubStock()
	postings := &stubPosting{}
	service := newTestService(repo, stock, postings, Config{})

	inv, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)
	confirmed, err := service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	cancelled, err := service.Cancel(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusCancelled, cancelled.Status)
	require.Equal(t, []int64{*confirmed.JournalEntryID}, postings.reversed)
	require.True(t, stock.qty[stockKey{100, 1}].IsZero())
}

func TestCancelRefusedWhenStockAlreadySold(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	stock := newStubStock()
	postings := &stubPosting{}
	service := newTestService(repo, stock, postings, Config{})

	inv, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	// most of the received goods already went out the door
	stock.qty[stockKey{100, 1}] = dec("3")

	_, err = service.Cancel(context.Background(), inv.ID, 7)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Empty(t, postings.reversed)

	reloaded, err := service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusConfirmed, reloaded.Status)
}

func TestCancelRefusedWithPostedPayments(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	stock := newStubStock()
	service := newTestService(repo, stock, &stubPosting{}, Config{})

	inv, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	repo.paymentTotal[inv.ID] = dec("20")
	_, err = service.Cancel(context.Background(), inv.ID, 7)
	require.ErrorIs(t, err, ErrHasPayments)
}

func TestDeleteDraftOnly(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	service := newTestService(repo, newStubStock(), &stubPosting{}, Config{})

	inv, err := service.Create(context.Background(), draftInput("1", "5"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.ErrorIs(t, service.DeleteDraft(context.Background(), inv.ID, 7), ErrInvalidStatus)

	draft, err := service.Create(context.Background(), draftInput("1", "5"))
	require.NoError(t, err)
	require.NoError(t, service.DeleteDraft(context.Background(), draft.ID, 7))
}

func TestRecomputePaymentStatus(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(1, "SUP-1", true)
	service := newTestService(repo, newStubStock(), &stubPosting{}, Config{})

	inv, err := service.Create(context.Background(), draftInput("10", "5"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	repo.paymentTotal[inv.ID] = dec("30")
	status, err := service.RecomputePaymentStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentStatusPartiallyPaid, status)

	repo.paymentTotal[inv.ID] = dec("50")
	status, err = service.RecomputePaymentStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentStatusPaid, status)
}
