package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantage-erp/vantage-erp/internal/inventory"
	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/posting"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryRepo struct {
	invoices     map[int64]*Invoice
	lines        map[int64][]InvoiceLine
	customers    map[int64]*Customer
	paymentTotal map[int64]decimal.Decimal
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:     make(map[int64]*Invoice),
		lines:        make(map[int64][]InvoiceLine),
		customers:    make(map[int64]*Customer),
		paymentTotal: make(map[int64]decimal.Decimal),
	}
}

func (r *memoryRepo) addCustomer(id int64, code string, active bool) {
	r.customers[id] = &Customer{ID: id, Code: code, Name: code, IsActive: active}
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
		if filter.CustomerID != 0 && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (r *memoryRepo) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return *c, nil
}

func (r *memoryRepo) GetCustomerByCode(ctx context.Context, code string) (Customer, error) {
	for _, c := range r.customers {
		if c.Code == code {
			return *c, nil
		}
	}
	return Customer{}, ErrCustomerNotFound
}

func (r *memoryRepo) ListCustomers(ctx context.Context, activeOnly bool) ([]Customer, error) {
	var out []Customer
	for _, c := range r.customers {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *memoryRepo) InsertCustomer(ctx context.Context, c Customer) (Customer, error) {
	r.nextID++
	c.ID = r.nextID
	r.customers[c.ID] = &c
	return c, nil
}

func (r *memoryRepo) UpdateCustomer(ctx context.Context, c Customer) error {
	if _, ok := r.customers[c.ID]; !ok {
		return ErrCustomerNotFound
	}
	r.customers[c.ID] = &c
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

// stubStock mimics the inventory service's quantity and average-cost
// behavior closely enough to observe compensation.
type stubStock struct {
	qty      map[stockKey]decimal.Decimal
	avgCost  map[stockKey]decimal.Decimal
	allowNeg bool
	moves    []inventory.Movement
	links    map[int64]int64
	nextID   int64
}

func newStubStock() *stubStock {
	return &stubStock{
		qty:     make(map[stockKey]decimal.Decimal),
		avgCost: make(map[stockKey]decimal.Decimal),
		links:   make(map[int64]int64),
	}
}

func (s *stubStock) seed(productID, warehouseID int64, qty, cost decimal.Decimal) {
	key := stockKey{productID, warehouseID}
	s.qty[key] = qty
	s.avgCost[key] = cost
}

func (s *stubStock) Issue(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error) {
	key := stockKey{input.ProductID, input.WarehouseID}
	if !s.allowNeg && s.qty[key].LessThan(input.Quantity) {
		return inventory.Movement{}, inventory.ErrInsufficientStock
	}
	s.qty[key] = s.qty[key].Sub(input.Quantity)
	s.nextID++
	movement := inventory.Movement{
		ID:             s.nextID,
		ProductID:      input.ProductID,
		WarehouseID:    input.WarehouseID,
		Type:           inventory.MovementTypeOut,
		Quantity:       input.Quantity.Neg(),
		UnitCost:       s.avgCost[key],
		DocumentType:   input.DocumentType,
		DocumentNumber: input.DocumentNumber,
	}
	s.moves = append(s.moves, movement)
	return movement, nil
}

func (s *stubStock) ReturnIn(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error) {
	key := stockKey{input.ProductID, input.WarehouseID}
	s.qty[key] = s.qty[key].Add(input.Quantity)
	s.nextID++
	movement := inventory.Movement{
		ID:             s.nextID,
		ProductID:      input.ProductID,
		WarehouseID:    input.WarehouseID,
		Type:           inventory.MovementTypeReturnIn,
		Quantity:       input.Quantity,
		UnitCost:       input.UnitCost,
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

func (s *stubPosting) byRefType(refType string) []posting.Recipe {
	var out []posting.Recipe
	for _, recipe := range s.posted {
		if recipe.RefType == refType {
			out = append(out, recipe)
		}
	}
	return out
}

func newTestService(repo *memoryRepo, stock *stubStock, postings *stubPosting) *Service {
	service := NewService(repo, stock, postings, nil)
	service.WithNow(func() time.Time {
		return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	})
	return service
}

func draftInput(qty, price string) InvoiceInput {
	return InvoiceInput{
		CustomerID:  1,
		WarehouseID: 1,
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		ActorID:     7,
		Lines: []LineInput{
			{ProductID: 100, Quantity: dec(qty), UnitPrice: dec(price)},
		},
	}
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	service := newTestService(repo, newStubStock(), &stubPosting{})

	first, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)
	require.Equal(t, "SI-25-0001", first.Number)
	require.Equal(t, InvoiceStatusDraft, first.Status)
	require.True(t, first.Total.Equal(dec("150")))

	second, err := service.Create(context.Background(), draftInput("1", "40"))
	require.NoError(t, err)
	require.Equal(t, "SI-25-0002", second.Number)
}

func TestCreateRejectsInactiveCustomer(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", false)
	service := newTestService(repo, newStubStock(), &stubPosting{})

	_, err := service.Create(context.Background(), draftInput("1", "10"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateComputesDiscountAndTax(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	service := newTestService(repo, newStubStock(), &stubPosting{})

	input := draftInput("2", "100")
	input.Lines[0].Discount = dec("20")
	input.Tax = dec("18")
	inv, err := service.Create(context.Background(), input)
	require.NoError(t, err)
	require.True(t, inv.Subtotal.Equal(dec("200")))
	require.True(t, inv.Discount.Equal(dec("20")))
	require.True(t, inv.Total.Equal(dec("198")))
}

func TestConfirmIssuesStockAndPostsJournals(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	postings := &stubPosting{}
	service := newTestService(repo, stock, postings)

	inv, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)

	confirmed, err := service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusConfirmed, confirmed.Status)
	require.True(t, confirmed.CostTotal.Equal(dec("100")))
	require.True(t, confirmed.Lines[0].UnitCost.Equal(dec("50")))
	require.NotNil(t, confirmed.JournalEntryID)
	require.NotNil(t, confirmed.COGSEntryID)

	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("8")))

	revenue := postings.byRefType("SALE")
	require.Len(t, revenue, 1)
	require.Len(t, revenue[0].Lines, 1)
	require.True(t, revenue[0].Lines[0].Amount.Equal(dec("150")))

	cogs := postings.byRefType("SALE_COGS")
	require.Len(t, cogs, 1)
	require.True(t, cogs[0].Lines[0].Amount.Equal(dec("100")))

	// every issued movement carries the COGS entry as its back-link
	require.Len(t, stock.moves, 1)
	require.Equal(t, *confirmed.COGSEntryID, stock.links[stock.moves[0].ID])
}

func TestConfirmRequiresDraft(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	service := newTestService(repo, stock, &stubPosting{})

	inv, err := service.Create(context.Background(), draftInput("1", "75"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestConfirmInsufficientStockLeavesDraft(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("1"), dec("50"))
	service := newTestService(repo, stock, &stubPosting{})

	inv, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)

	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	reloaded, err := service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusDraft, reloaded.Status)
	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("1")))
}

func TestConfirmCompensatesWhenJournalFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	postings := &stubPosting{failOn: "SALE_COGS"}
	service := newTestService(repo, stock, postings)

	inv, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)

	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)

	// revenue entry was rolled back and the stock went back in
	require.Len(t, postings.reversed, 1)
	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("10")))

	reloaded, err := service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusDraft, reloaded.Status)
	require.Nil(t, reloaded.JournalEntryID)
}

func TestCancelRestoresStockAndReversesJournals(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	postings := &stubPosting{}
	service := newTestService(repo, stock, postings)

	inv, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)
	confirmed, err := service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	cancelled, err := service.Cancel(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusCancelled, cancelled.Status)
	require.ElementsMatch(t, []int64{*confirmed.JournalEntryID, *confirmed.COGSEntryID}, postings.reversed)
	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("10")))

	// the return comes back at the captured issue cost, linked to the
	// COGS reversal entry
	last := stock.moves[len(stock.moves)-1]
	require.Equal(t, inventory.MovementTypeReturnIn, last.Type)
	require.True(t, last.UnitCost.Equal(dec("50")))
	require.NotZero(t, stock.links[last.ID])
	require.NotEqual(t, *confirmed.COGSEntryID, stock.links[last.ID])
}

func TestCancelRefusedWithPostedPayments(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	service := newTestService(repo, stock, &stubPosting{})

	inv, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	repo.paymentTotal[inv.ID] = dec("50")
	_, err = service.Cancel(context.Background(), inv.ID, 7)
	require.ErrorIs(t, err, ErrHasPayments)
}

func TestEditConfirmedPostsDeltaAdjustment(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	postings := &stubPosting{}
	service := newTestService(repo, stock, postings)

	inv, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	revised, err := service.EditConfirmed(context.Background(), inv.ID, draftInput("3", "75"), 7)
	require.NoError(t, err)
	require.Equal(t, 1, revised.Revision)
	require.True(t, revised.Total.Equal(dec("225")))
	require.True(t, revised.CostTotal.Equal(dec("150")))
	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("7")))

	edits := postings.byRefType("SALE_EDIT")
	require.Len(t, edits, 1)
	require.Len(t, edits[0].Lines, 2)
	require.True(t, edits[0].Lines[0].Amount.Equal(dec("75")))
	require.True(t, edits[0].Lines[1].Amount.Equal(dec("50")))
}

func TestEditConfirmedShrinkReturnsStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	postings := &stubPosting{}
	service := newTestService(repo, stock, postings)

	inv, err := service.Create(context.Background(), draftInput("4", "75"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("6")))

	revised, err := service.EditConfirmed(context.Background(), inv.ID, draftInput("1", "75"), 7)
	require.NoError(t, err)
	require.True(t, stock.qty[stockKey{100, 1}].Equal(dec("9")))
	require.True(t, revised.CostTotal.Equal(dec("50")))

	edits := postings.byRefType("SALE_EDIT")
	require.Len(t, edits, 1)
	// negative deltas swap the debit/credit pairs
	require.True(t, edits[0].Lines[0].Amount.Equal(dec("225")))
}

func TestDeleteDraftOnly(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	service := newTestService(repo, stock, &stubPosting{})

	inv, err := service.Create(context.Background(), draftInput("1", "75"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)
	require.ErrorIs(t, service.DeleteDraft(context.Background(), inv.ID, 7), ErrInvalidStatus)

	draft, err := service.Create(context.Background(), draftInput("1", "75"))
	require.NoError(t, err)
	require.NoError(t, service.DeleteDraft(context.Background(), draft.ID, 7))
	_, err = service.Get(context.Background(), draft.ID)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestDerivePaymentStatus(t *testing.T) {
	require.Equal(t, PaymentStatusUnpaid, DerivePaymentStatus(dec("100"), dec("0")))
	require.Equal(t, PaymentStatusPartiallyPaid, DerivePaymentStatus(dec("100"), dec("40")))
	require.Equal(t, PaymentStatusPaid, DerivePaymentStatus(dec("100"), dec("100")))
	require.Equal(t, PaymentStatusPaid, DerivePaymentStatus(dec("100"), dec("99.995")))
}

func TestRecomputePaymentStatus(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, "CUST-1", true)
	stock := newStubStock()
	stock.seed(100, 1, dec("10"), dec("50"))
	service := newTestService(repo, stock, &stubPosting{})

	inv, err := service.Create(context.Background(), draftInput("2", "75"))
	require.NoError(t, err)
	_, err = service.Confirm(context.Background(), inv.ID, 7)
	require.NoError(t, err)

	repo.paymentTotal[inv.ID] = dec("150")
	status, err := service.RecomputePaymentStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentStatusPaid, status)

	reloaded, err := service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentStatusPaid, reloaded.PaymentStatus)
}
