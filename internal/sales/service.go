package sales

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/inventory"
	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/posting"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

const numberRetries = 5

// InventoryPort is the slice of the inventory service sales depends on.
type InventoryPort interface {
	Issue(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	ReturnIn(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	LinkJournal(ctx context.Context, movementID, journalEntryID int64) error
}

// PostingPort dispatches recipes into the journal engine.
type PostingPort interface {
	Post(ctx context.Context, recipe posting.Recipe) (ledger.JournalEntry, error)
	ReverseDocument(ctx context.Context, entryID, actorID int64, description string) (ledger.JournalEntry, error)
}

// Service owns sale invoices and customers. Confirmation couples the
// document to stock issues and journal postings; every cross-module step
// that fails is compensated so the invoice never ends up half-applied.
type Service struct {
	repo    RepositoryPort
	stock   InventoryPort
	posting PostingPort
	audit   shared.AuditRecorder
	now     func() time.Time
}

func NewService(repo RepositoryPort, stock InventoryPort, postings PostingPort, audit shared.AuditRecorder) *Service {
	return &Service{
		repo:    repo,
		stock:   stock,
		posting: postings,
		audit:   audit,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

// Create stores a new draft invoice numbered SI-YY-NNNN.
func (s *Service) Create(ctx context.Context, input InvoiceInput) (Invoice, error) {
	if err := input.Validate(); err != nil {
		return Invoice{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	customer, err := s.repo.GetCustomer(ctx, input.CustomerID)
	if err != nil {
		return Invoice{}, err
	}
	if !customer.IsActive {
		return Invoice{}, fmt.Errorf("%w: customer %s is inactive", ErrValidation, customer.Code)
	}

	subtotal, discount, total, lines := computeTotals(input.Lines, input.Tax)
	inv := Invoice{
		CustomerID:    input.CustomerID,
		WarehouseID:   input.WarehouseID,
		Date:          input.Date,
		Status:        InvoiceStatusDraft,
		PaymentStatus: PaymentStatusUnpaid,
		Subtotal:      subtotal,
		Discount:      discount,
		Tax:           input.Tax,
		Total:         total,
		Notes:         input.Notes,
		CreatedBy:     input.ActorID,
	}

	var created Invoice
	for attempt := 0; attempt < numberRetries; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			seq, err := tx.NextInvoiceSeq(ctx, input.Date.Year())
			if err != nil {
				return err
			}
			inv.Number = InvoiceNumber(input.Date.Year(), seq)
			created, err = tx.InsertInvoice(ctx, inv)
			if err != nil {
				return err
			}
			return tx.ReplaceLines(ctx, created.ID, lines)
		})
		if !errors.Is(err, ErrNumberConflict) {
			break
		}
	}
	if err != nil {
		return Invoice{}, err
	}
	created.Lines = lines
	s.record(ctx, input.ActorID, "sales.invoice.create", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// UpdateDraft replaces the lines and header fields of a draft invoice.
func (s *Service) UpdateDraft(ctx context.Context, id int64, input InvoiceInput) (Invoice, error) {
	if err := input.Validate(); err != nil {
		return Invoice{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	subtotal, discount, total, lines := computeTotals(input.Lines, input.Tax)

	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return fmt.Errorf("%w: cannot edit %s invoice as draft", ErrInvalidStatus, inv.Status)
		}
		inv.CustomerID = input.CustomerID
		inv.WarehouseID = input.WarehouseID
		inv.Date = input.Date
		inv.Subtotal = subtotal
		inv.Discount = discount
		inv.Tax = input.Tax
		inv.Total = total
		inv.Notes = input.Notes
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, id, lines); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	updated.Lines = lines
	return updated, nil
}

// Confirm issues stock for every line, posts the revenue and COGS journals
// and moves the invoice to CONFIRMED. The status flip happens first under a
// row lock so concurrent confirms collide on the document instead of the
// warehouse; any later failure rolls the stock and status back.
func (s *Service) Confirm(ctx context.Context, id, actorID int64) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != InvoiceStatusDraft {
			return fmt.Errorf("%w: only draft invoices can be confirmed", ErrInvalidStatus)
		}
		locked.Status = InvoiceStatusConfirmed
		if err := tx.UpdateInvoice(ctx, locked); err != nil {
			return err
		}
		inv = locked
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	if inv.Lines, err = s.lines(ctx, id); err != nil {
		return Invoice{}, err
	}

	issued, err := s.issueLines(ctx, &inv, actorID)
	if err != nil {
		s.compensate(ctx, inv, issued, actorID)
		s.revertToDraft(ctx, id)
		return Invoice{}, err
	}

	revenue, err := s.posting.Post(ctx, posting.SaleRevenueRecipe(s.saleDocument(inv, actorID)))
	if err != nil {
		s.compensate(ctx, inv, issued, actorID)
		s.revertToDraft(ctx, id)
		return Invoice{}, err
	}
	cogs, err := s.posting.Post(ctx, posting.SaleCOGSRecipe(s.saleDocument(inv, actorID)))
	if err != nil {
		if _, rerr := s.posting.ReverseDocument(ctx, revenue.ID, actorID, "Rollback of failed confirmation "+inv.Number); rerr != nil {
			err = errors.Join(err, rerr)
		}
		s.compensate(ctx, inv, issued, actorID)
		s.revertToDraft(ctx, id)
		return Invoice{}, err
	}

	s.linkMovements(ctx, issued, cogs.ID, actorID)

	inv.JournalEntryID = &revenue.ID
	inv.COGSEntryID = &cogs.ID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.ReplaceLines(ctx, id, inv.Lines)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "sales.invoice.confirm", id, map[string]any{
		"number": inv.Number, "journal_entry_id": revenue.ID, "cogs_entry_id": cogs.ID,
	})
	return inv, nil
}

// issueLines moves stock out for each line and captures the issue cost on
// the line. Returns the movements performed so a failure can be undone.
func (s *Service) issueLines(ctx context.Context, inv *Invoice, actorID int64) ([]inventory.Movement, error) {
	var issued []inventory.Movement
	costTotal := decimal.Zero
	for i := range inv.Lines {
		line := &inv.Lines[i]
		movement, err := s.stock.Issue(ctx, inventory.MovementInput{
			ProductID:      line.ProductID,
			WarehouseID:    inv.WarehouseID,
			Quantity:       line.Quantity,
			DocumentType:   "SALE",
			DocumentNumber: inv.Number,
			ActorID:        actorID,
		})
		if err != nil {
			return issued, err
		}
		issued = append(issued, movement)
		line.UnitCost = movement.UnitCost
		costTotal = costTotal.Add(line.Quantity.Mul(movement.UnitCost))
	}
	inv.CostTotal = costTotal
	return issued, nil
}

// linkMovements stamps the journal back-link on stock movements. Movement
// and entry are both durable here, so a failed link is recorded for repair
// instead of unwinding the document.
func (s *Service) linkMovements(ctx context.Context, movements []inventory.Movement, entryID, actorID int64) {
	for _, movement := range movements {
		if err := s.stock.LinkJournal(ctx, movement.ID, entryID); err != nil {
			s.record(ctx, actorID, "sales.invoice.link_failed", movement.ID, map[string]any{
				"journal_entry_id": entryID, "error": err.Error(),
			})
		}
	}
}

// compensate puts back stock that was already issued before a failure.
func (s *Service) compensate(ctx context.Context, inv Invoice, issued []inventory.Movement, actorID int64) {
	for _, movement := range issued {
		_, err := s.stock.ReturnIn(ctx, inventory.MovementInput{
			ProductID:      movement.ProductID,
			WarehouseID:    movement.WarehouseID,
			Quantity:       movement.Quantity.Abs(),
			UnitCost:       movement.UnitCost,
			DocumentType:   "SALE_ROLLBACK",
			DocumentNumber: inv.Number,
			ActorID:        actorID,
		})
		if err != nil {
			s.record(ctx, actorID, "sales.invoice.compensation_failed", inv.ID, map[string]any{
				"product_id": movement.ProductID, "error": err.Error(),
			})
		}
	}
}

func (s *Service) revertToDraft(ctx context.Context, id int64) {
	_ = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		inv.Status = InvoiceStatusDraft
		return tx.UpdateInvoice(ctx, inv)
	})
}

func (s *Service) saleDocument(inv Invoice, actorID int64) posting.SaleDocument {
	return posting.SaleDocument{
		ID:         inv.ID,
		Number:     inv.Number,
		CustomerID: inv.CustomerID,
		Date:       inv.Date,
		Total:      inv.Total,
		Tax:        inv.Tax,
		CostTotal:  inv.CostTotal,
		ActorID:    actorID,
	}
}

// Cancel reverses both journals and returns the issued stock. Refused when
// posted payments exist against the invoice.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != InvoiceStatusConfirmed {
		return Invoice{}, fmt.Errorf("%w: only confirmed invoices can be cancelled", ErrInvalidStatus)
	}
	paid, err := s.repo.PostedPaymentTotal(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if paid.GreaterThanOrEqual(ledger.Epsilon) {
		return Invoice{}, fmt.Errorf("%w: %s has been paid against", ErrHasPayments, inv.Number)
	}

	if inv.JournalEntryID != nil {
		if _, err := s.posting.ReverseDocument(ctx, *inv.JournalEntryID, actorID, "Cancellation of sale "+inv.Number); err != nil {
			return Invoice{}, err
		}
	}
	var cogsReversalID int64
	if inv.COGSEntryID != nil {
		reversal, err := s.posting.ReverseDocument(ctx, *inv.COGSEntryID, actorID, "Cancellation of COGS "+inv.Number)
		if err != nil {
			return Invoice{}, err
		}
		cogsReversalID = reversal.ID
	}
	var returned []inventory.Movement
	for _, line := range inv.Lines {
		movement, err := s.stock.ReturnIn(ctx, inventory.MovementInput{
			ProductID:      line.ProductID,
			WarehouseID:    inv.WarehouseID,
			Quantity:       line.Quantity,
			UnitCost:       line.UnitCost,
			DocumentType:   "SALE_CANCEL",
			DocumentNumber: inv.Number,
			ActorID:        actorID,
		})
		if err != nil {
			return Invoice{}, err
		}
		returned = append(returned, movement)
	}
	if cogsReversalID != 0 {
		s.linkMovements(ctx, returned, cogsReversalID, actorID)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		locked.Status = InvoiceStatusCancelled
		inv = locked
		return tx.UpdateInvoice(ctx, locked)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "sales.invoice.cancel", id, map[string]any{"number": inv.Number})
	return inv, nil
}

// EditConfirmed reshapes a confirmed invoice. Stock deltas are applied per
// product and the financial difference is booked as one adjustment entry
// tied to the new revision, leaving the original journals untouched.
func (s *Service) EditConfirmed(ctx context.Context, id int64, input InvoiceInput, actorID int64) (Invoice, error) {
	if err := input.Validate(); err != nil {
		return Invoice{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != InvoiceStatusConfirmed {
		return Invoice{}, fmt.Errorf("%w: only confirmed invoices can be revised", ErrInvalidStatus)
	}
	if input.CustomerID != inv.CustomerID || input.WarehouseID != inv.WarehouseID {
		return Invoice{}, fmt.Errorf("%w: customer and warehouse are fixed after confirmation", ErrValidation)
	}

	subtotal, discount, total, newLines := computeTotals(input.Lines, input.Tax)

	oldQty := make(map[int64]decimal.Decimal, len(inv.Lines))
	oldCost := make(map[int64]decimal.Decimal, len(inv.Lines))
	for _, line := range inv.Lines {
		oldQty[line.ProductID] = oldQty[line.ProductID].Add(line.Quantity)
		oldCost[line.ProductID] = line.UnitCost
	}

	costTotal := decimal.Zero
	docNumber := fmt.Sprintf("%s/r%d", inv.Number, inv.Revision+1)
	for i := range newLines {
		line := &newLines[i]
		delta := line.Quantity.Sub(oldQty[line.ProductID])
		oldQty[line.ProductID] = decimal.Zero
		switch {
		case delta.IsPositive():
			movement, err := s.stock.Issue(ctx, inventory.MovementInput{
				ProductID:      line.ProductID,
				WarehouseID:    inv.WarehouseID,
				Quantity:       delta,
				DocumentType:   "SALE_EDIT",
				DocumentNumber: docNumber,
				ActorID:        actorID,
			})
			if err != nil {
				return Invoice{}, err
			}
			line.UnitCost = movement.UnitCost
		case delta.IsNegative():
			if _, err := s.stock.ReturnIn(ctx, inventory.MovementInput{
				ProductID:      line.ProductID,
				WarehouseID:    inv.WarehouseID,
				Quantity:       delta.Neg(),
				UnitCost:       oldCost[line.ProductID],
				DocumentType:   "SALE_EDIT",
				DocumentNumber: docNumber,
				ActorID:        actorID,
			}); err != nil {
				return Invoice{}, err
			}
			line.UnitCost = oldCost[line.ProductID]
		default:
			line.UnitCost = oldCost[line.ProductID]
		}
		costTotal = costTotal.Add(line.Quantity.Mul(line.UnitCost))
	}
	// Lines dropped entirely from the revision come back into stock.
	for productID, qty := range oldQty {
		if !qty.IsPositive() {
			continue
		}
		if _, err := s.stock.ReturnIn(ctx, inventory.MovementInput{
			ProductID:      productID,
			WarehouseID:    inv.WarehouseID,
			Quantity:       qty,
			UnitCost:       oldCost[productID],
			DocumentType:   "SALE_EDIT",
			DocumentNumber: docNumber,
			ActorID:        actorID,
		}); err != nil {
			return Invoice{}, err
		}
	}

	revision := inv.Revision + 1
	// Tax changes ride the revenue delta against the receivable.
	revenueDelta := total.Sub(inv.Total)
	costDelta := costTotal.Sub(inv.CostTotal)
	if !revenueDelta.IsZero() || !costDelta.IsZero() {
		if _, err := s.posting.Post(ctx, posting.SaleEditRecipe(posting.SaleEditDocument{
			InvoiceID:    id,
			Revision:     revision,
			Number:       inv.Number,
			CustomerID:   inv.CustomerID,
			Date:         input.Date,
			RevenueDelta: revenueDelta,
			CostDelta:    costDelta,
			ActorID:      actorID,
		})); err != nil {
			return Invoice{}, err
		}
	}

	inv.Date = input.Date
	inv.Subtotal = subtotal
	inv.Discount = discount
	inv.Tax = input.Tax
	inv.Total = total
	inv.CostTotal = costTotal
	inv.Notes = input.Notes
	inv.Revision = revision
	inv.Lines = newLines

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, id, newLines); err != nil {
			return err
		}
		return s.syncPaymentStatus(ctx, tx, &inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "sales.invoice.revise", id, map[string]any{
		"number": inv.Number, "revision": revision,
		"revenue_delta": revenueDelta.String(), "cost_delta": costDelta.String(),
	})
	return inv, nil
}

// DeleteDraft removes a draft invoice and its lines.
func (s *Service) DeleteDraft(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return fmt.Errorf("%w: only draft invoices can be deleted", ErrInvalidStatus)
		}
		return tx.DeleteInvoice(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "sales.invoice.delete", id, nil)
	return nil
}

// Get returns one invoice with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// List returns invoices matching the filter without lines.
func (s *Service) List(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// RecomputePaymentStatus re-derives the invoice payment status from the sum
// of posted payments. Called by the payments module after post and unpost.
func (s *Service) RecomputePaymentStatus(ctx context.Context, invoiceID int64) (PaymentStatus, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.syncPaymentStatus(ctx, tx, &inv)
	})
	return inv.PaymentStatus, err
}

func (s *Service) syncPaymentStatus(ctx context.Context, tx TxRepository, inv *Invoice) error {
	paid, err := s.repo.PostedPaymentTotal(ctx, inv.ID)
	if err != nil {
		return err
	}
	status := DerivePaymentStatus(inv.Total, paid)
	if status == inv.PaymentStatus {
		return nil
	}
	inv.PaymentStatus = status
	return tx.SetPaymentStatus(ctx, inv.ID, status)
}

// DerivePaymentStatus classifies paid-vs-total within the currency epsilon.
func DerivePaymentStatus(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.LessThan(ledger.Epsilon):
		return PaymentStatusUnpaid
	case total.Sub(paid).Abs().LessThan(ledger.Epsilon):
		return PaymentStatusPaid
	default:
		return PaymentStatusPartiallyPaid
	}
}

// CreateCustomer registers a new customer.
func (s *Service) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	if c.Code == "" || c.Name == "" {
		return Customer{}, fmt.Errorf("%w: customer code and name required", ErrValidation)
	}
	c.IsActive = true
	created, err := s.repo.InsertCustomer(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, 0, "sales.customer.create", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// UpdateCustomer replaces the mutable customer fields.
func (s *Service) UpdateCustomer(ctx context.Context, c Customer) error {
	if c.Name == "" {
		return fmt.Errorf("%w: customer name required", ErrValidation)
	}
	return s.repo.UpdateCustomer(ctx, c)
}

// Customer returns one customer by id.
func (s *Service) Customer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// Customers lists customers, optionally active-only.
func (s *Service) Customers(ctx context.Context, activeOnly bool) ([]Customer, error) {
	return s.repo.ListCustomers(ctx, activeOnly)
}

func (s *Service) lines(ctx context.Context, id int64) ([]InvoiceLine, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return inv.Lines, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale_invoice",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
