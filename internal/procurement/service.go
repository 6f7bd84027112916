package procurement

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

// InventoryPort is the slice of the inventory service procurement depends
// on.
type InventoryPort interface {
	Receive(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	ReturnOut(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	LinkJournal(ctx context.Context, movementID, journalEntryID int64) error
}

// PostingPort dispatches recipes into the journal engine.
type PostingPort interface {
	Post(ctx context.Context, recipe posting.Recipe) (ledger.JournalEntry, error)
	ReverseDocument(ctx context.Context, entryID, actorID int64, description string) (ledger.JournalEntry, error)
}

// Config groups procurement policies.
type Config struct {
	// ExpensePurchases books confirmed purchases against the purchases
	// expense role instead of inventory, for businesses that do not track
	// stock value on the balance sheet.
	ExpensePurchases bool
}

// Service owns purchase invoices and suppliers.
type Service struct {
	repo      RepositoryPort
	stock     InventoryPort
	posting   PostingPort
	audit     shared.AuditRecorder
	toExpense bool
	now       func() time.Time
}

func NewService(repo RepositoryPort, stock InventoryPort, postings PostingPort, audit shared.AuditRecorder, cfg Config) *Service {
	return &Service{
		repo:      repo,
		stock:     stock,
		posting:   postings,
		audit:     audit,
		toExpense: cfg.ExpensePurchases,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

// Create stores a new draft invoice numbered PI-YY-NNNN.
func (s *Service) Create(ctx context.Context, input InvoiceInput) (Invoice, error) {
	if err := input.Validate(); err != nil {
		return Invoice{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	supplier, err := s.repo.GetSupplier(ctx, input.SupplierID)
	if err != nil {
		return Invoice{}, err
	}
	if !supplier.IsActive {
		return Invoice{}, fmt.Errorf("%w: supplier %s is inactive", ErrValidation, supplier.Code)
	}

	subtotal, discount, total, lines := computeTotals(input.Lines, input.Tax)
	inv := Invoice{
		SupplierID:    input.SupplierID,
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
	s.record(ctx, input.ActorID, "procurement.invoice.create", created.ID, map[string]any{"number": created.Number})
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
		inv.SupplierID = input.SupplierID
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

// Confirm receives stock for every line at the discounted unit cost and
// posts the goods-against-payable journal. The status flips first under a
// row lock; any later failure sends the stock back out and reverts the
// document to draft.
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
	full, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines = full.Lines

	received, err := s.receiveLines(ctx, inv, actorID)
	if err != nil {
		s.compensate(ctx, inv, received, actorID)
		s.revertToDraft(ctx, id)
		return Invoice{}, err
	}

	entry, err := s.posting.Post(ctx, posting.PurchaseRecipe(s.purchaseDocument(inv, actorID)))
	if err != nil {
		s.compensate(ctx, inv, received, actorID)
		s.revertToDraft(ctx, id)
		return Invoice{}, err
	}

	s.linkMovements(ctx, received, entry.ID, actorID)

	inv.JournalEntryID = &entry.ID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "procurement.invoice.confirm", id, map[string]any{
		"number": inv.Number, "journal_entry_id": entry.ID,
	})
	return inv, nil
}

func (s *Service) receiveLines(ctx context.Context, inv Invoice, actorID int64) ([]inventory.Movement, error) {
	var received []inventory.Movement
	for _, line := range inv.Lines {
		movement, err := s.stock.Receive(ctx, inventory.MovementInput{
			ProductID:      line.ProductID,
			WarehouseID:    inv.WarehouseID,
			Quantity:       line.Quantity,
			UnitCost:       line.effectiveUnitCost(),
			DocumentType:   "PURCHASE",
			DocumentNumber: inv.Number,
			ActorID:        actorID,
		})
		if err != nil {
			return received, err
		}
		received = append(received, movement)
	}
	return received, nil
}

// linkMovements stamps the journal back-link on stock movements. Movement
// and entry are both durable here, so a failed link is recorded for repair
// instead of unwinding the document.
func (s *Service) linkMovements(ctx context.Context, movements []inventory.Movement, entryID, actorID int64) {
	for _, movement := range movements {
		if err := s.stock.LinkJournal(ctx, movement.ID, entryID); err != nil {
			s.record(ctx, actorID, "procurement.invoice.link_failed", movement.ID, map[string]any{
				"journal_entry_id": entryID, "error": err.Error(),
			})
		}
	}
}

// compensate sends back stock that was already received before a failure.
func (s *Service) compensate(ctx context.Context, inv Invoice, received []inventory.Movement, actorID int64) {
	for _, movement := range received {
		_, err := s.stock.ReturnOut(ctx, inventory.MovementInput{
			ProductID:      movement.ProductID,
			WarehouseID:    movement.WarehouseID,
			Quantity:       movement.Quantity.Abs(),
			DocumentType:   "PURCHASE_ROLLBACK",
			DocumentNumber: inv.Number,
			ActorID:        actorID,
		})
		if err != nil {
			s.record(ctx, actorID, "procurement.invoice.compensation_failed", inv.ID, map[string]any{
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

func (s *Service) purchaseDocument(inv Invoice, actorID int64) posting.PurchaseDocument {
	return posting.PurchaseDocument{
		ID:         inv.ID,
		Number:     inv.Number,
		SupplierID: inv.SupplierID,
		Date:       inv.Date,
		Total:      inv.Total,
		ActorID:    actorID,
		ToExpense:  s.toExpense,
	}
}

// Cancel sends the received stock back and reverses the journal. The stock
// leaves first so a purchase whose goods were already sold on fails with
// the inventory error instead of leaving a dangling reversal.
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

	var returned []inventory.Movement
	for _, line := range inv.Lines {
		movement, err := s.stock.ReturnOut(ctx, inventory.MovementInput{
			ProductID:      line.ProductID,
			WarehouseID:    inv.WarehouseID,
			Quantity:       line.Quantity,
			DocumentType:   "PURCHASE_CANCEL",
			DocumentNumber: inv.Number,
			ActorID:        actorID,
		})
		if err != nil {
			s.restock(ctx, inv, returned, actorID)
			return Invoice{}, err
		}
		returned = append(returned, movement)
	}

	if inv.JournalEntryID != nil {
		reversal, err := s.posting.ReverseDocument(ctx, *inv.JournalEntryID, actorID, "Cancellation of purchase "+inv.Number)
		if err != nil {
			s.restock(ctx, inv, returned, actorID)
			return Invoice{}, err
		}
		s.linkMovements(ctx, returned, reversal.ID, actorID)
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
	s.record(ctx, actorID, "procurement.invoice.cancel", id, map[string]any{"number": inv.Number})
	return inv, nil
}

// restock undoes partial cancellation returns.
func (s *Service) restock(ctx context.Context, inv Invoice, returned []inventory.Movement, actorID int64) {
	for _, movement := range returned {
		_, err := s.stock.Receive(ctx, inventory.MovementInput{
			ProductID:      movement.ProductID,
			WarehouseID:    movement.WarehouseID,
			Quantity:       movement.Quantity.Abs(),
			UnitCost:       movement.UnitCost,
			DocumentType:   "PURCHASE_CANCEL_ROLLBACK",
			DocumentNumber: inv.Number,
			ActorID:        actorID,
		})
		if err != nil {
			s.record(ctx, actorID, "procurement.invoice.compensation_failed", inv.ID, map[string]any{
				"product_id": movement.ProductID, "error": err.Error(),
			})
		}
	}
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
	s.record(ctx, actorID, "procurement.invoice.delete", id, nil)
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
// of posted payments.
func (s *Service) RecomputePaymentStatus(ctx context.Context, invoiceID int64) (PaymentStatus, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	paid, err := s.repo.PostedPaymentTotal(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	status := DerivePaymentStatus(inv.Total, paid)
	if status == inv.PaymentStatus {
		return status, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetPaymentStatus(ctx, invoiceID, status)
	})
	return status, err
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

// CreateSupplier registers a new supplier.
func (s *Service) CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error) {
	if supplier.Code == "" || supplier.Name == "" {
		return Supplier{}, fmt.Errorf("%w: supplier code and name required", ErrValidation)
	}
	supplier.IsActive = true
	created, err := s.repo.InsertSupplier(ctx, supplier)
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, 0, "procurement.supplier.create", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// UpdateSupplier replaces the mutable supplier fields.
func (s *Service) UpdateSupplier(ctx context.Context, supplier Supplier) error {
	if supplier.Name == "" {
		return fmt.Errorf("%w: supplier name required", ErrValidation)
	}
	return s.repo.UpdateSupplier(ctx, supplier)
}

// Supplier returns one supplier by id.
func (s *Service) Supplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// Suppliers lists suppliers, optionally active-only.
func (s *Service) Suppliers(ctx context.Context, activeOnly bool) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx, activeOnly)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_invoice",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
