package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/posting"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

const numberRetries = 5

// InvoiceSource exposes the invoice side of a payment: lookups for
// validation and the payment-status recompute after posting changes.
type InvoiceSource interface {
	PayableInvoice(ctx context.Context, id int64) (PayableInvoice, error)
	RecomputePaymentStatus(ctx context.Context, invoiceID int64) error
}

// PostingPort dispatches recipes into the journal engine.
type PostingPort interface {
	Post(ctx context.Context, recipe posting.Recipe) (ledger.JournalEntry, error)
	ReverseDocument(ctx context.Context, entryID, actorID int64, description string) (ledger.JournalEntry, error)
}

// EditPolicy decides whether an actor may edit posted payments. A nil
// policy refuses everyone.
type EditPolicy func(ctx context.Context, actorID int64) bool

// ActionEditPosted is the permission consulted for the unpost-edit-repost
// path.
const ActionEditPosted = "payments.edit_posted"

// EditPolicyFromPredicate adapts the host's permission predicate into the
// posted-payment edit gate. The actor comes from the request context when
// the gateway middleware put one there, falling back to the acting ID.
func EditPolicyFromPredicate(predicate shared.PermissionPredicate) EditPolicy {
	return func(ctx context.Context, actorID int64) bool {
		actor, ok := shared.ActorFromContext(ctx)
		if !ok {
			actor = shared.Actor{ID: actorID}
		}
		return shared.Authorize(ctx, predicate, actor, ActionEditPosted) == nil
	}
}

// Config groups payment policies.
type Config struct {
	// AllowOverpayment drops the remaining-balance guard on posting.
	AllowOverpayment bool
	// EditPosted gates the unpost-edit-repost path for posted payments.
	EditPosted EditPolicy
}

// Service owns the payment lifecycle and its coupling to invoices and the
// ledger.
type Service struct {
	repo     RepositoryPort
	posting  PostingPort
	sales    InvoiceSource
	purchase InvoiceSource
	audit    shared.AuditRecorder
	cfg      Config
	now      func() time.Time
}

func NewService(repo RepositoryPort, postings PostingPort, sales, purchase InvoiceSource, audit shared.AuditRecorder, cfg Config) *Service {
	return &Service{
		repo:     repo,
		posting:  postings,
		sales:    sales,
		purchase: purchase,
		audit:    audit,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

func (s *Service) source(kind Kind) InvoiceSource {
	if kind == KindPurchase {
		return s.purchase
	}
	return s.sales
}

// Create stores a new draft payment numbered PAY-YY-NNNN.
func (s *Service) Create(ctx context.Context, input Input) (Payment, error) {
	if err := input.Validate(); err != nil {
		return Payment{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	invoice, err := s.source(input.Kind).PayableInvoice(ctx, input.InvoiceID)
	if err != nil {
		return Payment{}, err
	}
	if !invoice.Open {
		return Payment{}, fmt.Errorf("%w: %s", ErrInvoiceClosed, invoice.Number)
	}

	payment := Payment{
		Kind:               input.Kind,
		InvoiceID:          input.InvoiceID,
		PartyID:            invoice.PartyID,
		Date:               input.Date,
		Amount:             input.Amount,
		Method:             input.Method,
		FinancialAccountID: input.FinancialAccountID,
		Status:             StatusDraft,
		FinancialStatus:    FinancialPending,
		Notes:              input.Notes,
		CreatedBy:          input.ActorID,
	}

	var created Payment
	for attempt := 0; attempt < numberRetries; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			seq, err := tx.NextSeq(ctx, input.Date.Year())
			if err != nil {
				return err
			}
			payment.Number = PaymentNumber(input.Date.Year(), seq)
			created, err = tx.Insert(ctx, payment)
			return err
		})
		if !errors.Is(err, ErrNumberConflict) {
			break
		}
	}
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, input.ActorID, "payments.create", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// Post applies a draft payment: the overpayment guard runs against the
// other posted payments, the status flips under a row lock, and the journal
// is attempted. Journal failure drops the payment back into draft with the
// error captured; the caller decides whether to retry.
func (s *Service) Post(ctx context.Context, id, actorID int64) (Payment, error) {
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return fmt.Errorf("%w: only draft payments can be posted", ErrInvalidStatus)
		}
		invoice, err := s.source(locked.Kind).PayableInvoice(ctx, locked.InvoiceID)
		if err != nil {
			return err
		}
		if !invoice.Open {
			return fmt.Errorf("%w: %s", ErrInvoiceClosed, invoice.Number)
		}
		if !s.cfg.AllowOverpayment {
			paid, err := s.repo.PostedTotal(ctx, locked.Kind, locked.InvoiceID, locked.ID)
			if err != nil {
				return err
			}
			if paid.Add(locked.Amount).Sub(invoice.Total).GreaterThanOrEqual(ledger.Epsilon) {
				return fmt.Errorf("%w: %s remaining %s", ErrOverpayment,
					invoice.Number, invoice.Total.Sub(paid))
			}
		}
		locked.Status = StatusPosted
		locked.FinancialStatus = FinancialPending
		if err := tx.Update(ctx, locked); err != nil {
			return err
		}
		payment = locked
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	payment = s.syncJournal(ctx, payment, actorID)
	if err := s.source(payment.Kind).RecomputePaymentStatus(ctx, payment.InvoiceID); err != nil {
		s.record(ctx, actorID, "payments.status_sync_failed", id, map[string]any{"error": err.Error()})
	}
	s.record(ctx, actorID, "payments.post", id, map[string]any{
		"number": payment.Number, "financial_status": string(payment.FinancialStatus),
	})
	return payment, nil
}

// syncJournal posts the payment's journal and stores the outcome. Duplicate
// postings are treated as already synced. A journal failure reverts the
// payment to draft with the error captured, so an unjournalled payment
// never counts toward an invoice's paid total and is never retried behind
// the caller's back.
func (s *Service) syncJournal(ctx context.Context, payment Payment, actorID int64) Payment {
	entry, err := s.posting.Post(ctx, s.recipe(payment, actorID))
	switch {
	case err == nil:
		payment.JournalEntryID = &entry.ID
		payment.FinancialStatus = FinancialSynced
		payment.FinancialError = nil
	case errors.Is(err, ledger.ErrDuplicatePosting):
		payment.FinancialStatus = FinancialSynced
		payment.FinancialError = nil
	default:
		msg := err.Error()
		payment.Status = StatusDraft
		payment.JournalEntryID = nil
		payment.FinancialStatus = FinancialFailed
		payment.FinancialError = &msg
	}
	if uerr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, payment)
	}); uerr != nil {
		s.record(ctx, actorID, "payments.sync_store_failed", payment.ID, map[string]any{"error": uerr.Error()})
	}
	return payment
}

func (s *Service) recipe(payment Payment, actorID int64) posting.Recipe {
	doc := posting.PaymentDocument{
		ID:                 payment.ID,
		Number:             payment.Number,
		PartyID:            payment.PartyID,
		Date:               payment.Date,
		Amount:             payment.Amount,
		FinancialAccountID: payment.FinancialAccountID,
		Revision:           payment.Revision,
		ActorID:            actorID,
	}
	if payment.Kind == KindPurchase {
		return posting.PurchasePaymentRecipe(doc)
	}
	return posting.SalePaymentRecipe(doc)
}

// Unpost reverses the payment's journal and puts the document back into
// draft. The revision bump gives the next post a fresh ledger reference.
func (s *Service) Unpost(ctx context.Context, id, actorID int64) (Payment, error) {
	payment, err := s.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if payment.Status != StatusPosted {
		return Payment{}, fmt.Errorf("%w: only posted payments can be unposted", ErrInvalidStatus)
	}
	if payment.JournalEntryID != nil && payment.FinancialStatus == FinancialSynced {
		if _, err := s.posting.ReverseDocument(ctx, *payment.JournalEntryID, actorID, "Unpost of payment "+payment.Number); err != nil {
			return Payment{}, err
		}
	}

	payment.Status = StatusDraft
	payment.JournalEntryID = nil
	payment.FinancialStatus = FinancialPending
	payment.FinancialError = nil
	payment.Revision++
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, payment)
	})
	if err != nil {
		return Payment{}, err
	}
	if err := s.source(payment.Kind).RecomputePaymentStatus(ctx, payment.InvoiceID); err != nil {
		s.record(ctx, actorID, "payments.status_sync_failed", id, map[string]any{"error": err.Error()})
	}
	s.record(ctx, actorID, "payments.unpost", id, map[string]any{"number": payment.Number})
	return payment, nil
}

// EditPosted reworks a posted payment as unpost, apply, repost. Gated by
// the EditPosted policy; the audit trail carries the before and after
// amounts.
func (s *Service) EditPosted(ctx context.Context, id int64, input Input, actorID int64) (Payment, error) {
	if s.cfg.EditPosted == nil || !s.cfg.EditPosted(ctx, actorID) {
		return Payment{}, ErrEditForbidden
	}
	if err := input.Validate(); err != nil {
		return Payment{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if before.Status != StatusPosted {
		return Payment{}, fmt.Errorf("%w: only posted payments can be edited this way", ErrInvalidStatus)
	}
	if input.Kind != before.Kind || input.InvoiceID != before.InvoiceID {
		return Payment{}, fmt.Errorf("%w: kind and invoice are fixed", ErrValidation)
	}

	draft, err := s.Unpost(ctx, id, actorID)
	if err != nil {
		return Payment{}, err
	}
	draft.Date = input.Date
	draft.Amount = input.Amount
	draft.Method = input.Method
	draft.FinancialAccountID = input.FinancialAccountID
	draft.Notes = input.Notes
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, draft)
	})
	if err != nil {
		return Payment{}, err
	}

	after, err := s.Post(ctx, id, actorID)
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, actorID, "payments.edit", id, map[string]any{
		"number":        after.Number,
		"amount_before": before.Amount.String(),
		"amount_after":  after.Amount.String(),
	})
	return after, nil
}

// UpdateDraft replaces a draft payment's fields.
func (s *Service) UpdateDraft(ctx context.Context, id int64, input Input) (Payment, error) {
	if err := input.Validate(); err != nil {
		return Payment{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	var updated Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if payment.Status != StatusDraft {
			return fmt.Errorf("%w: cannot edit %s payment as draft", ErrInvalidStatus, payment.Status)
		}
		if input.Kind != payment.Kind || input.InvoiceID != payment.InvoiceID {
			return fmt.Errorf("%w: kind and invoice are fixed", ErrValidation)
		}
		payment.Date = input.Date
		payment.Amount = input.Amount
		payment.Method = input.Method
		payment.FinancialAccountID = input.FinancialAccountID
		payment.Notes = input.Notes
		if err := tx.Update(ctx, payment); err != nil {
			return err
		}
		updated = payment
		return nil
	})
	return updated, err
}

// Delete removes a draft payment.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if payment.Status != StatusDraft {
			return fmt.Errorf("%w: only draft payments can be deleted", ErrInvalidStatus)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "payments.delete", id, nil)
	return nil
}

// Resync retries the journal for one posted payment whose outcome was
// never stored. A failed payment is a draft again; its retry is a fresh
// Post.
func (s *Service) Resync(ctx context.Context, id, actorID int64) (Payment, error) {
	payment, err := s.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if payment.Status != StatusPosted || payment.FinancialStatus == FinancialSynced {
		return payment, nil
	}
	payment = s.syncJournal(ctx, payment, actorID)
	if err := s.source(payment.Kind).RecomputePaymentStatus(ctx, payment.InvoiceID); err != nil {
		s.record(ctx, actorID, "payments.status_sync_failed", id, map[string]any{"error": err.Error()})
	}
	return payment, nil
}

// SyncOutstanding walks posted payments still pending a stored journal
// outcome and retries each one. Failed payments sit in draft and are left
// alone. Each item syncs independently and the scan honors context
// cancellation between items.
func (s *Service) SyncOutstanding(ctx context.Context, limit int) (synced, failed int, err error) {
	outstanding, err := s.repo.ListUnsynced(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, payment := range outstanding {
		if err := ctx.Err(); err != nil {
			return synced, failed, err
		}
		result := s.syncJournal(ctx, payment, payment.CreatedBy)
		if result.FinancialStatus == FinancialSynced {
			synced++
			if err := s.source(result.Kind).RecomputePaymentStatus(ctx, result.InvoiceID); err != nil {
				s.record(ctx, payment.CreatedBy, "payments.status_sync_failed", payment.ID, map[string]any{"error": err.Error()})
			}
		} else {
			failed++
		}
	}
	return synced, failed, nil
}

// Get returns one payment.
func (s *Service) Get(ctx context.Context, id int64) (Payment, error) {
	return s.repo.Get(ctx, id)
}

// List returns payments matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Payment, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
