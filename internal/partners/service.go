package partners

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/posting"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// PostingPort dispatches recipes into the journal engine.
type PostingPort interface {
	Post(ctx context.Context, recipe posting.Recipe) (ledger.JournalEntry, error)
	ReverseDocument(ctx context.Context, entryID, actorID int64, description string) (ledger.JournalEntry, error)
}

// Service owns partners and their equity transactions.
type Service struct {
	repo    RepositoryPort
	posting PostingPort
	audit   shared.AuditRecorder
	now     func() time.Time
}

func NewService(repo RepositoryPort, postings PostingPort, audit shared.AuditRecorder) *Service {
	return &Service{
		repo:    repo,
		posting: postings,
		audit:   audit,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

// Record books one contribution or withdrawal. The balance change and the
// transaction row commit together; the journal follows, and a journal
// failure rolls the whole movement back.
func (s *Service) Record(ctx context.Context, input TransactionInput) (Transaction, error) {
	if err := input.Validate(); err != nil {
		return Transaction{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.AdjustBalance(ctx, input.PartnerID, input.Signed()); err != nil {
			return err
		}
		created, err := tx.InsertTransaction(ctx, Transaction{
			PartnerID:   input.PartnerID,
			Type:        input.Type,
			Date:        input.Date,
			Amount:      input.Amount,
			Description: input.Description,
			CreatedBy:   input.ActorID,
		})
		if err != nil {
			return err
		}
		txn = created
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	entry, err := s.posting.Post(ctx, posting.PartnerRecipe(posting.PartnerDocument{
		ID:          txn.ID,
		PartnerID:   input.PartnerID,
		Date:        input.Date,
		Amount:      input.Amount,
		Description: input.Description,
		Withdrawal:  input.Type == TypeWithdrawal,
		Loan:        input.Type == TypeLoan,
		ActorID:     input.ActorID,
	}))
	if err != nil {
		s.rollback(ctx, input, txn)
		return Transaction{}, err
	}

	txn.JournalEntryID = &entry.ID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.LinkJournal(ctx, txn.ID, entry.ID)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.record(ctx, input.ActorID, "partners.transaction", txn.ID, map[string]any{
		"partner_id": input.PartnerID, "type": string(input.Type), "amount": input.Amount.String(),
	})
	return txn, nil
}

// rollback undoes the balance change and transaction row after a journal
// failure.
func (s *Service) rollback(ctx context.Context, input TransactionInput, txn Transaction) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.AdjustBalance(ctx, input.PartnerID, input.Signed().Neg()); err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, txn.ID)
	})
	if err != nil {
		s.record(ctx, input.ActorID, "partners.rollback_failed", txn.ID, map[string]any{"error": err.Error()})
	}
}

// Reverse undoes a journalled transaction by the mirror movement: a
// counter-entry in the ledger and the opposite balance delta.
func (s *Service) Reverse(ctx context.Context, transactionID, actorID int64) error {
	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	// Undoing the transaction applies the opposite of its original
	// balance impact.
	delta := signedImpact(txn.Type, txn.Amount).Neg()
	// The balance guard is the step that can refuse, so it runs before the
	// ledger is touched.
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.AdjustBalance(ctx, txn.PartnerID, delta); err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, transactionID)
	})
	if err != nil {
		return err
	}
	if txn.JournalEntryID != nil {
		if _, err := s.posting.ReverseDocument(ctx, *txn.JournalEntryID, actorID,
			fmt.Sprintf("Reversal of partner transaction %d", transactionID)); err != nil {
			restoreErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				if _, err := tx.AdjustBalance(ctx, txn.PartnerID, delta.Neg()); err != nil {
					return err
				}
				_, err := tx.InsertTransaction(ctx, txn)
				return err
			})
			if restoreErr != nil {
				s.record(ctx, actorID, "partners.reverse_compensation_failed", transactionID, map[string]any{"error": restoreErr.Error()})
			}
			return err
		}
	}
	s.record(ctx, actorID, "partners.transaction_reverse", transactionID, map[string]any{"partner_id": txn.PartnerID})
	return nil
}

// Create registers a new partner with a zero balance.
func (s *Service) Create(ctx context.Context, p Partner) (Partner, error) {
	if p.Code == "" || p.Name == "" {
		return Partner{}, fmt.Errorf("%w: partner code and name required", ErrValidation)
	}
	p.IsActive = true
	created, err := s.repo.Insert(ctx, p)
	if err != nil {
		return Partner{}, err
	}
	s.record(ctx, 0, "partners.create", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// SetActive toggles a partner on or off.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

// Get returns one partner with its running balance.
func (s *Service) Get(ctx context.Context, id int64) (Partner, error) {
	return s.repo.Get(ctx, id)
}

// List returns partners, optionally active-only.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]Partner, error) {
	return s.repo.List(ctx, activeOnly)
}

// Transactions returns a partner's equity history.
func (s *Service) Transactions(ctx context.Context, partnerID int64, limit int) ([]Transaction, error) {
	if _, err := s.repo.Get(ctx, partnerID); err != nil {
		return nil, err
	}
	return s.repo.Transactions(ctx, partnerID, limit)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "partner",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
