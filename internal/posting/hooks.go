package posting

import (
	"context"
	"errors"
	"fmt"

	"github.com/vantage-erp/vantage-erp/internal/inventory"
	"github.com/vantage-erp/vantage-erp/internal/ledger"
	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
	"github.com/vantage-erp/vantage-erp/internal/ledger/acctcfg"
)

// Ledger exposes the journal engine operations the dispatcher needs.
type Ledger interface {
	CreateEntry(ctx context.Context, input ledger.EntryInput) (ledger.JournalEntry, error)
	Reverse(ctx context.Context, input ledger.ReverseInput) (ledger.JournalEntry, error)
}

// AccountResolver turns role tags into postable accounts.
type AccountResolver interface {
	Resolve(ctx context.Context, role acctcfg.Role, entityType string, entityID int64) (accounts.Account, error)
}

// MovementLinker records the journal entry paired with a stock movement.
type MovementLinker interface {
	LinkJournal(ctx context.Context, movementID, journalEntryID int64) error
}

// Hooks is the thin dispatcher between documents and the journal engine.
type Hooks struct {
	ledger   Ledger
	resolver AccountResolver
	linker   MovementLinker
}

// NewHooks wires the dispatcher. linker may be nil when inventory linkage is
// handled by the caller.
func NewHooks(l Ledger, resolver AccountResolver, linker MovementLinker) *Hooks {
	return &Hooks{ledger: l, resolver: resolver, linker: linker}
}

// Post resolves the recipe's roles and posts one automatic journal entry.
// Zero-amount tuples are dropped; a recipe with nothing left posts nothing.
func (h *Hooks) Post(ctx context.Context, recipe Recipe) (ledger.JournalEntry, error) {
	var lines []ledger.LineInput
	for _, tuple := range recipe.Lines {
		if tuple.Amount.IsZero() {
			continue
		}
		if tuple.Amount.IsNegative() {
			return ledger.JournalEntry{}, fmt.Errorf("%w: negative recipe amount", ledger.ErrValidation)
		}
		debitID, err := h.accountFor(ctx, recipe, tuple.DebitRole, tuple.DebitAccountID)
		if err != nil {
			return ledger.JournalEntry{}, err
		}
		creditID, err := h.accountFor(ctx, recipe, tuple.CreditRole, tuple.CreditAccountID)
		if err != nil {
			return ledger.JournalEntry{}, err
		}
		lines = append(lines,
			ledger.LineInput{AccountID: debitID, Debit: tuple.Amount, Description: tuple.Memo},
			ledger.LineInput{AccountID: creditID, Credit: tuple.Amount, Description: tuple.Memo},
		)
	}
	if len(lines) == 0 {
		return ledger.JournalEntry{}, nil
	}
	return h.ledger.CreateEntry(ctx, ledger.EntryInput{
		Date:        recipe.Date,
		Type:        ledger.EntryTypeAutomatic,
		Description: recipe.Description,
		RefType:     recipe.RefType,
		RefID:       recipe.RefID,
		AutoPost:    true,
		ActorID:     recipe.ActorID,
		Lines:       lines,
	})
}

// ReverseDocument reverses the journal posted for a document, used when a
// confirmed document is cancelled.
func (h *Hooks) ReverseDocument(ctx context.Context, entryID, actorID int64, description string) (ledger.JournalEntry, error) {
	return h.ledger.Reverse(ctx, ledger.ReverseInput{
		EntryID:     entryID,
		ActorID:     actorID,
		Description: description,
	})
}

// HandleMovementPosted satisfies the inventory integration port: posted
// adjustments get their paired journal, other movement kinds are posted by
// the owning document service.
func (h *Hooks) HandleMovementPosted(ctx context.Context, event inventory.MovementPostedEvent) error {
	if event.Type != inventory.MovementTypeAdjustment {
		return nil
	}
	if event.Value().IsZero() {
		return nil
	}
	entry, err := h.Post(ctx, AdjustmentRecipe(AdjustmentDocument{
		MovementID: event.MovementID,
		Number:     event.DocumentNumber,
		Date:       event.PostedAt,
		Delta:      event.Quantity,
		Value:      event.Value(),
		ActorID:    event.ActorID,
	}))
	if err != nil {
		// A duplicate means the adjustment was already journalled.
		if errors.Is(err, ledger.ErrDuplicatePosting) {
			return nil
		}
		return err
	}
	if h.linker != nil && entry.ID != 0 {
		return h.linker.LinkJournal(ctx, event.MovementID, entry.ID)
	}
	return nil
}

func (h *Hooks) accountFor(ctx context.Context, recipe Recipe, role acctcfg.Role, fixedID int64) (int64, error) {
	if fixedID != 0 {
		return fixedID, nil
	}
	if role == "" {
		return 0, fmt.Errorf("%w: recipe tuple without role or account", acctcfg.ErrAccountResolution)
	}
	account, err := h.resolver.Resolve(ctx, role, recipe.EntityType, recipe.EntityID)
	if err != nil {
		return 0, err
	}
	return account.ID, nil
}
