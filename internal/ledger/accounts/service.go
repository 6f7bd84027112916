package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

var (
	ErrAccountNotFound = errors.New("accounts: account not found")
	ErrDuplicateCode   = errors.New("accounts: code already in use")
	ErrParentHasPosts  = errors.New("accounts: parent is a leaf with journal history")
	ErrNonZeroBalance  = errors.New("accounts: balance is not zero")
	ErrDraftReferences = errors.New("accounts: account is referenced by draft entries")
	ErrInvalidParent   = errors.New("accounts: invalid parent")
	ErrValidation      = errors.New("accounts: validation failed")
)

// Service maintains the account tree and answers postability questions.
type Service struct {
	repo  Repository
	audit shared.AuditRecorder
}

// NewService wires a chart of accounts service.
func NewService(repo Repository, audit shared.AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create adds an account under an optional parent. A parent that is still a
// leaf with journal history cannot take children, since its history would no
// longer roll up to leaves.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64) (Account, error) {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return Account{}, fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	accountType, err := s.repo.GetType(ctx, in.TypeID)
	if err != nil {
		return Account{}, fmt.Errorf("account type %d: %w", in.TypeID, err)
	}
	nature := accountType.Nature
	if in.Nature != nil {
		nature = *in.Nature
	}

	account := Account{
		Code:          in.Code,
		Name:          in.Name,
		TypeID:        in.TypeID,
		Nature:        nature,
		ParentID:      in.ParentID,
		Level:         0,
		Path:          "/",
		IsCashAccount: in.IsCashAccount,
		IsBankAccount: in.IsBankAccount,
	}

	var parent Account
	if in.ParentID != nil {
		parent, err = s.repo.GetByID(ctx, *in.ParentID)
		if err != nil {
			return Account{}, err
		}
		if !parent.IsActive {
			return Account{}, fmt.Errorf("%w: parent %s is inactive", ErrInvalidParent, parent.Code)
		}
		if parent.IsLeaf {
			hasHistory, err := s.repo.HasJournalHistory(ctx, parent.ID)
			if err != nil {
				return Account{}, err
			}
			if hasHistory {
				return Account{}, fmt.Errorf("%w: %s", ErrParentHasPosts, parent.Code)
			}
		}
		account.Level = parent.Level + 1
		account.Path = parent.Path
	}

	created, err := s.repo.Insert(ctx, account)
	if err != nil {
		return Account{}, err
	}
	if in.ParentID != nil && parent.IsLeaf {
		if err := s.repo.MarkNonLeaf(ctx, parent.ID); err != nil {
			return Account{}, err
		}
	}
	s.record(ctx, actorID, "account.create", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// Deactivate retires an account. Refused while the account carries a balance
// or appears on draft entries.
func (s *Service) Deactivate(ctx context.Context, accountID, actorID int64) error {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	balance, err := s.repo.NetBalance(ctx, accountID)
	if err != nil {
		return err
	}
	if !balance.IsZero() {
		return fmt.Errorf("%w: %s has net %s", ErrNonZeroBalance, account.Code, balance.StringFixed(2))
	}
	hasDrafts, err := s.repo.HasDraftReferences(ctx, accountID)
	if err != nil {
		return err
	}
	if hasDrafts {
		return fmt.Errorf("%w: %s", ErrDraftReferences, account.Code)
	}
	if err := s.repo.SetActive(ctx, accountID, false); err != nil {
		return err
	}
	s.record(ctx, actorID, "account.deactivate", accountID, map[string]any{"code": account.Code})
	return nil
}

// Reparent moves an account, and its whole subtree, under a new parent. Path
// and level are cached on each node and recomputed only here.
func (s *Service) Reparent(ctx context.Context, accountID int64, newParentID *int64, actorID int64) error {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	newLevel := 0
	newPath := fmt.Sprintf("/%d/", account.ID)
	if newParentID != nil {
		if *newParentID == accountID {
			return fmt.Errorf("%w: account cannot parent itself", ErrInvalidParent)
		}
		parent, err := s.repo.GetByID(ctx, *newParentID)
		if err != nil {
			return err
		}
		if strings.HasPrefix(parent.Path, account.Path) {
			return fmt.Errorf("%w: %s is a descendant of %s", ErrInvalidParent, parent.Code, account.Code)
		}
		if parent.IsLeaf {
			hasHistory, err := s.repo.HasJournalHistory(ctx, parent.ID)
			if err != nil {
				return err
			}
			if hasHistory {
				return fmt.Errorf("%w: %s", ErrParentHasPosts, parent.Code)
			}
			if err := s.repo.MarkNonLeaf(ctx, parent.ID); err != nil {
				return err
			}
		}
		newLevel = parent.Level + 1
		newPath = parent.Path + fmt.Sprintf("%d/", account.ID)
	}
	if err := s.repo.MoveSubtree(ctx, accountID, newParentID, account.Path, newPath, newLevel-account.Level); err != nil {
		return err
	}
	// An old parent left childless becomes a leaf again and accepts postings.
	if old := account.ParentID; old != nil && (newParentID == nil || *newParentID != *old) {
		if err := s.repo.MarkLeafIfChildless(ctx, *old); err != nil {
			return err
		}
	}
	s.record(ctx, actorID, "account.reparent", accountID, map[string]any{
		"code": account.Code, "old_path": account.Path, "new_path": newPath,
	})
	return nil
}

// LookupByCode is the hot path for posting recipes that address accounts by
// conventional code.
func (s *Service) LookupByCode(ctx context.Context, code string) (Account, error) {
	return s.repo.GetByCode(ctx, code)
}

// Get returns a single account by id.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns the chart ordered by code.
func (s *Service) List(ctx context.Context, onlyActive bool) ([]Account, error) {
	return s.repo.List(ctx, onlyActive)
}

// ListTypes returns the account type tree.
func (s *Service) ListTypes(ctx context.Context) ([]AccountType, error) {
	return s.repo.ListTypes(ctx)
}

// Descendants returns every node under the given account, depth-first by path.
func (s *Service) Descendants(ctx context.Context, accountID int64) ([]Account, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.repo.Descendants(ctx, account.Path)
}

// LeavesUnder filters Descendants down to postable leaves.
func (s *Service) LeavesUnder(ctx context.Context, accountID int64) ([]Account, error) {
	all, err := s.Descendants(ctx, accountID)
	if err != nil {
		return nil, err
	}
	leaves := all[:0]
	for _, a := range all {
		if a.IsLeaf {
			leaves = append(leaves, a)
		}
	}
	return leaves, nil
}

// CanPost reports whether the account accepts journal lines.
func (s *Service) CanPost(ctx context.Context, accountID int64) (bool, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	return account.CanPost(), nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "account",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
