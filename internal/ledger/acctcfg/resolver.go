package acctcfg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
)

// ErrAccountResolution signals that no binding, entity-specific or default,
// yields a usable account for a role.
var ErrAccountResolution = errors.New("acctcfg: no account configured for role")

// Repository reads role bindings.
type Repository interface {
	GetBinding(ctx context.Context, role Role, entityType string, entityID int64) (Binding, error)
	GetDefault(ctx context.Context, role Role) (Binding, error)
	PutBinding(ctx context.Context, binding Binding) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetBinding(ctx context.Context, role Role, entityType string, entityID int64) (Binding, error) {
	var b Binding
	err := r.db.QueryRow(ctx, `
		SELECT role, entity_type, entity_id, code, created_at, updated_at
		FROM account_bindings
		WHERE role = $1 AND entity_type = $2 AND entity_id = $3`,
		role, strings.ToUpper(entityType), entityID,
	).Scan(&b.Role, &b.EntityType, &b.EntityID, &b.Code, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Binding{}, ErrAccountResolution
	}
	if err != nil {
		return Binding{}, err
	}
	return b, nil
}

func (r *repository) GetDefault(ctx context.Context, role Role) (Binding, error) {
	return r.GetBinding(ctx, role, "", 0)
}

func (r *repository) PutBinding(ctx context.Context, binding Binding) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO account_bindings (role, entity_type, entity_id, code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (role, entity_type, entity_id)
		DO UPDATE SET code = EXCLUDED.code, updated_at = NOW()`,
		binding.Role, strings.ToUpper(binding.EntityType), binding.EntityID, binding.Code)
	return err
}

// AccountLookup is the slice of the chart of accounts the resolver needs.
type AccountLookup interface {
	LookupByCode(ctx context.Context, code string) (accounts.Account, error)
}

// Resolver turns role tags into postable accounts. Preference order:
// entity-specific binding, then the configured default, then failure.
type Resolver struct {
	repo Repository
	coa  AccountLookup
}

// NewResolver wires a role resolver against the chart of accounts.
func NewResolver(repo Repository, coa AccountLookup) *Resolver {
	return &Resolver{repo: repo, coa: coa}
}

// Resolve returns the account bound to the role. entityType and entityID may
// be empty/zero to skip the override lookup.
func (r *Resolver) Resolve(ctx context.Context, role Role, entityType string, entityID int64) (accounts.Account, error) {
	if entityType != "" && entityID != 0 {
		if binding, err := r.repo.GetBinding(ctx, role, entityType, entityID); err == nil {
			return r.lookup(ctx, role, binding.Code)
		} else if !errors.Is(err, ErrAccountResolution) {
			return accounts.Account{}, err
		}
	}
	binding, err := r.repo.GetDefault(ctx, role)
	if err != nil {
		if errors.Is(err, ErrAccountResolution) {
			return accounts.Account{}, fmt.Errorf("%w: %s", ErrAccountResolution, role)
		}
		return accounts.Account{}, err
	}
	return r.lookup(ctx, role, binding.Code)
}

// ResolveDefault resolves a role without entity overrides.
func (r *Resolver) ResolveDefault(ctx context.Context, role Role) (accounts.Account, error) {
	return r.Resolve(ctx, role, "", 0)
}

func (r *Resolver) lookup(ctx context.Context, role Role, code string) (accounts.Account, error) {
	account, err := r.coa.LookupByCode(ctx, code)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return accounts.Account{}, fmt.Errorf("%w: %s bound to missing code %s", ErrAccountResolution, role, code)
		}
		return accounts.Account{}, err
	}
	if !account.CanPost() {
		return accounts.Account{}, fmt.Errorf("%w: %s bound to unpostable account %s", ErrAccountResolution, role, code)
	}
	return account, nil
}
