package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates the key was already consumed.
var ErrIdempotencyConflict = errors.New("shared: idempotent request already processed")

const (
	insertIdempotencyKey = `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`
	deleteIdempotencyKey = `DELETE FROM idempotency_keys WHERE key = $1`
	purgeIdempotencyKeys = `DELETE FROM idempotency_keys WHERE created_at < $1`
)

// IdempotencyStore persists consumed request keys so replays become no-ops.
// Keys are scoped per module; the same key may be reused across modules.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// CheckAndInsert consumes key for module, failing with ErrIdempotencyConflict
// when the key was consumed before.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("shared: idempotency store not initialised")
	}
	if key == "" || module == "" {
		return errors.New("shared: idempotency key and module required")
	}
	if _, err := s.pool.Exec(ctx, insertIdempotencyKey, key, module, s.now()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Delete frees a key so the request may be retried after a failure.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("shared: idempotency key required")
	}
	_, err := s.pool.Exec(ctx, deleteIdempotencyKey, key)
	return err
}

// Cleanup purges keys older than the retention window.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, purgeIdempotencyKeys, s.now().Add(-olderThan))
	return err
}
