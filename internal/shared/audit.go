package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog records who did what to which ledger entity.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder abstracts audit sinks so services stay storage-agnostic.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger appends audit records to the audit_logs table. Failures are
// the caller's to handle; services log and continue rather than fail the
// business operation.
type AuditLogger struct {
	pool *pgxpool.Pool
}

func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const insertAuditLog = `
	INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Record persists one entry. A zero At is stamped here so callers may omit
// the clock.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("shared: audit log requires action, entity and entity id")
	}
	if log.At.IsZero() {
		log.At = time.Now()
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, insertAuditLog,
		log.ActorID, log.Action, log.Entity, log.EntityID, meta, log.At)
	return err
}
