package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	TenantID TenantID
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Notes    string
	Changed  map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs. It runs after the mutating
// transaction has committed; a failure here never rolls the mutation back.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	changedJSON, err := json.Marshal(log.Changed)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (tenant_id, actor_id, action, entity, entity_id, notes, changed, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		int64(log.TenantID), log.ActorID, log.Action, log.Entity, log.EntityID, log.Notes, changedJSON, log.At)
	return err
}
