package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ledgerline/invoicing/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID    int64
	ActorEmail string
	Action     string
	Entity     string
	EntityID   string
	FromStatus string
	ToStatus   string
	Meta       map[string]any
	At         time.Time
}

// QuerierSource resolves the pool or the transaction bound to ctx.
type QuerierSource interface {
	Querier(ctx context.Context) db.Querier
}

// AuditLogger writes records into audit_logs, joining the caller's transaction.
type AuditLogger struct {
	db QuerierSource
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(source QuerierSource) *AuditLogger {
	return &AuditLogger{db: source}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Querier(ctx).Exec(ctx, `
		INSERT INTO audit_logs (actor_id, actor_email, action, entity, entity_id, from_status, to_status, meta, occurred_at)
		VALUES (NULLIF($1, 0), $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, COALESCE($9, NOW()))`,
		log.ActorID, log.ActorEmail, log.Action, log.Entity, log.EntityID, log.FromStatus, log.ToStatus, metaJSON, at)
	return err
}
