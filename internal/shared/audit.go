package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/docflow/internal/platform/db"
)

// ErrAuditIncomplete is returned for audit entries missing a required field.
var ErrAuditIncomplete = errors.New("audit entry incomplete")

// AuditLog is one row of audit_logs. Entity is the document kind or
// allocation table, EntityID its numeric id rendered as text.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate reports the first missing field.
func (l AuditLog) Validate() error {
	switch {
	case l.ActorID <= 0:
		return fmt.Errorf("%w: actor", ErrAuditIncomplete)
	case l.Action == "":
		return fmt.Errorf("%w: action", ErrAuditIncomplete)
	case l.Entity == "" || l.EntityID == "":
		return fmt.Errorf("%w: entity", ErrAuditIncomplete)
	}
	return nil
}

// AuditLogger appends audit rows. Rows are never updated.
type AuditLogger struct {
	conn db.DBTX
}

// NewAuditLogger returns a logger writing through conn.
func NewAuditLogger(conn db.DBTX) *AuditLogger {
	return &AuditLogger{conn: conn}
}

// On returns a logger bound to another connection, usually the command's transaction.
func (l *AuditLogger) On(conn db.DBTX) *AuditLogger {
	return &AuditLogger{conn: conn}
}

// Record persists entry. A zero At uses the database clock.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.conn == nil {
		return errors.New("audit logger not initialised")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err = l.conn.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, payload, at)
	return err
}
