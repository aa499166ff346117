package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/docflow/internal/platform/db"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
	// ApprovalRevise marks a rejected document returned to draft.
	ApprovalRevise ApprovalAction = "REVISE"
	// ApprovalPost marks a posting.
	ApprovalPost ApprovalAction = "POST"
	// ApprovalComplete marks a completion.
	ApprovalComplete ApprovalAction = "COMPLETE"
	// ApprovalCancel marks a cancellation.
	ApprovalCancel ApprovalAction = "CANCEL"
	// ApprovalAllocate marks a payment allocation batch.
	ApprovalAllocate ApprovalAction = "ALLOCATE"
	// ApprovalReverse marks an allocation reversal.
	ApprovalReverse ApprovalAction = "REVERSE"
)

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRef derives the stable reference id of a document for the approval log.
func ApprovalRef(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", module, id)))
}

// Validate checks the fields every approval record needs.
func (l ApprovalLog) Validate() error {
	if l.Module == "" {
		return errors.New("approval module required")
	}
	if l.ActorID == 0 {
		return errors.New("approval actor required")
	}
	if l.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if l.Action == "" {
		return errors.New("approval action required")
	}
	return nil
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(conn db.DBTX, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{db: conn, logger: logger}
}

// On returns a recorder writing through conn, typically an open transaction.
func (r *ApprovalRecorder) On(conn db.DBTX) *ApprovalRecorder {
	return &ApprovalRecorder{db: conn, logger: r.logger}
}

// Record writes approval entry to database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.db == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil && r.logger != nil {
		r.logger.Error("record approval",
			slog.String("module", log.Module),
			slog.String("action", string(log.Action)),
			slog.Any("error", err))
	}
	return err
}

// List returns the approval trail of one document, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, module, ref_id, actor_id, action, note, at
		FROM approvals
		WHERE module = $1 AND ref_id = $2
		ORDER BY at, id`, module, ref)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalLog, error) {
		var l ApprovalLog
		err := row.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &l.Action, &l.Note, &l.At)
		return l, err
	})
}
