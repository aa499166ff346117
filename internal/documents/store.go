package documents

import (
	"context"

	"github.com/odyssey-erp/docflow/internal/shared"
)

// Store defines document and allocation data access.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error

	GetDocument(ctx context.Context, kind Kind, id int64) (Document, error)
	ListPaymentAllocations(ctx context.Context, paymentKind Kind, paymentID int64) ([]Allocation, error)
	ListInvoiceAllocations(ctx context.Context, invoiceKind Kind, invoiceID int64) ([]Allocation, error)
	ListApprovals(ctx context.Context, kind Kind, id int64) ([]shared.ApprovalLog, error)
}

// Tx defines operations within a transaction. Lock methods take row locks that
// are held until the transaction ends.
type Tx interface {
	LockDocument(ctx context.Context, kind Kind, id int64) (Document, error)
	// LockDocuments locks rows in ascending id order and returns those found.
	LockDocuments(ctx context.Context, kind Kind, ids []int64) (map[int64]Document, error)
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	// UpdateDocument persists doc if its stored version still equals doc.Version.
	UpdateDocument(ctx context.Context, doc Document) (Document, error)
	GenerateNumber(ctx context.Context, kind Kind) (string, error)

	InsertAllocation(ctx context.Context, alloc Allocation) (Allocation, error)
	PaymentAllocations(ctx context.Context, paymentKind Kind, paymentID int64) ([]Allocation, error)
	InvoiceAllocations(ctx context.Context, invoiceKind Kind, invoiceID int64) ([]Allocation, error)

	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
}

// ApprovalModule is the approval log module name for a kind.
func ApprovalModule(kind Kind) string {
	return string(kind)
}

// ActorDirectory resolves the acting user from persistent state.
type ActorDirectory interface {
	LoadActor(ctx context.Context, id int64) (Actor, error)
}
