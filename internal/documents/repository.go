package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/platform/db"
	"github.com/odyssey-erp/docflow/internal/shared"
)

type tableSpec struct {
	table        string
	counterparty string
	// outstanding is the unpaid/available column; empty for kinds without a balance.
	outstanding string
}

var tables = map[Kind]tableSpec{
	KindPurchaseOrder: {table: "purchase_orders", counterparty: "supplier_id"},
	KindSaleOrder:     {table: "sales_orders", counterparty: "customer_id"},
	KindStockMove:     {table: "stock_moves", counterparty: "warehouse_id"},
	KindAPInvoice:     {table: "ap_invoices", counterparty: "supplier_id", outstanding: "unpaid_amount"},
	KindARInvoice:     {table: "ar_invoices", counterparty: "customer_id", outstanding: "unpaid_amount"},
	KindAPPayment:     {table: "ap_payments", counterparty: "supplier_id", outstanding: "available_amount"},
	KindARReceipt:     {table: "ar_receipts", counterparty: "customer_id", outstanding: "available_amount"},
}

func specFor(kind Kind) (tableSpec, error) {
	spec, ok := tables[kind]
	if !ok {
		return tableSpec{}, shared.Validation("unknown document kind %q", kind)
	}
	return spec, nil
}

func (s tableSpec) columns() string {
	allocated, outstanding := "0::numeric", "0::numeric"
	if s.outstanding != "" {
		allocated, outstanding = "allocated_amount", s.outstanding
	}
	return fmt.Sprintf(`id, number, status, approval_status, branch_id, %s, total_before_tax, total_tax, total_after_tax,
%s, %s, created_by, submitted_at, approved_by, approved_at, rejected_by, rejected_at, reject_reason,
posted_by, posted_at, cancelled_by, cancelled_at, version, created_at, updated_at`, s.counterparty, allocated, outstanding)
}

func allocationTable(paymentKind Kind) (string, error) {
	switch paymentKind {
	case KindAPPayment:
		return "ap_allocations", nil
	case KindARReceipt:
		return "ar_allocations", nil
	}
	return "", shared.Validation("%s does not carry allocations", paymentKind)
}

func allocationTableForInvoice(invoiceKind Kind) (string, Kind, error) {
	switch invoiceKind {
	case KindAPInvoice:
		return "ap_allocations", KindAPPayment, nil
	case KindARInvoice:
		return "ar_allocations", KindARReceipt, nil
	}
	return "", "", shared.Validation("%s does not carry allocations", invoiceKind)
}

const allocationColumns = `id, payment_id, invoice_id, amount, reverses_id, note, created_by, created_at`

var (
	_ Store = (*pgStore)(nil)
	_ Tx    = (*pgTx)(nil)
)

type pgStore struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
	audit     *shared.AuditLogger
	keys      *shared.IdempotencyStore
}

// NewRepository returns the Postgres-backed Store.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) Store {
	return &pgStore{
		pool:      pool,
		approvals: shared.NewApprovalRecorder(pool, logger),
		audit:     shared.NewAuditLogger(pool),
		keys:      shared.NewIdempotencyStore(pool),
	}
}

// WithTx runs fn in a read-committed transaction. Consistency comes from the
// explicit row locks taken through Tx, so serialization and deadlock failures
// surface as Conflict for the caller to retry.
func (s *pgStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	err := db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			tx:        tx,
			approvals: s.approvals.On(tx),
			audit:     s.audit.On(tx),
			keys:      s.keys.On(tx),
		})
	})
	if errors.Is(err, db.ErrSerialization) {
		return shared.Conflict("concurrent update, retry the command")
	}
	return err
}

func (s *pgStore) GetDocument(ctx context.Context, kind Kind, id int64) (Document, error) {
	return getDocument(ctx, s.pool, kind, id, false)
}

func (s *pgStore) ListPaymentAllocations(ctx context.Context, paymentKind Kind, paymentID int64) ([]Allocation, error) {
	return paymentAllocations(ctx, s.pool, paymentKind, paymentID)
}

func (s *pgStore) ListInvoiceAllocations(ctx context.Context, invoiceKind Kind, invoiceID int64) ([]Allocation, error) {
	return invoiceAllocations(ctx, s.pool, invoiceKind, invoiceID)
}

func (s *pgStore) ListApprovals(ctx context.Context, kind Kind, id int64) ([]shared.ApprovalLog, error) {
	module := ApprovalModule(kind)
	return s.approvals.List(ctx, module, shared.ApprovalRef(module, id))
}

type pgTx struct {
	tx        pgx.Tx
	approvals *shared.ApprovalRecorder
	audit     *shared.AuditLogger
	keys      *shared.IdempotencyStore
}

func (t *pgTx) LockDocument(ctx context.Context, kind Kind, id int64) (Document, error) {
	return getDocument(ctx, t.tx, kind, id, true)
}

func (t *pgTx) LockDocuments(ctx context.Context, kind Kind, ids []int64) (map[int64]Document, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1) ORDER BY id FOR UPDATE`, spec.columns(), spec.table)
	rows, err := t.tx.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanDocument(rows, kind)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc
	}
	return out, rows.Err()
}

func (t *pgTx) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	spec, err := specFor(doc.Kind)
	if err != nil {
		return Document{}, err
	}
	cols := []string{"number", "status", "approval_status", "branch_id", spec.counterparty,
		"total_before_tax", "total_tax", "total_after_tax", "created_by"}
	args := []any{doc.Number, string(doc.Status), string(doc.ApprovalStatus), doc.BranchID, doc.CounterpartyID,
		doc.TotalBeforeTax, doc.TotalTax, doc.TotalAfterTax, doc.CreatedBy}
	if spec.outstanding != "" {
		cols = append(cols, "allocated_amount", spec.outstanding)
		args = append(args, doc.Allocated, doc.Outstanding)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		spec.table, strings.Join(cols, ", "), placeholders(len(cols)), spec.columns())
	created, err := scanDocument(t.tx.QueryRow(ctx, query, args...), doc.Kind)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Document{}, shared.Conflict("document number %s already exists", doc.Number)
		}
		return Document{}, err
	}
	return created, nil
}

func (t *pgTx) UpdateDocument(ctx context.Context, doc Document) (Document, error) {
	spec, err := specFor(doc.Kind)
	if err != nil {
		return Document{}, err
	}
	sets := []string{"status", "approval_status", spec.counterparty, "total_before_tax", "total_tax", "total_after_tax",
		"submitted_at", "approved_by", "approved_at", "rejected_by", "rejected_at", "reject_reason",
		"posted_by", "posted_at", "cancelled_by", "cancelled_at"}
	args := []any{string(doc.Status), string(doc.ApprovalStatus), doc.CounterpartyID, doc.TotalBeforeTax, doc.TotalTax, doc.TotalAfterTax,
		doc.SubmittedAt, doc.ApprovedBy, doc.ApprovedAt, doc.RejectedBy, doc.RejectedAt, doc.RejectReason,
		doc.PostedBy, doc.PostedAt, doc.CancelledBy, doc.CancelledAt}
	if spec.outstanding != "" {
		sets = append(sets, "allocated_amount", spec.outstanding)
		args = append(args, doc.Allocated, doc.Outstanding)
	}
	assignments := make([]string, len(sets))
	for i, col := range sets {
		assignments[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	args = append(args, doc.ID, doc.Version)
	query := fmt.Sprintf(`UPDATE %s SET %s, version = version + 1, updated_at = NOW()
WHERE id = $%d AND version = $%d RETURNING %s`,
		spec.table, strings.Join(assignments, ", "), len(args)-1, len(args), spec.columns())
	updated, err := scanDocument(t.tx.QueryRow(ctx, query, args...), doc.Kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.Conflict("%s %d was modified concurrently", doc.Kind, doc.ID)
		}
		return Document{}, err
	}
	return updated, nil
}

func (t *pgTx) GenerateNumber(ctx context.Context, kind Kind) (string, error) {
	spec, err := specFor(kind)
	if err != nil {
		return "", err
	}
	var seq int64
	if err := t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT nextval('%s_number_seq')`, spec.table)).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%05d", kind.NumberPrefix(), time.Now().Format("200601"), seq), nil
}

func (t *pgTx) InsertAllocation(ctx context.Context, alloc Allocation) (Allocation, error) {
	table, err := allocationTable(alloc.PaymentKind)
	if err != nil {
		return Allocation{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (payment_id, invoice_id, amount, reverses_id, note, created_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING %s`, table, allocationColumns)
	created, err := scanAllocation(t.tx.QueryRow(ctx, query,
		alloc.PaymentID, alloc.InvoiceID, alloc.Amount, alloc.ReversesID, alloc.Note, alloc.CreatedBy), alloc.PaymentKind)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Allocation{}, shared.Conflict("allocation already reversed")
		}
		return Allocation{}, err
	}
	return created, nil
}

func (t *pgTx) PaymentAllocations(ctx context.Context, paymentKind Kind, paymentID int64) ([]Allocation, error) {
	return paymentAllocations(ctx, t.tx, paymentKind, paymentID)
}

func (t *pgTx) InvoiceAllocations(ctx context.Context, invoiceKind Kind, invoiceID int64) ([]Allocation, error) {
	return invoiceAllocations(ctx, t.tx, invoiceKind, invoiceID)
}

func (t *pgTx) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return t.approvals.Record(ctx, log)
}

func (t *pgTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, log)
}

func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return t.keys.CheckAndInsert(ctx, key, module)
}

func getDocument(ctx context.Context, conn db.DBTX, kind Kind, id int64, lock bool) (Document, error) {
	spec, err := specFor(kind)
	if err != nil {
		return Document{}, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, spec.columns(), spec.table)
	if lock {
		query += " FOR UPDATE"
	}
	doc, err := scanDocument(conn.QueryRow(ctx, query, id), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.NotFound("%s %d not found", kind, id)
		}
		return Document{}, err
	}
	return doc, nil
}

func paymentAllocations(ctx context.Context, conn db.DBTX, paymentKind Kind, paymentID int64) ([]Allocation, error) {
	table, err := allocationTable(paymentKind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE payment_id = $1 ORDER BY id`, allocationColumns, table)
	return queryAllocations(ctx, conn, paymentKind, query, paymentID)
}

func invoiceAllocations(ctx context.Context, conn db.DBTX, invoiceKind Kind, invoiceID int64) ([]Allocation, error) {
	table, paymentKind, err := allocationTableForInvoice(invoiceKind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE invoice_id = $1 ORDER BY id`, allocationColumns, table)
	return queryAllocations(ctx, conn, paymentKind, query, invoiceID)
}

func queryAllocations(ctx context.Context, conn db.DBTX, paymentKind Kind, query string, id int64) ([]Allocation, error) {
	rows, err := conn.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		alloc, err := scanAllocation(rows, paymentKind)
		if err != nil {
			return nil, err
		}
		out = append(out, alloc)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row, kind Kind) (Document, error) {
	var (
		doc            Document
		status, appr   string
		allocated, out decimal.Decimal
	)
	err := row.Scan(&doc.ID, &doc.Number, &status, &appr, &doc.BranchID, &doc.CounterpartyID,
		&doc.TotalBeforeTax, &doc.TotalTax, &doc.TotalAfterTax, &allocated, &out,
		&doc.CreatedBy, &doc.SubmittedAt, &doc.ApprovedBy, &doc.ApprovedAt, &doc.RejectedBy, &doc.RejectedAt, &doc.RejectReason,
		&doc.PostedBy, &doc.PostedAt, &doc.CancelledBy, &doc.CancelledAt, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	doc.Kind = kind
	doc.Status = Status(status)
	doc.ApprovalStatus = ApprovalStatus(appr)
	doc.Allocated = allocated
	doc.Outstanding = out
	return doc, nil
}

func scanAllocation(row pgx.Row, paymentKind Kind) (Allocation, error) {
	var a Allocation
	if err := row.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount, &a.ReversesID, &a.Note, &a.CreatedBy, &a.CreatedAt); err != nil {
		return Allocation{}, err
	}
	a.PaymentKind = paymentKind
	return a, nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}
