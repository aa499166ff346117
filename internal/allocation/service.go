package allocation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Locker guards a payment across processes before its rows are locked.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Observer records allocation outcomes.
type Observer interface {
	ObserveAllocation(kind, operation, outcome string, amount float64)
}

// AllocateCommand applies a payment to one or more invoices.
type AllocateCommand struct {
	PaymentKind    documents.Kind
	PaymentID      int64
	ActorID        int64
	IdempotencyKey string
	Note           string
	Requests       []Request
}

// ReverseCommand cancels one allocation with a negative row.
type ReverseCommand struct {
	PaymentKind  documents.Kind
	PaymentID    int64
	AllocationID int64
	ActorID      int64
	Reason       string
}

// Result carries the snapshots after a committed batch.
type Result struct {
	Payment     documents.Document
	Invoices    []documents.Document
	Allocations []documents.Allocation
}

// Service persists allocation batches.
type Service struct {
	store    documents.Store
	actors   documents.ActorDirectory
	guard    workflow.Guard
	locker   Locker
	observer Observer
	logger   *slog.Logger
}

var _ workflow.CancelHook = (*Service)(nil)

// NewService constructs the allocation service.
func NewService(store documents.Store, actors documents.ActorDirectory, guard workflow.Guard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, actors: actors, guard: guard, logger: logger}
}

// SetLocker enables the cross-process payment lock.
func (s *Service) SetLocker(locker Locker) {
	s.locker = locker
}

// SetObserver wires metrics.
func (s *Service) SetObserver(observer Observer) {
	s.observer = observer
}

// Allocate validates and commits a batch in one transaction. The payment row
// is locked first, then the invoices in ascending id order.
func (s *Service) Allocate(ctx context.Context, cmd AllocateCommand) (Result, error) {
	var result Result
	err := s.observe(ctx, cmd.PaymentKind, "allocate", &result, func() error {
		if !cmd.PaymentKind.IsPayment() {
			return shared.Validation("%s cannot be allocated", cmd.PaymentKind)
		}
		if err := ValidateRequests(cmd.Requests); err != nil {
			return err
		}
		if len(cmd.IdempotencyKey) > 128 {
			return shared.Validation("idempotency_key must be at most 128 characters")
		}
		actor, err := s.actors.LoadActor(ctx, cmd.ActorID)
		if err != nil {
			return err
		}
		release, err := s.lock(ctx, cmd.PaymentKind, cmd.PaymentID)
		if err != nil {
			return err
		}
		defer release()

		return s.store.WithTx(ctx, func(ctx context.Context, tx documents.Tx) error {
			payment, err := tx.LockDocument(ctx, cmd.PaymentKind, cmd.PaymentID)
			if err != nil {
				return err
			}
			if err := s.guard.Check(payment, actor, workflow.ActionAllocate); err != nil {
				return err
			}
			if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
				if err := tx.ClaimIdempotencyKey(ctx, key, "allocation:"+string(cmd.PaymentKind)); err != nil {
					return err
				}
			}
			ledger, err := s.loadLedger(ctx, tx, payment, InvoiceIDs(cmd.Requests))
			if err != nil {
				return err
			}
			plan, err := PlanAllocation(ledger, cmd.Requests, actor.ID, cmd.Note)
			if err != nil {
				return err
			}
			note := fmt.Sprintf("allocated %s to %d invoice(s)", shared.FormatAmount(plan.Total()), len(plan.Invoices))
			result, err = s.apply(ctx, tx, plan, actor, shared.ApprovalAllocate, note)
			return err
		})
	})
	return result, err
}

// Reverse cancels an earlier allocation of the payment.
func (s *Service) Reverse(ctx context.Context, cmd ReverseCommand) (Result, error) {
	var result Result
	err := s.observe(ctx, cmd.PaymentKind, "reverse", &result, func() error {
		if !cmd.PaymentKind.IsPayment() {
			return shared.Validation("%s cannot be allocated", cmd.PaymentKind)
		}
		if strings.TrimSpace(cmd.Reason) == "" {
			return shared.Validation("reversal reason is required")
		}
		actor, err := s.actors.LoadActor(ctx, cmd.ActorID)
		if err != nil {
			return err
		}
		release, err := s.lock(ctx, cmd.PaymentKind, cmd.PaymentID)
		if err != nil {
			return err
		}
		defer release()

		return s.store.WithTx(ctx, func(ctx context.Context, tx documents.Tx) error {
			payment, err := tx.LockDocument(ctx, cmd.PaymentKind, cmd.PaymentID)
			if err != nil {
				return err
			}
			if err := s.guard.Check(payment, actor, workflow.ActionReverse); err != nil {
				return err
			}
			allocs, err := tx.PaymentAllocations(ctx, payment.Kind, payment.ID)
			if err != nil {
				return err
			}
			var invoiceIDs []int64
			for _, a := range allocs {
				if a.ID == cmd.AllocationID {
					invoiceIDs = []int64{a.InvoiceID}
				}
			}
			ledger, err := s.loadLedger(ctx, tx, payment, invoiceIDs)
			if err != nil {
				return err
			}
			plan, err := PlanReversal(ledger, cmd.AllocationID, actor.ID, cmd.Reason)
			if err != nil {
				return err
			}
			note := fmt.Sprintf("reversed allocation %d: %s", cmd.AllocationID, strings.TrimSpace(cmd.Reason))
			result, err = s.apply(ctx, tx, plan, actor, shared.ApprovalReverse, note)
			return err
		})
	})
	return result, err
}

// ReverseAll reverses every outstanding allocation of a payment being
// cancelled. It runs inside the caller's transaction with the payment already
// locked and leaves the payment row itself to the caller.
func (s *Service) ReverseAll(ctx context.Context, tx documents.Tx, payment documents.Document, actor documents.Actor, reason string) (documents.Balance, error) {
	allocs, err := tx.PaymentAllocations(ctx, payment.Kind, payment.ID)
	if err != nil {
		return documents.Balance{}, err
	}
	open := documents.Outstanding(allocs)
	if len(open) == 0 {
		return documents.DeriveBalance(payment.Amount(), allocs), nil
	}
	ids := make([]int64, 0, len(open))
	for _, a := range open {
		ids = append(ids, a.InvoiceID)
	}
	ledger, err := s.loadLedger(ctx, tx, payment, InvoiceIDs(requestsFor(ids)))
	if err != nil {
		return documents.Balance{}, err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = fmt.Sprintf("%s %s cancelled", payment.Kind, payment.Number)
	}
	plan, err := PlanReverseAll(ledger, actor.ID, reason)
	if err != nil {
		return documents.Balance{}, err
	}
	if _, _, err := s.writeRows(ctx, tx, plan, actor); err != nil {
		return documents.Balance{}, err
	}
	s.logger.InfoContext(ctx, "reversed allocations of cancelled payment",
		slog.String("kind", string(payment.Kind)),
		slog.Int64("document_id", payment.ID),
		slog.Int("rows", len(plan.Rows)))
	return documents.Balance{
		Total:     plan.Payment.Amount(),
		Allocated: plan.Payment.Allocated,
		Remaining: plan.Payment.Outstanding,
	}, nil
}

// ListPaymentAllocations returns every row recorded against a payment, reversals included.
func (s *Service) ListPaymentAllocations(ctx context.Context, kind documents.Kind, paymentID int64) ([]documents.Allocation, error) {
	if !kind.IsPayment() {
		return nil, shared.Validation("%s does not carry allocations", kind)
	}
	if _, err := s.store.GetDocument(ctx, kind, paymentID); err != nil {
		return nil, err
	}
	return s.store.ListPaymentAllocations(ctx, kind, paymentID)
}

// ListInvoiceAllocations returns every row recorded against an invoice.
func (s *Service) ListInvoiceAllocations(ctx context.Context, kind documents.Kind, invoiceID int64) ([]documents.Allocation, error) {
	if !kind.IsInvoice() {
		return nil, shared.Validation("%s does not carry allocations", kind)
	}
	if _, err := s.store.GetDocument(ctx, kind, invoiceID); err != nil {
		return nil, err
	}
	return s.store.ListInvoiceAllocations(ctx, kind, invoiceID)
}

func (s *Service) loadLedger(ctx context.Context, tx documents.Tx, payment documents.Document, invoiceIDs []int64) (Ledger, error) {
	invoiceKind, ok := payment.Kind.InvoiceKind()
	if !ok {
		return Ledger{}, shared.Validation("%s cannot be allocated", payment.Kind)
	}
	paymentAllocs, err := tx.PaymentAllocations(ctx, payment.Kind, payment.ID)
	if err != nil {
		return Ledger{}, err
	}
	invoices, err := tx.LockDocuments(ctx, invoiceKind, invoiceIDs)
	if err != nil {
		return Ledger{}, err
	}
	invoiceAllocs := make(map[int64][]documents.Allocation, len(invoices))
	for id := range invoices {
		rows, err := tx.InvoiceAllocations(ctx, invoiceKind, id)
		if err != nil {
			return Ledger{}, err
		}
		invoiceAllocs[id] = rows
	}
	return Ledger{
		Payment:            payment,
		PaymentAllocations: paymentAllocs,
		Invoices:           invoices,
		InvoiceAllocations: invoiceAllocs,
	}, nil
}

func (s *Service) apply(ctx context.Context, tx documents.Tx, plan Plan, actor documents.Actor, action shared.ApprovalAction, note string) (Result, error) {
	rows, invoices, err := s.writeRows(ctx, tx, plan, actor)
	if err != nil {
		return Result{}, err
	}
	if err := plan.Payment.Validate(); err != nil {
		return Result{}, err
	}
	payment, err := tx.UpdateDocument(ctx, plan.Payment)
	if err != nil {
		return Result{}, err
	}
	module := documents.ApprovalModule(payment.Kind)
	if err := tx.RecordApproval(ctx, shared.ApprovalLog{
		Module:  module,
		RefID:   shared.ApprovalRef(module, payment.ID),
		ActorID: actor.ID,
		Action:  action,
		Note:    note,
	}); err != nil {
		return Result{}, err
	}
	if err := tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "allocation." + strings.ToLower(string(action)),
		Entity:   string(payment.Kind),
		EntityID: strconv.FormatInt(payment.ID, 10),
		Meta: map[string]any{
			"rows":      len(rows),
			"amount":    plan.Total().StringFixed(documents.AmountScale),
			"available": payment.Outstanding.StringFixed(documents.AmountScale),
			"status":    string(payment.Status),
		},
	}); err != nil {
		return Result{}, err
	}
	return Result{Payment: payment, Invoices: invoices, Allocations: rows}, nil
}

// writeRows inserts the planned rows and updates the invoices they touch.
func (s *Service) writeRows(ctx context.Context, tx documents.Tx, plan Plan, actor documents.Actor) ([]documents.Allocation, []documents.Document, error) {
	rows := make([]documents.Allocation, 0, len(plan.Rows))
	for _, row := range plan.Rows {
		inserted, err := tx.InsertAllocation(ctx, row)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, inserted)
	}
	invoices := make([]documents.Document, 0, len(plan.Invoices))
	for _, inv := range plan.Invoices {
		if err := inv.Validate(); err != nil {
			return nil, nil, err
		}
		updated, err := tx.UpdateDocument(ctx, inv)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "allocation.balance",
			Entity:   string(updated.Kind),
			EntityID: strconv.FormatInt(updated.ID, 10),
			Meta: map[string]any{
				"allocated": updated.Allocated.StringFixed(documents.AmountScale),
				"unpaid":    updated.Outstanding.StringFixed(documents.AmountScale),
				"status":    string(updated.Status),
			},
		}); err != nil {
			return nil, nil, err
		}
		invoices = append(invoices, updated)
	}
	return rows, invoices, nil
}

func (s *Service) lock(ctx context.Context, kind documents.Kind, paymentID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := shared.PaymentLockKey(string(kind), paymentID)
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "release payment lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) observe(ctx context.Context, kind documents.Kind, operation string, result *Result, fn func() error) error {
	err := fn()
	outcome := workflow.Outcome(err)
	if outcome == "error" {
		s.logger.ErrorContext(ctx, "allocation command failed",
			slog.String("kind", string(kind)),
			slog.String("operation", operation),
			slog.Any("error", err))
	}
	if s.observer != nil {
		amount := 0.0
		if err == nil && result != nil {
			for _, a := range result.Allocations {
				f, _ := a.Amount.Float64()
				amount += f
			}
		}
		s.observer.ObserveAllocation(string(kind), operation, outcome, amount)
	}
	return err
}

func requestsFor(invoiceIDs []int64) []Request {
	out := make([]Request, len(invoiceIDs))
	for i, id := range invoiceIDs {
		out[i] = Request{InvoiceID: id}
	}
	return out
}
