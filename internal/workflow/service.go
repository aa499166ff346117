package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

// Notification describes a committed transition for the approver inbox.
type Notification struct {
	Kind       documents.Kind
	DocumentID int64
	Number     string
	Action     Action
	ActorID    int64
	Status     documents.Status
	Approval   documents.ApprovalStatus
	At         time.Time
}

// Notifier receives committed transitions.
type Notifier interface {
	NotifyTransition(ctx context.Context, n Notification) error
}

// Observer records command outcomes.
type Observer interface {
	ObserveTransition(kind, action, outcome string)
}

// CancelHook runs inside the cancel transaction of a payment so its
// allocations are reversed atomically with the cancellation. It returns the
// payment's balance after the reversals.
type CancelHook interface {
	ReverseAll(ctx context.Context, tx documents.Tx, payment documents.Document, actor documents.Actor, reason string) (documents.Balance, error)
}

// TransitionCommand is a state change request.
type TransitionCommand struct {
	Kind       documents.Kind
	DocumentID int64
	ActorID    int64
	Action     Action
	Reason     string
}

// Service persists state machine transitions.
type Service struct {
	store      documents.Store
	actors     documents.ActorDirectory
	machine    *Machine
	notifier   Notifier
	observer   Observer
	cancelHook CancelHook
	logger     *slog.Logger
}

// NewService constructs the workflow service.
func NewService(store documents.Store, actors documents.ActorDirectory, policies Policies, notifier Notifier, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		actors:   actors,
		machine:  NewMachine(policies),
		notifier: notifier,
		observer: observer,
		logger:   logger,
	}
}

// SetCancelHook wires the allocation reversal used when payments are cancelled.
func (s *Service) SetCancelHook(hook CancelHook) {
	s.cancelHook = hook
}

// Guard exposes the rule set the service enforces.
func (s *Service) Guard() Guard {
	return s.machine.Guard()
}

// Get returns a document snapshot.
func (s *Service) Get(ctx context.Context, kind documents.Kind, id int64) (documents.Document, error) {
	return s.store.GetDocument(ctx, kind, id)
}

// Approvals lists the approval log of a document, oldest first.
func (s *Service) Approvals(ctx context.Context, kind documents.Kind, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.store.GetDocument(ctx, kind, id); err != nil {
		return nil, err
	}
	return s.store.ListApprovals(ctx, kind, id)
}

// Create stores a new draft in the actor's branch.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateInput) (documents.Document, error) {
	var created documents.Document
	err := s.run(ctx, input.Kind, ActionCreate, func() error {
		actor, err := s.actors.LoadActor(ctx, actorID)
		if err != nil {
			return err
		}
		doc, err := s.machine.New(input, actor)
		if err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(ctx context.Context, tx documents.Tx) error {
			if doc.Number == "" {
				number, err := tx.GenerateNumber(ctx, doc.Kind)
				if err != nil {
					return err
				}
				doc.Number = number
			}
			if err := doc.Validate(); err != nil {
				return err
			}
			inserted, err := tx.InsertDocument(ctx, doc)
			if err != nil {
				return err
			}
			if err := s.audit(ctx, tx, inserted, actor, ActionCreate, documents.Document{}); err != nil {
				return err
			}
			created = inserted
			return nil
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	s.notify(ctx, created, ActionCreate, actorID)
	return created, nil
}

// Edit updates the header of a draft.
func (s *Service) Edit(ctx context.Context, kind documents.Kind, id, actorID int64, patch Patch) (documents.Document, error) {
	var updated documents.Document
	err := s.run(ctx, kind, ActionEdit, func() error {
		actor, err := s.actors.LoadActor(ctx, actorID)
		if err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(ctx context.Context, tx documents.Tx) error {
			current, err := tx.LockDocument(ctx, kind, id)
			if err != nil {
				return err
			}
			next, err := s.machine.Edit(current, actor, patch)
			if err != nil {
				return err
			}
			updated, err = s.persist(ctx, tx, current, next, actor, ActionEdit, "")
			return err
		})
	})
	return updated, err
}

// Transition applies cmd.Action to the document. The document is locked and
// re-evaluated inside the transaction, so concurrent commands serialise and
// the loser sees the winner's state.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (documents.Document, error) {
	var updated documents.Document
	err := s.run(ctx, cmd.Kind, cmd.Action, func() error {
		actor, err := s.actors.LoadActor(ctx, cmd.ActorID)
		if err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(ctx context.Context, tx documents.Tx) error {
			current, err := tx.LockDocument(ctx, cmd.Kind, cmd.DocumentID)
			if err != nil {
				return err
			}
			next, err := s.machine.Apply(current, actor, cmd.Action, cmd.Reason)
			if err != nil {
				return err
			}
			if cmd.Action == ActionCancel && current.Kind.IsPayment() && s.cancelHook != nil {
				balance, err := s.cancelHook.ReverseAll(ctx, tx, current, actor, cmd.Reason)
				if err != nil {
					return err
				}
				next.ApplyBalance(balance)
			}
			updated, err = s.persist(ctx, tx, current, next, actor, cmd.Action, cmd.Reason)
			return err
		})
	})
	if err != nil {
		return documents.Document{}, err
	}
	s.notify(ctx, updated, cmd.Action, cmd.ActorID)
	return updated, nil
}

// Submit requests approval of a draft.
func (s *Service) Submit(ctx context.Context, kind documents.Kind, id, actorID int64) (documents.Document, error) {
	return s.Transition(ctx, TransitionCommand{Kind: kind, DocumentID: id, ActorID: actorID, Action: ActionSubmit})
}

// Approve approves a document waiting for approval.
func (s *Service) Approve(ctx context.Context, kind documents.Kind, id, actorID int64) (documents.Document, error) {
	return s.Transition(ctx, TransitionCommand{Kind: kind, DocumentID: id, ActorID: actorID, Action: ActionApprove})
}

// Reject rejects a document waiting for approval.
func (s *Service) Reject(ctx context.Context, kind documents.Kind, id, actorID int64, reason string) (documents.Document, error) {
	return s.Transition(ctx, TransitionCommand{Kind: kind, DocumentID: id, ActorID: actorID, Action: ActionReject, Reason: reason})
}

// Post posts an approved draft.
func (s *Service) Post(ctx context.Context, kind documents.Kind, id, actorID int64) (documents.Document, error) {
	return s.Transition(ctx, TransitionCommand{Kind: kind, DocumentID: id, ActorID: actorID, Action: ActionPost})
}

// Cancel cancels a non-terminal document.
func (s *Service) Cancel(ctx context.Context, kind documents.Kind, id, actorID int64, reason string) (documents.Document, error) {
	return s.Transition(ctx, TransitionCommand{Kind: kind, DocumentID: id, ActorID: actorID, Action: ActionCancel, Reason: reason})
}

func (s *Service) persist(ctx context.Context, tx documents.Tx, before, next documents.Document, actor documents.Actor, action Action, note string) (documents.Document, error) {
	if err := next.Validate(); err != nil {
		return documents.Document{}, err
	}
	updated, err := tx.UpdateDocument(ctx, next)
	if err != nil {
		return documents.Document{}, err
	}
	if action != ActionEdit {
		module := documents.ApprovalModule(updated.Kind)
		if note == "" {
			note = fmt.Sprintf("%s %s %s", updated.Kind, updated.Number, strings.ToLower(string(approvalAction(action))))
		}
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  module,
			RefID:   shared.ApprovalRef(module, updated.ID),
			ActorID: actor.ID,
			Action:  approvalAction(action),
			Note:    note,
		}); err != nil {
			return documents.Document{}, err
		}
	}
	if err := s.audit(ctx, tx, updated, actor, action, before); err != nil {
		return documents.Document{}, err
	}
	return updated, nil
}

func (s *Service) audit(ctx context.Context, tx documents.Tx, doc documents.Document, actor documents.Actor, action Action, before documents.Document) error {
	meta := map[string]any{
		"number":          doc.Number,
		"status":          string(doc.Status),
		"approval_status": string(doc.ApprovalStatus),
		"version":         doc.Version,
	}
	if before.ID != 0 {
		meta["previous_status"] = string(before.Status)
		meta["previous_approval_status"] = string(before.ApprovalStatus)
	}
	return tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "workflow." + string(action),
		Entity:   string(doc.Kind),
		EntityID: strconv.FormatInt(doc.ID, 10),
		Meta:     meta,
	})
}

func (s *Service) run(ctx context.Context, kind documents.Kind, action Action, fn func() error) error {
	err := fn()
	outcome := "success"
	if err != nil {
		outcome = Outcome(err)
		if outcome == "error" {
			s.logger.ErrorContext(ctx, "workflow command failed",
				slog.String("kind", string(kind)),
				slog.String("action", string(action)),
				slog.Any("error", err))
		}
	}
	if s.observer != nil {
		s.observer.ObserveTransition(string(kind), string(action), outcome)
	}
	return err
}

func (s *Service) notify(ctx context.Context, doc documents.Document, action Action, actorID int64) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyTransition(ctx, Notification{
		Kind:       doc.Kind,
		DocumentID: doc.ID,
		Number:     doc.Number,
		Action:     action,
		ActorID:    actorID,
		Status:     doc.Status,
		Approval:   doc.ApprovalStatus,
		At:         time.Now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "enqueue workflow notification",
			slog.String("kind", string(doc.Kind)),
			slog.Int64("document_id", doc.ID),
			slog.Any("error", err))
	}
}

// Outcome labels an error for metrics: the lower-cased business code, or
// "error" for infrastructure failures.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := shared.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
