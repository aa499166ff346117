package workflow

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

// CreateInput carries the header of a new draft document.
type CreateInput struct {
	Kind           documents.Kind
	Number         string
	BranchID       int64
	CounterpartyID int64
	TotalBeforeTax decimal.Decimal
	TotalTax       decimal.Decimal
}

// Patch lists the header fields editable while a document is a draft.
type Patch struct {
	CounterpartyID *int64
	TotalBeforeTax *decimal.Decimal
	TotalTax       *decimal.Decimal
}

// Machine evaluates transitions on copies of documents. It never persists
// anything; callers write the returned document only when err is nil.
type Machine struct {
	guard Guard
	now   func() time.Time
}

// NewMachine builds a machine over policies.
func NewMachine(policies Policies) *Machine {
	return &Machine{guard: NewGuard(policies), now: time.Now}
}

// Guard exposes the machine's rule set.
func (m *Machine) Guard() Guard {
	return m.guard
}

// New builds a draft document owned by actor.
func (m *Machine) New(input CreateInput, actor documents.Actor) (documents.Document, error) {
	if !input.Kind.Valid() {
		return documents.Document{}, shared.Validation("unknown document kind %q", input.Kind)
	}
	if input.BranchID <= 0 {
		return documents.Document{}, shared.Validation("branch_id is required")
	}
	if input.CounterpartyID <= 0 {
		return documents.Document{}, shared.Validation("counterparty_id is required")
	}
	if err := validateTotals(input.TotalBeforeTax, input.TotalTax); err != nil {
		return documents.Document{}, err
	}
	doc := documents.Document{
		Number:         strings.TrimSpace(input.Number),
		Kind:           input.Kind,
		Status:         documents.StatusDraft,
		ApprovalStatus: documents.ApprovalDraft,
		BranchID:       input.BranchID,
		CounterpartyID: input.CounterpartyID,
		CreatedBy:      actor.ID,
	}
	setTotals(&doc, input.TotalBeforeTax, input.TotalTax)
	if err := m.guard.Check(doc, actor, ActionCreate); err != nil {
		return documents.Document{}, err
	}
	return doc, nil
}

// Edit applies patch to a draft or rejected document.
func (m *Machine) Edit(doc documents.Document, actor documents.Actor, patch Patch) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionEdit); err != nil {
		return documents.Document{}, err
	}
	next := doc.Clone()
	if patch.CounterpartyID != nil {
		if *patch.CounterpartyID <= 0 {
			return documents.Document{}, shared.Validation("counterparty_id must be positive")
		}
		next.CounterpartyID = *patch.CounterpartyID
	}
	before, tax := next.TotalBeforeTax, next.TotalTax
	if patch.TotalBeforeTax != nil {
		before = *patch.TotalBeforeTax
	}
	if patch.TotalTax != nil {
		tax = *patch.TotalTax
	}
	if err := validateTotals(before, tax); err != nil {
		return documents.Document{}, err
	}
	setTotals(&next, before, tax)
	return next, nil
}

// Submit requests approval.
func (m *Machine) Submit(doc documents.Document, actor documents.Actor) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionSubmit); err != nil {
		return documents.Document{}, err
	}
	now := m.now()
	next := doc.Clone()
	next.ApprovalStatus = documents.ApprovalWaitingApproval
	next.SubmittedAt = &now
	next.RejectReason = nil
	next.RejectedBy = nil
	next.RejectedAt = nil
	return next, nil
}

// Approve records the approver. Approving twice fails and leaves the first
// approval untouched.
func (m *Machine) Approve(doc documents.Document, actor documents.Actor) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionApprove); err != nil {
		return documents.Document{}, err
	}
	now := m.now()
	approver := actor.ID
	next := doc.Clone()
	next.ApprovalStatus = documents.ApprovalApproved
	next.ApprovedBy = &approver
	next.ApprovedAt = &now
	return next, nil
}

// Reject records the rejection and its reason.
func (m *Machine) Reject(doc documents.Document, actor documents.Actor, reason string) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionReject); err != nil {
		return documents.Document{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return documents.Document{}, shared.Validation("reject reason is required")
	}
	now := m.now()
	rejecter := actor.ID
	next := doc.Clone()
	next.ApprovalStatus = documents.ApprovalRejected
	next.RejectReason = &reason
	next.RejectedBy = &rejecter
	next.RejectedAt = &now
	return next, nil
}

// Revise returns a rejected document to draft.
func (m *Machine) Revise(doc documents.Document, actor documents.Actor) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionRevise); err != nil {
		return documents.Document{}, err
	}
	next := doc.Clone()
	next.ApprovalStatus = documents.ApprovalDraft
	next.RejectReason = nil
	next.RejectedBy = nil
	next.RejectedAt = nil
	return next, nil
}

// Post gives an approved document financial effect.
func (m *Machine) Post(doc documents.Document, actor documents.Actor) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionPost); err != nil {
		return documents.Document{}, err
	}
	now := m.now()
	poster := actor.ID
	next := doc.Clone()
	next.Status = documents.StatusPosted
	next.PostedBy = &poster
	next.PostedAt = &now
	return next, nil
}

// Complete closes a posted order or stock move.
func (m *Machine) Complete(doc documents.Document, actor documents.Actor) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionComplete); err != nil {
		return documents.Document{}, err
	}
	next := doc.Clone()
	next.Status = documents.StatusCompleted
	return next, nil
}

// Cancel moves a non-terminal document to cancelled without touching its
// approval fields.
func (m *Machine) Cancel(doc documents.Document, actor documents.Actor) (documents.Document, error) {
	if err := m.guard.Check(doc, actor, ActionCancel); err != nil {
		return documents.Document{}, err
	}
	now := m.now()
	canceller := actor.ID
	next := doc.Clone()
	next.Status = documents.StatusCancelled
	next.CancelledBy = &canceller
	next.CancelledAt = &now
	return next, nil
}

// Apply dispatches a transition action.
func (m *Machine) Apply(doc documents.Document, actor documents.Actor, action Action, reason string) (documents.Document, error) {
	switch action {
	case ActionSubmit:
		return m.Submit(doc, actor)
	case ActionApprove:
		return m.Approve(doc, actor)
	case ActionReject:
		return m.Reject(doc, actor, reason)
	case ActionRevise:
		return m.Revise(doc, actor)
	case ActionPost:
		return m.Post(doc, actor)
	case ActionComplete:
		return m.Complete(doc, actor)
	case ActionCancel:
		return m.Cancel(doc, actor)
	}
	return documents.Document{}, shared.Validation("unknown action %q", action)
}

func validateTotals(before, tax decimal.Decimal) error {
	if err := documents.ValidateAmount("total_before_tax", before, false); err != nil {
		return err
	}
	return documents.ValidateAmount("total_tax", tax, false)
}

func setTotals(doc *documents.Document, before, tax decimal.Decimal) {
	doc.TotalBeforeTax = before
	doc.TotalTax = tax
	doc.TotalAfterTax = before.Add(tax)
	if doc.Kind.IsInvoice() || doc.Kind.IsPayment() {
		doc.ApplyBalance(documents.DeriveBalance(doc.TotalAfterTax, nil))
	}
}

// approvalAction maps a transition to its approval log action.
func approvalAction(action Action) shared.ApprovalAction {
	switch action {
	case ActionSubmit:
		return shared.ApprovalSubmit
	case ActionApprove:
		return shared.ApprovalApprove
	case ActionReject:
		return shared.ApprovalReject
	case ActionRevise:
		return shared.ApprovalRevise
	case ActionPost:
		return shared.ApprovalPost
	case ActionComplete:
		return shared.ApprovalComplete
	case ActionCancel:
		return shared.ApprovalCancel
	}
	return shared.ApprovalAction(strings.ToUpper(string(action)))
}
