package workflow

import (
	"strings"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

// Action names a command issued against a document.
type Action string

const (
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionRevise   Action = "revise"
	ActionPost     Action = "post"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionAllocate Action = "allocate"
	ActionReverse  Action = "reverse"
)

// TransitionActions are the actions exposed as document commands.
func TransitionActions() []Action {
	return []Action{ActionSubmit, ActionApprove, ActionReject, ActionRevise, ActionPost, ActionComplete, ActionCancel}
}

// ParseAction validates a transition action coming from a URL.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, candidate := range TransitionActions() {
		if a == candidate {
			return a, nil
		}
	}
	return "", shared.Validation("unknown action %q", raw)
}

// Guard evaluates role, branch, ownership and source-state rules.
type Guard struct {
	policies Policies
}

// NewGuard builds a guard over policies.
func NewGuard(policies Policies) Guard {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return Guard{policies: policies}
}

var defaultGuard = NewGuard(DefaultPolicies())

// CanTransition reports whether actor may perform action on doc under the
// default policies.
func CanTransition(doc documents.Document, actor documents.Actor, action Action) bool {
	return defaultGuard.CanTransition(doc, actor, action)
}

// Check returns the first failing rule for action under the default policies.
func Check(doc documents.Document, actor documents.Actor, action Action) error {
	return defaultGuard.Check(doc, actor, action)
}

// CanTransition reports whether every rule for action passes.
func (g Guard) CanTransition(doc documents.Document, actor documents.Actor, action Action) bool {
	return g.Check(doc, actor, action) == nil
}

// Check evaluates authorisation rules first and state rules second, returning
// Forbidden or InvalidTransition for the first one that fails.
func (g Guard) Check(doc documents.Document, actor documents.Actor, action Action) error {
	if err := g.authorize(doc, actor, action); err != nil {
		return err
	}
	return g.checkState(doc, action)
}

func (g Guard) authorize(doc documents.Document, actor documents.Actor, action Action) error {
	if !actor.Active {
		return shared.Forbidden("user %d is inactive", actor.ID)
	}
	if actor.BranchID != doc.BranchID {
		return shared.Forbidden("user %d cannot act on branch %d", actor.ID, doc.BranchID)
	}

	policy := g.policies.For(doc.Kind)
	approver := policy.IsApprover(actor)
	creator := actor.ID == doc.CreatedBy

	switch action {
	case ActionCreate:
		return nil
	case ActionSubmit, ActionRevise, ActionEdit:
		if !creator {
			return shared.Forbidden("only the creator may %s %s %s", action, doc.Kind, doc.Number)
		}
	case ActionApprove, ActionReject:
		if !approver {
			return shared.Forbidden("user %d is not an approver for %s", actor.ID, doc.Kind)
		}
		if creator {
			return shared.Forbidden("creator cannot %s own %s %s", action, doc.Kind, doc.Number)
		}
	case ActionCancel:
		if approver {
			return nil
		}
		if !creator {
			return shared.Forbidden("user %d cannot cancel %s %s", actor.ID, doc.Kind, doc.Number)
		}
		if doc.ApprovalStatus != documents.ApprovalDraft && doc.ApprovalStatus != documents.ApprovalRejected {
			return shared.Forbidden("creator cannot cancel %s %s once it is %s", doc.Kind, doc.Number, doc.ApprovalStatus)
		}
	case ActionPost, ActionComplete, ActionAllocate:
		if !approver && !creator {
			return shared.Forbidden("user %d cannot %s %s %s", actor.ID, action, doc.Kind, doc.Number)
		}
	case ActionReverse:
		if !approver {
			return shared.Forbidden("user %d is not an approver for %s", actor.ID, doc.Kind)
		}
	default:
		return shared.Validation("unknown action %q", action)
	}
	return nil
}

func (g Guard) checkState(doc documents.Document, action Action) error {
	policy := g.policies.For(doc.Kind)
	invalid := func(format string, args ...any) error {
		return shared.InvalidTransition(format, args...).
			WithDetail("status", string(doc.Status)).
			WithDetail("approval_status", string(doc.ApprovalStatus))
	}

	switch action {
	case ActionCreate:
		return nil
	case ActionSubmit:
		if doc.Status != documents.StatusDraft {
			return invalid("%s %s is %s", doc.Kind, doc.Number, doc.Status)
		}
		switch doc.ApprovalStatus {
		case documents.ApprovalDraft:
			return nil
		case documents.ApprovalRejected:
			if policy.ResubmitFromRejected {
				return nil
			}
			return invalid("%s %s must be revised before resubmission", doc.Kind, doc.Number)
		}
		return invalid("cannot submit %s %s from %s", doc.Kind, doc.Number, doc.ApprovalStatus)
	case ActionApprove, ActionReject:
		if doc.ApprovalStatus != documents.ApprovalWaitingApproval || doc.Status != documents.StatusDraft {
			return invalid("cannot %s %s %s from %s", action, doc.Kind, doc.Number, doc.ApprovalStatus)
		}
	case ActionRevise:
		if doc.ApprovalStatus != documents.ApprovalRejected || doc.Status != documents.StatusDraft {
			return invalid("only rejected drafts can be revised")
		}
	case ActionEdit:
		if doc.Status != documents.StatusDraft ||
			(doc.ApprovalStatus != documents.ApprovalDraft && doc.ApprovalStatus != documents.ApprovalRejected) {
			return invalid("%s %s is not editable while %s", doc.Kind, doc.Number, doc.ApprovalStatus)
		}
	case ActionPost:
		if doc.ApprovalStatus != documents.ApprovalApproved {
			return invalid("%s %s must be approved before posting", doc.Kind, doc.Number)
		}
		if doc.Status != documents.StatusDraft {
			return invalid("%s %s is already %s", doc.Kind, doc.Number, doc.Status)
		}
	case ActionComplete:
		if !policy.CanComplete {
			return invalid("%s documents cannot be completed", doc.Kind)
		}
		if doc.Status != documents.StatusPosted {
			return invalid("only posted %s can be completed", doc.Kind)
		}
	case ActionCancel:
		if doc.Status.IsTerminal() {
			return invalid("%s %s is already %s", doc.Kind, doc.Number, doc.Status)
		}
		if doc.Kind.IsInvoice() && !doc.Allocated.IsZero() {
			return invalid("%s %s has allocations; reverse them before cancelling", doc.Kind, doc.Number)
		}
	case ActionAllocate:
		if !doc.Kind.IsPayment() {
			return invalid("%s does not allocate", doc.Kind)
		}
		if doc.ApprovalStatus != documents.ApprovalApproved || doc.Status != documents.StatusPosted {
			return invalid("%s %s must be approved and posted to allocate", doc.Kind, doc.Number)
		}
	case ActionReverse:
		if !doc.Kind.IsPayment() {
			return invalid("%s does not allocate", doc.Kind)
		}
		if doc.Status != documents.StatusPosted && doc.Status != documents.StatusAllocated {
			return invalid("cannot reverse allocations of %s %s while %s", doc.Kind, doc.Number, doc.Status)
		}
	}
	return nil
}
