package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

var (
	staff      = documents.Actor{ID: 1, BranchID: 1, Roles: []documents.Role{documents.RoleStaff}, Active: true}
	finance    = documents.Actor{ID: 2, BranchID: 1, Roles: []documents.Role{documents.RoleFinanceManager}, Active: true}
	purchasing = documents.Actor{ID: 3, BranchID: 1, Roles: []documents.Role{documents.RolePurchasingManager}, Active: true}
	sales      = documents.Actor{ID: 4, BranchID: 1, Roles: []documents.Role{documents.RoleSalesManager}, Active: true}
	warehouse  = documents.Actor{ID: 5, BranchID: 1, Roles: []documents.Role{documents.RoleWarehouseManager}, Active: true}
	admin      = documents.Actor{ID: 6, BranchID: 1, Roles: []documents.Role{documents.RoleAdmin}, Active: true}
	remote     = documents.Actor{ID: 7, BranchID: 2, Roles: []documents.Role{documents.RoleFinanceManager, documents.RoleAdmin}, Active: true}
	inactive   = documents.Actor{ID: 8, BranchID: 1, Roles: []documents.Role{documents.RoleAdmin}, Active: false}
)

func approverFor(kind documents.Kind) documents.Actor {
	switch kind {
	case documents.KindPurchaseOrder:
		return purchasing
	case documents.KindSaleOrder:
		return sales
	case documents.KindStockMove:
		return warehouse
	}
	return finance
}

func draftDoc(kind documents.Kind) documents.Document {
	return documents.Document{
		ID:             10,
		Number:         "DOC-10",
		Kind:           kind,
		Status:         documents.StatusDraft,
		ApprovalStatus: documents.ApprovalDraft,
		BranchID:       1,
		CounterpartyID: 50,
		TotalBeforeTax: decimal.NewFromInt(100),
		TotalAfterTax:  decimal.NewFromInt(100),
		CreatedBy:      staff.ID,
		Version:        1,
	}
}

func withApproval(doc documents.Document, status documents.ApprovalStatus) documents.Document {
	doc.ApprovalStatus = status
	if status == documents.ApprovalApproved {
		by := int64(2)
		at := time.Now()
		doc.ApprovedBy, doc.ApprovedAt = &by, &at
	}
	return doc
}

func withStatus(doc documents.Document, status documents.Status) documents.Document {
	doc.Status = status
	return doc
}

func TestGuardMatrix(t *testing.T) {
	po := draftDoc(documents.KindPurchaseOrder)
	inv := draftDoc(documents.KindAPInvoice)
	pay := draftDoc(documents.KindAPPayment)

	cases := []struct {
		name   string
		doc    documents.Document
		actor  documents.Actor
		action Action
		want   error
	}{
		{"creator submits draft", po, staff, ActionSubmit, nil},
		{"non creator cannot submit", po, purchasing, ActionSubmit, shared.ErrForbidden},
		{"other branch cannot submit", po, remote, ActionSubmit, shared.ErrForbidden},
		{"inactive actor", po, inactive, ActionCancel, shared.ErrForbidden},
		{"submit while waiting", withApproval(po, documents.ApprovalWaitingApproval), staff, ActionSubmit, shared.ErrInvalidTransition},
		{"submit approved", withApproval(po, documents.ApprovalApproved), staff, ActionSubmit, shared.ErrInvalidTransition},
		{"po resubmit needs revise", withApproval(po, documents.ApprovalRejected), staff, ActionSubmit, shared.ErrInvalidTransition},
		{"invoice resubmits from rejected", withApproval(inv, documents.ApprovalRejected), staff, ActionSubmit, nil},
		{"approver approves", withApproval(po, documents.ApprovalWaitingApproval), purchasing, ActionApprove, nil},
		{"admin approves", withApproval(po, documents.ApprovalWaitingApproval), admin, ActionApprove, nil},
		{"wrong role approves", withApproval(po, documents.ApprovalWaitingApproval), finance, ActionApprove, shared.ErrForbidden},
		{"staff rejects", withApproval(inv, documents.ApprovalWaitingApproval), staff, ActionReject, shared.ErrForbidden},
		{"approve draft", po, purchasing, ActionApprove, shared.ErrInvalidTransition},
		{"approve approved", withApproval(po, documents.ApprovalApproved), purchasing, ActionApprove, shared.ErrInvalidTransition},
		{"post approved", withApproval(po, documents.ApprovalApproved), staff, ActionPost, nil},
		{"post unapproved", withApproval(po, documents.ApprovalWaitingApproval), purchasing, ActionPost, shared.ErrInvalidTransition},
		{"repost", withStatus(withApproval(po, documents.ApprovalApproved), documents.StatusPosted), purchasing, ActionPost, shared.ErrInvalidTransition},
		{"stranger posts", withApproval(po, documents.ApprovalApproved), finance, ActionPost, shared.ErrForbidden},
		{"complete posted po", withStatus(withApproval(po, documents.ApprovalApproved), documents.StatusPosted), purchasing, ActionComplete, nil},
		{"complete invoice", withStatus(withApproval(inv, documents.ApprovalApproved), documents.StatusPosted), finance, ActionComplete, shared.ErrInvalidTransition},
		{"revise rejected", withApproval(po, documents.ApprovalRejected), staff, ActionRevise, nil},
		{"revise draft", po, staff, ActionRevise, shared.ErrInvalidTransition},
		{"edit rejected", withApproval(po, documents.ApprovalRejected), staff, ActionEdit, nil},
		{"edit waiting", withApproval(po, documents.ApprovalWaitingApproval), staff, ActionEdit, shared.ErrInvalidTransition},
		{"creator cancels draft", po, staff, ActionCancel, nil},
		{"creator cannot cancel waiting", withApproval(po, documents.ApprovalWaitingApproval), staff, ActionCancel, shared.ErrForbidden},
		{"approver cancels waiting", withApproval(po, documents.ApprovalWaitingApproval), purchasing, ActionCancel, nil},
		{"cancel completed", withStatus(po, documents.StatusCompleted), purchasing, ActionCancel, shared.ErrInvalidTransition},
		{"cancel paid", withStatus(inv, documents.StatusPaid), finance, ActionCancel, shared.ErrInvalidTransition},
		{"allocate posted payment", withStatus(withApproval(pay, documents.ApprovalApproved), documents.StatusPosted), finance, ActionAllocate, nil},
		{"allocate draft payment", withApproval(pay, documents.ApprovalApproved), finance, ActionAllocate, shared.ErrInvalidTransition},
		{"allocate from invoice", withStatus(withApproval(inv, documents.ApprovalApproved), documents.StatusPosted), finance, ActionAllocate, shared.ErrInvalidTransition},
		{"creator cannot reverse", withStatus(withApproval(pay, documents.ApprovalApproved), documents.StatusAllocated), staff, ActionReverse, shared.ErrForbidden},
		{"approver reverses", withStatus(withApproval(pay, documents.ApprovalApproved), documents.StatusAllocated), finance, ActionReverse, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.doc, tc.actor, tc.action)
			if tc.want == nil {
				require.NoError(t, err)
				require.True(t, CanTransition(tc.doc, tc.actor, tc.action))
				return
			}
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.False(t, CanTransition(tc.doc, tc.actor, tc.action))
		})
	}
}

func TestGuardSeparationOfDutiesForEveryKind(t *testing.T) {
	for _, kind := range documents.Kinds() {
		doc := withApproval(draftDoc(kind), documents.ApprovalWaitingApproval)
		creator := approverFor(kind)
		doc.CreatedBy = creator.ID
		for _, action := range []Action{ActionApprove, ActionReject} {
			err := Check(doc, creator, action)
			require.ErrorIs(t, err, shared.ErrForbidden, "%s %s", kind, action)
		}
	}
}

func TestGuardForbiddenBeforeState(t *testing.T) {
	doc := withApproval(draftDoc(documents.KindSaleOrder), documents.ApprovalApproved)
	err := Check(doc, remote, ActionApprove)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestGuardInvoiceWithAllocationsCannotBeCancelled(t *testing.T) {
	doc := withStatus(withApproval(draftDoc(documents.KindARInvoice), documents.ApprovalApproved), documents.StatusPartiallyPaid)
	doc.Allocated = decimal.NewFromInt(40)
	err := Check(doc, finance, ActionCancel)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	var bizErr *shared.Error
	require.True(t, errors.As(err, &bizErr))
	require.Equal(t, "partially_paid", bizErr.Details["status"])
}

func TestCustomPolicy(t *testing.T) {
	policies := DefaultPolicies()
	policies[documents.KindPurchaseOrder] = Policy{
		ApproverRoles:        []documents.Role{documents.RoleFinanceManager},
		ResubmitFromRejected: true,
	}
	guard := NewGuard(policies)

	waiting := withApproval(draftDoc(documents.KindPurchaseOrder), documents.ApprovalWaitingApproval)
	require.True(t, guard.CanTransition(waiting, finance, ActionApprove))
	require.False(t, guard.CanTransition(waiting, purchasing, ActionApprove))

	rejected := withApproval(draftDoc(documents.KindPurchaseOrder), documents.ApprovalRejected)
	require.True(t, guard.CanTransition(rejected, staff, ActionSubmit))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("Approve")
	require.NoError(t, err)
	require.Equal(t, ActionApprove, a)

	_, err = ParseAction("allocate")
	require.ErrorIs(t, err, shared.ErrValidation)
}
