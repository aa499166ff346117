// Package workflow implements the approval and posting state machine shared by
// every ledger document kind.
package workflow

import "github.com/odyssey-erp/docflow/internal/documents"

// Policy is the per-kind configuration of the state machine.
type Policy struct {
	// ApproverRoles may approve, reject, cancel and reverse documents of the kind.
	ApproverRoles []documents.Role
	// ResubmitFromRejected lets the creator submit a rejected document directly.
	// When false the creator must revise it back to draft first.
	ResubmitFromRejected bool
	// CanComplete enables posted -> completed.
	CanComplete bool
}

// IsApprover reports whether actor holds one of the approver roles.
func (p Policy) IsApprover(actor documents.Actor) bool {
	return actor.HasAnyRole(p.ApproverRoles...)
}

// Policies maps each kind to its policy.
type Policies map[documents.Kind]Policy

// DefaultPolicies returns the built-in per-kind configuration.
func DefaultPolicies() Policies {
	finance := Policy{
		ApproverRoles:        []documents.Role{documents.RoleFinanceManager, documents.RoleAdmin},
		ResubmitFromRejected: true,
	}
	return Policies{
		documents.KindPurchaseOrder: {
			ApproverRoles: []documents.Role{documents.RolePurchasingManager, documents.RoleAdmin},
			CanComplete:   true,
		},
		documents.KindSaleOrder: {
			ApproverRoles: []documents.Role{documents.RoleSalesManager, documents.RoleAdmin},
			CanComplete:   true,
		},
		documents.KindStockMove: {
			ApproverRoles: []documents.Role{documents.RoleWarehouseManager, documents.RoleAdmin},
			CanComplete:   true,
		},
		documents.KindAPInvoice: finance,
		documents.KindAPPayment: finance,
		documents.KindARInvoice: finance,
		documents.KindARReceipt: finance,
	}
}

// For returns the policy of kind. Unknown kinds get a policy nobody can approve.
func (p Policies) For(kind documents.Kind) Policy {
	return p[kind]
}
