package documents

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/shared"
)

// Kind tags a document variant.
type Kind string

const (
	KindPurchaseOrder Kind = "purchase_order"
	KindAPInvoice     Kind = "ap_invoice"
	KindAPPayment     Kind = "ap_payment"
	KindARInvoice     Kind = "ar_invoice"
	KindARReceipt     Kind = "ar_receipt"
	KindSaleOrder     Kind = "sale_order"
	KindStockMove     Kind = "stock_move"
)

// Kinds lists every supported document kind.
func Kinds() []Kind {
	return []Kind{KindPurchaseOrder, KindAPInvoice, KindAPPayment, KindARInvoice, KindARReceipt, KindSaleOrder, KindStockMove}
}

// ParseKind validates a kind coming from a URL or payload.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", shared.Validation("unknown document kind %q", raw)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchaseOrder, KindAPInvoice, KindAPPayment, KindARInvoice, KindARReceipt, KindSaleOrder, KindStockMove:
		return true
	}
	return false
}

// IsInvoice reports whether k carries an unpaid balance.
func (k Kind) IsInvoice() bool {
	return k == KindAPInvoice || k == KindARInvoice
}

// IsPayment reports whether k carries an available balance.
func (k Kind) IsPayment() bool {
	return k == KindAPPayment || k == KindARReceipt
}

// InvoiceKind returns the invoice kind a payment kind settles.
func (k Kind) InvoiceKind() (Kind, bool) {
	switch k {
	case KindAPPayment:
		return KindAPInvoice, true
	case KindARReceipt:
		return KindARInvoice, true
	}
	return "", false
}

// NumberPrefix is used when a document is created without an explicit number.
func (k Kind) NumberPrefix() string {
	switch k {
	case KindPurchaseOrder:
		return "PO"
	case KindAPInvoice:
		return "APINV"
	case KindAPPayment:
		return "APPAY"
	case KindARInvoice:
		return "ARINV"
	case KindARReceipt:
		return "ARRCV"
	case KindSaleOrder:
		return "SO"
	case KindStockMove:
		return "SM"
	}
	return "DOC"
}

// ApprovalStatus is the approval sub-state shared by every kind.
type ApprovalStatus string

const (
	ApprovalDraft           ApprovalStatus = "draft"
	ApprovalWaitingApproval ApprovalStatus = "waiting_approval"
	ApprovalApproved        ApprovalStatus = "approved"
	ApprovalRejected        ApprovalStatus = "rejected"
)

// Status is the operational lifecycle status.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPosted        Status = "posted"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusAllocated     Status = "allocated"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// Statuses returns the operational statuses valid for a kind.
func (k Kind) Statuses() []Status {
	switch {
	case k.IsInvoice():
		return []Status{StatusDraft, StatusPosted, StatusPartiallyPaid, StatusPaid, StatusCancelled}
	case k.IsPayment():
		return []Status{StatusDraft, StatusPosted, StatusAllocated, StatusCancelled}
	default:
		return []Status{StatusDraft, StatusPosted, StatusCompleted, StatusCancelled}
	}
}

// IsTerminal reports whether no further operational transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCompleted || s == StatusCancelled
}

// Document is the workflow view of any ledger document.
type Document struct {
	ID             int64
	Number         string
	Kind           Kind
	Status         Status
	ApprovalStatus ApprovalStatus
	BranchID       int64
	CounterpartyID int64
	TotalBeforeTax decimal.Decimal
	TotalTax       decimal.Decimal
	TotalAfterTax  decimal.Decimal

	// Allocated and Outstanding are derived for invoices (unpaid) and payments (available).
	Allocated   decimal.Decimal
	Outstanding decimal.Decimal

	CreatedBy    int64
	SubmittedAt  *time.Time
	ApprovedBy   *int64
	ApprovedAt   *time.Time
	RejectedBy   *int64
	RejectedAt   *time.Time
	RejectReason *string
	PostedBy     *int64
	PostedAt     *time.Time
	CancelledBy  *int64
	CancelledAt  *time.Time
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Amount is the payment amount for payment kinds.
func (d Document) Amount() decimal.Decimal {
	return d.TotalAfterTax
}

// Clone returns a deep copy so transitions can be evaluated without touching the input.
func (d Document) Clone() Document {
	out := d
	out.SubmittedAt = cloneTime(d.SubmittedAt)
	out.ApprovedBy = cloneInt(d.ApprovedBy)
	out.ApprovedAt = cloneTime(d.ApprovedAt)
	out.RejectedBy = cloneInt(d.RejectedBy)
	out.RejectedAt = cloneTime(d.RejectedAt)
	out.PostedBy = cloneInt(d.PostedBy)
	out.PostedAt = cloneTime(d.PostedAt)
	out.CancelledBy = cloneInt(d.CancelledBy)
	out.CancelledAt = cloneTime(d.CancelledAt)
	if d.RejectReason != nil {
		reason := *d.RejectReason
		out.RejectReason = &reason
	}
	return out
}

// Validate checks the invariants that must hold for any persisted document.
func (d Document) Validate() error {
	if !d.Kind.Valid() {
		return shared.Validation("unknown document kind %q", d.Kind)
	}
	if d.BranchID <= 0 {
		return shared.Validation("branch is required")
	}
	if d.CreatedBy <= 0 {
		return shared.Validation("creator is required")
	}
	if d.TotalBeforeTax.IsNegative() || d.TotalTax.IsNegative() {
		return shared.Validation("totals must not be negative")
	}
	if !d.TotalAfterTax.Equal(d.TotalBeforeTax.Add(d.TotalTax)) {
		return shared.Validation("total after tax must equal total before tax plus tax")
	}
	if !d.hasStatus(d.Status) {
		return shared.Validation("status %s is not valid for %s", d.Status, d.Kind)
	}
	switch d.ApprovalStatus {
	case ApprovalDraft, ApprovalWaitingApproval:
	case ApprovalApproved:
		if d.ApprovedBy == nil || d.ApprovedAt == nil {
			return shared.Validation("approved document requires approver and approval time")
		}
	case ApprovalRejected:
		if d.RejectReason == nil || strings.TrimSpace(*d.RejectReason) == "" {
			return shared.Validation("rejected document requires a reason")
		}
	default:
		return shared.Validation("unknown approval status %q", d.ApprovalStatus)
	}
	if d.ApprovedBy != nil && *d.ApprovedBy == d.CreatedBy {
		return shared.Validation("approver must differ from creator")
	}
	if d.Outstanding.IsNegative() {
		return shared.Validation("outstanding balance must not be negative")
	}
	return nil
}

func (d Document) hasStatus(s Status) bool {
	for _, candidate := range d.Kind.Statuses() {
		if candidate == s {
			return true
		}
	}
	return false
}

// Actor is the user issuing a command, as loaded from the directory.
type Actor struct {
	ID       int64
	BranchID int64
	Roles    []Role
	Active   bool
}

// Role is a role code assigned to a user.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleFinanceManager    Role = "finance_manager"
	RolePurchasingManager Role = "purchasing_manager"
	RoleSalesManager      Role = "sales_manager"
	RoleWarehouseManager  Role = "warehouse_manager"
	RoleStaff             Role = "staff"
)

// HasAnyRole reports whether the actor holds at least one of roles.
func (a Actor) HasAnyRole(roles ...Role) bool {
	for _, held := range a.Roles {
		for _, want := range roles {
			if held == want {
				return true
			}
		}
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// AmountScale is the number of fractional digits money is stored with.
const AmountScale = 4

// ValidateAmount rejects negative amounts, zero when positive is set, and
// amounts with more fractional digits than the ledger stores.
func ValidateAmount(field string, d decimal.Decimal, positive bool) error {
	if positive && d.Sign() <= 0 {
		return shared.Validation("%s must be greater than zero", field)
	}
	if d.IsNegative() {
		return shared.Validation("%s must not be negative", field)
	}
	if !d.Equal(d.Round(AmountScale)) {
		return shared.Validation("%s has more than %d decimal places", field, AmountScale)
	}
	return nil
}
