package documents

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/docflow/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validInvoice() Document {
	return Document{
		ID:             1,
		Kind:           KindAPInvoice,
		Status:         StatusPosted,
		ApprovalStatus: ApprovalDraft,
		BranchID:       1,
		CounterpartyID: 7,
		TotalBeforeTax: dec("1000"),
		TotalTax:       dec("110"),
		TotalAfterTax:  dec("1110"),
		Outstanding:    dec("1110"),
		CreatedBy:      10,
		Version:        1,
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(" " + string(k) + " ")
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}
	_, err := ParseKind("journal_entry")
	require.True(t, errors.Is(err, shared.ErrValidation))
}

func TestKindPairing(t *testing.T) {
	inv, ok := KindAPPayment.InvoiceKind()
	require.True(t, ok)
	require.Equal(t, KindAPInvoice, inv)
	inv, ok = KindARReceipt.InvoiceKind()
	require.True(t, ok)
	require.Equal(t, KindARInvoice, inv)
	_, ok = KindPurchaseOrder.InvoiceKind()
	require.False(t, ok)
}

func TestDocumentValidate(t *testing.T) {
	require.NoError(t, validInvoice().Validate())

	approver := int64(10)
	now := time.Now()
	reason := "  "

	cases := map[string]func(*Document){
		"missing branch":       func(d *Document) { d.BranchID = 0 },
		"totals mismatch":      func(d *Document) { d.TotalAfterTax = dec("1000") },
		"negative tax":         func(d *Document) { d.TotalTax = dec("-1"); d.TotalAfterTax = dec("999") },
		"status for kind":      func(d *Document) { d.Status = StatusCompleted },
		"approved without who": func(d *Document) { d.ApprovalStatus = ApprovalApproved },
		"self approval": func(d *Document) {
			d.ApprovalStatus = ApprovalApproved
			d.ApprovedBy = &approver
			d.ApprovedAt = &now
		},
		"blank reject reason": func(d *Document) {
			d.ApprovalStatus = ApprovalRejected
			d.RejectReason = &reason
		},
		"negative unpaid": func(d *Document) { d.Outstanding = dec("-0.01") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := validInvoice()
			mutate(&doc)
			require.True(t, errors.Is(doc.Validate(), shared.ErrValidation))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := validInvoice()
	approver := int64(20)
	doc.ApprovedBy = &approver
	copied := doc.Clone()
	*copied.ApprovedBy = 99
	require.Equal(t, int64(20), *doc.ApprovedBy)
}

func TestDeriveBalanceAndStatuses(t *testing.T) {
	reversed := int64(1)
	rows := []Allocation{
		{ID: 1, Amount: dec("300")},
		{ID: 2, Amount: dec("200")},
		{ID: 3, Amount: dec("-300"), ReversesID: &reversed},
	}
	b := DeriveBalance(dec("500"), rows)
	require.True(t, b.Allocated.Equal(dec("200")))
	require.True(t, b.Remaining.Equal(dec("300")))
	require.Equal(t, StatusPartiallyPaid, InvoiceStatusFor(b))
	require.Equal(t, StatusPosted, PaymentStatusFor(b))

	full := DeriveBalance(dec("500"), rows[:2])
	require.True(t, full.Remaining.IsZero())
	require.Equal(t, StatusPaid, InvoiceStatusFor(full))
	require.Equal(t, StatusAllocated, PaymentStatusFor(full))

	none := DeriveBalance(dec("500"), nil)
	require.Equal(t, StatusPosted, InvoiceStatusFor(none))

	open := Outstanding(rows)
	require.Len(t, open, 1)
	require.Equal(t, int64(2), open[0].ID)
}

func TestApplyBalanceLeavesDraftStatus(t *testing.T) {
	doc := validInvoice()
	doc.Status = StatusDraft
	doc.ApplyBalance(DeriveBalance(doc.TotalAfterTax, nil))
	require.Equal(t, StatusDraft, doc.Status)
	require.True(t, doc.Outstanding.Equal(dec("1110")))

	doc.Status = StatusPosted
	doc.ApplyBalance(DeriveBalance(doc.TotalAfterTax, []Allocation{{Amount: dec("1110")}}))
	require.Equal(t, StatusPaid, doc.Status)
	require.True(t, doc.Outstanding.IsZero())
}

func TestActorHasAnyRole(t *testing.T) {
	a := Actor{Roles: []Role{RoleStaff, RoleFinanceManager}}
	require.True(t, a.HasAnyRole(RoleAdmin, RoleFinanceManager))
	require.False(t, a.HasAnyRole(RolePurchasingManager))
}

func TestValidateAmount(t *testing.T) {
	require.NoError(t, ValidateAmount("amount", dec("10.1234"), true))
	require.NoError(t, ValidateAmount("amount", dec("10.12340"), true))
	require.NoError(t, ValidateAmount("tax", decimal.Zero, false))
	require.ErrorIs(t, ValidateAmount("amount", decimal.Zero, true), shared.ErrValidation)
	require.ErrorIs(t, ValidateAmount("amount", dec("-1"), false), shared.ErrValidation)
	require.ErrorIs(t, ValidateAmount("amount", dec("0.00001"), true), shared.ErrValidation)
}
