package allocation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func postedPayment(total int64) documents.Document {
	return documents.Document{
		ID:             1,
		Number:         "APPAY-00001",
		Kind:           documents.KindAPPayment,
		Status:         documents.StatusPosted,
		ApprovalStatus: documents.ApprovalApproved,
		BranchID:       1,
		CounterpartyID: 50,
		TotalBeforeTax: amount(total),
		TotalAfterTax:  amount(total),
		Allocated:      decimal.Zero,
		Outstanding:    amount(total),
		Version:        3,
	}
}

func postedInvoice(id, total int64) documents.Document {
	return documents.Document{
		ID:             id,
		Number:         "APINV-" + decimal.NewFromInt(id).String(),
		Kind:           documents.KindAPInvoice,
		Status:         documents.StatusPosted,
		ApprovalStatus: documents.ApprovalApproved,
		BranchID:       1,
		CounterpartyID: 50,
		TotalBeforeTax: amount(total),
		TotalAfterTax:  amount(total),
		Allocated:      decimal.Zero,
		Outstanding:    amount(total),
		Version:        3,
	}
}

func ledgerOf(payment documents.Document, invoices ...documents.Document) Ledger {
	l := Ledger{
		Payment:            payment,
		Invoices:           make(map[int64]documents.Document),
		InvoiceAllocations: make(map[int64][]documents.Allocation),
	}
	for _, inv := range invoices {
		l.Invoices[inv.ID] = inv
	}
	return l
}

func codeOf(t *testing.T, err error) shared.ErrorCode {
	t.Helper()
	var bizErr *shared.Error
	require.True(t, errors.As(err, &bizErr), "expected business error, got %v", err)
	return bizErr.Code
}

func TestPlanAllocationSettlesAcrossInvoices(t *testing.T) {
	ledger := ledgerOf(postedPayment(500000), postedInvoice(10, 300000), postedInvoice(11, 250000))

	plan, err := PlanAllocation(ledger, []Request{
		{InvoiceID: 10, Amount: amount(300000)},
		{InvoiceID: 11, Amount: amount(200000)},
	}, 2, " batch ")
	require.NoError(t, err)

	require.Len(t, plan.Rows, 2)
	require.True(t, plan.Total().Equal(amount(500000)))
	require.Equal(t, "batch", plan.Rows[0].Note)
	require.True(t, plan.Payment.Outstanding.IsZero())
	require.Equal(t, documents.StatusAllocated, plan.Payment.Status)

	require.Len(t, plan.Invoices, 2)
	a, b := plan.Invoices[0], plan.Invoices[1]
	require.Equal(t, int64(10), a.ID)
	require.Equal(t, documents.StatusPaid, a.Status)
	require.True(t, a.Outstanding.IsZero())
	require.Equal(t, documents.StatusPartiallyPaid, b.Status)
	require.True(t, b.Outstanding.Equal(amount(50000)))

	// ledger is untouched
	require.Equal(t, documents.StatusPosted, ledger.Invoices[10].Status)
	require.True(t, ledger.Payment.Outstanding.Equal(amount(500000)))
}

func TestPlanAllocationRejectsBatchAboveAvailable(t *testing.T) {
	ledger := ledgerOf(postedPayment(500000), postedInvoice(10, 300000), postedInvoice(11, 250000))

	_, err := PlanAllocation(ledger, []Request{
		{InvoiceID: 10, Amount: amount(300000)},
		{InvoiceID: 11, Amount: amount(250000)},
	}, 2, "")
	require.ErrorIs(t, err, shared.ErrAllocationExceedsAvailable)

	var bizErr *shared.Error
	require.True(t, errors.As(err, &bizErr))
	require.Equal(t, "500000.0000", bizErr.Details["available"])
	require.Equal(t, "550000.0000", bizErr.Details["requested"])
}

func TestPlanAllocationIsAllOrNothing(t *testing.T) {
	ledger := ledgerOf(postedPayment(100), postedInvoice(10, 80), postedInvoice(11, 80))

	plan, err := PlanAllocation(ledger, []Request{
		{InvoiceID: 10, Amount: amount(70)},
		{InvoiceID: 11, Amount: amount(50)},
	}, 2, "")
	require.ErrorIs(t, err, shared.ErrAllocationExceedsAvailable)
	require.Empty(t, plan.Rows)
}

func TestPlanAllocationRejectsAboveUnpaid(t *testing.T) {
	ledger := ledgerOf(postedPayment(1000), postedInvoice(10, 100))

	_, err := PlanAllocation(ledger, []Request{{InvoiceID: 10, Amount: amount(101)}}, 2, "")
	require.ErrorIs(t, err, shared.ErrAllocationExceedsUnpaid)

	// duplicate lines for one invoice are summed
	_, err = PlanAllocation(ledger, []Request{
		{InvoiceID: 10, Amount: amount(60)},
		{InvoiceID: 10, Amount: amount(60)},
	}, 2, "")
	require.ErrorIs(t, err, shared.ErrAllocationExceedsUnpaid)
}

func TestPlanAllocationUsesRecordedRows(t *testing.T) {
	ledger := ledgerOf(postedPayment(100), postedInvoice(10, 100))
	earlier := documents.Allocation{ID: 1, PaymentKind: documents.KindAPPayment, PaymentID: 1, InvoiceID: 10, Amount: amount(60)}
	ledger.PaymentAllocations = []documents.Allocation{earlier}
	ledger.InvoiceAllocations[10] = []documents.Allocation{earlier}

	_, err := PlanAllocation(ledger, []Request{{InvoiceID: 10, Amount: amount(50)}}, 2, "")
	require.ErrorIs(t, err, shared.ErrAllocationExceedsAvailable)

	plan, err := PlanAllocation(ledger, []Request{{InvoiceID: 10, Amount: amount(40)}}, 2, "")
	require.NoError(t, err)
	require.Equal(t, documents.StatusPaid, plan.Invoices[0].Status)
	require.True(t, plan.Invoices[0].Allocated.Equal(amount(100)))
	require.Equal(t, documents.StatusAllocated, plan.Payment.Status)
}

func TestPlanAllocationRejectsIneligibleInvoices(t *testing.T) {
	draft := postedInvoice(10, 100)
	draft.Status = documents.StatusDraft
	otherBranch := postedInvoice(11, 100)
	otherBranch.BranchID = 2
	otherParty := postedInvoice(12, 100)
	otherParty.CounterpartyID = 99
	paid := postedInvoice(13, 100)
	paid.Status = documents.StatusPaid
	wrongKind := postedInvoice(14, 100)
	wrongKind.Kind = documents.KindARInvoice

	ledger := ledgerOf(postedPayment(1000), draft, otherBranch, otherParty, paid, wrongKind)

	cases := []struct {
		invoice int64
		want    shared.ErrorCode
	}{
		{10, shared.CodeInvalidTransition},
		{11, shared.CodeForbidden},
		{12, shared.CodeValidation},
		{13, shared.CodeInvalidTransition},
		{14, shared.CodeValidation},
		{99, shared.CodeNotFound},
	}
	for _, tc := range cases {
		_, err := PlanAllocation(ledger, []Request{{InvoiceID: tc.invoice, Amount: amount(10)}}, 2, "")
		require.Equal(t, tc.want, codeOf(t, err), "invoice %d", tc.invoice)
	}
}

func TestPlanAllocationValidatesShape(t *testing.T) {
	ledger := ledgerOf(postedPayment(1000), postedInvoice(10, 100))

	for _, requests := range [][]Request{
		nil,
		{{InvoiceID: 0, Amount: amount(1)}},
		{{InvoiceID: 10, Amount: decimal.Zero}},
		{{InvoiceID: 10, Amount: amount(-5)}},
		{{InvoiceID: 10, Amount: decimal.RequireFromString("0.00001")}},
	} {
		_, err := PlanAllocation(ledger, requests, 2, "")
		require.ErrorIs(t, err, shared.ErrValidation)
	}

	receiptLedger := ledgerOf(postedInvoice(10, 100))
	_, err := PlanAllocation(receiptLedger, []Request{{InvoiceID: 10, Amount: amount(1)}}, 2, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPlanReversal(t *testing.T) {
	ledger := ledgerOf(postedPayment(100), postedInvoice(10, 100))
	original := documents.Allocation{ID: 7, PaymentKind: documents.KindAPPayment, PaymentID: 1, InvoiceID: 10, Amount: amount(100)}
	ledger.PaymentAllocations = []documents.Allocation{original}
	ledger.InvoiceAllocations[10] = []documents.Allocation{original}
	ledger.Payment.ApplyBalance(documents.DeriveBalance(amount(100), ledger.PaymentAllocations))
	inv := ledger.Invoices[10]
	inv.ApplyBalance(documents.DeriveBalance(amount(100), ledger.InvoiceAllocations[10]))
	ledger.Invoices[10] = inv
	require.Equal(t, documents.StatusPaid, ledger.Invoices[10].Status)

	plan, err := PlanReversal(ledger, 7, 2, "wrong invoice")
	require.NoError(t, err)
	require.Len(t, plan.Rows, 1)
	row := plan.Rows[0]
	require.True(t, row.Amount.Equal(amount(-100)))
	require.Equal(t, int64(7), *row.ReversesID)
	require.Equal(t, documents.StatusPosted, plan.Invoices[0].Status)
	require.True(t, plan.Invoices[0].Outstanding.Equal(amount(100)))
	require.Equal(t, documents.StatusPosted, plan.Payment.Status)
	require.True(t, plan.Payment.Outstanding.Equal(amount(100)))

	_, err = PlanReversal(ledger, 8, 2, "")
	require.ErrorIs(t, err, shared.ErrNotFound)

	reversal := row
	reversal.ID = 8
	ledger.PaymentAllocations = append(ledger.PaymentAllocations, reversal)
	_, err = PlanReversal(ledger, 7, 2, "again")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = PlanReversal(ledger, 8, 2, "reverse a reversal")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPlanReverseAllSkipsReversedRows(t *testing.T) {
	ledger := ledgerOf(postedPayment(500), postedInvoice(10, 200), postedInvoice(11, 300))
	reverses := int64(1)
	rows := []documents.Allocation{
		{ID: 1, PaymentKind: documents.KindAPPayment, PaymentID: 1, InvoiceID: 10, Amount: amount(50)},
		{ID: 2, PaymentKind: documents.KindAPPayment, PaymentID: 1, InvoiceID: 10, Amount: amount(-50), ReversesID: &reverses},
		{ID: 3, PaymentKind: documents.KindAPPayment, PaymentID: 1, InvoiceID: 11, Amount: amount(300)},
		{ID: 4, PaymentKind: documents.KindAPPayment, PaymentID: 1, InvoiceID: 10, Amount: amount(200)},
	}
	ledger.PaymentAllocations = rows
	ledger.InvoiceAllocations[10] = []documents.Allocation{rows[0], rows[1], rows[3]}
	ledger.InvoiceAllocations[11] = []documents.Allocation{rows[2]}

	plan, err := PlanReverseAll(ledger, 2, "payment cancelled")
	require.NoError(t, err)
	require.Len(t, plan.Rows, 2)
	require.Equal(t, int64(3), *plan.Rows[0].ReversesID)
	require.Equal(t, int64(4), *plan.Rows[1].ReversesID)
	require.True(t, plan.Payment.Outstanding.Equal(amount(500)))
	require.Len(t, plan.Invoices, 2)
	for _, inv := range plan.Invoices {
		require.True(t, inv.Allocated.IsZero())
		require.Equal(t, documents.StatusPosted, inv.Status)
	}
}

func TestInvoiceIDsAreDistinctAndSorted(t *testing.T) {
	ids := InvoiceIDs([]Request{{InvoiceID: 9}, {InvoiceID: 3}, {InvoiceID: 9}, {InvoiceID: 5}})
	require.Equal(t, []int64{3, 5, 9}, ids)
}
