// Package allocation settles posted payments and receipts against posted
// invoices of the same counterparty.
package allocation

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

// Request applies Amount of the payment to one invoice.
type Request struct {
	InvoiceID int64
	Amount    decimal.Decimal
}

// Plan is the fully validated outcome of a batch. Nothing in it is persisted yet.
type Plan struct {
	Payment  documents.Document
	Invoices []documents.Document
	Rows     []documents.Allocation
}

// Total is the sum of the planned row amounts.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, r := range p.Rows {
		total = total.Add(r.Amount)
	}
	return total
}

// ValidateRequests checks the shape of a batch before anything is loaded.
func ValidateRequests(requests []Request) error {
	if len(requests) == 0 {
		return shared.Validation("at least one allocation is required")
	}
	for i, r := range requests {
		if r.InvoiceID <= 0 {
			return shared.Validation("allocation %d: invoice_id is required", i)
		}
		if err := documents.ValidateAmount("amount", r.Amount, true); err != nil {
			return shared.Validation("allocation %d: %s", i, err.Error()).WithDetail("invoice_id", r.InvoiceID)
		}
	}
	return nil
}

// InvoiceIDs returns the distinct invoice ids of requests in ascending order,
// which is also the order their rows must be locked in.
func InvoiceIDs(requests []Request) []int64 {
	seen := make(map[int64]bool, len(requests))
	ids := make([]int64, 0, len(requests))
	for _, r := range requests {
		if !seen[r.InvoiceID] {
			seen[r.InvoiceID] = true
			ids = append(ids, r.InvoiceID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Ledger is the locked state a plan is computed from: documents as stored and
// every allocation row already recorded against them.
type Ledger struct {
	Payment            documents.Document
	PaymentAllocations []documents.Allocation
	Invoices           map[int64]documents.Document
	InvoiceAllocations map[int64][]documents.Allocation
}

// PlanAllocation validates a batch against the ledger and derives the new
// balances. Either every request is accepted or an error is returned.
func PlanAllocation(ledger Ledger, requests []Request, actorID int64, note string) (Plan, error) {
	if err := ValidateRequests(requests); err != nil {
		return Plan{}, err
	}
	payment := ledger.Payment
	invoiceKind, ok := payment.Kind.InvoiceKind()
	if !ok {
		return Plan{}, shared.Validation("%s cannot be allocated", payment.Kind)
	}

	requested := make(map[int64]decimal.Decimal)
	total := decimal.Zero
	for _, r := range requests {
		requested[r.InvoiceID] = requested[r.InvoiceID].Add(r.Amount)
		total = total.Add(r.Amount)
	}

	ids := InvoiceIDs(requests)
	for _, id := range ids {
		inv, ok := ledger.Invoices[id]
		if !ok {
			return Plan{}, shared.NotFound("%s %d not found", invoiceKind, id)
		}
		if inv.Kind != invoiceKind {
			return Plan{}, shared.Validation("%s cannot settle %s %d", payment.Kind, inv.Kind, id)
		}
		if inv.BranchID != payment.BranchID {
			return Plan{}, shared.Forbidden("invoice %s belongs to branch %d", inv.Number, inv.BranchID).WithDetail("invoice_id", id)
		}
		if inv.CounterpartyID != payment.CounterpartyID {
			return Plan{}, shared.Validation("invoice %s belongs to another counterparty", inv.Number).WithDetail("invoice_id", id)
		}
		if inv.Status != documents.StatusPosted && inv.Status != documents.StatusPartiallyPaid {
			return Plan{}, shared.InvalidTransition("invoice %s is %s", inv.Number, inv.Status).
				WithDetail("invoice_id", id).
				WithDetail("status", string(inv.Status))
		}
	}

	available := documents.DeriveBalance(payment.Amount(), ledger.PaymentAllocations).Remaining
	if total.GreaterThan(available) {
		return Plan{}, shared.NewError(shared.CodeAllocationExceedsAvailable,
			"allocation of %s exceeds available %s on %s", shared.FormatAmount(total), shared.FormatAmount(available), payment.Number).
			WithDetail("available", available.StringFixed(documents.AmountScale)).
			WithDetail("requested", total.StringFixed(documents.AmountScale))
	}
	for _, id := range ids {
		inv := ledger.Invoices[id]
		unpaid := documents.DeriveBalance(inv.TotalAfterTax, ledger.InvoiceAllocations[id]).Remaining
		if requested[id].GreaterThan(unpaid) {
			return Plan{}, shared.NewError(shared.CodeAllocationExceedsUnpaid,
				"allocation of %s exceeds unpaid %s on %s", shared.FormatAmount(requested[id]), shared.FormatAmount(unpaid), inv.Number).
				WithDetail("invoice_id", id).
				WithDetail("unpaid", unpaid.StringFixed(documents.AmountScale)).
				WithDetail("requested", requested[id].StringFixed(documents.AmountScale))
		}
	}

	note = strings.TrimSpace(note)
	rows := make([]documents.Allocation, 0, len(requests))
	for _, r := range requests {
		rows = append(rows, documents.Allocation{
			PaymentKind: payment.Kind,
			PaymentID:   payment.ID,
			InvoiceID:   r.InvoiceID,
			Amount:      r.Amount,
			Note:        note,
			CreatedBy:   actorID,
		})
	}
	return settle(ledger, ids, rows), nil
}

// PlanReversal cancels one earlier allocation of the payment with a negative row.
func PlanReversal(ledger Ledger, allocationID, actorID int64, reason string) (Plan, error) {
	var original *documents.Allocation
	for i := range ledger.PaymentAllocations {
		if ledger.PaymentAllocations[i].ID == allocationID {
			original = &ledger.PaymentAllocations[i]
			break
		}
	}
	if original == nil {
		return Plan{}, shared.NotFound("allocation %d not found on %s", allocationID, ledger.Payment.Number)
	}
	if original.IsReversal() {
		return Plan{}, shared.Validation("allocation %d is itself a reversal", allocationID)
	}
	for _, a := range ledger.PaymentAllocations {
		if a.ReversesID != nil && *a.ReversesID == allocationID {
			return Plan{}, shared.InvalidTransition("allocation %d is already reversed", allocationID).
				WithDetail("reversal_id", a.ID)
		}
	}
	if _, ok := ledger.Invoices[original.InvoiceID]; !ok {
		return Plan{}, shared.NotFound("invoice %d not found", original.InvoiceID)
	}
	row := reversalOf(*original, actorID, reason)
	return settle(ledger, []int64{original.InvoiceID}, []documents.Allocation{row}), nil
}

// PlanReverseAll reverses every outstanding allocation of the payment.
func PlanReverseAll(ledger Ledger, actorID int64, reason string) (Plan, error) {
	open := documents.Outstanding(ledger.PaymentAllocations)
	rows := make([]documents.Allocation, 0, len(open))
	seen := make(map[int64]bool)
	var ids []int64
	for _, a := range open {
		if _, ok := ledger.Invoices[a.InvoiceID]; !ok {
			return Plan{}, shared.NotFound("invoice %d not found", a.InvoiceID)
		}
		rows = append(rows, reversalOf(a, actorID, reason))
		if !seen[a.InvoiceID] {
			seen[a.InvoiceID] = true
			ids = append(ids, a.InvoiceID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return settle(ledger, ids, rows), nil
}

func reversalOf(original documents.Allocation, actorID int64, reason string) documents.Allocation {
	reverses := original.ID
	return documents.Allocation{
		PaymentKind: original.PaymentKind,
		PaymentID:   original.PaymentID,
		InvoiceID:   original.InvoiceID,
		Amount:      original.Amount.Neg(),
		ReversesID:  &reverses,
		Note:        strings.TrimSpace(reason),
		CreatedBy:   actorID,
	}
}

// settle derives the balances that result from appending rows to the ledger.
func settle(ledger Ledger, invoiceIDs []int64, rows []documents.Allocation) Plan {
	payment := ledger.Payment.Clone()
	payment.ApplyBalance(documents.DeriveBalance(payment.Amount(), append(append([]documents.Allocation(nil), ledger.PaymentAllocations...), rows...)))

	invoices := make([]documents.Document, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		inv := ledger.Invoices[id].Clone()
		all := append([]documents.Allocation(nil), ledger.InvoiceAllocations[id]...)
		for _, r := range rows {
			if r.InvoiceID == id {
				all = append(all, r)
			}
		}
		inv.ApplyBalance(documents.DeriveBalance(inv.TotalAfterTax, all))
		invoices = append(invoices, inv)
	}
	return Plan{Payment: payment, Invoices: invoices, Rows: rows}
}
