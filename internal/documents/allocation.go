package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// Allocation applies part of a payment to an invoice. Rows are insert-only;
// a reversal is a new row with a negative amount pointing at the original.
type Allocation struct {
	ID          int64
	PaymentKind Kind
	PaymentID   int64
	InvoiceID   int64
	Amount      decimal.Decimal
	ReversesID  *int64
	Note        string
	CreatedBy   int64
	CreatedAt   time.Time
}

// IsReversal reports whether the row cancels an earlier allocation.
func (a Allocation) IsReversal() bool {
	return a.ReversesID != nil
}

// Balance is the derived settlement position of an invoice or payment.
type Balance struct {
	Total     decimal.Decimal
	Allocated decimal.Decimal
	Remaining decimal.Decimal
}

// DeriveBalance is the single place allocated/unpaid/available amounts are computed.
func DeriveBalance(total decimal.Decimal, allocations []Allocation) Balance {
	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Amount)
	}
	return Balance{Total: total, Allocated: allocated, Remaining: total.Sub(allocated)}
}

// InvoiceStatusFor maps a posted invoice's balance to its operational status.
func InvoiceStatusFor(b Balance) Status {
	switch {
	case b.Remaining.Sign() <= 0:
		return StatusPaid
	case b.Remaining.LessThan(b.Total):
		return StatusPartiallyPaid
	default:
		return StatusPosted
	}
}

// PaymentStatusFor maps a posted payment's balance to its operational status.
func PaymentStatusFor(b Balance) Status {
	if b.Remaining.Sign() <= 0 {
		return StatusAllocated
	}
	return StatusPosted
}

// ApplyBalance writes a derived balance onto a financial document and, when the
// document has taken financial effect, moves its operational status accordingly.
func (d *Document) ApplyBalance(b Balance) {
	d.Allocated = b.Allocated
	d.Outstanding = b.Remaining
	if d.Status == StatusDraft || d.Status == StatusCancelled {
		return
	}
	switch {
	case d.Kind.IsInvoice():
		d.Status = InvoiceStatusFor(b)
	case d.Kind.IsPayment():
		d.Status = PaymentStatusFor(b)
	}
}

// Outstanding returns the allocations of rows that have not been reversed yet.
func Outstanding(rows []Allocation) []Allocation {
	reversed := make(map[int64]bool)
	for _, r := range rows {
		if r.ReversesID != nil {
			reversed[*r.ReversesID] = true
		}
	}
	out := make([]Allocation, 0, len(rows))
	for _, r := range rows {
		if r.ReversesID != nil || reversed[r.ID] {
			continue
		}
		out = append(out, r)
	}
	return out
}
