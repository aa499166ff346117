// Package documentstest provides in-memory implementations of the documents
// ports for service tests.
package documentstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

type state struct {
	docs        map[documents.Kind]map[int64]documents.Document
	allocations map[documents.Kind][]documents.Allocation
	approvals   []shared.ApprovalLog
	audits      []shared.AuditLog
	keys        map[string]string
	nextID      int64
	nextAllocID int64
	nextLogID   int64
	numbers     map[documents.Kind]int64
}

func (s state) clone() state {
	out := state{
		docs:        make(map[documents.Kind]map[int64]documents.Document, len(s.docs)),
		allocations: make(map[documents.Kind][]documents.Allocation, len(s.allocations)),
		approvals:   append([]shared.ApprovalLog(nil), s.approvals...),
		audits:      append([]shared.AuditLog(nil), s.audits...),
		keys:        make(map[string]string, len(s.keys)),
		nextID:      s.nextID,
		nextAllocID: s.nextAllocID,
		nextLogID:   s.nextLogID,
		numbers:     make(map[documents.Kind]int64, len(s.numbers)),
	}
	for kind, docs := range s.docs {
		m := make(map[int64]documents.Document, len(docs))
		for id, doc := range docs {
			m[id] = doc.Clone()
		}
		out.docs[kind] = m
	}
	for kind, rows := range s.allocations {
		out.allocations[kind] = append([]documents.Allocation(nil), rows...)
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	for k, v := range s.numbers {
		out.numbers[k] = v
	}
	return out
}

// Store is a transactional in-memory documents.Store. Transactions are
// serialised and a failed callback restores the state from before it started.
type Store struct {
	mu       sync.Mutex
	st       state
	failures map[string]error
}

var _ documents.Store = (*Store)(nil)

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		st: state{
			docs:        make(map[documents.Kind]map[int64]documents.Document),
			allocations: make(map[documents.Kind][]documents.Allocation),
			keys:        make(map[string]string),
			numbers:     make(map[documents.Kind]int64),
		},
		failures: make(map[string]error),
	}
}

// FailOn makes the named Tx operation (for example "InsertAllocation") fail with err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Put stores doc outside any transaction, assigning an id when missing.
func (s *Store) Put(doc documents.Document) documents.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == 0 {
		s.st.nextID++
		doc.ID = s.st.nextID
	} else if doc.ID > s.st.nextID {
		s.st.nextID = doc.ID
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Number == "" {
		doc.Number = fmt.Sprintf("%s-%d", doc.Kind.NumberPrefix(), doc.ID)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
		doc.UpdatedAt = doc.CreatedAt
	}
	s.kindDocs(doc.Kind)[doc.ID] = doc.Clone()
	return doc
}

// Document returns the committed state of a document.
func (s *Store) Document(kind documents.Kind, id int64) (documents.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.st.docs[kind][id]
	return doc.Clone(), ok
}

// Allocations returns every committed allocation row for a payment kind.
func (s *Store) Allocations(paymentKind documents.Kind) []documents.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]documents.Allocation(nil), s.st.allocations[paymentKind]...)
}

// Approvals returns every committed approval log row.
func (s *Store) Approvals() []shared.ApprovalLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.ApprovalLog(nil), s.st.approvals...)
}

// Audits returns every committed audit row.
func (s *Store) Audits() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.st.audits...)
}

func (s *Store) kindDocs(kind documents.Kind) map[int64]documents.Document {
	docs, ok := s.st.docs[kind]
	if !ok {
		docs = make(map[int64]documents.Document)
		s.st.docs[kind] = docs
	}
	return docs
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, documents.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) GetDocument(_ context.Context, kind documents.Kind, id int64) (documents.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.st.docs[kind][id]
	if !ok {
		return documents.Document{}, shared.NotFound("%s %d not found", kind, id)
	}
	return doc.Clone(), nil
}

func (s *Store) ListPaymentAllocations(_ context.Context, paymentKind documents.Kind, paymentID int64) ([]documents.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paymentAllocations(paymentKind, paymentID)
}

func (s *Store) ListInvoiceAllocations(_ context.Context, invoiceKind documents.Kind, invoiceID int64) ([]documents.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoiceAllocations(invoiceKind, invoiceID)
}

func (s *Store) ListApprovals(_ context.Context, kind documents.Kind, id int64) ([]shared.ApprovalLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	module := documents.ApprovalModule(kind)
	ref := shared.ApprovalRef(module, id)
	var out []shared.ApprovalLog
	for _, l := range s.st.approvals {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) paymentAllocations(paymentKind documents.Kind, paymentID int64) ([]documents.Allocation, error) {
	if !paymentKind.IsPayment() {
		return nil, shared.Validation("%s does not carry allocations", paymentKind)
	}
	var out []documents.Allocation
	for _, a := range s.st.allocations[paymentKind] {
		if a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) invoiceAllocations(invoiceKind documents.Kind, invoiceID int64) ([]documents.Allocation, error) {
	var paymentKind documents.Kind
	switch invoiceKind {
	case documents.KindAPInvoice:
		paymentKind = documents.KindAPPayment
	case documents.KindARInvoice:
		paymentKind = documents.KindARReceipt
	default:
		return nil, shared.Validation("%s does not carry allocations", invoiceKind)
	}
	var out []documents.Allocation
	for _, a := range s.st.allocations[paymentKind] {
		if a.InvoiceID == invoiceID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memTx struct {
	s *Store
}

func (t *memTx) fail(op string) error {
	return t.s.failures[op]
}

func (t *memTx) LockDocument(_ context.Context, kind documents.Kind, id int64) (documents.Document, error) {
	if err := t.fail("LockDocument"); err != nil {
		return documents.Document{}, err
	}
	doc, ok := t.s.st.docs[kind][id]
	if !ok {
		return documents.Document{}, shared.NotFound("%s %d not found", kind, id)
	}
	return doc.Clone(), nil
}

func (t *memTx) LockDocuments(_ context.Context, kind documents.Kind, ids []int64) (map[int64]documents.Document, error) {
	if err := t.fail("LockDocuments"); err != nil {
		return nil, err
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[int64]documents.Document, len(ids))
	for _, id := range sorted {
		if doc, ok := t.s.st.docs[kind][id]; ok {
			out[id] = doc.Clone()
		}
	}
	return out, nil
}

func (t *memTx) InsertDocument(_ context.Context, doc documents.Document) (documents.Document, error) {
	if err := t.fail("InsertDocument"); err != nil {
		return documents.Document{}, err
	}
	for _, existing := range t.s.st.docs[doc.Kind] {
		if existing.Number == doc.Number {
			return documents.Document{}, shared.Conflict("document number %s already exists", doc.Number)
		}
	}
	t.s.st.nextID++
	now := time.Now()
	doc.ID = t.s.st.nextID
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	t.s.kindDocs(doc.Kind)[doc.ID] = doc.Clone()
	return doc, nil
}

func (t *memTx) UpdateDocument(_ context.Context, doc documents.Document) (documents.Document, error) {
	if err := t.fail("UpdateDocument"); err != nil {
		return documents.Document{}, err
	}
	current, ok := t.s.st.docs[doc.Kind][doc.ID]
	if !ok {
		return documents.Document{}, shared.NotFound("%s %d not found", doc.Kind, doc.ID)
	}
	if current.Version != doc.Version {
		return documents.Document{}, shared.Conflict("%s %d was modified concurrently", doc.Kind, doc.ID)
	}
	doc.Version++
	doc.UpdatedAt = time.Now()
	t.s.st.docs[doc.Kind][doc.ID] = doc.Clone()
	return doc, nil
}

func (t *memTx) GenerateNumber(_ context.Context, kind documents.Kind) (string, error) {
	t.s.st.numbers[kind]++
	return fmt.Sprintf("%s-%05d", kind.NumberPrefix(), t.s.st.numbers[kind]), nil
}

func (t *memTx) InsertAllocation(_ context.Context, alloc documents.Allocation) (documents.Allocation, error) {
	if err := t.fail("InsertAllocation"); err != nil {
		return documents.Allocation{}, err
	}
	if !alloc.PaymentKind.IsPayment() {
		return documents.Allocation{}, shared.Validation("%s does not carry allocations", alloc.PaymentKind)
	}
	if alloc.ReversesID != nil {
		for _, a := range t.s.st.allocations[alloc.PaymentKind] {
			if a.ReversesID != nil && *a.ReversesID == *alloc.ReversesID {
				return documents.Allocation{}, shared.Conflict("allocation already reversed")
			}
		}
	}
	t.s.st.nextAllocID++
	alloc.ID = t.s.st.nextAllocID
	alloc.CreatedAt = time.Now()
	t.s.st.allocations[alloc.PaymentKind] = append(t.s.st.allocations[alloc.PaymentKind], alloc)
	return alloc, nil
}

func (t *memTx) PaymentAllocations(_ context.Context, paymentKind documents.Kind, paymentID int64) ([]documents.Allocation, error) {
	return t.s.paymentAllocations(paymentKind, paymentID)
}

func (t *memTx) InvoiceAllocations(_ context.Context, invoiceKind documents.Kind, invoiceID int64) ([]documents.Allocation, error) {
	return t.s.invoiceAllocations(invoiceKind, invoiceID)
}

func (t *memTx) RecordApproval(_ context.Context, log shared.ApprovalLog) error {
	if err := t.fail("RecordApproval"); err != nil {
		return err
	}
	if err := log.Validate(); err != nil {
		return err
	}
	t.s.st.nextLogID++
	log.ID = t.s.st.nextLogID
	if log.At.IsZero() {
		log.At = time.Now()
	}
	t.s.st.approvals = append(t.s.st.approvals, log)
	return nil
}

func (t *memTx) RecordAudit(_ context.Context, log shared.AuditLog) error {
	if err := t.fail("RecordAudit"); err != nil {
		return err
	}
	t.s.st.audits = append(t.s.st.audits, log)
	return nil
}

func (t *memTx) ClaimIdempotencyKey(_ context.Context, key, module string) error {
	scoped := module + "\x00" + key
	if _, ok := t.s.st.keys[scoped]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.s.st.keys[scoped] = module
	return nil
}

// Directory is an in-memory documents.ActorDirectory.
type Directory struct {
	mu     sync.Mutex
	actors map[int64]documents.Actor
}

// NewDirectory returns a directory holding actors.
func NewDirectory(actors ...documents.Actor) *Directory {
	d := &Directory{actors: make(map[int64]documents.Actor)}
	for _, a := range actors {
		d.Put(a)
	}
	return d
}

// Put adds or replaces an actor.
func (d *Directory) Put(actor documents.Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[actor.ID] = actor
}

func (d *Directory) LoadActor(_ context.Context, id int64) (documents.Actor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	actor, ok := d.actors[id]
	if !ok {
		return documents.Actor{}, shared.NotFound("user %d not found", id)
	}
	return actor, nil
}
