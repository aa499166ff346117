package workflow

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/platform/httpx"
	"github.com/odyssey-erp/docflow/internal/shared"
)

// Handler exposes document commands over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{kind}", h.create)
	r.Get("/{kind}/{id}", h.get)
	r.Patch("/{kind}/{id}", h.edit)
	r.Get("/{kind}/{id}/approvals", h.approvals)
	r.Post("/{kind}/{id}/{action}", h.transition)
}

type createRequest struct {
	ActorID        int64           `json:"actor_id" validate:"omitempty,gt=0"`
	BranchID       int64           `json:"branch_id" validate:"required,gt=0"`
	CounterpartyID int64           `json:"counterparty_id" validate:"required,gt=0"`
	Number         string          `json:"number" validate:"omitempty,max=64"`
	TotalBeforeTax decimal.Decimal `json:"total_before_tax"`
	TotalTax       decimal.Decimal `json:"total_tax"`
}

type editRequest struct {
	ActorID        int64            `json:"actor_id" validate:"omitempty,gt=0"`
	CounterpartyID *int64           `json:"counterparty_id" validate:"omitempty,gt=0"`
	TotalBeforeTax *decimal.Decimal `json:"total_before_tax"`
	TotalTax       *decimal.Decimal `json:"total_tax"`
}

type transitionRequest struct {
	ActorID int64  `json:"actor_id" validate:"omitempty,gt=0"`
	Reason  string `json:"reason" validate:"max=500"`
}

// DocumentResponse is the JSON snapshot of a document.
type DocumentResponse struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	ApprovalStatus string     `json:"approval_status"`
	BranchID       int64      `json:"branch_id"`
	CounterpartyID int64      `json:"counterparty_id"`
	TotalBeforeTax string     `json:"total_before_tax"`
	TotalTax       string     `json:"total_tax"`
	TotalAfterTax  string     `json:"total_after_tax"`
	Allocated      *string    `json:"allocated_amount,omitempty"`
	Unpaid         *string    `json:"unpaid_amount,omitempty"`
	Available      *string    `json:"available_amount,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	ApprovedBy     *int64     `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	RejectedBy     *int64     `json:"rejected_by,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectReason   *string    `json:"reject_reason,omitempty"`
	PostedBy       *int64     `json:"posted_by,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	CancelledBy    *int64     `json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewDocumentResponse renders doc for clients.
func NewDocumentResponse(doc documents.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:             doc.ID,
		Number:         doc.Number,
		Kind:           string(doc.Kind),
		Status:         string(doc.Status),
		ApprovalStatus: string(doc.ApprovalStatus),
		BranchID:       doc.BranchID,
		CounterpartyID: doc.CounterpartyID,
		TotalBeforeTax: doc.TotalBeforeTax.StringFixed(documents.AmountScale),
		TotalTax:       doc.TotalTax.StringFixed(documents.AmountScale),
		TotalAfterTax:  doc.TotalAfterTax.StringFixed(documents.AmountScale),
		CreatedBy:      doc.CreatedBy,
		SubmittedAt:    doc.SubmittedAt,
		ApprovedBy:     doc.ApprovedBy,
		ApprovedAt:     doc.ApprovedAt,
		RejectedBy:     doc.RejectedBy,
		RejectedAt:     doc.RejectedAt,
		RejectReason:   doc.RejectReason,
		PostedBy:       doc.PostedBy,
		PostedAt:       doc.PostedAt,
		CancelledBy:    doc.CancelledBy,
		CancelledAt:    doc.CancelledAt,
		Version:        doc.Version,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	allocated := doc.Allocated.StringFixed(documents.AmountScale)
	outstanding := doc.Outstanding.StringFixed(documents.AmountScale)
	switch {
	case doc.Kind.IsInvoice():
		resp.Allocated, resp.Unpaid = &allocated, &outstanding
	case doc.Kind.IsPayment():
		resp.Allocated, resp.Available = &allocated, &outstanding
	}
	return resp
}

type approvalResponse struct {
	ID      int64     `json:"id"`
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	kind, err := documents.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := httpx.ActorID(r, req.ActorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.service.Create(r.Context(), actorID, CreateInput{
		Kind:           kind,
		Number:         req.Number,
		BranchID:       req.BranchID,
		CounterpartyID: req.CounterpartyID,
		TotalBeforeTax: req.TotalBeforeTax,
		TotalTax:       req.TotalTax,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewDocumentResponse(doc))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	kind, id, err := documentRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.service.Get(r.Context(), kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewDocumentResponse(doc))
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	kind, id, err := documentRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req editRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := httpx.ActorID(r, req.ActorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.service.Edit(r.Context(), kind, id, actorID, Patch{
		CounterpartyID: req.CounterpartyID,
		TotalBeforeTax: req.TotalBeforeTax,
		TotalTax:       req.TotalTax,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewDocumentResponse(doc))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	kind, id, err := documentRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	action, err := ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req transitionRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := httpx.ActorID(r, req.ActorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.service.Transition(r.Context(), TransitionCommand{
		Kind:       kind,
		DocumentID: id,
		ActorID:    actorID,
		Action:     action,
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewDocumentResponse(doc))
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	kind, id, err := documentRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logs, err := h.service.Approvals(r.Context(), kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]approvalResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, approvalResponse{ID: l.ID, ActorID: l.ActorID, Action: string(l.Action), Note: l.Note, At: l.At})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.CodeOf(err) == "" {
		h.logger.Error("document command", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func documentRef(r *http.Request) (documents.Kind, int64, error) {
	kind, err := documents.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", 0, err
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		return "", 0, err
	}
	return kind, id, nil
}
