package allocation

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/platform/httpx"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// IdempotencyHeader carries the client supplied key of an allocation batch.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes allocation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountPaymentRoutes registers routes under a payments prefix.
func (h *Handler) MountPaymentRoutes(r chi.Router) {
	r.Post("/{kind}/{id}/allocations", h.allocate)
	r.Get("/{kind}/{id}/allocations", h.listForPayment)
	r.Post("/{kind}/{id}/allocations/{allocation_id}/reverse", h.reverse)
}

// MountInvoiceRoutes registers routes under an invoices prefix.
func (h *Handler) MountInvoiceRoutes(r chi.Router) {
	r.Get("/{kind}/{id}/allocations", h.listForInvoice)
}

type allocateLine struct {
	InvoiceID int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
}

type allocateRequest struct {
	ActorID        int64          `json:"actor_id" validate:"omitempty,gt=0"`
	IdempotencyKey string         `json:"idempotency_key" validate:"max=128"`
	Note           string         `json:"note" validate:"max=500"`
	Allocations    []allocateLine `json:"allocations" validate:"required,min=1,dive"`
}

type reverseRequest struct {
	ActorID int64  `json:"actor_id" validate:"omitempty,gt=0"`
	Reason  string `json:"reason" validate:"required,max=500"`
}

type allocationResponse struct {
	ID         int64     `json:"id"`
	PaymentID  int64     `json:"payment_id"`
	InvoiceID  int64     `json:"invoice_id"`
	Amount     string    `json:"amount"`
	ReversesID *int64    `json:"reverses_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type resultResponse struct {
	Payment     workflow.DocumentResponse   `json:"payment"`
	Invoices    []workflow.DocumentResponse `json:"invoices"`
	Allocations []allocationResponse        `json:"allocations"`
}

func newAllocationResponses(rows []documents.Allocation) []allocationResponse {
	out := make([]allocationResponse, 0, len(rows))
	for _, a := range rows {
		out = append(out, allocationResponse{
			ID:         a.ID,
			PaymentID:  a.PaymentID,
			InvoiceID:  a.InvoiceID,
			Amount:     a.Amount.StringFixed(documents.AmountScale),
			ReversesID: a.ReversesID,
			Note:       a.Note,
			CreatedBy:  a.CreatedBy,
			CreatedAt:  a.CreatedAt,
		})
	}
	return out
}

func newResultResponse(res Result) resultResponse {
	invoices := make([]workflow.DocumentResponse, 0, len(res.Invoices))
	for _, inv := range res.Invoices {
		invoices = append(invoices, workflow.NewDocumentResponse(inv))
	}
	return resultResponse{
		Payment:     workflow.NewDocumentResponse(res.Payment),
		Invoices:    invoices,
		Allocations: newAllocationResponses(res.Allocations),
	}
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	kind, id, err := ref(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req allocateRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := httpx.ActorID(r, req.ActorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		key = req.IdempotencyKey
	}
	requests := make([]Request, 0, len(req.Allocations))
	for _, line := range req.Allocations {
		requests = append(requests, Request{InvoiceID: line.InvoiceID, Amount: line.Amount})
	}
	res, err := h.service.Allocate(r.Context(), AllocateCommand{
		PaymentKind:    kind,
		PaymentID:      id,
		ActorID:        actorID,
		IdempotencyKey: key,
		Note:           req.Note,
		Requests:       requests,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newResultResponse(res))
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	kind, id, err := ref(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	allocationID, err := httpx.IDParam(r, "allocation_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reverseRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := httpx.ActorID(r, req.ActorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.Reverse(r.Context(), ReverseCommand{
		PaymentKind:  kind,
		PaymentID:    id,
		AllocationID: allocationID,
		ActorID:      actorID,
		Reason:       req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newResultResponse(res))
}

func (h *Handler) listForPayment(w http.ResponseWriter, r *http.Request) {
	kind, id, err := ref(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.service.ListPaymentAllocations(r.Context(), kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newAllocationResponses(rows))
}

func (h *Handler) listForInvoice(w http.ResponseWriter, r *http.Request) {
	kind, id, err := ref(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.service.ListInvoiceAllocations(r.Context(), kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newAllocationResponses(rows))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.CodeOf(err) == "" {
		h.logger.Error("allocation command", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func ref(r *http.Request) (documents.Kind, int64, error) {
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
