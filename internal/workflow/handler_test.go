package workflow

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/docflow/internal/platform/httpx"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Route("/documents", NewHandler(slog.Default(), f.service).MountRoutes)
	return r
}

func send(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerDocumentLifecycle(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := send(t, router, http.MethodPost, "/documents/ap_invoice",
		`{"actor_id":1,"branch_id":1,"counterparty_id":9,"total_before_tax":"1000.50","total_tax":110}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created DocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "1110.5000", created.TotalAfterTax)
	require.NotNil(t, created.Unpaid)
	require.Equal(t, "1110.5000", *created.Unpaid)
	require.Nil(t, created.Available)

	rec = send(t, router, http.MethodPost, "/documents/ap_invoice/1/submit", `{"actor_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = send(t, router, http.MethodPost, "/documents/ap_invoice/1/approve", `{"actor_id":1}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "FORBIDDEN", problem.Code)

	rec = send(t, router, http.MethodPost, "/documents/ap_invoice/1/approve", `{"actor_id":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = send(t, router, http.MethodPost, "/documents/ap_invoice/1/approve", `{"actor_id":2}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = send(t, router, http.MethodGet, "/documents/ap_invoice/1/approvals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	require.Equal(t, "APPROVE", logs[1]["action"])
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := send(t, router, http.MethodPost, "/documents/journal/1/submit", `{"actor_id":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, router, http.MethodPost, "/documents/purchase_order", `{"actor_id":1,"counterparty_id":2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Details["fields"], "BranchID")

	rec = send(t, router, http.MethodPost, "/documents/purchase_order/1/explode", `{"actor_id":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, router, http.MethodGet, "/documents/purchase_order/42", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, router, http.MethodPost, "/documents/purchase_order/1/submit", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerEdit(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	f.create(t, "purchase_order", staff)

	rec := send(t, router, http.MethodPatch, "/documents/purchase_order/1", `{"actor_id":1,"counterparty_id":77}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var doc DocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, int64(77), doc.CounterpartyID)
	require.Equal(t, int64(2), doc.Version)
	require.Nil(t, doc.Unpaid)
}
