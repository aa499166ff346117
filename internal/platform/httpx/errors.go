// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/docflow/internal/shared"
)

var statusByCode = map[shared.ErrorCode]int{
	shared.CodeInvalidTransition:          http.StatusConflict,
	shared.CodeForbidden:                  http.StatusForbidden,
	shared.CodeAllocationExceedsAvailable: http.StatusUnprocessableEntity,
	shared.CodeAllocationExceedsUnpaid:    http.StatusUnprocessableEntity,
	shared.CodeValidation:                 http.StatusBadRequest,
	shared.CodeNotFound:                   http.StatusNotFound,
	shared.CodeConflict:                   http.StatusConflict,
}

// StatusFor returns the HTTP status used for err.
func StatusFor(err error) int {
	if status, ok := statusByCode[shared.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps business errors to RFC7807 responses. Anything that is not
// a *shared.Error is reported as a bare 500.
func RespondError(w http.ResponseWriter, err error) {
	var bizErr *shared.Error
	if !errors.As(err, &bizErr) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	status := StatusFor(err)
	JSON(w, status, ProblemDetail{
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  bizErr.Message,
		Code:    string(bizErr.Code),
		Details: bizErr.Details,
	})
}
