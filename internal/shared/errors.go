package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrorCode classifies business rule failures surfaced to callers.
type ErrorCode string

const (
	CodeInvalidTransition          ErrorCode = "INVALID_TRANSITION"
	CodeForbidden                  ErrorCode = "FORBIDDEN"
	CodeAllocationExceedsAvailable ErrorCode = "ALLOCATION_EXCEEDS_AVAILABLE"
	CodeAllocationExceedsUnpaid    ErrorCode = "ALLOCATION_EXCEEDS_UNPAID"
	CodeValidation                 ErrorCode = "VALIDATION_ERROR"
	CodeNotFound                   ErrorCode = "NOT_FOUND"
	CodeConflict                   ErrorCode = "CONFLICT"
)

// Error is a structured, user-displayable business error.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e with the key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

var (
	// ErrInvalidTransition indicates the document is not in a source state for the action.
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid state transition"}
	// ErrForbidden indicates a role, ownership or branch scope failure.
	ErrForbidden = &Error{Code: CodeForbidden, Message: "forbidden"}
	// ErrAllocationExceedsAvailable indicates the batch exceeds the payment's available amount.
	ErrAllocationExceedsAvailable = &Error{Code: CodeAllocationExceedsAvailable, Message: "allocation exceeds available amount"}
	// ErrAllocationExceedsUnpaid indicates a request exceeds an invoice's unpaid amount.
	ErrAllocationExceedsUnpaid = &Error{Code: CodeAllocationExceedsUnpaid, Message: "allocation exceeds unpaid amount"}
	// ErrValidation indicates malformed input.
	ErrValidation = &Error{Code: CodeValidation, Message: "validation failed"}
	// ErrNotFound indicates resource not found.
	ErrNotFound = &Error{Code: CodeNotFound, Message: "not found"}
	// ErrConflict indicates a concurrent modification or a duplicate command.
	ErrConflict = &Error{Code: CodeConflict, Message: "conflict"}
)

// NewError builds an error for code with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports a state precondition failure.
func InvalidTransition(format string, args ...any) *Error {
	return NewError(CodeInvalidTransition, format, args...)
}

// Forbidden reports a role, ownership or branch scope failure.
func Forbidden(format string, args ...any) *Error {
	return NewError(CodeForbidden, format, args...)
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return NewError(CodeValidation, format, args...)
}

// NotFound reports a missing record.
func NotFound(format string, args ...any) *Error {
	return NewError(CodeNotFound, format, args...)
}

// Conflict reports a concurrent modification or duplicate command.
func Conflict(format string, args ...any) *Error {
	return NewError(CodeConflict, format, args...)
}

// CodeOf returns the business code carried by err, or "" for infrastructure errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var amountPrinter = message.NewPrinter(language.English)

// amountScale matches the stored numeric(18,4) columns.
const amountScale = 4

// FormatAmount renders an amount at storage scale with thousands separators
// on the integer part.
func FormatAmount(d decimal.Decimal) string {
	sign := ""
	if d.Round(amountScale).IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	fixed := d.StringFixed(amountScale)
	frac := fixed[strings.IndexByte(fixed, '.'):]
	return sign + amountPrinter.Sprintf("%d", d.Truncate(0).IntPart()) + frac
}
