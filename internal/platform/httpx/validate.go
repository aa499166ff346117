package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/docflow/internal/shared"
)

// Bind decodes the JSON body into target and runs struct validation. Failures
// are returned as validation errors listing the offending fields. An empty
// body decodes to the zero value.
func Bind(r *http.Request, v *validator.Validate, target any) error {
	if err := DecodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return shared.Validation("invalid request body: %v", err)
	}
	if v == nil {
		return nil
	}
	if err := v.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return shared.Validation("invalid request: %v", err)
		}
		fields := make(map[string]string, len(fieldErrs))
		names := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
			names = append(names, fe.Field())
		}
		return shared.Validation("invalid fields: %s", strings.Join(names, ", ")).WithDetail("fields", fields)
	}
	return nil
}

// IDParam parses a positive int64 URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}

// ActorID returns explicit when set, otherwise the actor carried by the request context.
func ActorID(r *http.Request, explicit int64) (int64, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if id, ok := shared.ActorIDFromContext(r.Context()); ok {
		return id, nil
	}
	return 0, shared.Validation("actor_id is required")
}
