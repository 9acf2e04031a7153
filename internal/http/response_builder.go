// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON responses
// and maps domain errors onto status codes in one place.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.body == nil || b.statusCode == http.StatusNoContent {
		return
	}
	// The status line is already out, nothing left to report to the client
	_ = json.NewEncoder(w).Encode(b.body)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// ValidationErrorResponse renders a rejected payload. Fields lists the
// offending keys when known, otherwise the offending field.
func ValidationErrorResponse(verr *core.ValidationError) *JSONResponseBuilder {
	fields := verr.Values
	if len(fields) == 0 {
		fields = []string{verr.Field}
	}
	return NewJSONResponse().
		Status(http.StatusBadRequest).
		Body(errorBody{Error: verr.Error(), Fields: fields})
}

// writeError maps err onto a response: validation errors are 400, unknown
// ids 404, deadline overruns 504 and everything else 500 with the detail
// kept out of the body.
func writeError(w http.ResponseWriter, r *http.Request, op, notFoundMsg string, err error) {
	ctx := r.Context()

	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		applog.FromContext(ctx).InfoContext(ctx, "Request rejected",
			applog.FieldOperation, op,
			applog.FieldError, err.Error(),
			applog.FieldErrorType, applog.ErrorTypeValidation)
		ValidationErrorResponse(verr).Write(w)

	case errors.Is(err, core.ErrNotFound):
		applog.FromContext(ctx).InfoContext(ctx, "Resource not found",
			applog.FieldOperation, op,
			applog.FieldError, err.Error(),
			applog.FieldErrorType, applog.ErrorTypeNotFound)
		NotFoundError(notFoundMsg).Write(w)

	case errors.Is(err, context.DeadlineExceeded):
		applog.LogError(ctx, "Request timed out", err, applog.ErrorTypeTimeout, op, nil)
		ErrorResponse(http.StatusGatewayTimeout, "request timed out").Write(w)

	default:
		applog.LogError(ctx, "Request failed", err, applog.ErrorTypeInternal, op, nil)
		InternalServerError("internal server error").Write(w)
	}
}
