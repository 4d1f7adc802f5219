package errors

import (
	"context"
	"fmt"
	"net/http"

	"relaybox/internal/tracing"
)

type contextKey string

const identityKey contextKey = "identity"

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewStoreUnavailable reports that the mailbox store could not complete an operation.
// Callers are expected to retry with backoff.
func NewStoreUnavailable(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeStoreUnavailable, fmt.Sprintf("mailbox store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Mailbox store unavailable, please retry")
}

// NewConflictError creates an error for an identity that is already live elsewhere
func NewConflictError(identity string) *AppError {
	return New(ErrCodeConflict, "identity already has a live session").
		WithContext("identity", identity).
		WithUserMessage("Identity is already connected")
}

// NewTransportError wraps a read/write failure on a live connection
func NewTransportError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeTransport, fmt.Sprintf("transport %s failed", operation)).
		WithContext("operation", operation)
}

// NewProtocolError creates an error for a malformed or unexpected frame
func NewProtocolError(message string) *AppError {
	return New(ErrCodeProtocol, message).
		WithUserMessage(message)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewForbiddenError creates an authorization error for an identity the caller may not act as
func NewForbiddenError(identity string) *AppError {
	return New(ErrCodeAuthorization, "not allowed to act as identity").
		WithContext("identity", identity).
		WithUserMessage("Not allowed to act as this identity")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewMethodNotAllowedError rejects a known route called with the wrong method
func NewMethodNotAllowedError(method, path string) *AppError {
	return New(ErrCodeMethodNotAllowed, fmt.Sprintf("%s not allowed on %s", method, path)).
		WithContext("method", method).
		WithUserMessage("Method not allowed")
}

// Context helpers

// WithIdentity stores the acting identity for error context extraction
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})

	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		errorCtx["request_id"] = requestID
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		errorCtx["trace_id"] = traceID
	}
	if sessionID := tracing.GetSessionID(ctx); sessionID != "" {
		errorCtx["session_id"] = sessionID
	}
	if identity, ok := ctx.Value(identityKey).(string); ok && identity != "" {
		errorCtx["identity"] = identity
	}

	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}

	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}

	return err
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeProtocol:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeStoreUnavailable, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized JSON error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			// values may echo message bodies or secrets back to the caller
			if k != "value" && k != "token" && k != "secret" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
