package errors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"relaybox/internal/tracing"

	"github.com/stretchr/testify/assert"
)

func TestNewStoreUnavailable(t *testing.T) {
	cause := errors.New("database is locked")
	err := NewStoreUnavailable("append", cause)

	assert.Equal(t, ErrCodeStoreUnavailable, err.Code)
	assert.True(t, err.Retryable)
	assert.Equal(t, "append", err.Context["operation"])
	assert.True(t, errors.Is(err, cause))
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("recipient", "", "recipient cannot be empty")

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.False(t, err.Retryable)
	assert.Equal(t, "Invalid recipient: recipient cannot be empty", err.UserMessage)
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{NewValidationError("body", "", "too large"), http.StatusBadRequest},
		{NewProtocolError("bad frame"), http.StatusBadRequest},
		{NewAuthError("missing token"), http.StatusUnauthorized},
		{NewForbiddenError("bob"), http.StatusForbidden},
		{NewConflictError("bob"), http.StatusConflict},
		{NewNotFoundError("route", "/v1/x"), http.StatusNotFound},
		{NewMethodNotAllowedError(http.MethodDelete, "/v1/messages"), http.StatusMethodNotAllowed},
		{NewStoreUnavailable("poll", errors.New("x")), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatusCode(tt.err), tt.err.Error())
	}
}

func TestToHTTPResponse_HidesValues(t *testing.T) {
	err := NewValidationError("body", "secret message", "body too large")

	resp := ToHTTPResponse(err, "req_1")

	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	assert.Equal(t, "req_1", resp.RequestID)
	ctx, ok := resp.Error.Context.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "body", ctx["field"])
	assert.NotContains(t, ctx, "value")
}

func TestToHTTPResponse_PlainError(t *testing.T) {
	resp := ToHTTPResponse(errors.New("boom"), "")

	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Equal(t, "An internal error occurred", resp.Error.Message)
	assert.Nil(t, resp.Error.Context)
}

func TestWithContextFromRequest(t *testing.T) {
	ctx := WithIdentity(context.Background(), "alice")
	ctx = tracing.WithSessionID(ctx, "sess-1")
	ctx = tracing.WithRequestID(ctx, "req_1")

	err := WithContextFromRequest(New(ErrCodeTimeout, "slow"), ctx)

	assert.Equal(t, "alice", err.Context["identity"])
	assert.Equal(t, "sess-1", err.Context["session_id"])
	assert.Equal(t, "req_1", err.Context["request_id"])
	assert.Nil(t, WithContextFromRequest(nil, ctx))
}
