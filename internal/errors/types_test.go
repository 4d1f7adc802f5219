package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeProtocol,
				Message: "first frame must be hello",
			},
			expected: "PROTOCOL: first frame must be hello",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeStoreUnavailable,
				Message: "mailbox store append failed",
				Cause:   errors.New("disk I/O error"),
			},
			expected: "STORE_UNAVAILABLE: mailbox store append failed: disk I/O error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "recipient").WithContext("value", "")

	assert.Equal(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "recipient", err.Context["field"])
}

func TestWrapRetryable(t *testing.T) {
	err := WrapRetryable(errors.New("locked"), ErrCodeStoreUnavailable, "append failed")

	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestClassifiers_SeeThroughWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", NewValidationError("body", "", "too large"), IsValidation},
		{"conflict", NewConflictError("bob"), IsConflict},
		{"store unavailable", NewStoreUnavailable("append", errors.New("boom")), IsStoreUnavailable},
		{"transport", NewTransportError("write", errors.New("eof")), IsTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("outer: %w", tt.err)))
			assert.False(t, tt.check(errors.New("unrelated")))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeConflict, GetCode(NewConflictError("x")))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "Identity is already connected", GetUserMessage(NewConflictError("x")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("plain")))
}
