package service

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "relaybox/internal/errors"
	"relaybox/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGuardedStore_OpensAfterStoreUnavailable(t *testing.T) {
	inner := &mockStore{}
	guarded := NewGuardedStore(inner, 2, time.Hour, quietLogger())
	ctx := context.Background()

	unavailable := apperrors.NewStoreUnavailable("count_pending", errors.New("database is locked"))
	inner.On("CountPending", mock.Anything, "b").Return(0, unavailable).Twice()

	for i := 0; i < 2; i++ {
		_, err := guarded.CountPending(ctx, "b")
		assert.True(t, apperrors.IsStoreUnavailable(err))
	}
	assert.Equal(t, circuitbreaker.StateOpen, guarded.BreakerStats().State)

	_, err := guarded.CountPending(ctx, "b")
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "open", appErr.Context["circuit"])

	inner.AssertNumberOfCalls(t, "CountPending", 2)
}

func TestGuardedStore_ValidationErrorsDoNotTrip(t *testing.T) {
	inner := &mockStore{}
	guarded := NewGuardedStore(inner, 1, time.Hour, quietLogger())

	invalid := apperrors.NewValidationError("recipient", "", "recipient cannot be empty")
	inner.On("Append", mock.Anything, "a", "", "hi").Return(nil, invalid).Times(3)

	for i := 0; i < 3; i++ {
		_, err := guarded.Append(context.Background(), "a", "", "hi")
		assert.True(t, apperrors.IsValidation(err))
	}
	assert.Equal(t, circuitbreaker.StateClosed, guarded.BreakerStats().State)
	inner.AssertExpectations(t)
}

func TestGuardedStore_BackgroundCallsBypassBreaker(t *testing.T) {
	inner := &mockStore{}
	guarded := NewGuardedStore(inner, 1, time.Hour, quietLogger())
	ctx := context.Background()

	inner.On("FetchPending", mock.Anything, "b").
		Return(nil, apperrors.NewStoreUnavailable("fetch_pending", errors.New("disk I/O error"))).Once()
	_, err := guarded.FetchPending(ctx, "b")
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, guarded.BreakerStats().State)

	inner.On("GetStalePendingCount", mock.Anything, time.Minute).Return(2, nil).Once()
	inner.On("CleanupOldRecords", mock.Anything, 30).Return(int64(5), nil).Once()
	inner.On("Ping", mock.Anything).Return(nil).Once()

	stale, err := guarded.GetStalePendingCount(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, stale)

	deleted, err := guarded.CleanupOldRecords(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	assert.NoError(t, guarded.Ping(ctx))
	inner.AssertExpectations(t)
}
