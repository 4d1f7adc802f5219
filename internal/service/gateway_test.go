package service

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "relaybox/internal/errors"
	"relaybox/internal/models"
	"relaybox/internal/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestGateway(store *mockStore, registry *presence.Registry) *Gateway {
	relay := NewRelay(store, registry, 50*time.Millisecond, quietLogger())
	return NewGateway(relay, store, quietLogger())
}

func TestGateway_PostAndPoll(t *testing.T) {
	store := &mockStore{}
	gateway := newTestGateway(store, presence.NewRegistry())
	ctx := context.Background()
	msg := testMessage(1, "a", "b", "hi")

	store.On("Append", mock.Anything, "a", "b", "hi").Return(msg, nil).Once()
	store.On("FetchAndMark", mock.Anything, "b").Return([]*models.Message{msg}, nil).Once()
	store.On("FetchAndMark", mock.Anything, "b").Return([]*models.Message{}, nil).Once()

	posted, err := gateway.Post(ctx, models.Envelope{Sender: "a", Recipient: "b", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), posted.ID)

	first, err := gateway.Poll(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := gateway.Poll(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, second)
	store.AssertExpectations(t)
}

func TestGateway_PostToLiveRecipient(t *testing.T) {
	store := &mockStore{}
	registry := presence.NewRegistry()
	ch := newFakeChannel("b")
	require.NoError(t, registry.Register("b", ch))
	gateway := newTestGateway(store, registry)

	store.On("Append", mock.Anything, "a", "b", "hi").Return(testMessage(9, "a", "b", "hi"), nil).Once()

	stored := testMessage(9, "a", "b", "hi")
	deliveredAt := stored.CreatedAt.Add(time.Second)
	via := models.DeliveryPathLive
	stored.Status = models.MessageStatusDelivered
	stored.DeliveredAt = &deliveredAt
	stored.DeliveredVia = &via
	store.On("GetMessage", mock.Anything, int64(9)).Return(stored, nil).Once()

	msg, err := gateway.Post(context.Background(), models.Envelope{Sender: "a", Recipient: "b", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, ch.Delivered())
	assert.Equal(t, models.MessageStatusDelivered, msg.Status)
	require.NotNil(t, msg.DeliveredVia)
	assert.Equal(t, models.DeliveryPathLive, *msg.DeliveredVia)
	require.NotNil(t, msg.DeliveredAt)
	assert.Equal(t, deliveredAt, *msg.DeliveredAt)
	store.AssertExpectations(t)
}

func TestGateway_PostToLiveRecipientReloadFails(t *testing.T) {
	store := &mockStore{}
	registry := presence.NewRegistry()
	ch := newFakeChannel("b")
	require.NoError(t, registry.Register("b", ch))
	gateway := newTestGateway(store, registry)

	store.On("Append", mock.Anything, "a", "b", "hi").Return(testMessage(9, "a", "b", "hi"), nil).Once()
	store.On("GetMessage", mock.Anything, int64(9)).Return(nil, apperrors.NewStoreUnavailable("get_message", errors.New("locked"))).Once()

	msg, err := gateway.Post(context.Background(), models.Envelope{Sender: "a", Recipient: "b", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, msg.Status)
	require.NotNil(t, msg.DeliveredAt)
	assert.False(t, msg.DeliveredAt.IsZero())
}

func TestGateway_PollStoreUnavailable(t *testing.T) {
	store := &mockStore{}
	gateway := newTestGateway(store, presence.NewRegistry())
	store.On("FetchAndMark", mock.Anything, "b").Return(nil, apperrors.NewStoreUnavailable("fetch_and_mark", errors.New("locked"))).Once()

	messages, err := gateway.Poll(context.Background(), "b")
	assert.Nil(t, messages)
	assert.True(t, apperrors.IsStoreUnavailable(err))
}

func TestGateway_PendingCount(t *testing.T) {
	store := &mockStore{}
	gateway := newTestGateway(store, presence.NewRegistry())
	store.On("CountPending", mock.Anything, "b").Return(4, nil).Once()

	count, err := gateway.PendingCount(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	_, err = gateway.PendingCount(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
}
