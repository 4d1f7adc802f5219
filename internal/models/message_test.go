package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMailboxItems_EmptyEncodesAsArray(t *testing.T) {
	data, err := json.Marshal(ToMailboxItems(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestToMailboxItems_PreservesOrder(t *testing.T) {
	now := time.Now().UTC()
	items := ToMailboxItems([]*Message{
		{ID: 1, Sender: "a", Body: "first", CreatedAt: now},
		{ID: 2, Sender: "c", Body: "second", CreatedAt: now},
	})

	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, "first", items[0].Body)
	assert.Equal(t, "c", items[1].Sender)
}

func TestMessage_IsPending(t *testing.T) {
	assert.True(t, (&Message{Status: MessageStatusPending}).IsPending())
	assert.False(t, (&Message{Status: MessageStatusDelivered}).IsPending())
}

func TestMessageFrame(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	frame := MessageFrame(&Message{ID: 7, Sender: "a", Recipient: "b", Body: "hi", CreatedAt: created})

	assert.Equal(t, FrameMessage, frame.Type)
	assert.Equal(t, int64(7), frame.ID)
	assert.Equal(t, "a", frame.Sender)
	assert.Empty(t, frame.Recipient)
	require.NotNil(t, frame.CreatedAt)
	assert.True(t, created.Equal(*frame.CreatedAt))
}

func TestStoredFrame_KeepsDeliveredFalse(t *testing.T) {
	data, err := json.Marshal(StoredFrame(9, false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stored","id":9,"delivered":false}`, string(data))

	data, err = json.Marshal(StoredFrame(9, true))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"delivered":true`)
}

func TestMessageFrame_OmitsDelivered(t *testing.T) {
	data, err := json.Marshal(MessageFrame(&Message{ID: 1, Sender: "a", Body: "x"}))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "delivered")
}

func TestConfigError_Error(t *testing.T) {
	err := ConfigError{Message: "test error"}
	assert.Equal(t, "test error", err.Error())
}
