package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay accepts one live connection and hands every received frame to script
func fakeRelay(t *testing.T, script func(ctx context.Context, r *http.Request, c *websocket.Conn)) *RelayClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/live", r.URL.Path)
		c, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer c.CloseNow()
		script(r.Context(), r, c)
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL, Options{Token: "tok"})
}

func welcome(ctx context.Context, t *testing.T, c *websocket.Conn) Frame {
	var hello Frame
	require.NoError(t, wsjson.Read(ctx, c, &hello))
	require.NoError(t, wsjson.Write(ctx, c, Frame{Type: FrameWelcome, Identity: hello.Identity, SessionID: "sess-1"}))
	return hello
}

func TestDialLive(t *testing.T) {
	client := fakeRelay(t, func(ctx context.Context, r *http.Request, c *websocket.Conn) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		hello := welcome(ctx, t, c)
		assert.Equal(t, FrameHello, hello.Type)
		assert.Equal(t, "alice", hello.Identity)

		var f Frame
		_ = wsjson.Read(ctx, c, &f)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lc, err := client.DialLive(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", lc.Identity())
	assert.Equal(t, "sess-1", lc.SessionID())
	lc.conn.CloseNow()
}

func TestDialLiveRejected(t *testing.T) {
	client := fakeRelay(t, func(ctx context.Context, r *http.Request, c *websocket.Conn) {
		var hello Frame
		require.NoError(t, wsjson.Read(ctx, c, &hello))
		_ = wsjson.Write(ctx, c, Frame{Type: FrameError, Code: "CONFLICT", Message: "Identity is already connected"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lc, err := client.DialLive(ctx, "alice")
	assert.Nil(t, lc)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "CONFLICT", apiErr.Code)
	assert.False(t, apiErr.Retryable())
}

func TestLiveSendAckAndClose(t *testing.T) {
	received := make(chan Frame, 4)
	client := fakeRelay(t, func(ctx context.Context, r *http.Request, c *websocket.Conn) {
		welcome(ctx, t, c)

		var send Frame
		require.NoError(t, wsjson.Read(ctx, c, &send))
		received <- send
		require.NoError(t, wsjson.Write(ctx, c, Frame{Type: FrameStored, ID: 10}))
		require.NoError(t, wsjson.Write(ctx, c, Frame{Type: FrameMessage, ID: 11, Sender: "bob", Body: "yo"}))

		var ack Frame
		require.NoError(t, wsjson.Read(ctx, c, &ack))
		received <- ack

		var exit Frame
		require.NoError(t, wsjson.Read(ctx, c, &exit))
		received <- exit
		_ = wsjson.Write(ctx, c, Frame{Type: FrameBye})
		_ = c.Close(websocket.StatusNormalClosure, "")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lc, err := client.DialLive(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, lc.Send(ctx, "bob", "hi"))
	stored, err := lc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameStored, stored.Type)
	assert.Equal(t, int64(10), stored.ID)

	msg, err := lc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameMessage, msg.Type)
	assert.Equal(t, "yo", msg.Body)
	require.NoError(t, lc.Ack(ctx, msg.ID))

	require.NoError(t, lc.Close(ctx))
	assert.ErrorIs(t, lc.Send(ctx, "bob", "late"), ErrClosed)

	send := <-received
	assert.Equal(t, FrameSend, send.Type)
	assert.Equal(t, "bob", send.Recipient)
	assert.Equal(t, "hi", send.Body)

	ack := <-received
	assert.Equal(t, FrameAck, ack.Type)
	assert.Equal(t, int64(11), ack.ID)

	exit := <-received
	assert.Equal(t, FrameExit, exit.Type)
}
