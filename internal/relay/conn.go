package relay

import (
	"context"
	"encoding/json"

	apperrors "relaybox/internal/errors"
	"relaybox/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn is the framed duplex transport under a live session.
// ReadFrame is only called from the session's read loop; WriteFrame may be
// called concurrently.
type Conn interface {
	ReadFrame(ctx context.Context, f *models.Frame) error
	WriteFrame(ctx context.Context, f *models.Frame) error
	Close(reason string) error
}

type wsConn struct {
	c *websocket.Conn
}

// NewWebSocketConn adapts an accepted websocket to Conn. Messages larger than
// readLimit close the connection.
func NewWebSocketConn(c *websocket.Conn, readLimit int64) Conn {
	c.SetReadLimit(readLimit)
	return &wsConn{c: c}
}

func (w *wsConn) ReadFrame(ctx context.Context, f *models.Frame) error {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return apperrors.NewTransportError("read", err)
	}
	if typ != websocket.MessageText {
		return apperrors.NewProtocolError("frames must be JSON text messages")
	}

	*f = models.Frame{}
	if err := json.Unmarshal(data, f); err != nil {
		return apperrors.NewProtocolError("malformed frame")
	}
	return nil
}

func (w *wsConn) WriteFrame(ctx context.Context, f *models.Frame) error {
	if err := wsjson.Write(ctx, w.c, f); err != nil {
		return apperrors.NewTransportError("write", err)
	}
	return nil
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
