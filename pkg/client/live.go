package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"relaybox/pkg/constants"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrClosed is returned by a LiveConn after Close
var ErrClosed = errors.New("live connection closed")

// LiveConn is an identified live session. Next must not be called concurrently;
// the write methods may be.
type LiveConn struct {
	conn      *websocket.Conn
	identity  string
	sessionID string

	closeOnce sync.Once
	closed    chan struct{}
}

// DialLive opens a live session for identity and completes the hello handshake
func (c *RelayClient) DialLive(ctx context.Context, identity string) (*LiveConn, error) {
	endpoint, err := liveURL(c.baseURL, c.token)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, constants.DefaultLiveDialTimeoutSec*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPClient: c.client})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", constants.LivePath, err)
	}
	conn.SetReadLimit(constants.DefaultLiveReadLimitBytes)

	lc := &LiveConn{conn: conn, identity: identity, closed: make(chan struct{})}
	if err := lc.write(dialCtx, Frame{Type: FrameHello, Identity: identity}); err != nil {
		conn.CloseNow()
		return nil, err
	}

	reply, err := lc.Next(dialCtx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	if reply.Type == FrameError {
		conn.CloseNow()
		return nil, &APIError{Code: reply.Code, Message: reply.Message}
	}
	if reply.Type != FrameWelcome {
		conn.CloseNow()
		return nil, fmt.Errorf("handshake failed: unexpected %s frame", reply.Type)
	}

	lc.sessionID = reply.SessionID
	return lc, nil
}

func liveURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + constants.LivePath
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (l *LiveConn) Identity() string  { return l.identity }
func (l *LiveConn) SessionID() string { return l.sessionID }

// Send asks the relay to store and forward body to recipient. The relay answers
// with a stored or error frame.
func (l *LiveConn) Send(ctx context.Context, recipient, body string) error {
	return l.write(ctx, Frame{Type: FrameSend, Recipient: recipient, Body: body})
}

// Ack confirms a received message so the relay marks it delivered
func (l *LiveConn) Ack(ctx context.Context, id int64) error {
	return l.write(ctx, Frame{Type: FrameAck, ID: id})
}

// Next returns the next frame from the relay. Error frames are returned as
// frames; transport failures as errors.
func (l *LiveConn) Next(ctx context.Context) (*Frame, error) {
	var f Frame
	if err := wsjson.Read(ctx, l.conn, &f); err != nil {
		if l.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return &f, nil
}

// Close sends exit and waits briefly for the relay's bye. Frames still arriving
// before the bye are discarded.
func (l *LiveConn) Close(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		err = l.write(ctx, Frame{Type: FrameExit})
		if err == nil {
			waitCtx, cancel := context.WithTimeout(ctx, constants.DefaultByeWaitMs*time.Millisecond)
			for {
				f, rerr := l.Next(waitCtx)
				if rerr != nil || f.Type == FrameBye {
					break
				}
			}
			cancel()
		}
		close(l.closed)
		// the relay closes its side after bye, so a close error here is expected
		_ = l.conn.Close(websocket.StatusNormalClosure, "exit")
	})
	return err
}

// Exit asks the relay to end the session without reading its reply. Use it
// when another goroutine owns Next; that reader sees the bye frame.
func (l *LiveConn) Exit(ctx context.Context) error {
	return l.write(ctx, Frame{Type: FrameExit})
}

// Abort drops the connection without the exit handshake
func (l *LiveConn) Abort() error {
	err := ErrClosed
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.conn.CloseNow()
	})
	return err
}

func (l *LiveConn) write(ctx context.Context, f Frame) error {
	if l.isClosed() {
		return ErrClosed
	}
	if err := wsjson.Write(ctx, l.conn, f); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", f.Type, err)
	}
	return nil
}

func (l *LiveConn) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}
