package relay

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relaybox/internal/database"
	apperrors "relaybox/internal/errors"
	"relaybox/internal/models"
	"relaybox/internal/presence"
	"relaybox/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory Conn. The test plays the peer through Send and Next.
type fakeConn struct {
	in  chan models.Frame
	out chan models.Frame

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	reason    string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan models.Frame, 16),
		out:    make(chan models.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame(ctx context.Context, f *models.Frame) error {
	select {
	case frame := <-c.in:
		*f = frame
		return nil
	case <-ctx.Done():
		// like a websocket, an ended read context closes the connection
		c.Close("read context done")
		return apperrors.NewTransportError("read", ctx.Err())
	case <-c.closed:
		return apperrors.NewTransportError("read", errConnClosed)
	}
}

func (c *fakeConn) WriteFrame(ctx context.Context, f *models.Frame) error {
	select {
	case <-c.closed:
		return apperrors.NewTransportError("write", errConnClosed)
	default:
	}
	select {
	case c.out <- *f:
		return nil
	case <-ctx.Done():
		return apperrors.NewTransportError("write", ctx.Err())
	case <-c.closed:
		return apperrors.NewTransportError("write", errConnClosed)
	}
}

func (c *fakeConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) Send(t *testing.T, f models.Frame) {
	t.Helper()
	select {
	case c.in <- f:
	case <-time.After(2 * time.Second):
		t.Fatalf("peer could not send %s frame", f.Type)
	}
}

func (c *fakeConn) Next(t *testing.T) models.Frame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("no frame from relay")
		return models.Frame{}
	}
}

// Expect reads frames until one of type typ arrives, failing on anything else
func (c *fakeConn) Expect(t *testing.T, typ models.FrameType) models.Frame {
	t.Helper()
	f := c.Next(t)
	require.Equal(t, typ, f.Type, "unexpected frame %+v", f)
	return f
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type harness struct {
	store    *database.Database
	registry *presence.Registry
	relay    *service.Relay
	auth     service.Authorizer
	opts     Options
	logger   *logrus.Logger
}

func newHarness(t *testing.T, ackTimeout time.Duration) *harness {
	t.Helper()

	store, err := database.New(filepath.Join(t.TempDir(), "relay.db"), database.Options{MaxBodyBytes: 1024})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := presence.NewRegistry()
	return &harness{
		store:    store,
		registry: registry,
		relay:    service.NewRelay(store, registry, ackTimeout, logger),
		auth:     service.AllowAll{},
		opts:     Options{HandshakeTimeout: 2 * time.Second, IdleTimeout: 10 * time.Second, WriteTimeout: time.Second},
		logger:   logger,
	}
}

type liveClient struct {
	conn    *fakeConn
	session *Session
	done    chan struct{}
}

// open starts a session without a handshake
func (h *harness) open(t *testing.T) *liveClient {
	t.Helper()

	conn := newFakeConn()
	session := NewSession(conn, h.relay, h.auth, "", h.opts, h.logger)
	done := make(chan struct{})
	go func() {
		session.Run(context.Background())
		close(done)
	}()

	lc := &liveClient{conn: conn, session: session, done: done}
	t.Cleanup(func() {
		session.Close(ReasonShutdown)
		lc.Wait(t)
	})
	return lc
}

// connect opens a session and completes the hello/welcome exchange
func (h *harness) connect(t *testing.T, identity string) *liveClient {
	t.Helper()

	lc := h.open(t)
	lc.conn.Send(t, models.Frame{Type: models.FrameHello, Identity: identity})
	welcome := lc.conn.Expect(t, models.FrameWelcome)
	require.Equal(t, identity, welcome.Identity)
	require.Equal(t, lc.session.ID(), welcome.SessionID)
	return lc
}

func (lc *liveClient) Wait(t *testing.T) {
	t.Helper()
	select {
	case <-lc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}
