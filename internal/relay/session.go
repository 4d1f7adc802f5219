// Package relay runs live sessions: one duplex connection per identity that
// sends messages through the relay service and receives forwarded ones.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"relaybox/internal/constants"
	apperrors "relaybox/internal/errors"
	"relaybox/internal/metrics"
	"relaybox/internal/models"
	"relaybox/internal/presence"
	"relaybox/internal/service"
	"relaybox/internal/tracing"
	"relaybox/internal/validation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// State is the lifecycle position of a session
type State int32

const (
	StateConnecting State = iota
	StateIdentified
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons
const (
	ReasonExit      = "exit"
	ReasonTransport = "transport error"
	ReasonIdle      = "idle timeout"
	ReasonProtocol  = "protocol error"
	ReasonConflict  = "identity conflict"
	ReasonAuth      = "unauthorized"
	ReasonWrite     = "write failed"
	ReasonShutdown  = "shutdown"
)

var errSessionClosed = errors.New("session closed")

// Options bounds a session's waits
type Options struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	SendQueueSize    int
	// how long an unacknowledged forward stays matchable after its waiter gave up
	LateAckWindow time.Duration
}

// OptionsFromConfig converts relay config to session options, filling defaults
func OptionsFromConfig(cfg models.RelayConfig) Options {
	opts := Options{
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeoutSec) * time.Second,
		IdleTimeout:      time.Duration(cfg.IdleTimeoutSec) * time.Second,
		WriteTimeout:     time.Duration(cfg.WriteTimeoutSec) * time.Second,
		SendQueueSize:    cfg.SendQueueSize,
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = time.Duration(constants.DefaultHandshakeTimeoutSec) * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = time.Duration(constants.DefaultLiveIdleTimeoutSec) * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = time.Duration(constants.DefaultLiveWriteTimeoutSec) * time.Second
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = constants.DefaultSendQueueSize
	}
	if o.LateAckWindow <= 0 {
		o.LateAckWindow = time.Duration(constants.DefaultLateAckWindowSec) * time.Second
	}
	return o
}

// forward tracks one message handed to the peer and not yet acknowledged
type forward struct {
	done chan struct{}
	once sync.Once
	err  error
	// set while no Deliver call waits on it, guarded by Session.mu
	abandoned time.Time
}

func (f *forward) finish(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Session is one live connection. It implements presence.Channel.
type Session struct {
	id         string
	conn       Conn
	relay      *service.Relay
	registry   *presence.Registry
	authorizer service.Authorizer
	token      string
	opts       Options
	logger     *logrus.Logger

	state atomic.Int32

	mu       sync.Mutex
	identity string
	forwards map[int64]*forward

	sendQueue chan models.Frame
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	reason    string
	wg        sync.WaitGroup
}

var _ presence.Channel = (*Session)(nil)

// NewSession creates a session over conn. token is the bearer token presented
// on upgrade; a token in the hello frame takes precedence.
func NewSession(conn Conn, relay *service.Relay, authorizer service.Authorizer, token string, opts Options, logger *logrus.Logger) *Session {
	if authorizer == nil {
		authorizer = service.AllowAll{}
	}
	opts = opts.withDefaults()
	return &Session{
		id:         tracing.GenerateSessionID(),
		conn:       conn,
		relay:      relay,
		registry:   relay.Registry(),
		authorizer: authorizer,
		token:      token,
		opts:       opts,
		logger:     logger,
		forwards:   make(map[int64]*forward),
		sendQueue:  make(chan models.Frame, opts.SendQueueSize),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the session id sent in the welcome frame
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(state State) { s.state.Store(int32(state)) }

// Identity returns the announced identity, empty before the handshake
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Closed reports whether the session has started closing
func (s *Session) Closed() bool {
	return s.State() >= StateClosing
}

// Close stops the session from outside and releases the transport, which ends
// the read loop. Run finishes the shutdown.
func (s *Session) Close(reason string) {
	s.beginClose(reason)
	_ = s.conn.Close(reason)
}

// Run drives the session until exit, transport failure, protocol error or Close.
// It returns once the session is closed and unregistered.
func (s *Session) Run(ctx context.Context) {
	ctx, span := tracing.StartSessionSpan(ctx, s.id)
	defer span.End()
	metrics.IncrementCounter("live_sessions_total", nil, "Live connections accepted")

	reason := s.handshake(ctx)
	if reason == "" {
		s.start(ctx)
		reason = s.readLoop(ctx)
	}
	s.shutdown(ctx, reason)
	tracing.AddSpanAttributes(ctx, attribute.String("session.close_reason", reason))
}

// handshake waits for the hello frame and registers the identity. It returns a
// close reason on failure and "" once the session is active.
func (s *Session) handshake(ctx context.Context) string {
	// a websocket closes when its read context ends, so the timeout error frame
	// is written from a timer before the read is cancelled
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	expired := make(chan struct{})
	timer := time.AfterFunc(s.opts.HandshakeTimeout, func() {
		defer close(expired)
		s.writeError(ctx, apperrors.NewProtocolError("no hello frame within handshake timeout"))
		cancelRead()
	})

	var hello models.Frame
	err := s.conn.ReadFrame(readCtx, &hello)
	if !timer.Stop() {
		<-expired
		return ReasonProtocol
	}

	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeProtocol) {
			s.writeError(ctx, err)
			return ReasonProtocol
		}
		return ReasonTransport
	}

	if hello.Type != models.FrameHello {
		s.writeError(ctx, apperrors.NewProtocolError("first frame must be hello"))
		return ReasonProtocol
	}
	if err := validation.ValidateIdentity("identity", hello.Identity); err != nil {
		s.writeError(ctx, err)
		return ReasonProtocol
	}

	token := hello.Token
	if token == "" {
		token = s.token
	}
	if err := s.authorizer.Authorize(ctx, token, hello.Identity); err != nil {
		s.writeError(ctx, err)
		return ReasonAuth
	}

	s.mu.Lock()
	s.identity = hello.Identity
	s.mu.Unlock()
	s.setState(StateIdentified)

	if err := s.registry.Register(hello.Identity, s); err != nil {
		s.writeError(ctx, err)
		if apperrors.IsConflict(err) {
			return ReasonConflict
		}
		return ReasonProtocol
	}
	s.setState(StateActive)

	if err := s.writeFrame(ctx, &models.Frame{Type: models.FrameWelcome, Identity: hello.Identity, SessionID: s.id}); err != nil {
		return ReasonTransport
	}
	close(s.ready)

	s.log(ctx).Info("Live session active")
	return ""
}

// start launches the send worker and the mailbox drain
func (s *Session) start(ctx context.Context) {
	// queued sends finish even if the request context is cancelled
	workerCtx := context.WithoutCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for f := range s.sendQueue {
			s.handleSend(workerCtx, f)
		}
	}()
	go func() {
		defer s.wg.Done()
		if _, err := s.relay.DrainMailbox(workerCtx, s); err != nil {
			s.log(ctx).WithError(err).Warn("Mailbox drain failed, messages stay pending")
		}
	}()
}

func (s *Session) readLoop(ctx context.Context) string {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.opts.IdleTimeout)
		var f models.Frame
		err := s.conn.ReadFrame(readCtx, &f)
		idle := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			switch {
			case s.Closed():
				return s.closeReason()
			case idle:
				return ReasonIdle
			case apperrors.HasCode(err, apperrors.ErrCodeProtocol):
				s.writeError(ctx, err)
				return ReasonProtocol
			case apperrors.IsTransport(err):
				s.log(ctx).WithError(err).Debug("Live connection read failed")
				return ReasonTransport
			default:
				s.log(ctx).WithError(err).Warn("Unexpected live read error")
				return ReasonTransport
			}
		}

		switch f.Type {
		case models.FrameSend:
			select {
			case s.sendQueue <- f:
			case <-s.done:
				return s.closeReason()
			}
		case models.FrameAck:
			s.handleAck(ctx, f.ID)
		case models.FrameExit:
			return ReasonExit
		case models.FrameHello:
			s.writeError(ctx, apperrors.NewProtocolError("session already identified"))
			return ReasonProtocol
		default:
			s.writeError(ctx, apperrors.NewProtocolError(fmt.Sprintf("unknown frame type %q", f.Type)))
			return ReasonProtocol
		}
	}
}

// handleSend runs on the send worker so a forward waiting for an ack never blocks the read loop
func (s *Session) handleSend(ctx context.Context, f models.Frame) {
	msg, delivered, err := s.relay.Send(ctx, s.Identity(), f.Recipient, f.Body)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	if err := s.writeFrame(ctx, models.StoredFrame(msg.ID, delivered)); err != nil {
		s.log(ctx).WithError(err).Debug("Could not confirm stored message")
	}
}

// Deliver forwards msg and waits for the peer's ack, ctx's end or the session closing.
// An id already in flight on this session is not written again.
func (s *Session) Deliver(ctx context.Context, msg *models.Message) error {
	if s.Closed() {
		return apperrors.NewTransportError("deliver", errSessionClosed)
	}

	s.mu.Lock()
	s.sweepForwards(time.Now())
	fw, inFlight := s.forwards[msg.ID]
	if inFlight {
		fw.abandoned = time.Time{}
	} else {
		fw = &forward{done: make(chan struct{})}
		s.forwards[msg.ID] = fw
	}
	s.mu.Unlock()

	if !inFlight {
		// forwards may arrive between registration and the welcome frame
		select {
		case <-s.ready:
		case <-ctx.Done():
			s.dropForward(msg.ID, fw)
			fw.finish(ctx.Err())
			return apperrors.NewTimeoutError("live forward", "welcome")
		case <-s.done:
			s.dropForward(msg.ID, fw)
			fw.finish(errSessionClosed)
			return apperrors.NewTransportError("deliver", errSessionClosed)
		}
		if err := s.writeFrame(ctx, models.MessageFrame(msg)); err != nil {
			s.dropForward(msg.ID, fw)
			fw.finish(err)
			s.Close(ReasonWrite)
			return err
		}
	}

	select {
	case <-fw.done:
		return fw.err
	case <-ctx.Done():
		// kept for a late ack until LateAckWindow passes
		s.mu.Lock()
		fw.abandoned = time.Now()
		s.mu.Unlock()
		return apperrors.NewTimeoutError("live forward", "ack wait")
	case <-s.done:
		return apperrors.NewTransportError("deliver", errSessionClosed)
	}
}

// sweepForwards forgets forwards abandoned more than LateAckWindow ago. Their
// acks are then ignored, the messages stay pending and a later Deliver writes
// them again. Caller holds s.mu.
func (s *Session) sweepForwards(now time.Time) {
	for id, fw := range s.forwards {
		if !fw.abandoned.IsZero() && now.Sub(fw.abandoned) > s.opts.LateAckWindow {
			delete(s.forwards, id)
		}
	}
}

// handleAck marks an acknowledged forward delivered. Acks for ids this session
// never forwarded are ignored. A late ack still marks the message.
func (s *Session) handleAck(ctx context.Context, id int64) {
	s.mu.Lock()
	fw, ok := s.forwards[id]
	s.mu.Unlock()
	if !ok {
		s.log(ctx).WithField(service.LogFieldMessageID, id).Debug("Ignoring ack for unknown message")
		return
	}

	_, err := s.relay.Acknowledge(ctx, s.Identity(), id)
	s.dropForward(id, fw)
	if err != nil {
		s.log(ctx).WithField(service.LogFieldMessageID, id).WithError(err).Warn("Could not mark acknowledged message, it stays pending")
	}
	fw.finish(err)
}

func (s *Session) dropForward(id int64, fw *forward) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forwards[id] == fw {
		delete(s.forwards, id)
	}
}

func (s *Session) beginClose(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.setState(StateClosing)
		close(s.done)
	})
}

func (s *Session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// shutdown aborts pending forwards, lets queued sends finish, unregisters and
// releases the transport
func (s *Session) shutdown(ctx context.Context, reason string) {
	s.beginClose(reason)
	reason = s.closeReason()

	close(s.sendQueue)
	s.wg.Wait()

	if identity := s.Identity(); identity != "" {
		s.registry.Unregister(identity, s)
	}

	if reason == ReasonExit {
		_ = s.writeFrame(ctx, &models.Frame{Type: models.FrameBye})
	}
	_ = s.conn.Close(reason)
	s.setState(StateClosed)

	metrics.IncrementCounter("live_sessions_closed_total", map[string]string{"reason": reason}, "Live sessions closed by reason")
	s.log(ctx).WithField(service.LogFieldReason, reason).Info("Live session closed")
}

func (s *Session) writeFrame(ctx context.Context, f *models.Frame) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()
	return s.conn.WriteFrame(wctx, f)
}

// writeError reports err to the peer. Transport failures are not echoed back.
func (s *Session) writeError(ctx context.Context, err error) {
	frame := &models.Frame{
		Type:    models.FrameError,
		Code:    string(apperrors.GetCode(err)),
		Message: apperrors.GetUserMessage(err),
	}
	if werr := s.writeFrame(ctx, frame); werr != nil {
		s.log(ctx).WithError(werr).Debug("Could not write error frame")
	}
}

func (s *Session) log(ctx context.Context) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		service.LogFieldSessionID: s.id,
		service.LogFieldIdentity:  service.LogIdentity(ctx, s.Identity()),
		service.LogFieldState:     s.State().String(),
	})
}
