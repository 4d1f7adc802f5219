package service

import (
	"context"
	"time"

	"relaybox/internal/constants"
	apperrors "relaybox/internal/errors"
	"relaybox/internal/metrics"
	"relaybox/internal/models"
	"relaybox/internal/presence"
	"relaybox/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Relay appends messages and hands them to live recipients. Both the live
// session and the HTTP gateway send through it.
type Relay struct {
	store      MailboxStore
	registry   *presence.Registry
	ackTimeout time.Duration
	logger     *logrus.Logger
}

// NewRelay creates a relay. A non-positive ackTimeout uses the default.
func NewRelay(store MailboxStore, registry *presence.Registry, ackTimeout time.Duration, logger *logrus.Logger) *Relay {
	if ackTimeout <= 0 {
		ackTimeout = time.Duration(constants.DefaultAckTimeoutSec) * time.Second
	}
	return &Relay{
		store:      store,
		registry:   registry,
		ackTimeout: ackTimeout,
		logger:     logger,
	}
}

// Registry returns the presence registry the relay consults
func (r *Relay) Registry() *presence.Registry {
	return r.registry
}

// Send durably appends the message and then tries the live path. The returned
// bool reports whether the recipient acknowledged it live. A failed live attempt
// is not an error: the message stays pending for the mailbox.
func (r *Relay) Send(ctx context.Context, sender, recipient, body string) (*models.Message, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "relay.send")
	defer span.End()

	msg, err := r.store.Append(ctx, sender, recipient, body)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, false, err
	}

	delivered := r.forward(ctx, msg)
	tracing.AddSpanAttributes(ctx,
		attribute.Int64("message.id", msg.ID),
		attribute.Bool("message.delivered_live", delivered),
	)

	r.logger.WithFields(logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldSender:    LogIdentity(ctx, sender),
		LogFieldRecipient: LogIdentity(ctx, recipient),
		LogFieldBody:      LogBody(ctx, body),
		LogFieldVia:       viaLabel(delivered),
	}).Debug("Message accepted")

	return msg, delivered, nil
}

// forward hands msg to the recipient's live channel, if any, and waits for the ack
func (r *Relay) forward(ctx context.Context, msg *models.Message) bool {
	ch, ok := r.registry.Lookup(msg.Recipient)
	if !ok {
		return false
	}

	ackCtx, cancel := context.WithTimeout(ctx, r.ackTimeout)
	defer cancel()

	if err := ch.Deliver(ackCtx, msg); err != nil {
		metrics.IncrementCounter("live_forward_failures_total", nil, "Live hand-offs that fell back to the mailbox")
		r.logger.WithFields(logrus.Fields{
			LogFieldMessageID: msg.ID,
			LogFieldRecipient: LogIdentity(ctx, msg.Recipient),
			LogFieldErrorCode: apperrors.GetCode(err),
		}).WithError(err).Debug("Live forward failed, message stays pending")
		return false
	}
	return true
}

// Acknowledge records that recipient observed message id over its live session.
// Unknown, foreign or already delivered ids are ignored.
func (r *Relay) Acknowledge(ctx context.Context, recipient string, id int64) (bool, error) {
	marked, err := r.store.MarkDelivered(ctx, recipient, []int64{id}, models.DeliveryPathLive)
	if err != nil {
		return false, err
	}
	return marked == 1, nil
}

// DrainMailbox forwards ch's pending messages in id order, stopping at the first
// one that is not acknowledged. It returns how many were acknowledged.
func (r *Relay) DrainMailbox(ctx context.Context, ch presence.Channel) (int, error) {
	identity := ch.Identity()

	pending, err := r.store.FetchPending(ctx, identity)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range pending {
		if ch.Closed() {
			break
		}

		ackCtx, cancel := context.WithTimeout(ctx, r.ackTimeout)
		err := ch.Deliver(ackCtx, msg)
		cancel()
		if err != nil {
			metrics.IncrementCounter("live_forward_failures_total", nil, "Live hand-offs that fell back to the mailbox")
			r.logger.WithFields(logrus.Fields{
				LogFieldIdentity:  LogIdentity(ctx, identity),
				LogFieldMessageID: msg.ID,
			}).WithError(err).Debug("Mailbox drain stopped")
			break
		}
		delivered++
	}

	if len(pending) > 0 {
		r.logger.WithFields(logrus.Fields{
			LogFieldIdentity: LogIdentity(ctx, identity),
			LogFieldCount:    delivered,
			"pending":        len(pending),
		}).Info("Drained mailbox over live session")
	}
	return delivered, nil
}

func viaLabel(live bool) string {
	if live {
		return string(models.DeliveryPathLive)
	}
	return "mailbox"
}
