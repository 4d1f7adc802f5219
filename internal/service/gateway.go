package service

import (
	"context"
	"time"

	"relaybox/internal/models"
	"relaybox/internal/validation"

	"github.com/sirupsen/logrus"
)

// Gateway is the stateless request/response surface for offline recipients
type Gateway struct {
	relay  *Relay
	store  MailboxStore
	logger *logrus.Logger
}

// NewGateway creates a gateway over relay and store
func NewGateway(relay *Relay, store MailboxStore, logger *logrus.Logger) *Gateway {
	return &Gateway{relay: relay, store: store, logger: logger}
}

// Post appends a message exactly as a live send would, including the live hand-off.
// A message acknowledged live is reported as delivered.
func (g *Gateway) Post(ctx context.Context, env models.Envelope) (*models.Message, error) {
	msg, delivered, err := g.relay.Send(ctx, env.Sender, env.Recipient, env.Body)
	if err != nil {
		return nil, err
	}
	if delivered {
		return g.reloadDelivered(ctx, msg), nil
	}
	return msg, nil
}

// reloadDelivered returns the stored row of a live-acknowledged message so the
// response carries the recorded delivered_at. When the row cannot be read the
// delivery is reported with the local time instead.
func (g *Gateway) reloadDelivered(ctx context.Context, msg *models.Message) *models.Message {
	stored, err := g.store.GetMessage(ctx, msg.ID)
	if err == nil && stored != nil && stored.DeliveredAt != nil {
		return stored
	}
	if err != nil {
		g.logger.WithField(LogFieldMessageID, msg.ID).WithError(err).Debug("Could not reload delivered message")
	}

	via := models.DeliveryPathLive
	now := time.Now().UTC()
	msg.Status = models.MessageStatusDelivered
	msg.DeliveredVia = &via
	msg.DeliveredAt = &now
	return msg
}

// Poll returns and marks delivered every pending message for recipient.
// An empty mailbox yields an empty slice.
func (g *Gateway) Poll(ctx context.Context, recipient string) ([]*models.Message, error) {
	messages, err := g.store.FetchAndMark(ctx, recipient)
	if err != nil {
		return nil, err
	}

	if len(messages) > 0 {
		g.logger.WithFields(logrus.Fields{
			LogFieldRecipient: LogIdentity(ctx, recipient),
			LogFieldCount:     len(messages),
		}).Debug("Mailbox polled")
	}
	return messages, nil
}

// PendingCount reports how many messages wait for recipient without marking them
func (g *Gateway) PendingCount(ctx context.Context, recipient string) (int, error) {
	if err := validation.ValidateIdentity("recipient", recipient); err != nil {
		return 0, err
	}
	return g.store.CountPending(ctx, recipient)
}
