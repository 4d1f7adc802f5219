package models

import (
	"time"
)

// MessageStatus is the delivery state of a stored message. It only moves forward.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusDelivered MessageStatus = "delivered"
)

// DeliveryPath records which side observed a delivery.
type DeliveryPath string

const (
	DeliveryPathLive DeliveryPath = "live"
	DeliveryPathPoll DeliveryPath = "poll"
)

// Message is the unit of transfer between two identities.
type Message struct {
	ID           int64         `json:"id"`
	Sender       string        `json:"sender"`
	Recipient    string        `json:"recipient"`
	Body         string        `json:"body"`
	Status       MessageStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	DeliveredAt  *time.Time    `json:"delivered_at,omitempty"`
	DeliveredVia *DeliveryPath `json:"delivered_via,omitempty"`
}

// IsPending reports whether the message still waits in its recipient's mailbox.
func (m *Message) IsPending() bool {
	return m.Status == MessageStatusPending
}

// Envelope is the transport-agnostic send request shared by both delivery paths.
type Envelope struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// MailboxItem is one entry of a gateway poll response.
type MailboxItem struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ToMailboxItems projects messages into the gateway poll response shape.
// The result is never nil so it encodes as [] rather than null.
func ToMailboxItems(messages []*Message) []MailboxItem {
	items := make([]MailboxItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, MailboxItem{
			ID:        m.ID,
			Sender:    m.Sender,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		})
	}
	return items
}
