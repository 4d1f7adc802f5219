package models

import "time"

// FrameType identifies a live-path frame.
type FrameType string

const (
	// client -> relay
	FrameHello FrameType = "hello"
	FrameSend  FrameType = "send"
	FrameAck   FrameType = "ack"
	FrameExit  FrameType = "exit"

	// relay -> client
	FrameWelcome FrameType = "welcome"
	FrameMessage FrameType = "message"
	FrameStored  FrameType = "stored"
	FrameError   FrameType = "error"
	FrameBye     FrameType = "bye"
)

// Frame is the single JSON envelope exchanged on a live connection. Only the
// fields relevant to Type are populated.
type Frame struct {
	Type      FrameType  `json:"type"`
	Identity  string     `json:"identity,omitempty"`
	Token     string     `json:"token,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	ID        int64      `json:"id,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
	Body      string     `json:"body,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Delivered *bool      `json:"delivered,omitempty"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// MessageFrame builds the frame used to hand a stored message to its recipient.
func MessageFrame(msg *Message) *Frame {
	createdAt := msg.CreatedAt
	return &Frame{
		Type:      FrameMessage,
		ID:        msg.ID,
		Sender:    msg.Sender,
		Body:      msg.Body,
		CreatedAt: &createdAt,
	}
}

// StoredFrame confirms a send. Delivered is always present on the wire, false included.
func StoredFrame(id int64, delivered bool) *Frame {
	return &Frame{Type: FrameStored, ID: id, Delivered: &delivered}
}
