package client

import (
	"fmt"
	"time"
)

// Message is a stored message as returned by the gateway post endpoint
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// set once the recipient acknowledged the message live
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	DeliveredVia string     `json:"delivered_via,omitempty"`
}

// MailboxItem is one message returned by a poll
type MailboxItem struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Frame types on the live connection
const (
	FrameHello   = "hello"
	FrameSend    = "send"
	FrameAck     = "ack"
	FrameExit    = "exit"
	FrameWelcome = "welcome"
	FrameMessage = "message"
	FrameStored  = "stored"
	FrameError   = "error"
	FrameBye     = "bye"
)

// Frame is a live connection frame
type Frame struct {
	Type      string     `json:"type"`
	Identity  string     `json:"identity,omitempty"`
	Token     string     `json:"token,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	ID        int64      `json:"id,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
	Body      string     `json:"body,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Delivered bool       `json:"delivered,omitempty"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// APIError is an error response from the relay
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("relay error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("relay error: status %d, %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the call may succeed if repeated later
func (e *APIError) Retryable() bool {
	return e.StatusCode == 503 || e.Code == "STORE_UNAVAILABLE"
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type countBody struct {
	Pending int `json:"pending"`
}
