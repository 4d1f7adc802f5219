package service

// Standard field names for logrus entries. Use these exact names so log
// queries work across the relay, gateway and background workers.
const (
	// Core identifiers
	LogFieldIdentity  = "identity"
	LogFieldSender    = "sender"
	LogFieldRecipient = "recipient"
	LogFieldMessageID = "message_id"
	LogFieldSessionID = "session_id"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"
	LogFieldSpanID    = "span_id"

	// Service and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldMethod    = "method"
	LogFieldPath      = "path"
	LogFieldVia       = "via"
	LogFieldState     = "state"
	LogFieldReason    = "reason"
	LogFieldFrameType = "frame_type"
	LogFieldBody      = "body"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Errors
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log levels:
//
// DEBUG: per-frame and per-message detail. Identities are masked unless verbose.
// INFO: startup/shutdown, session open/close, background job results.
// WARN: retryable store failures, forward timeouts, rejected registrations.
// ERROR: failed operations that surface to a caller as 5xx.
//
// Message patterns: "Starting [operation]", "Failed to [operation]", "[Operation] completed".
