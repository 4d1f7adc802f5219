package constants

// Default timeout values used by client packages
const (
	DefaultHTTPTimeoutSec     = 30
	DefaultLiveDialTimeoutSec = 10
	DefaultByeWaitMs          = 2000
)

// Retry settings for gateway calls that fail with 503
const (
	DefaultClientRetryCount = 3
	DefaultBackoffInitialMs = 500
	DefaultBackoffMaxSec    = 5
)

// Endpoints
const (
	DefaultServerURL = "http://localhost:8082"
	MessagesPath     = "/v1/messages"
	MailboxPath      = "/v1/mailbox/"
	LivePath         = "/v1/live"
	HealthPath       = "/health"
)

// Frame read limit for the live client
const DefaultLiveReadLimitBytes = 128 * 1024
