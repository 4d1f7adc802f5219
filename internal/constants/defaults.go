package constants

// Default relay limits
const (
	DefaultMaxBodyBytes        = 64 * 1024
	DefaultHandshakeTimeoutSec = 30
	DefaultAckTimeoutSec       = 5
	DefaultLiveIdleTimeoutSec  = 300
	DefaultLiveWriteTimeoutSec = 10
	DefaultSendQueueSize       = 64
	DefaultLateAckWindowSec    = 300
	MaxIdentityLength          = 128
	// frame overhead on top of the body for the websocket read limit
	FrameOverheadBytes = 4 * 1024
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseRetryDelayMs  = 50
	DefaultDatabaseMaxDelayMs    = 500
	DefaultBusyTimeoutMs         = 5000
)

// Default server values
const (
	DefaultListenAddr            = ":8082"
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxRequestBytes       = DefaultMaxBodyBytes + FrameOverheadBytes
	ServerErrorChannelSize       = 1
	HealthCheckTimeoutSec        = 2
	HealthPath                   = "/health"
	MetricsPath                  = "/metrics"
)

// Background workers
const (
	DefaultRetentionDays              = 30
	CleanupSchedulerIntervalHours     = 24
	DefaultMonitorCheckIntervalSec    = 60
	DefaultMonitorStaleThresholdSec   = 3600
	DefaultStoreBreakerMaxFailures    = 5
	DefaultStoreBreakerOpenTimeoutSec = 10
)

// Privacy settings
const (
	DefaultIdentityMaskLength = 3
)
