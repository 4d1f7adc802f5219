package models

// Config holds the application configuration
type Config struct {
	Server               ServerConfig   `json:"server" yaml:"server"`
	Database             DatabaseConfig `json:"database" yaml:"database"`
	Relay                RelayConfig    `json:"relay" yaml:"relay"`
	Retry                RetryConfig    `json:"retry" yaml:"retry"`
	Monitor              MonitorConfig  `json:"monitor" yaml:"monitor"`
	Auth                 AuthConfig     `json:"auth" yaml:"auth"`
	Tracing              TracingConfig  `json:"tracing" yaml:"tracing"`
	LogLevel             string         `json:"log_level" yaml:"log_level"`
	RetentionDays        int            `json:"retentionDays" yaml:"retentionDays"`
	CleanupIntervalHours int            `json:"cleanup_interval_hours" yaml:"cleanup_interval_hours"`
}

// ServerConfig holds HTTP listener settings shared by the gateway and the live endpoint
type ServerConfig struct {
	ListenAddr         string   `json:"listen_addr" yaml:"listen_addr"`
	ReadTimeoutSec     int      `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec    int      `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	IdleTimeoutSec     int      `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	ShutdownTimeoutSec int      `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	MaxRequestBytes    int64    `json:"max_request_bytes" yaml:"max_request_bytes"`
	AllowedOrigins     []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// DatabaseConfig holds mailbox store settings
type DatabaseConfig struct {
	Path          string `json:"path" yaml:"path"`
	BusyTimeoutMs int    `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// RelayConfig holds live session limits
type RelayConfig struct {
	MaxBodyBytes        int `json:"max_body_bytes" yaml:"max_body_bytes"`
	HandshakeTimeoutSec int `json:"handshake_timeout_sec" yaml:"handshake_timeout_sec"`
	AckTimeoutSec       int `json:"ack_timeout_sec" yaml:"ack_timeout_sec"`
	IdleTimeoutSec      int `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	WriteTimeoutSec     int `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	SendQueueSize       int `json:"send_queue_size" yaml:"send_queue_size"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" yaml:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs" yaml:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts" yaml:"maxAttempts"`
}

// MonitorConfig controls the stale pending message monitor
type MonitorConfig struct {
	CheckIntervalSec  int `json:"check_interval_sec" yaml:"check_interval_sec"`
	StaleThresholdSec int `json:"stale_threshold_sec" yaml:"stale_threshold_sec"`
}

// AuthConfig configures the bearer token check in front of post, poll and live registration.
// An empty secret disables the check.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `json:"issuer" yaml:"issuer"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
