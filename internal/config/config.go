package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"relaybox/internal/constants"
	"relaybox/internal/models"
	"relaybox/internal/security"
	"relaybox/internal/validation"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingListenAddr = models.ConfigError{Message: "missing server listen address"}
)

// Environment variables that override file settings
const (
	EnvDBPath      = "RELAYBOX_DB_PATH"
	EnvListenAddr  = "RELAYBOX_LISTEN_ADDR"
	EnvJWTSecret   = "RELAYBOX_JWT_SECRET"
	EnvLogLevel    = "RELAYBOX_LOG_LEVEL"
	EnvMaxBody     = "RELAYBOX_MAX_BODY_BYTES"
	EnvEnvironment = "RELAYBOX_ENV"
)

const minProductionSecretLength = 32

// DefaultConfig returns a configuration that runs a local relay with no config file
func DefaultConfig() *models.Config {
	c := &models.Config{
		Database: models.DatabaseConfig{Path: "relaybox.db"},
	}
	applyDefaults(c)
	return c
}

// LoadConfig reads a JSON or YAML (.yaml/.yml) configuration file. An empty
// path yields DefaultConfig. Environment overrides are applied before validation.
func LoadConfig(path string) (*models.Config, error) {
	config := DefaultConfig()

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
		if err != nil {
			return nil, err
		}

		config = &models.Config{}
		if err := decode(path, file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		applyDefaults(config)
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	if err := validateSecurity(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadEnvFile loads KEY=value pairs from a dotenv file without overriding
// variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func decode(path string, data []byte, c *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	default:
		return json.Unmarshal(data, c)
	}
}

func applyDefaults(c *models.Config) {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = constants.DefaultListenAddr
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		c.Server.ShutdownTimeoutSec = constants.DefaultGracefulShutdownSec
	}

	if c.Database.BusyTimeoutMs <= 0 {
		c.Database.BusyTimeoutMs = constants.DefaultBusyTimeoutMs
	}

	if c.Relay.MaxBodyBytes <= 0 {
		c.Relay.MaxBodyBytes = constants.DefaultMaxBodyBytes
	}
	if c.Relay.HandshakeTimeoutSec <= 0 {
		c.Relay.HandshakeTimeoutSec = constants.DefaultHandshakeTimeoutSec
	}
	if c.Relay.AckTimeoutSec <= 0 {
		c.Relay.AckTimeoutSec = constants.DefaultAckTimeoutSec
	}
	if c.Relay.IdleTimeoutSec <= 0 {
		c.Relay.IdleTimeoutSec = constants.DefaultLiveIdleTimeoutSec
	}
	if c.Relay.WriteTimeoutSec <= 0 {
		c.Relay.WriteTimeoutSec = constants.DefaultLiveWriteTimeoutSec
	}
	if c.Relay.SendQueueSize <= 0 {
		c.Relay.SendQueueSize = constants.DefaultSendQueueSize
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Monitor.CheckIntervalSec <= 0 {
		c.Monitor.CheckIntervalSec = constants.DefaultMonitorCheckIntervalSec
	}
	if c.Monitor.StaleThresholdSec <= 0 {
		c.Monitor.StaleThresholdSec = constants.DefaultMonitorStaleThresholdSec
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.CleanupIntervalHours <= 0 {
		c.CleanupIntervalHours = constants.CleanupSchedulerIntervalHours
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) error {
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		c.Server.ListenAddr = addr
	}
	// SECURITY: token secrets should be set via environment variables
	if secret := os.Getenv(EnvJWTSecret); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
	if raw := os.Getenv(EnvMaxBody); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return models.ConfigError{Message: fmt.Sprintf("%s must be a positive integer, got %q", EnvMaxBody, raw)}
		}
		c.Relay.MaxBodyBytes = n
	}
	return nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if c.Server.ListenAddr == "" {
		return ErrMissingListenAddr
	}

	timeouts := map[string]int{
		"relay.handshake_timeout_sec": c.Relay.HandshakeTimeoutSec,
		"relay.ack_timeout_sec":       c.Relay.AckTimeoutSec,
		"relay.idle_timeout_sec":      c.Relay.IdleTimeoutSec,
		"server.read_timeout_sec":     c.Server.ReadTimeoutSec,
		"server.write_timeout_sec":    c.Server.WriteTimeoutSec,
	}
	for field, value := range timeouts {
		if err := validation.ValidateTimeout(value, field); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if c.Relay.AckTimeoutSec >= c.Relay.IdleTimeoutSec {
		return models.ConfigError{Message: "relay.ack_timeout_sec must be shorter than relay.idle_timeout_sec"}
	}

	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown log level %q", c.LogLevel)}
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if os.Getenv(EnvEnvironment) != "production" {
		if c.Auth.JWTSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: no token secret set, every caller may act as any identity. Set %s to require bearer tokens.\n", EnvJWTSecret)
		}
		return nil
	}

	if c.Auth.JWTSecret == "" {
		return models.ConfigError{Message: fmt.Sprintf("token secret is required in production (set %s environment variable)", EnvJWTSecret)}
	}
	if len(c.Auth.JWTSecret) < minProductionSecretLength {
		return models.ConfigError{Message: fmt.Sprintf("token secret must be at least %d characters long", minProductionSecretLength)}
	}
	if strings.EqualFold(c.LogLevel, "debug") || strings.EqualFold(c.LogLevel, "trace") {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}
	return nil
}
