package config

import (
	"context"
	"os"
	"reflect"
	"sync"
	"time"

	"relaybox/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultWatchInterval = 5 * time.Second

// ConfigWatcher polls the config file and reloads it after it changes on disk.
// Only the log level is applied live; other sections take effect on restart.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   defaultWatchInterval,
		logger:     logger,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// SetInterval changes the polling interval. Call before Start.
func (cw *ConfigWatcher) SetInterval(d time.Duration) {
	if d > 0 {
		cw.interval = d
	}
}

// fileVersion identifies one revision of the config file on disk
type fileVersion struct {
	modTime time.Time
	size    int64
}

func (cw *ConfigWatcher) stat() (fileVersion, error) {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		return fileVersion{}, err
	}
	return fileVersion{modTime: info.ModTime(), size: info.Size()}, nil
}

// Start loads the config once and then polls until ctx is done.
// A missing or invalid file at start is an error; later failures only log.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	current, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}
	seen, err := cw.stat()
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = current
	cw.mu.Unlock()

	cw.logger.WithFields(logrus.Fields{
		"path":     cw.configPath,
		"interval": cw.interval,
	}).Info("Watching configuration file")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			version, err := cw.stat()
			if err != nil {
				cw.logger.WithError(err).Warn("Configuration file not readable, keeping current settings")
				continue
			}
			if version == seen {
				continue
			}
			seen = version
			cw.reloadConfig()
		}
	}
}

// GetConfig returns the most recently loaded config
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers fn to run after every successful reload.
// Callbacks run in registration order on the watcher goroutine.
func (cw *ConfigWatcher) OnConfigChange(fn func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, fn)
}

// reloadConfig keeps the previous config when the file does not load
func (cw *ConfigWatcher) reloadConfig() {
	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Ignoring invalid configuration file")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	callbacks := append([]func(*models.Config){}, cw.callbacks...)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded")
	cw.logRestartOnly(prev, next)

	for _, fn := range callbacks {
		cw.runCallback(fn, next)
	}
}

func (cw *ConfigWatcher) runCallback(fn func(*models.Config), c *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	fn(c)
}

// logRestartOnly warns about edited sections that the running server does not pick up
func (cw *ConfigWatcher) logRestartOnly(prev, next *models.Config) {
	if prev == nil {
		return
	}

	sections := []struct {
		name      string
		old, curr interface{}
	}{
		{"server", prev.Server, next.Server},
		{"database", prev.Database, next.Database},
		{"relay", prev.Relay, next.Relay},
		{"retry", prev.Retry, next.Retry},
		{"monitor", prev.Monitor, next.Monitor},
		{"auth", prev.Auth, next.Auth},
		{"tracing", prev.Tracing, next.Tracing},
		{"retentionDays", prev.RetentionDays, next.RetentionDays},
		{"cleanup_interval_hours", prev.CleanupIntervalHours, next.CleanupIntervalHours},
	}

	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.curr) {
			cw.logger.WithField("section", s.name).Warn("Configuration section changed, restart to apply")
		}
	}
}

// ApplyLogLevel returns a callback that hot-applies the configured log level to logger
func ApplyLogLevel(logger *logrus.Logger) func(*models.Config) {
	return func(c *models.Config) {
		level, err := logrus.ParseLevel(c.LogLevel)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid log level from reloaded configuration")
			return
		}
		if logger.GetLevel() != level {
			logger.WithFields(logrus.Fields{
				"old": logger.GetLevel().String(),
				"new": level.String(),
			}).Info("Log level changed")
			logger.SetLevel(level)
		}
	}
}
