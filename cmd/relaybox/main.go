package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaybox/internal/config"
	"relaybox/internal/constants"
	"relaybox/internal/database"
	"relaybox/internal/models"
	"relaybox/internal/presence"
	"relaybox/internal/retry"
	"relaybox/internal/service"
	"relaybox/internal/tracing"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.BoolP("verbose", "v", false, "Enable verbose logging (includes identities and message bodies)")
	configPath = flag.StringP("config", "c", "", "Path to configuration file (JSON or YAML)")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	listenAddr = flag.String("addr", "", "Listen address, overrides the configuration")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("relaybox %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting relaybox")

	if err := config.LoadEnvFile(*envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	configureLogLevel(logger, cfg, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store := service.NewGuardedStore(db,
		constants.DefaultStoreBreakerMaxFailures,
		time.Duration(constants.DefaultStoreBreakerOpenTimeoutSec)*time.Second,
		logger)

	registry := presence.NewRegistry()
	rel := service.NewRelay(store, registry, time.Duration(cfg.Relay.AckTimeoutSec)*time.Second, logger)
	gateway := service.NewGateway(rel, store, logger)
	authorizer := service.NewAuthorizer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if _, ok := authorizer.(service.AllowAll); ok {
		logger.Warn("No JWT secret configured, every caller may act as any identity")
	}

	scheduler := service.NewScheduler(store, cfg.RetentionDays, cfg.CleanupIntervalHours, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	monitor := service.NewDeliveryMonitor(store,
		time.Duration(cfg.Monitor.CheckIntervalSec)*time.Second,
		time.Duration(cfg.Monitor.StaleThresholdSec)*time.Second,
		logger)
	go monitor.Start(ctx)
	defer monitor.Stop()

	if *configPath != "" && !*verbose {
		watcher := config.NewConfigWatcher(*configPath, logger)
		watcher.OnConfigChange(config.ApplyLogLevel(logger))
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	server := NewServer(cfg, gateway, rel, authorizer, store, logger, *verbose)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownSec := cfg.Server.ShutdownTimeoutSec
	if shutdownSec <= 0 {
		shutdownSec = constants.DefaultGracefulShutdownSec
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// configureLogLevel applies the configured level. Verbose forces debug.
func configureLogLevel(logger *logrus.Logger, cfg *models.Config, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - identities and message bodies will be logged")
		return
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// openDatabase opens the mailbox store, retrying with exponential backoff while
// the file is locked or the volume is not yet mounted.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.ConfigFromRetry(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path, database.Options{
			BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
			MaxBodyBytes:  cfg.Relay.MaxBodyBytes,
		})
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}
