// Command migrate applies pending schema migrations to a relaybox mailbox database
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"relaybox/internal/migrations"
	"relaybox/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	dbPath := flag.String("db", "./relaybox.db", "Path to the database file")
	dir := flag.String("migrations", migrations.MigrationsDir, "Directory holding the numbered migration files")
	status := flag.Bool("status", false, "Only print the current schema version")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	migrations.MigrationsDir = *dir
	if err := run(context.Background(), *dbPath, *status, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func run(ctx context.Context, dbPath string, statusOnly bool, logger *logrus.Logger) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database file not found: %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if statusOnly {
		version, err := migrations.CurrentVersion(ctx, db)
		if err != nil {
			return err
		}
		logger.WithField("version", version).Info("Current schema version")
		return nil
	}

	applied, err := migrations.Apply(ctx, db, logger)
	if err != nil {
		return err
	}

	version, err := migrations.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"applied": applied,
		"version": version,
	}).Info("Database schema is up to date")
	return nil
}
