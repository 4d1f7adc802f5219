package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
)

var (
	// MigrationsDir can be overridden in tests or by the application
	MigrationsDir = "scripts/migrations"
)

// InitialSchemaFile is the first migration; its presence identifies the migrations directory
const InitialSchemaFile = "001_initial_schema.sql"

var migrationFilePattern = regexp.MustCompile(`^(\d{3,})_[a-z0-9_]+\.sql$`)

// Migration is one numbered schema file
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// FindDir returns the first candidate directory holding the initial schema.
// Binaries run from the repo root; tests run two levels down.
func FindDir() (string, error) {
	candidates := []string{
		MigrationsDir,
		filepath.Join("..", "..", MigrationsDir),
		filepath.Join("..", MigrationsDir),
	}

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, InitialSchemaFile)); err == nil {
			return dir, nil
		}
	}

	return "", fmt.Errorf("could not find %s in any of %v", InitialSchemaFile, candidates)
}

// Load returns every migration in the migrations directory ordered by version
func Load() ([]Migration, error) {
	dir, err := FindDir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		version, _ := strconv.Atoi(match[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: entry.Name(), SQL: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if len(out) == 0 || out[0].Version != 1 {
		return nil, fmt.Errorf("migrations in %s must start at version 1", dir)
	}
	return out, nil
}

// Apply runs every migration newer than the recorded schema version.
// Each migration commits together with its schema_migrations row.
func Apply(ctx context.Context, db *sql.DB, logger *logrus.Logger) (int, error) {
	all, err := Load()
	if err != nil {
		return 0, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range all {
		if m.Version <= current {
			continue
		}

		if err := applyOne(ctx, db, m); err != nil {
			return applied, err
		}
		applied++

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"version": m.Version,
				"name":    m.Name,
			}).Info("Applied schema migration")
		}
	}

	return applied, nil
}

// CurrentVersion returns the highest applied migration version, 0 when none
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", m.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.Name, err)
	}
	return nil
}
