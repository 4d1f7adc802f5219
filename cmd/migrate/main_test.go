package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"relaybox/internal/migrations"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AppliesAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaybox.db")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	require.NoError(t, run(context.Background(), path, false, logger))
	require.NoError(t, run(context.Background(), path, false, logger))
	require.NoError(t, run(context.Background(), path, true, logger))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	all, err := migrations.Load()
	require.NoError(t, err)
	version, err := migrations.CurrentVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-1].Version, version)
}

func TestRun_MissingFile(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "absent.db"), false, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database file not found")
}

func TestRun_TraversalRejected(t *testing.T) {
	err := run(context.Background(), "../outside.db", false, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database path")
}
