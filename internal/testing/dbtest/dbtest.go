// Package dbtest opens migrated throwaway databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketforge/internal/database"
)

// Open returns a migrated SQLite database in t's temp dir.
// The driver selection is reset when the test ends.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	t.Cleanup(func() { database.SetDriver("") })
	ctx := context.Background()
	pool, err := database.Open(ctx, &database.PoolConfig{
		Driver:   database.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "ticketforge.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	_, err = database.Migrate(ctx, pool.DB)
	require.NoError(t, err)
	return pool.DB
}
