// Package sqlitetest opens migrated throwaway SQLite databases for tests.
package sqlitetest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/repository"
)

// Open returns a migrated database in t.TempDir(), closed on cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := repository.NewDB(repository.DriverSQLite, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))
	return db
}
