package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	assert.Equal(t, "SELECT 1 WHERE a = ? AND b = ?", SQLite.Rebind("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", Postgres.Rebind("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT '?' WHERE a = $1", Postgres.Rebind("SELECT '?' WHERE a = ?"))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	d, err = ParseDialect("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", sqliteDSN(""))
	assert.Equal(t, "file:/tmp/x.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", sqliteDSN("/tmp/x.db"))
	assert.Equal(t, "file:x.db?_pragma=busy_timeout(1)&_txlock=immediate", sqliteDSN("file:x.db?_pragma=busy_timeout(1)"))
	assert.Equal(t, "file:x.db?_txlock=exclusive&_pragma=busy_timeout(1)", sqliteDSN("file:x.db?_txlock=exclusive&_pragma=busy_timeout(1)"))
}

func TestDB_InTx(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.Migrate(ctx, "CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v INTEGER)"))

	boom := errors.New("boom")
	err = db.InTx(ctx, func(ctx context.Context) error {
		_, err := db.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", 1)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM kv").Scan(&n))
	assert.Equal(t, 0, n, "rolled back insert must not be visible")

	err = db.InTx(ctx, func(ctx context.Context) error {
		if _, err := db.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", 1); err != nil {
			return err
		}
		// nested call joins the outer transaction
		return db.InTx(ctx, func(ctx context.Context) error {
			_, err := db.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "b", 2)
			return err
		})
	})
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM kv").Scan(&n))
	assert.Equal(t, 2, n)
}
