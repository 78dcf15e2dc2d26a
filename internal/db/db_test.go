package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDirAndAppliesSchemas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	db, err := Open(path,
		`CREATE TABLE IF NOT EXISTS one (x INTEGER)`,
		`CREATE TABLE IF NOT EXISTS two (y TEXT)`,
	)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('one', 'two')`).Scan(&n))
	assert.Equal(t, 2, n)

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenRejectsBadSchema(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "j.db"), `CREATE TABLE (`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrating journal")
}

func TestNewIDUnique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
	assert.Len(t, NewID(), 36)
}
