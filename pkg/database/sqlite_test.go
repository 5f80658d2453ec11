package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigDSN(t *testing.T) {
	dsn := Config{Path: "data/spend.db"}.DSN()
	assert.Equal(t, "file:data/spend.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", dsn)

	dsn = Config{Path: "x.db", BusyTimeout: 250 * time.Millisecond, JournalMode: "DELETE"}.DSN()
	assert.Contains(t, dsn, "_busy_timeout=250")
	assert.Contains(t, dsn, "_journal_mode=DELETE")
}

func TestNew_AppliesPragmas(t *testing.T) {
	db, err := New(Config{
		Path:         filepath.Join(t.TempDir(), "spend.db"),
		MaxOpenConns: 1,
		BusyTimeout:  2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var busy int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 2000, busy)
}
