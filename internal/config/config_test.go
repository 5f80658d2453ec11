package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/spend.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, "WAL", cfg.Database.JournalMode)
	assert.Equal(t, LockBackendMemory, cfg.Lock.Backend)
	assert.Equal(t, 10*time.Second, cfg.Lock.WaitTimeout)
	assert.True(t, cfg.Budget.ControlEnabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
lock:
  backend: redis
  redis:
    addr: redis:6379
    expiry: 3s
budget:
  control_enabled: false
routing:
  seed_file: configs/seed.yaml
`)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SPEND_DB_PATH", "/tmp/other.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, LockBackendRedis, cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Lock.Redis.Expiry)
	assert.False(t, cfg.Budget.ControlEnabled)
	assert.Equal(t, "configs/seed.yaml", cfg.Routing.SeedFile)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown lock backend", "lock:\n  backend: etcd\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad log format", "logger:\n  format: xml\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SPEND_TEST_A=from-file\nSPEND_TEST_B=from-file\n"), 0o644))
	t.Setenv("SPEND_TEST_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("SPEND_TEST_A") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("SPEND_TEST_A"))
	assert.Equal(t, "from-env", os.Getenv("SPEND_TEST_B"), "existing variables win")

	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
