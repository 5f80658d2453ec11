package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, err := NewLogger(LoggerConfig{Level: "info", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	logger.Info("hello", zap.String("request_id", "7"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"7"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestKVLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewKVLogger(zap.New(core)).Named("engine")

	l.Info("Request submitted", "request_id", int64(3), "amount", "100")
	l.Error("Transition failed", "error", errors.New("boom"), "dangling")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "engine", entries[0].LoggerName)
	assert.Equal(t, int64(3), entries[0].ContextMap()["request_id"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Len(t, entries[1].Context, 1)
}
