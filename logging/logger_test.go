package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

func TestNewWithWriter_Formats(t *testing.T) {
	var textBuf, jsonBuf bytes.Buffer

	NewWithWriter(&textBuf, Config{Level: "debug", Format: "text"}).Debug("queued", "action_id", "a1")
	NewWithWriter(&jsonBuf, Config{Level: "info", Format: "json"}).Info("drained", "count", 2)

	assert.Contains(t, textBuf.String(), "action_id=a1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &rec))
	assert.Equal(t, "drained", rec["msg"])
	assert.EqualValues(t, 2, rec["count"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestDynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, levelVar := NewLoggerWithDynamicLevel(&buf, Config{Level: "info", Format: "text"})

	logger.Debug("before")
	assert.True(t, levelVar.SetFromString("debug"))
	logger.Debug("after")
	assert.False(t, levelVar.SetFromString("loud"))

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")

	levelVar.SetFromString("trace")
	logger.Trace(context.Background(), "per-record")
	assert.Contains(t, buf.String(), "per-record")
}

func TestLogError_SyncError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: "info", Format: "json"})

	err := syncErrors.NewServerRejectedError(syncErrors.OpExecute, 409, fmt.Errorf("version mismatch"))
	logger.WithComponent("queue").LogError(context.Background(), fmt.Errorf("drain: %w", err), "action rejected")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "queue", rec["component"])

	group, ok := rec["sync_error"].(map[string]any)
	require.True(t, ok, "sync_error group missing: %s", buf.String())
	assert.Equal(t, "SERVER_REJECTED", group["code"])
	assert.Equal(t, false, group["retryable"])
	assert.Contains(t, rec, "caller")
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: "debug", Format: "text"})

	require.NoError(t, logger.LogOperation(context.Background(), "refresh", "engine", func() error { return nil }))
	assert.Contains(t, buf.String(), "operation completed")

	boom := fmt.Errorf("boom")
	err := logger.LogOperation(context.Background(), "refresh", "engine", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "operation failed")
}

func TestSyncErrorValuer(t *testing.T) {
	syncErr := &syncErrors.SyncError{
		Op:        syncErrors.OpDrain,
		Component: "queue",
		Code:      syncErrors.ErrCodePersistence,
		Err:       fmt.Errorf("disk full"),
		Metadata:  map[string]interface{}{"key": "queue/actions"},
	}
	assert.Equal(t, slog.KindGroup, SyncErrorValuer{SyncError: syncErr}.LogValue().Kind())
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", EnvDevelopment)
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_ADD_SOURCE", "")

	cfg := GetConfigFromEnv()
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)

	t.Setenv("ENVIRONMENT", EnvProduction)
	t.Setenv("LOG_LEVEL", "WARN")
	cfg = GetConfigFromEnv()
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "warn", cfg.Level)
	assert.False(t, cfg.AddSource)
}
