package logging

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (*ZapAdapter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf})
	require.NoError(t, err)
	return logger, &buf
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestZapAdapter_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
	assert.Contains(t, out, "boom")
}

func TestZapAdapter_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.WithFields(String("registration_id", "spotify-app")).Info("token cached",
		Duration("ttl", time.Minute),
		Int("attempt", 2),
	)

	out := buf.String()
	assert.Contains(t, out, "token cached")
	assert.Contains(t, out, `"registration_id": "spotify-app"`)
	assert.Contains(t, out, `"attempt": 2`)
}

func TestZapAdapter_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	ctx := ContextWithFields(context.Background(), String("request_id", "req-1"))
	ctx = ContextWithFields(ctx, String("execution_mode", "scheduled_job"))

	logger.WithContext(ctx).Info("handled")

	out := buf.String()
	assert.Contains(t, out, `"request_id": "req-1"`)
	assert.Contains(t, out, `"execution_mode": "scheduled_job"`)
}

func TestFieldsFromContext_Empty(t *testing.T) {
	assert.Empty(t, FieldsFromContext(context.Background()))
}

func TestInitGlobalLogger_File(t *testing.T) {
	previous := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, InitGlobalLogger("debug", path))

	Debug("written to file")
	MustSync()

	assert.FileExists(t, path)
}

func TestInitGlobalLogger_BadPath(t *testing.T) {
	err := InitGlobalLogger("info", filepath.Join(t.TempDir(), "missing", "dir", "app.log"))
	assert.Error(t, err)
}
