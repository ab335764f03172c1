package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level, format string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Format: format, Output: &buf, ServiceName: "lipsync-test"}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	return entry
}

func TestJSONEntry(t *testing.T) {
	log, buf := newBufferLogger("info", "json")

	log.Info("run finished", "status", "SUCCEEDED")

	entry := decodeLine(t, buf)
	assert.Equal(t, "run finished", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "lipsync-test", entry["service"])
	assert.Equal(t, "SUCCEEDED", entry["status"])
	assert.True(t, strings.HasSuffix(entry["time"].(string), "Z"), "time should be UTC: %v", entry["time"])
}

func TestTextFormat(t *testing.T) {
	log, buf := newBufferLogger("info", "text")

	log.Info("tool started", "pid", 42)

	out := buf.String()
	assert.Contains(t, out, `msg="tool started"`)
	assert.Contains(t, out, "pid=42")
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger("warn", "json")

	log.Debug("stdout line")
	log.Info("progress")
	assert.Empty(t, buf.String())

	log.Warn("stderr shown")
	assert.Contains(t, buf.String(), "stderr shown")
}

func TestScopedLoggers(t *testing.T) {
	log, buf := newBufferLogger("debug", "json")

	log.WithComponent("worker").
		WithRunID("run_0123").
		WithFields(map[string]any{"slot": 2}).
		Info("popped run")

	entry := decodeLine(t, buf)
	assert.Equal(t, "worker", entry["component"])
	assert.Equal(t, "run_0123", entry["run_id"])
	assert.EqualValues(t, 2, entry["slot"])
}

func TestFromContext(t *testing.T) {
	log, buf := newBufferLogger("info", "json")

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithRunID(ctx, "run_abc")
	log.FromContext(ctx).Info("accepted")

	entry := decodeLine(t, buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "run_abc", entry["run_id"])

	buf.Reset()
	log.FromContext(context.Background()).Info("bare")
	entry = decodeLine(t, buf)
	assert.NotContains(t, entry, "request_id")
	assert.NotContains(t, entry, "run_id")
}

func TestLogError(t *testing.T) {
	log, buf := newBufferLogger("info", "json")

	log.LogError(context.Background(), "cleanup failed", nil)
	assert.Empty(t, buf.String())

	log.LogError(ContextWithRunID(context.Background(), "run_x"), "cleanup failed", errors.New("permission denied"), "path", "/tmp/x")
	entry := decodeLine(t, buf)
	assert.Equal(t, "permission denied", entry["error"])
	assert.Equal(t, "run_x", entry["run_id"])
	assert.Equal(t, "/tmp/x", entry["path"])
	assert.Contains(t, entry, "source")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		" DEBUG ": "DEBUG",
		"info":    "INFO",
		"warning": "WARN",
		"warn":    "WARN",
		"ERROR":   "ERROR",
		"verbose": "INFO",
		"":        "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in).String(), "parseLevel(%q)", in)
	}
}

func TestRotatingFileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "lipsync.log")

	log := New(Config{Level: "info", Format: "json", Output: &buf, FilePath: path})
	log.Info("written twice", "run_id", "run-file")

	assert.Contains(t, buf.String(), "written twice")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run-file")
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SERVICE_NAME", "")

	cfg := DefaultConfig()
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "lipsync", cfg.ServiceName)
}

func TestDiscard(t *testing.T) {
	log := Discard()
	require.NotNil(t, log)
	log.Error("dropped")
}
