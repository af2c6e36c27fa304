package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel string
	}{
		{name: "debug passes everything", level: "debug", wantLevel: "DEBUG"},
		{name: "info drops debug", level: "info", wantLevel: "INFO"},
		{name: "warn drops info", level: "warn", wantLevel: "WARN"},
		{name: "error drops warn", level: "error", wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			l, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			switch tt.wantLevel {
			case "DEBUG":
				l.Debug("message", slog.String("job_id", "abc"))
			case "INFO":
				l.Debug("dropped")
				l.Info("message", slog.String("job_id", "abc"))
			case "WARN":
				l.Info("dropped")
				l.Warn("message", slog.String("job_id", "abc"))
			case "ERROR":
				l.Warn("dropped")
				l.Error("message", slog.String("job_id", "abc"))
			}

			entries := decodeLines(t, output)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantLevel, entries[0]["level"])
			assert.Equal(t, "message", entries[0]["msg"])
			assert.Equal(t, "abc", entries[0]["job_id"])
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "console", writer: output})
	require.NoError(t, err)

	l.Info("console test")

	// tint abbreviates levels
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "console test")
}

func TestNew_ServiceAttribute(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Format: "json", Service: "worker-service", writer: output})
	require.NoError(t, err)

	l.Component("jobstore").Info("Job created")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "worker-service", entries[0]["service"])
	assert.Equal(t, "jobstore", entries[0]["component"])
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "api.log")

	l, err := New(&Config{Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("written to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNew_FileOutputError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	l, err := New(&Config{Output: filepath.Join(blocker, "nested", "api.log")})
	require.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Format: "json", writer: output})
	require.NoError(t, err)

	l.WithGroup("job").Info("test message", slog.String("status", "queued"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	group, ok := entries[0]["job"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "queued", group["status"])
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	require.NotNil(t, l)
	l.Info("discarded")
	assert.NoError(t, l.Close())
}
