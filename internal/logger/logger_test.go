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

	"github.com/GriffinCanCode/meeting-pilot/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelWarn, Output: &buf, JSONFormat: true})

	l.Info("hidden")
	l.Warn("shown", "chunk", "c1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "c1", rec["chunk"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: slog.LevelDebug, Output: &buf}).Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=1")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetupWritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	cfg := &config.Config{DataDir: dir, Log: config.LogConfig{
		Level: "info", Format: "json", File: "pilot.log", MaxSizeMB: 1,
	}}

	l, closer := Setup(cfg)
	l.Info("session started", "session", "s1")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "pilot.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session":"s1"`)
	assert.Same(t, l, slog.Default())
}

func TestSetupWithoutFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, closer := Setup(&config.Config{Log: config.LogConfig{Level: "debug"}})
	assert.NoError(t, closer.Close())
}
