package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"critical": LevelCritical,
		"":         slog.LevelInfo,
		"verbose":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestCriticalRenderedByName(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Level: "info"}))
	logger.Log(t.Context(), LevelCritical, "terminal outage")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "CRITICAL", rec["level"])
	assert.Equal(t, "terminal outage", rec["msg"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Level: "warn", Format: "text"}))
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "level=WARN msg=shown")
}

func TestRotatingFileSwitchesDayAndPrunes(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "alertbridge-20240101.log")
	recent := filepath.Join(dir, "alertbridge-20240610.log")
	unrelated := filepath.Join(dir, "alertbridge-notes.log")
	for _, p := range []string{old, recent, unrelated} {
		require.NoError(t, os.WriteFile(p, []byte("x\n"), 0o644))
	}

	day := time.Date(2024, 6, 14, 23, 59, 0, 0, time.Local)
	rf, err := openRotatingFile(filepath.Join(dir, "alertbridge.log"), 30, func() time.Time { return day })
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alertbridge-20240614.log"), rf.Path())

	day = day.Add(2 * time.Minute)
	_, err = rf.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alertbridge-20240615.log"), rf.Path())

	body, err := os.ReadFile(filepath.Join(dir, "alertbridge-20240614.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(body))

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, unrelated)
}
