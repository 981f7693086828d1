package control

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, defaultEnabled bool) (*Gate, string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	path := filepath.Join(t.TempDir(), "trade_control.json")
	g := NewGate(Config{Path: path, Interval: 10 * time.Millisecond, DefaultEnabled: defaultEnabled}, logger)
	return g, path, &buf
}

func writeControl(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestGateDefaultBeforeFirstRead(t *testing.T) {
	g, _, _ := newTestGate(t, true)
	assert.True(t, g.IsEnabled())

	g2, _, _ := newTestGate(t, false)
	assert.False(t, g2.IsEnabled())
	_, ok := g2.Snapshot()
	assert.False(t, ok)
}

func TestGateReadsState(t *testing.T) {
	g, path, buf := newTestGate(t, true)

	writeControl(t, path, `{"enabled": false, "updated_at": "2024.06.12 09:30:00", "source": "MT4_EA"}`)
	require.NoError(t, g.Refresh())
	assert.False(t, g.IsEnabled())

	state, ok := g.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "MT4_EA", state.Source)
	assert.True(t, state.UpdatedAt.Equal(time.Date(2024, time.June, 12, 9, 30, 0, 0, time.UTC)))
	assert.Contains(t, buf.String(), "trade control state changed")

	writeControl(t, path, `{"enabled": true, "updated_at": "2024-06-12T09:31:00Z", "source": "MT4_EA"}`)
	require.NoError(t, g.Refresh())
	assert.True(t, g.IsEnabled())
	assert.True(t, g.Healthy())
}

func TestGateFailOpenKeepsLastKnownValue(t *testing.T) {
	g, path, buf := newTestGate(t, false)

	writeControl(t, path, `{"enabled": true, "updated_at": "2024.06.12 09:30:00", "source": "MT4_EA"}`)
	require.NoError(t, g.Refresh())
	require.True(t, g.IsEnabled())
	buf.Reset()

	// Unreadable: removed file.
	require.NoError(t, os.Remove(path))
	require.Error(t, g.Refresh())
	assert.True(t, g.IsEnabled(), "gate must keep the last known value")
	assert.False(t, g.Healthy())
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "keeping last known state")

	// Malformed content behaves the same way.
	writeControl(t, path, `{"enabled": tr`)
	require.Error(t, g.Refresh())
	assert.True(t, g.IsEnabled())
}

func TestGateFailOpenKeepsDisabled(t *testing.T) {
	g, path, _ := newTestGate(t, true)

	writeControl(t, path, `{"enabled": false}`)
	require.NoError(t, g.Refresh())
	require.NoError(t, os.Remove(path))
	require.Error(t, g.Refresh())
	assert.False(t, g.IsEnabled())
}

func TestGateWarningsAreThrottled(t *testing.T) {
	g, _, buf := newTestGate(t, true)

	for i := 0; i < 5; i++ {
		require.Error(t, g.Refresh())
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "keeping last known state"))
}

func TestGateRun(t *testing.T) {
	g, path, _ := newTestGate(t, true)
	writeControl(t, path, `{"enabled": false}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool { return !g.IsEnabled() }, time.Second, 5*time.Millisecond)

	writeControl(t, path, `{"enabled": true}`)
	require.Eventually(t, g.IsEnabled, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDecode(t *testing.T) {
	readAt := time.Date(2024, time.June, 12, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		enabled bool
		updated time.Time
		wantErr bool
	}{
		{name: "mt4 timestamp", body: `{"enabled":false,"updated_at":"2024.06.12 09:30:00"}`, updated: time.Date(2024, 6, 12, 9, 30, 0, 0, time.UTC)},
		{name: "camel case field", body: `{"enabled":true,"updatedAt":"2024-06-12T09:30:00"}`, enabled: true, updated: time.Date(2024, 6, 12, 9, 30, 0, 0, time.UTC)},
		{name: "missing enabled uses default", body: `{"source":"x"}`, enabled: true},
		{name: "garbage timestamp", body: `{"enabled":true,"updated_at":"yesterday"}`, enabled: true},
		{name: "bom", body: "\xEF\xBB\xBF{\"enabled\":false}"},
		{name: "empty", body: "  ", wantErr: true},
		{name: "not json", body: "enabled=true", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decode([]byte(tt.body), true, time.UTC, readAt)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, got.Enabled)
			assert.True(t, tt.updated.Equal(got.UpdatedAt), "updated_at %v", got.UpdatedAt)
			assert.Equal(t, readAt, got.ReadAt)
		})
	}
}

func TestAlwaysEnabled(t *testing.T) {
	assert.True(t, AlwaysEnabled{}.IsEnabled())
}
