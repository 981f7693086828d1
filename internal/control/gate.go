// Package control reads the externally written trade control file and
// exposes the latest successfully read state to the pipeline.
//
// Read failures keep the last known good state (fail open to the last value)
// and log a throttled warning. Before the first successful read the gate
// reports the configured default.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// warnInterval bounds how often repeated read failures are logged.
const warnInterval = 30 * time.Second

// timestampLayouts are the updated_at formats accepted from the file. The
// first one is what MQL4 TimeToString produces.
var timestampLayouts = []string{
	"2006.01.02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Config holds the gate parameters.
type Config struct {
	Path           string
	Interval       time.Duration
	DefaultEnabled bool
	// Location is used for timestamps without a zone. Defaults to UTC.
	Location *time.Location
}

// fileState mirrors the JSON document written by the control producer.
type fileState struct {
	Enabled        *bool  `json:"enabled"`
	UpdatedAt      string `json:"updated_at"`
	UpdatedAtCamel string `json:"updatedAt"`
	Source         string `json:"source"`
}

// Gate is the trade control gate. IsEnabled is safe to call from any
// goroutine; Refresh and Run must be driven by a single goroutine.
type Gate struct {
	cfg    Config
	state  atomic.Pointer[domain.TradeControlState]
	failed atomic.Bool
	warn   *rate.Sometimes
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a Gate. No file is read until Refresh or Run is called.
func NewGate(cfg Config, logger *slog.Logger) *Gate {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Gate{
		cfg:    cfg,
		warn:   newWarnLimiter(),
		logger: logger.With(slog.String("component", "trade_control")),
		now:    time.Now,
	}
}

func newWarnLimiter() *rate.Sometimes {
	return &rate.Sometimes{First: 1, Interval: warnInterval}
}

// IsEnabled reports whether trading is currently allowed.
func (g *Gate) IsEnabled() bool {
	if s := g.state.Load(); s != nil {
		return s.Enabled
	}
	return g.cfg.DefaultEnabled
}

// Snapshot returns the latest successfully read state. ok is false when no
// read has succeeded yet.
func (g *Gate) Snapshot() (state domain.TradeControlState, ok bool) {
	if s := g.state.Load(); s != nil {
		return *s, true
	}
	return domain.TradeControlState{Enabled: g.cfg.DefaultEnabled}, false
}

// Healthy reports whether the most recent read succeeded.
func (g *Gate) Healthy() bool {
	return !g.failed.Load()
}

// Run refreshes the state immediately and then every interval until ctx is
// cancelled. Read errors never stop the loop.
func (g *Gate) Run(ctx context.Context) error {
	_ = g.Refresh()

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = g.Refresh()
		}
	}
}

// Refresh reads the control file once. On success the new snapshot replaces
// the old one atomically. On failure the previous snapshot is kept, a
// warning is logged (throttled), and the read error is returned.
func (g *Gate) Refresh() error {
	next, err := g.read()
	if err != nil {
		g.failed.Store(true)
		prev, known := g.Snapshot()
		g.warn.Do(func() {
			g.logger.Warn("trade control read failed, keeping last known state",
				slog.String("path", g.cfg.Path),
				slog.String("error", err.Error()),
				slog.Bool("enabled", prev.Enabled),
				slog.Bool("from_file", known),
			)
		})
		return err
	}

	if g.failed.Swap(false) {
		g.warn = newWarnLimiter()
		g.logger.Info("trade control readable again", slog.String("path", g.cfg.Path))
	}

	prev := g.state.Swap(&next)
	if prev == nil || prev.Enabled != next.Enabled {
		attrs := []any{
			slog.Bool("enabled", next.Enabled),
			slog.String("source", next.Source),
			slog.Time("updated_at", next.UpdatedAt),
		}
		if prev != nil {
			attrs = append(attrs, slog.Bool("previous", prev.Enabled))
		}
		g.logger.Info("trade control state changed", attrs...)
	}
	return nil
}

func (g *Gate) read() (domain.TradeControlState, error) {
	data, err := os.ReadFile(g.cfg.Path)
	if err != nil {
		return domain.TradeControlState{}, fmt.Errorf("control: read %s: %w", g.cfg.Path, err)
	}
	return decode(data, g.cfg.DefaultEnabled, g.cfg.Location, g.now())
}

// decode parses the control document. A missing enabled field falls back to
// defaultEnabled; an unparseable updated_at leaves UpdatedAt zero.
func decode(data []byte, defaultEnabled bool, loc *time.Location, readAt time.Time) (domain.TradeControlState, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.TradeControlState{}, errors.New("control: empty file")
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return domain.TradeControlState{}, fmt.Errorf("control: decode: %w", err)
	}

	state := domain.TradeControlState{
		Enabled: defaultEnabled,
		Source:  fs.Source,
		ReadAt:  readAt,
	}
	if fs.Enabled != nil {
		state.Enabled = *fs.Enabled
	}
	raw := fs.UpdatedAt
	if raw == "" {
		raw = fs.UpdatedAtCamel
	}
	state.UpdatedAt = parseTimestamp(strings.TrimSpace(raw), loc)
	return state, nil
}

func parseTimestamp(raw string, loc *time.Location) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// AlwaysEnabled is used when the trade control file is switched off.
type AlwaysEnabled struct{}

// IsEnabled always returns true.
func (AlwaysEnabled) IsEnabled() bool { return true }
