// Package logging builds the process logger: a slog JSON (or text) handler
// writing to stdout and, optionally, to a daily rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical sits above slog.LevelError. It is used for conditions an
// operator must act on, such as a trading terminal outage.
const LevelCritical = slog.Level(12)

// Options configures New.
type Options struct {
	Level         string // debug, info, warn, error, critical
	Format        string // json or text
	File          string // optional; rotated daily
	RetentionDays int
}

// ParseLevel maps a config level name to a slog level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// ReplaceLevel renders LevelCritical as "CRITICAL" instead of "ERROR+4".
func ReplaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
		return slog.String(slog.LevelKey, "CRITICAL")
	}
	return a
}

// New creates the logger described by opts and a closer for the log file
// (a no-op when no file is configured).
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		rf, err := OpenRotatingFile(opts.File, opts.RetentionDays)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		w = io.MultiWriter(os.Stdout, rf)
		closer = rf
	}
	return slog.New(NewHandler(w, opts)), closer, nil
}

// NewHandler returns the handler New would use, writing to w.
func NewHandler(w io.Writer, opts Options) slog.Handler {
	ho := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: ReplaceLevel,
	}
	if strings.EqualFold(opts.Format, "text") {
		return slog.NewTextHandler(w, ho)
	}
	return slog.NewJSONHandler(w, ho)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
