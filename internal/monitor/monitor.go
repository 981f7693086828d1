// Package monitor tails the terminal's alert log and emits each complete new
// line, in file order, on a bounded queue.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// maxChunk bounds a single read so a huge append is processed in pieces.
const maxChunk = 1 << 20

// Config configures a Monitor.
type Config struct {
	Path           string // file, directory, or pattern with {date}/{today}
	Encoding       string
	AutoSwitchDate bool
	PollInterval   time.Duration
	QueueSize      int
}

// RotateFunc is called with the path of a log the monitor has finished
// with after switching to a newer one.
type RotateFunc func(ctx context.Context, oldPath string)

// Monitor watches the alert log. Run must be called exactly once.
type Monitor struct {
	cfg    Config
	codec  lineCodec
	out    chan domain.RawLine
	logger *slog.Logger
	now    func() time.Time

	onRotate RotateFunc
	hooks    sync.WaitGroup
	ready    chan struct{}

	mu      sync.Mutex // guards path for Path()
	path    string
	offset  int64
	pending []byte
	started bool
	full    bool
}

// New validates cfg and creates a Monitor.
func New(cfg Config, logger *slog.Logger) (*Monitor, error) {
	if cfg.Path == "" {
		return nil, errors.New("monitor: empty alert path")
	}
	codec, err := newLineCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	return &Monitor{
		cfg:    cfg,
		codec:  codec,
		out:    make(chan domain.RawLine, cfg.QueueSize),
		logger: logger.With(slog.String("component", "alert_monitor")),
		now:    time.Now,
		ready:  make(chan struct{}),
	}, nil
}

// OnRotate sets the hook called after a date switch. The hook runs in its
// own goroutine; Run waits for outstanding hooks before returning.
func (m *Monitor) OnRotate(fn RotateFunc) {
	m.onRotate = fn
}

// Lines is the queue of observed lines. It is closed when Run returns.
func (m *Monitor) Lines() <-chan domain.RawLine {
	return m.out
}

// Ready is closed once Run has taken its starting offset and is watching.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// Path returns the file currently tailed, or "" before Run has resolved it.
func (m *Monitor) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// Run watches until ctx is cancelled. File system events trigger reads; the
// poll ticker catches changes on filesystems that do not report them and
// drives the date switch.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.out)
	defer m.hooks.Wait()

	path, err := ResolvePath(m.cfg.Path, m.now())
	if err != nil {
		m.logger.Warn("alert log not available yet", slog.String("error", err.Error()))
		path = ""
	}
	m.setPath(path)
	m.startAtEnd()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("monitor: create watcher: %w", err)
	}
	defer watcher.Close()
	watched := ""
	rewatch := func() {
		dir := m.watchDir()
		if dir == "" || dir == watched {
			return
		}
		if watched != "" {
			_ = watcher.Remove(watched)
		}
		if err := watcher.Add(dir); err != nil {
			m.logger.Warn("cannot watch alert log directory, relying on polling",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			return
		}
		watched = dir
	}
	rewatch()

	m.logger.Info("alert monitor started",
		slog.String("path", m.Path()),
		slog.String("encoding", m.codec.name),
		slog.Int64("offset", m.offset),
	)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	close(m.ready)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("alert monitor stopped")
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !m.relevant(ev) {
				continue
			}
			m.check(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("file watcher error", slog.String("error", err.Error()))
		case <-ticker.C:
			if m.cfg.AutoSwitchDate || m.Path() == "" {
				m.switchIfNeeded(ctx)
				rewatch()
			}
			m.check(ctx)
		}
	}
}

func (m *Monitor) setPath(p string) {
	m.mu.Lock()
	m.path = p
	m.mu.Unlock()
}

func (m *Monitor) watchDir() string {
	if IsDirectoryPattern(m.cfg.Path) {
		return m.cfg.Path
	}
	if p := m.Path(); p != "" {
		return filepath.Dir(p)
	}
	return ""
}

// startAtEnd skips content that existed before the monitor started.
func (m *Monitor) startAtEnd() {
	p := m.Path()
	if p == "" {
		return
	}
	if fi, err := os.Stat(p); err == nil {
		m.offset = fi.Size()
		m.started = true
	}
}

func (m *Monitor) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	if IsDirectoryPattern(m.cfg.Path) && ev.Has(fsnotify.Create) {
		return true
	}
	return filepath.Clean(ev.Name) == filepath.Clean(m.Path())
}

// switchIfNeeded moves to a newer log when the resolved path changes and the
// new file exists. The old file is drained first.
func (m *Monitor) switchIfNeeded(ctx context.Context) {
	next, err := ResolvePath(m.cfg.Path, m.now())
	if err != nil || next == "" {
		return
	}
	cur := m.Path()
	if next == cur {
		return
	}
	if _, err := os.Stat(next); err != nil {
		return
	}

	if cur != "" {
		m.check(ctx)
		if len(m.pending) > 0 {
			m.logger.Warn("discarding unterminated last line of previous log",
				slog.String("path", cur),
				slog.Int("bytes", len(m.pending)),
			)
		}
	}

	m.logger.Info("switching alert log", slog.String("from", cur), slog.String("to", next))
	m.setPath(next)
	m.offset = 0
	m.pending = nil
	m.started = true

	if cur != "" && m.onRotate != nil {
		m.hooks.Add(1)
		go func() {
			defer m.hooks.Done()
			m.onRotate(context.WithoutCancel(ctx), cur)
		}()
	}
}

// check reads whatever was appended since the last read.
func (m *Monitor) check(ctx context.Context) {
	p := m.Path()
	if p == "" {
		return
	}
	fi, err := os.Stat(p)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("stat alert log failed", slog.String("path", p), slog.String("error", err.Error()))
		}
		return
	}
	if !m.started {
		// The file did not exist at startup, so all of it is new.
		m.started = true
		m.offset = 0
	}
	size := fi.Size()
	if size < m.offset {
		m.logger.Info("alert log truncated, rereading from start",
			slog.String("path", p),
			slog.Int64("previous_offset", m.offset),
			slog.Int64("size", size),
		)
		m.offset = 0
		m.pending = nil
	}
	if size == m.offset {
		return
	}

	f, err := os.Open(p)
	if err != nil {
		m.logger.Warn("open alert log failed", slog.String("path", p), slog.String("error", err.Error()))
		return
	}
	defer f.Close()
	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		m.logger.Warn("seek alert log failed", slog.String("path", p), slog.String("error", err.Error()))
		return
	}

	for m.offset < size {
		n := size - m.offset
		if n > maxChunk {
			n = maxChunk
		}
		buf := make([]byte, n)
		read, err := io.ReadFull(f, buf)
		buf = buf[:read]
		m.offset += int64(read)
		m.emit(ctx, p, buf)
		if err != nil {
			if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
				m.logger.Warn("read alert log failed", slog.String("path", p), slog.String("error", err.Error()))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Monitor) emit(ctx context.Context, source string, chunk []byte) {
	data := append(m.pending, chunk...)
	lines, consumed := m.codec.split(data)
	m.pending = append([]byte(nil), data[consumed:]...)

	observed := m.now()
	for _, raw := range lines {
		text, err := m.codec.decode(raw)
		if err != nil {
			m.logger.Warn("skipping undecodable alert line", slog.String("error", err.Error()))
			continue
		}
		if text == "" {
			continue
		}
		m.logger.Debug("alert line observed", slog.String("line", text))
		line := domain.RawLine{Text: text, ObservedAt: observed, Source: source}

		select {
		case m.out <- line:
			m.full = false
			continue
		default:
		}
		if !m.full {
			m.full = true
			m.logger.Warn("alert line queue full, waiting for the pipeline", slog.Int("queue_size", cap(m.out)))
		}
		select {
		case m.out <- line:
		case <-ctx.Done():
			return
		}
	}
}
