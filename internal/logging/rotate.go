package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dayLayout = "20060102"

// RotatingFile is an io.WriteCloser that writes to <base>-YYYYMMDD<ext> and
// switches to a new file when the local date changes. Files of the same base
// older than the retention period are removed on each switch.
type RotatingFile struct {
	mu            sync.Mutex
	dir           string
	base          string
	ext           string
	retentionDays int
	now           func() time.Time

	day  string
	file *os.File
}

// OpenRotatingFile opens today's file for path. retentionDays <= 0 keeps
// every file.
func OpenRotatingFile(path string, retentionDays int) (*RotatingFile, error) {
	return openRotatingFile(path, retentionDays, time.Now)
}

func openRotatingFile(path string, retentionDays int, now func() time.Time) (*RotatingFile, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".log"
	}
	rf := &RotatingFile{
		dir:           filepath.Dir(path),
		base:          strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		ext:           ext,
		retentionDays: retentionDays,
		now:           now,
	}
	if err := os.MkdirAll(rf.dir, 0o755); err != nil {
		return nil, err
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if err := rf.rotateLocked(rf.now()); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	now := rf.now()
	if rf.file == nil || now.Format(dayLayout) != rf.day {
		if err := rf.rotateLocked(now); err != nil {
			return 0, err
		}
	}
	return rf.file.Write(p)
}

// Close closes the current file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// Path returns the file currently written to.
func (rf *RotatingFile) Path() string {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.pathFor(rf.day)
}

func (rf *RotatingFile) pathFor(day string) string {
	return filepath.Join(rf.dir, fmt.Sprintf("%s-%s%s", rf.base, day, rf.ext))
}

func (rf *RotatingFile) rotateLocked(now time.Time) error {
	day := now.Format(dayLayout)
	f, err := os.OpenFile(rf.pathFor(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if rf.file != nil {
		_ = rf.file.Close()
	}
	rf.file = f
	rf.day = day
	rf.pruneLocked(now)
	return nil
}

// pruneLocked removes rotated files whose date is past the retention period.
// Errors are ignored; pruning is retried on the next rotation.
func (rf *RotatingFile) pruneLocked(now time.Time) {
	if rf.retentionDays <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(rf.dir, rf.base+"-*"+rf.ext))
	if err != nil {
		return
	}
	sort.Strings(matches)
	cutoff := now.AddDate(0, 0, -rf.retentionDays).Format(dayLayout)
	prefix := rf.base + "-"
	for _, m := range matches {
		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), rf.ext)
		if len(day) != len(dayLayout) {
			continue
		}
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		if day < cutoff {
			_ = os.Remove(m)
		}
	}
}
