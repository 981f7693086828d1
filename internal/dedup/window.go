// Package dedup suppresses repeated signals for the same (symbol, kind) key
// inside a fixed window measured from the last accepted signal.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// DefaultThreshold is the suppression window used when none is configured.
const DefaultThreshold = 180 * time.Second

// entry holds the last acceptance time for one key. Calls for the same key
// serialize on mu; dead entries have been swept and must not be reused.
type entry struct {
	mu   sync.Mutex
	last time.Time
	dead bool
}

// Window is an in-memory deduplication window. It is safe for concurrent
// use; calls for different keys never wait on each other.
//
// Lines reach the window with their observation time, which can trail the
// wall clock while dispatches are blocked on a terminal outage. Sweep
// therefore never expires anything newer than the latest time the window
// has been asked about.
type Window struct {
	threshold time.Duration
	entries   sync.Map // key string -> *entry
	latest    atomic.Int64
}

// NewWindow creates a Window that rejects a key seen at most threshold ago.
func NewWindow(threshold time.Duration) *Window {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Window{threshold: threshold}
}

// Threshold returns the configured window length.
func (w *Window) Threshold() time.Duration {
	return w.threshold
}

// ShouldAccept reports whether key is accepted at now. A key is accepted when
// it has no prior acceptance or the prior acceptance is more than the
// threshold older than now; accepting records now. Rejections leave the
// recorded time untouched. The error is always nil.
func (w *Window) ShouldAccept(_ context.Context, key domain.DedupKey, now time.Time) (bool, error) {
	accepted := false
	w.update(key, now, func(e *entry) {
		if e.last.IsZero() || now.Sub(e.last) > w.threshold {
			e.last = now
			accepted = true
		}
	})
	return accepted, nil
}

// Record notes an acceptance made by another window so this one rejects
// the key for the rest of the threshold. An older time never replaces a
// newer one.
func (w *Window) Record(key domain.DedupKey, at time.Time) {
	w.update(key, at, func(e *entry) {
		if at.After(e.last) {
			e.last = at
		}
	})
}

func (w *Window) update(key domain.DedupKey, at time.Time, fn func(*entry)) {
	w.observe(at)
	k := key.String()
	for {
		v, _ := w.entries.LoadOrStore(k, &entry{})
		e := v.(*entry)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		fn(e)
		e.mu.Unlock()
		return
	}
}

func (w *Window) observe(at time.Time) {
	n := at.UnixNano()
	for {
		cur := w.latest.Load()
		if n <= cur || w.latest.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Sweep removes entries that can no longer cause a rejection and returns
// how many were removed. An entry expires once it is more than the
// threshold older than both now and the latest time seen by ShouldAccept
// or Record.
func (w *Window) Sweep(now time.Time) int {
	latest := w.latest.Load()
	if latest == 0 {
		return 0
	}
	if cutoff := time.Unix(0, latest); cutoff.Before(now) {
		now = cutoff
	}
	removed := 0
	w.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.last.IsZero() && now.Sub(e.last) > w.threshold {
			e.dead = true
			w.entries.CompareAndDelete(k, e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	n := 0
	w.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (w *Window) RunSweeper(ctx context.Context, interval time.Duration, now func() time.Time, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := w.Sweep(now()); n > 0 {
				logger.Debug("dedup entries expired",
					slog.Int("removed", n),
					slog.Int("remaining", w.Len()),
				)
			}
		}
	}
}
