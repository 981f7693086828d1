package events

import (
	"context"
	"sync"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// Recent keeps the last N pipeline events and a running count per outcome
// for the status server.
type Recent struct {
	mu     sync.Mutex
	buf    []domain.PipelineEvent
	next   int
	full   bool
	counts map[domain.Outcome]int64
	conn   *domain.ConnectionEvent
}

// NewRecent creates a ring buffer holding size events.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 200
	}
	return &Recent{
		buf:    make([]domain.PipelineEvent, size),
		counts: make(map[domain.Outcome]int64, len(domain.Outcomes)),
	}
}

func (r *Recent) PipelineEvent(_ context.Context, ev domain.PipelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.counts[ev.Outcome]++
}

func (r *Recent) ConnectionEvent(_ context.Context, ev domain.ConnectionEvent) {
	r.mu.Lock()
	r.conn = &ev
	r.mu.Unlock()
}

// Events returns up to limit events, newest first. limit <= 0 returns all.
func (r *Recent) Events(limit int) []domain.PipelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.PipelineEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Counts returns the number of events seen per outcome. Every outcome is
// present, including those never seen.
func (r *Recent) Counts() map[domain.Outcome]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.Outcome]int64, len(domain.Outcomes))
	for _, o := range domain.Outcomes {
		out[o] = r.counts[o]
	}
	return out
}

// LastConnection returns the most recent connection transition, if any.
func (r *Recent) LastConnection() (domain.ConnectionEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return domain.ConnectionEvent{}, false
	}
	return *r.conn, true
}
