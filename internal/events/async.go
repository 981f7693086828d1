package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// Async decouples a slow sink (network journals) from the caller. Events are
// queued in a bounded buffer and delivered by Run; when the buffer is full
// the event is dropped and counted.
type Async struct {
	name    string
	next    Sink
	queue   chan func(context.Context)
	dropped atomic.Int64
	warn    *rate.Sometimes
	logger  *slog.Logger
}

// NewAsync wraps next with a queue of size entries.
func NewAsync(name string, next Sink, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 1024
	}
	return &Async{
		name:   name,
		next:   next,
		queue:  make(chan func(context.Context), size),
		warn:   &rate.Sometimes{First: 1, Interval: time.Minute},
		logger: logger.With(slog.String("component", "events"), slog.String("sink", name)),
	}
}

func (a *Async) PipelineEvent(_ context.Context, ev domain.PipelineEvent) {
	a.enqueue(func(ctx context.Context) { a.next.PipelineEvent(ctx, ev) })
}

func (a *Async) ConnectionEvent(_ context.Context, ev domain.ConnectionEvent) {
	a.enqueue(func(ctx context.Context) { a.next.ConnectionEvent(ctx, ev) })
}

// Dropped returns the number of events lost to a full queue.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Async) enqueue(fn func(context.Context)) {
	select {
	case a.queue <- fn:
	default:
		n := a.dropped.Add(1)
		a.warn.Do(func() {
			a.logger.Warn("event queue full, dropping events", slog.Int64("dropped_total", n))
		})
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left with a short grace period.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-a.queue:
			fn(ctx)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *Async) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case fn := <-a.queue:
			fn(ctx)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
