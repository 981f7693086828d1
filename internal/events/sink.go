// Package events carries pipeline and connection events to observers: the
// process log, metrics, the status server, and optional external journals.
//
// Sinks are fire-and-forget. A sink that fails logs the failure itself and
// never reports it back into the pipeline.
package events

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// Sink receives events.
type Sink interface {
	PipelineEvent(ctx context.Context, ev domain.PipelineEvent)
	ConnectionEvent(ctx context.Context, ev domain.ConnectionEvent)
}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) PipelineEvent(ctx context.Context, ev domain.PipelineEvent) {
	for _, s := range m {
		s.PipelineEvent(ctx, ev)
	}
}

func (m Multi) ConnectionEvent(ctx context.Context, ev domain.ConnectionEvent) {
	for _, s := range m {
		s.ConnectionEvent(ctx, ev)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) PipelineEvent(context.Context, domain.PipelineEvent)     {}
func (Discard) ConnectionEvent(context.Context, domain.ConnectionEvent) {}

// LogSink writes one structured record per event.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "pipeline"))}
}

// Level returns the severity a pipeline outcome is logged at.
func Level(o domain.Outcome) slog.Level {
	switch o {
	case domain.OutcomeNotASignal:
		return slog.LevelDebug
	case domain.OutcomeControlDisabled, domain.OutcomeOutsideWindow, domain.OutcomeDispatchSuccess:
		return slog.LevelInfo
	case domain.OutcomeDuplicate:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (s *LogSink) PipelineEvent(ctx context.Context, ev domain.PipelineEvent) {
	attrs := []slog.Attr{
		slog.String("event_id", ev.ID),
		slog.String("outcome", string(ev.Outcome)),
		slog.String("stage", string(ev.Stage)),
		slog.Duration("latency", ev.Latency),
	}
	if ev.Signal != nil {
		attrs = append(attrs, slog.String("signal", ev.Signal.String()))
	} else {
		attrs = append(attrs, slog.String("line", ev.Line))
	}
	if ev.Result != nil {
		if ev.Result.Ticket != 0 {
			attrs = append(attrs, slog.Int64("ticket", ev.Result.Ticket))
		}
		if len(ev.Result.Closed) > 0 {
			attrs = append(attrs, slog.Any("closed", ev.Result.Closed))
		}
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	s.logger.LogAttrs(ctx, Level(ev.Outcome), "signal "+string(ev.Outcome), attrs...)
}

func (s *LogSink) ConnectionEvent(ctx context.Context, ev domain.ConnectionEvent) {
	level := slog.LevelInfo
	if ev.Error != "" {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("from", string(ev.From)),
		slog.String("to", string(ev.To)),
	}
	if ev.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", ev.Attempt))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
	}
	s.logger.LogAttrs(ctx, level, "terminal connection state changed", attrs...)
}
