package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// StreamTopic is the stream key and pub/sub channel events are sent to.
const StreamTopic = "alertbridge:events"

type envelope struct {
	Type     string                  `json:"type"`
	Pipeline *domain.PipelineEvent   `json:"pipeline,omitempty"`
	Conn     *domain.ConnectionEvent `json:"connection,omitempty"`
}

// StreamSink serializes events to JSON and appends them to a stream and a
// pub/sub channel.
type StreamSink struct {
	stream domain.EventStream
	topic  string
	logger *slog.Logger
}

// NewStreamSink creates a StreamSink. An empty topic uses StreamTopic.
func NewStreamSink(stream domain.EventStream, topic string, logger *slog.Logger) *StreamSink {
	if topic == "" {
		topic = StreamTopic
	}
	return &StreamSink{
		stream: stream,
		topic:  topic,
		logger: logger.With(slog.String("component", "event_stream")),
	}
}

func (s *StreamSink) PipelineEvent(ctx context.Context, ev domain.PipelineEvent) {
	s.send(ctx, envelope{Type: "pipeline", Pipeline: &ev})
}

func (s *StreamSink) ConnectionEvent(ctx context.Context, ev domain.ConnectionEvent) {
	s.send(ctx, envelope{Type: "connection", Conn: &ev})
}

func (s *StreamSink) send(ctx context.Context, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.stream.Append(ctx, s.topic, payload); err != nil {
		s.logger.Warn("append event to stream failed", slog.String("error", err.Error()))
	}
	if err := s.stream.Publish(ctx, s.topic, payload); err != nil {
		s.logger.Warn("publish event failed", slog.String("error", err.Error()))
	}
}

// JournalSink records every event in the event journal and every dispatched
// order in the execution store. Either store may be nil.
type JournalSink struct {
	journal    domain.EventJournal
	executions domain.ExecutionStore
	logger     *slog.Logger
}

// NewJournalSink creates a JournalSink.
func NewJournalSink(journal domain.EventJournal, executions domain.ExecutionStore, logger *slog.Logger) *JournalSink {
	return &JournalSink{
		journal:    journal,
		executions: executions,
		logger:     logger.With(slog.String("component", "journal")),
	}
}

func (s *JournalSink) PipelineEvent(ctx context.Context, ev domain.PipelineEvent) {
	if s.journal != nil {
		if err := s.journal.RecordPipelineEvent(ctx, ev); err != nil {
			s.logger.Warn("record pipeline event failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.executions == nil || ev.Request == nil || ev.Stage != domain.StageDispatched {
		return
	}
	rec := ExecutionRecord(ev)
	if err := s.executions.Create(ctx, rec); err != nil {
		s.logger.Warn("record execution failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *JournalSink) ConnectionEvent(ctx context.Context, ev domain.ConnectionEvent) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordConnectionEvent(ctx, ev); err != nil {
		s.logger.Warn("record connection event failed", slog.String("error", err.Error()))
	}
}

// ExecutionRecord flattens a dispatched pipeline event into a journal row.
func ExecutionRecord(ev domain.PipelineEvent) domain.ExecutionRecord {
	rec := domain.ExecutionRecord{
		ID:        uuid.New().String(),
		EventID:   ev.ID,
		CreatedAt: ev.CompletedAt,
	}
	if req := ev.Request; req != nil {
		rec.Action = req.Action
		rec.Symbol = req.Symbol
		rec.Side = req.Side
		if req.Action == domain.OrderActionOpen {
			rec.Volume = req.Volume.String()
		}
		if req.StopLoss != nil {
			rec.StopLoss = req.StopLoss.String()
		}
		if req.TakeProfit != nil {
			rec.TakeProfit = req.TakeProfit.String()
		}
	}
	if out := ev.Result; out != nil {
		rec.Success = out.Success
		rec.Ticket = out.Ticket
		rec.Closed = out.Closed
		rec.Error = out.Error
	}
	if !rec.Success && rec.Error == "" {
		rec.Error = ev.Reason
	}
	return rec
}
