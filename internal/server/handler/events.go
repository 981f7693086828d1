package handler

import (
	"net/http"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// RecentEvents holds the last pipeline events.
type RecentEvents interface {
	Events(limit int) []domain.PipelineEvent
}

// EventsHandler serves recent pipeline events.
type EventsHandler struct {
	recent RecentEvents
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(recent RecentEvents) *EventsHandler {
	return &EventsHandler{recent: recent}
}

// ListRecent returns the newest events first, filtered by ?outcome= when set.
// GET /api/events/recent
func (h *EventsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	outcome := domain.Outcome(r.URL.Query().Get("outcome"))

	evs := h.recent.Events(0)
	out := make([]domain.PipelineEvent, 0, opts.Limit)
	for _, ev := range evs {
		if outcome != "" && ev.Outcome != outcome {
			continue
		}
		out = append(out, ev)
		if len(out) == opts.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "count": len(out)})
}
