package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// ExecutionsHandler serves the execution journal.
type ExecutionsHandler struct {
	store  domain.ExecutionStore
	logger *slog.Logger
}

// NewExecutionsHandler creates an ExecutionsHandler.
func NewExecutionsHandler(store domain.ExecutionStore, logger *slog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{store: store, logger: logger.With(slog.String("handler", "executions"))}
}

// ListExecutions returns journaled orders, newest first.
// GET /api/executions
func (h *ExecutionsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list executions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if recs == nil {
		recs = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": recs, "count": len(recs)})
}
