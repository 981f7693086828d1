package handler

import (
	"context"
	"net/http"
	"time"
)

// Probe is a named dependency check run by the health endpoint, typically a
// Redis or Postgres ping.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint. With probes attached it also
// reports readiness of the optional backends.
type HealthHandler struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler that runs probes on every request.
func NewHealthHandler(probes ...Probe) *HealthHandler {
	return &HealthHandler{probes: probes, timeout: 2 * time.Second, now: time.Now}
}

// HealthCheck responds 200 with "ok" when every probe passes and 503 with
// "degraded" and the failing probe errors otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			checks[p.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[p.Name] = "ok"
	}

	body := map[string]any{
		"status":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, code, body)
}
