package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/alertbridge/internal/domain"
	"github.com/alanyoungcy/alertbridge/internal/executor"
)

// ExecutorStatus reports the terminal session.
type ExecutorStatus interface {
	Status() executor.Status
}

// GateStatus reports the trade control file state.
type GateStatus interface {
	Snapshot() (domain.TradeControlState, bool)
	Healthy() bool
}

// MonitorStatus reports the alert log being tailed.
type MonitorStatus interface {
	Path() string
}

// OutcomeCounter reports how many lines ended in each outcome.
type OutcomeCounter interface {
	Counts() map[domain.Outcome]int64
}

// StatusHandler serves a snapshot of every component. Gate may be nil when
// trade control is disabled.
type StatusHandler struct {
	Mode      string
	Executor  ExecutorStatus
	Gate      GateStatus
	Monitor   MonitorStatus
	Outcomes  OutcomeCounter
	StartedAt time.Time
}

type gateView struct {
	Enabled   bool       `json:"enabled"`
	Healthy   bool       `json:"healthy"`
	Loaded    bool       `json:"loaded"`
	Source    string     `json:"source,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// GetStatus responds with executor, gate, monitor and outcome state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	}
	if h.Executor != nil {
		body["terminal"] = h.Executor.Status()
	}
	if h.Gate != nil {
		state, loaded := h.Gate.Snapshot()
		view := gateView{Enabled: state.Enabled, Healthy: h.Gate.Healthy(), Loaded: loaded, Source: state.Source}
		if !state.UpdatedAt.IsZero() {
			view.UpdatedAt = &state.UpdatedAt
		}
		if !state.ReadAt.IsZero() {
			view.ReadAt = &state.ReadAt
		}
		body["trade_control"] = view
	} else {
		body["trade_control"] = gateView{Enabled: true, Healthy: true}
	}
	if h.Monitor != nil {
		body["alert_log"] = h.Monitor.Path()
	}
	if h.Outcomes != nil {
		body["outcomes"] = h.Outcomes.Counts()
	}
	writeJSON(w, http.StatusOK, body)
}
