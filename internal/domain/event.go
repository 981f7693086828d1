package domain

import "time"

// Outcome classifies how the pipeline finished processing one line. The set
// of values is the contract observability consumers depend on.
type Outcome string

const (
	OutcomeNotASignal      Outcome = "not_a_signal"
	OutcomeControlDisabled Outcome = "control_disabled"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeOutsideWindow   Outcome = "outside_trading_window"
	OutcomeDispatchError   Outcome = "dispatch_error"
	OutcomeDispatchSuccess Outcome = "dispatch_success"
)

// Outcomes lists every outcome in pipeline order.
var Outcomes = []Outcome{
	OutcomeNotASignal,
	OutcomeControlDisabled,
	OutcomeDuplicate,
	OutcomeOutsideWindow,
	OutcomeDispatchError,
	OutcomeDispatchSuccess,
}

// Stage is the last pipeline stage a line reached.
type Stage string

const (
	StageReceived       Stage = "received"
	StageParsed         Stage = "parsed"
	StageControlChecked Stage = "control_checked"
	StageDedupChecked   Stage = "dedup_checked"
	StageWindowChecked  Stage = "window_checked"
	StageDispatched     Stage = "dispatched"
)

// PipelineEvent is emitted exactly once per processed line.
type PipelineEvent struct {
	ID          string        `json:"id"`
	Outcome     Outcome       `json:"outcome"`
	Stage       Stage         `json:"stage"`
	Line        string        `json:"line"`
	Source      string        `json:"source,omitempty"`
	Signal      *Signal       `json:"signal,omitempty"`
	Request     *OrderRequest `json:"request,omitempty"`
	Result      *OrderOutcome `json:"result,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	ObservedAt  time.Time     `json:"observed_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Latency     time.Duration `json:"latency_ns"`
}

// ConnectionState is the executor's view of the terminal session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// ConnectionEvent records one connection state transition.
type ConnectionEvent struct {
	From    ConnectionState `json:"from"`
	To      ConnectionState `json:"to"`
	Attempt int             `json:"attempt,omitempty"`
	Error   string          `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}
