package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/alertbridge/internal/domain"
	"github.com/alanyoungcy/alertbridge/internal/logging"
	"github.com/alanyoungcy/alertbridge/internal/terminal"
)

// Executor owns the single trading terminal session. It turns order requests
// into terminal calls and reconnects inline, under the retry policy, when
// the session is down.
//
// Terminal calls are serialized; reconnects are shared between concurrent
// callers.
type Executor struct {
	term   terminal.Terminal
	creds  terminal.Credentials
	policy RetryPolicy
	logger *slog.Logger

	connect singleflight.Group
	session sync.Mutex

	stateMu     sync.Mutex
	state       domain.ConnectionState
	lastErr     string
	connectedAt time.Time
	outages     int
	listeners   []func(domain.ConnectionEvent)

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Status is a point-in-time view of the terminal session.
type Status struct {
	State       domain.ConnectionState `json:"state"`
	LastError   string                 `json:"last_error,omitempty"`
	ConnectedAt time.Time              `json:"connected_at"`
	Outages     int                    `json:"outages"`
}

// NewExecutor creates an Executor. No connection is made until the first
// call or an explicit Connect.
func NewExecutor(term terminal.Terminal, creds terminal.Credentials, policy RetryPolicy, logger *slog.Logger) *Executor {
	return &Executor{
		term:   term,
		creds:  creds,
		policy: policy.withDefaults(),
		logger: logger.With(slog.String("component", "executor")),
		state:  domain.StateDisconnected,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// OnConnectionEvent registers fn to receive every connection state
// transition. fn is called synchronously and must not block.
func (e *Executor) OnConnectionEvent(fn func(domain.ConnectionEvent)) {
	e.stateMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.stateMu.Unlock()
}

// Connect makes a single connection attempt. It is used for the eager
// connect at startup; failures are left for the first order to retry.
func (e *Executor) Connect(ctx context.Context) error {
	_, err, _ := e.connect.Do("connect", func() (any, error) {
		if e.term.IsConnected() {
			e.setState(domain.StateConnected, 0, nil)
			return nil, nil
		}
		return nil, e.attempt(ctx, 1)
	})
	return err
}

// Execute places the market order described by req.
//
// A failure outcome with a nil error means the terminal received and refused
// the order; it is not retried. A non-nil error means the order could not be
// delivered or its result is unknown, and the outcome carries the same
// message.
func (e *Executor) Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if err := req.Validate(); err != nil {
		return domain.Failed(err), fmt.Errorf("executor: execute: %w", err)
	}

	out, err := e.withSession(ctx, "execute", func(ctx context.Context) (domain.OrderOutcome, error) {
		return e.term.PlaceMarketOrder(ctx, req)
	})
	if err != nil {
		return out, err
	}

	attrs := []any{
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("volume", req.Volume.String()),
	}
	if out.Success {
		e.logger.InfoContext(ctx, "market order placed", append(attrs, slog.Int64("ticket", out.Ticket))...)
	} else {
		e.logger.WarnContext(ctx, "market order rejected", append(attrs, slog.String("error", out.Error))...)
	}
	return out, nil
}

// CloseAll closes every open position on symbol whose side equals side.
// Positions on the other side are left alone. With nothing to close the
// call succeeds without touching any position.
func (e *Executor) CloseAll(ctx context.Context, symbol string, side domain.Side) (domain.OrderOutcome, error) {
	out, err := e.withSession(ctx, "close_all", func(ctx context.Context) (domain.OrderOutcome, error) {
		positions, err := e.term.ListOpenPositions(ctx, symbol)
		if err != nil {
			return domain.OrderOutcome{}, err
		}

		res := domain.OrderOutcome{Success: true}
		var failures []string
		for _, pos := range positions {
			if pos.Side != side {
				continue
			}
			closed, err := e.term.ClosePosition(ctx, pos.Ticket)
			if err != nil {
				// The closes already made stay in res.Closed; a retried
				// call lists positions again and skips them.
				return res, err
			}
			if !closed.Success {
				res.Success = false
				failures = append(failures, fmt.Sprintf("ticket %d: %s", pos.Ticket, closed.Error))
				continue
			}
			res.Closed = append(res.Closed, pos.Ticket)
		}
		if len(failures) > 0 {
			res.Error = strings.Join(failures, "; ")
		}
		return res, nil
	})
	if err != nil {
		return out, err
	}

	switch {
	case !out.Success:
		e.logger.WarnContext(ctx, "close positions partially failed",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.Any("closed", out.Closed),
			slog.String("error", out.Error),
		)
	case len(out.Closed) == 0:
		e.logger.InfoContext(ctx, "no open positions to close",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
		)
	default:
		e.logger.InfoContext(ctx, "positions closed",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.Any("tickets", out.Closed),
		)
	}
	return out, nil
}

// Status returns the current session status.
func (e *Executor) Status() Status {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return Status{
		State:       e.state,
		LastError:   e.lastErr,
		ConnectedAt: e.connectedAt,
		Outages:     e.outages,
	}
}

// Close ends the terminal session.
func (e *Executor) Close() error {
	e.session.Lock()
	defer e.session.Unlock()
	err := e.term.Close()
	e.setState(domain.StateDisconnected, 0, nil)
	return err
}

// withSession runs fn against a connected terminal. A call that fails with
// ErrNotConnected never reached the terminal, so it is sent once more after
// a reconnect. Any other error is returned as is.
//
// ctx bounds connecting and backoff only. fn gets a context that is never
// cancelled, so a request already sent waits for its reply or for the
// session to drop.
func (e *Executor) withSession(ctx context.Context, op string, fn func(context.Context) (domain.OrderOutcome, error)) (domain.OrderOutcome, error) {
	for try := 0; ; try++ {
		if err := e.ensureConnected(ctx); err != nil {
			err = fmt.Errorf("executor: %s: %w", op, err)
			return domain.Failed(err), err
		}

		e.session.Lock()
		out, err := fn(context.WithoutCancel(ctx))
		e.session.Unlock()
		if err == nil {
			return out, nil
		}

		if errors.Is(err, domain.ErrNotConnected) || errors.Is(err, domain.ErrConnectionLost) {
			e.setState(domain.StateDisconnected, 0, err)
		}
		if errors.Is(err, domain.ErrNotConnected) && try == 0 {
			e.logger.WarnContext(ctx, "terminal session down before send, reconnecting",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
			continue
		}

		err = fmt.Errorf("executor: %s: %w", op, err)
		failed := domain.Failed(err)
		failed.Closed = out.Closed
		return failed, err
	}
}

// ensureConnected returns once the terminal is connected or the retry
// policy is exhausted. Concurrent callers share one reconnect.
func (e *Executor) ensureConnected(ctx context.Context) error {
	if e.term.IsConnected() {
		e.setState(domain.StateConnected, 0, nil)
		return nil
	}
	e.setState(domain.StateDisconnected, 0, nil)

	_, err, _ := e.connect.Do("connect", func() (any, error) {
		if e.term.IsConnected() {
			e.setState(domain.StateConnected, 0, nil)
			return nil, nil
		}
		return nil, e.reconnect(ctx)
	})
	return err
}

func (e *Executor) reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		lastErr = e.attempt(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.WarnContext(ctx, "terminal connect attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.policy.MaxAttempts),
			slog.String("error", lastErr.Error()),
		)
		if attempt == e.policy.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, e.policy.Delay); err != nil {
			return err
		}
	}

	e.stateMu.Lock()
	e.outages++
	e.stateMu.Unlock()
	e.logger.Log(ctx, logging.LevelCritical, "terminal outage: reconnect attempts exhausted",
		slog.Int("attempts", e.policy.MaxAttempts),
		slog.Duration("delay", e.policy.Delay),
		slog.String("error", lastErr.Error()),
	)
	return fmt.Errorf("%w: %v", domain.ErrOutage, lastErr)
}

func (e *Executor) attempt(ctx context.Context, n int) error {
	e.setState(domain.StateConnecting, n, nil)

	actx, cancel := context.WithTimeout(ctx, e.policy.ConnectTimeout)
	defer cancel()

	e.session.Lock()
	err := e.term.Connect(actx, e.creds)
	e.session.Unlock()
	if err != nil {
		e.setState(domain.StateDisconnected, n, err)
		return err
	}
	e.setState(domain.StateConnected, n, nil)
	return nil
}

// setState records a transition and notifies listeners. Repeated states are
// ignored except for Connecting, which is reported once per attempt.
func (e *Executor) setState(to domain.ConnectionState, attempt int, cause error) {
	e.stateMu.Lock()
	from := e.state
	if from == to && to != domain.StateConnecting {
		e.stateMu.Unlock()
		return
	}
	now := e.now()
	e.state = to
	ev := domain.ConnectionEvent{From: from, To: to, Attempt: attempt, At: now}
	if cause != nil {
		ev.Error = cause.Error()
		e.lastErr = cause.Error()
	}
	if to == domain.StateConnected {
		e.connectedAt = now
		e.lastErr = ""
	}
	listeners := slices.Clone(e.listeners)
	e.stateMu.Unlock()

	if to == domain.StateConnected {
		e.logger.Info("terminal connected", slog.Int("attempt", attempt))
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
