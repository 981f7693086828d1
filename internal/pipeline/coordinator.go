// Package pipeline runs each alert line through parsing, trade control,
// deduplication, trading window and dispatch, in that order, and reports
// exactly one outcome per line.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/alertbridge/internal/domain"
	"github.com/alanyoungcy/alertbridge/internal/events"
	"github.com/alanyoungcy/alertbridge/internal/parser"
)

// SignalParser turns a line into a signal.
type SignalParser interface {
	Parse(text string, observedAt time.Time) parser.Result
}

// ControlGate is the external trade on/off switch.
type ControlGate interface {
	IsEnabled() bool
}

// TradingWindow decides whether a symbol may be traded at a given time.
type TradingWindow interface {
	IsTradable(symbol string, now time.Time) bool
}

// Dispatcher sends orders to the terminal.
type Dispatcher interface {
	Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error)
	CloseAll(ctx context.Context, symbol string, side domain.Side) (domain.OrderOutcome, error)
}

// LocalDedup stands in for a shared dedup window while it is unreachable.
// Record mirrors acceptances made by the shared window.
type LocalDedup interface {
	domain.DedupWindow
	Record(key domain.DedupKey, at time.Time)
}

// Deps are the stages the coordinator drives. Fallback is consulted when
// Dedup returns an error and may be nil when Dedup never fails.
type Deps struct {
	Parser   SignalParser
	Gate     ControlGate
	Dedup    domain.DedupWindow
	Fallback LocalDedup
	Window   TradingWindow
	Executor Dispatcher
	Sink     events.Sink
}

// Config holds order sizing and the latency budget.
type Config struct {
	// LotSizes maps upper-case symbols to the volume of an opening order.
	LotSizes          map[string]decimal.Decimal
	MaxExecutionDelay time.Duration
	Comment           string
}

// Coordinator processes lines strictly one at a time, in arrival order.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Coordinator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Coordinator {
	if deps.Sink == nil {
		deps.Sink = events.Discard{}
	}
	if cfg.MaxExecutionDelay <= 0 {
		cfg.MaxExecutionDelay = time.Second
	}
	lots := make(map[string]decimal.Decimal, len(cfg.LotSizes))
	for sym, lot := range cfg.LotSizes {
		lots[strings.ToUpper(sym)] = lot
	}
	cfg.LotSizes = lots
	return &Coordinator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "coordinator")),
		now:    time.Now,
	}
}

// Run drains lines until the channel is closed or ctx is cancelled. A
// failure on one line never stops the loop.
func (c *Coordinator) Run(ctx context.Context, lines <-chan domain.RawLine) error {
	c.logger.Info("pipeline coordinator started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c.Process(ctx, line)
		}
	}
}

// Process runs one line through every stage, stopping at the first one that
// rejects it, and emits the resulting event.
func (c *Coordinator) Process(ctx context.Context, line domain.RawLine) (ev domain.PipelineEvent) {
	if line.ObservedAt.IsZero() {
		line.ObservedAt = c.now()
	}
	ev = domain.PipelineEvent{
		ID:         uuid.New().String(),
		Stage:      domain.StageReceived,
		Line:       line.Text,
		Source:     line.Source,
		ObservedAt: line.ObservedAt,
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while processing alert line",
				slog.String("line", line.Text),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			ev.Outcome = panicOutcome(ev.Stage)
			ev.Reason = fmt.Sprintf("internal error: %v", r)
		}
		ev.CompletedAt = c.now()
		ev.Latency = ev.CompletedAt.Sub(ev.ObservedAt)
		if ev.Stage == domain.StageDispatched && ev.Latency > c.cfg.MaxExecutionDelay {
			c.logger.Warn("signal exceeded latency budget",
				slog.String("event_id", ev.ID),
				slog.Duration("latency", ev.Latency),
				slog.Duration("budget", c.cfg.MaxExecutionDelay),
			)
		}
		c.emit(ctx, ev)
	}()

	ev.Outcome, ev.Reason = c.stages(ctx, line, &ev)
	return ev
}

// panicOutcome classifies a line whose processing panicked after reaching
// stage. A line that never parsed is not a signal; anything later was a
// signal that failed to dispatch.
func panicOutcome(stage domain.Stage) domain.Outcome {
	if stage == domain.StageReceived {
		return domain.OutcomeNotASignal
	}
	return domain.OutcomeDispatchError
}

func (c *Coordinator) stages(ctx context.Context, line domain.RawLine, ev *domain.PipelineEvent) (domain.Outcome, string) {
	res := c.deps.Parser.Parse(line.Text, line.ObservedAt)
	if !res.OK() {
		if res.Malformed {
			c.logger.WarnContext(ctx, "malformed signal line ignored",
				slog.String("line", line.Text),
				slog.String("reason", res.Reason),
			)
		}
		return domain.OutcomeNotASignal, res.Reason
	}
	sig := res.Signal
	ev.Stage = domain.StageParsed
	ev.Signal = sig

	if !c.deps.Gate.IsEnabled() {
		return domain.OutcomeControlDisabled, "trading disabled by trade control"
	}
	ev.Stage = domain.StageControlChecked

	if !c.accept(ctx, sig.Key(), sig.ObservedAt) {
		return domain.OutcomeDuplicate, "same signal accepted within the deduplication window"
	}
	ev.Stage = domain.StageDedupChecked

	if !c.deps.Window.IsTradable(sig.Symbol, sig.ObservedAt) {
		return domain.OutcomeOutsideWindow, "symbol is in its weekend blackout"
	}
	ev.Stage = domain.StageWindowChecked

	req, err := c.request(sig)
	if err != nil {
		return domain.OutcomeDispatchError, err.Error()
	}
	ev.Request = &req

	var out domain.OrderOutcome
	if sig.Kind.IsClose() {
		out, err = c.deps.Executor.CloseAll(ctx, req.Symbol, req.Side)
	} else {
		out, err = c.deps.Executor.Execute(ctx, req)
	}
	ev.Stage = domain.StageDispatched
	ev.Result = &out
	switch {
	case err != nil:
		return domain.OutcomeDispatchError, err.Error()
	case !out.Success:
		return domain.OutcomeDispatchError, out.Error
	default:
		return domain.OutcomeDispatchSuccess, ""
	}
}

// accept consults the dedup window, switching to the local fallback when
// the primary window cannot answer. Primary acceptances are copied into the
// fallback so a later outage still sees them.
func (c *Coordinator) accept(ctx context.Context, key domain.DedupKey, at time.Time) bool {
	ok, err := c.deps.Dedup.ShouldAccept(ctx, key, at)
	if err == nil {
		if ok && c.deps.Fallback != nil {
			c.deps.Fallback.Record(key, at)
		}
		return ok
	}
	c.logger.WarnContext(ctx, "dedup window unavailable, using local window",
		slog.String("key", key.String()),
		slog.String("error", err.Error()),
	)
	if c.deps.Fallback == nil {
		return true
	}
	ok, err = c.deps.Fallback.ShouldAccept(ctx, key, at)
	return err != nil || ok
}

func (c *Coordinator) request(sig *domain.Signal) (domain.OrderRequest, error) {
	if sig.Kind.IsClose() {
		return domain.OrderRequest{
			Action:  domain.OrderActionClose,
			Symbol:  sig.Symbol,
			Side:    sig.Kind.Side(),
			Comment: c.cfg.Comment,
		}, nil
	}
	lot, ok := c.cfg.LotSizes[strings.ToUpper(sig.Symbol)]
	if !ok || !lot.IsPositive() {
		return domain.OrderRequest{}, fmt.Errorf("no lot size configured for %s", sig.Symbol)
	}
	return domain.OrderRequest{
		Action:     domain.OrderActionOpen,
		Symbol:     sig.Symbol,
		Side:       sig.Kind.Side(),
		Volume:     lot,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Comment:    c.cfg.Comment,
	}, nil
}

// emit hands ev to the sink. A failing sink is logged and otherwise ignored.
func (c *Coordinator) emit(ctx context.Context, ev domain.PipelineEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event sink failed", slog.String("event_id", ev.ID), slog.Any("panic", r))
		}
	}()
	c.deps.Sink.PipelineEvent(ctx, ev)
}
