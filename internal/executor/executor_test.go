package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/alertbridge/internal/domain"
	"github.com/alanyoungcy/alertbridge/internal/logging"
	"github.com/alanyoungcy/alertbridge/internal/terminal"
)

// scriptedTerminal wraps a paper terminal and lets tests inject connection
// failures and call errors.
type scriptedTerminal struct {
	*terminal.PaperTerminal

	connects     atomic.Int32
	places       atomic.Int32
	failConnects int32         // first n Connect calls fail
	connectGate  chan struct{} // when set, Connect waits on it
	placeErr     func(n int32) error
	placeOutcome *domain.OrderOutcome
	onPlace      func(ctx context.Context)
}

func newScripted() *scriptedTerminal {
	return &scriptedTerminal{PaperTerminal: terminal.NewPaperTerminal(123456)}
}

func (s *scriptedTerminal) Connect(ctx context.Context, creds terminal.Credentials) error {
	n := s.connects.Add(1)
	if s.connectGate != nil {
		select {
		case <-s.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= s.failConnects {
		return errors.New("dial tcp 127.0.0.1:8765: connection refused")
	}
	return s.PaperTerminal.Connect(ctx, creds)
}

func (s *scriptedTerminal) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	n := s.places.Add(1)
	if s.onPlace != nil {
		s.onPlace(ctx)
	}
	if s.placeErr != nil {
		if err := s.placeErr(n); err != nil {
			return domain.OrderOutcome{}, err
		}
	}
	if s.placeOutcome != nil {
		return *s.placeOutcome, nil
	}
	return s.PaperTerminal.PlaceMarketOrder(ctx, req)
}

// recordingHandler keeps every record logged through it.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) atLevel(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var msgs []string
	for _, r := range h.records {
		if r.Level == level {
			msgs = append(msgs, r.Message)
		}
	}
	return msgs
}

type fixture struct {
	term   *scriptedTerminal
	exec   *Executor
	logs   *recordingHandler
	sleeps []time.Duration
	events []domain.ConnectionEvent
	mu     sync.Mutex
}

func newFixture(t *testing.T, term *scriptedTerminal) *fixture {
	t.Helper()
	f := &fixture{term: term, logs: &recordingHandler{}}
	f.exec = NewExecutor(term, terminal.Credentials{Login: 1}, DefaultRetryPolicy(), slog.New(f.logs))
	f.exec.sleep = func(ctx context.Context, d time.Duration) error {
		f.mu.Lock()
		f.sleeps = append(f.sleeps, d)
		f.mu.Unlock()
		return ctx.Err()
	}
	f.exec.OnConnectionEvent(func(ev domain.ConnectionEvent) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	return f
}

func openLong(symbol string) domain.OrderRequest {
	sl := decimal.RequireFromString("1920.50")
	tp := decimal.RequireFromString("1950.00")
	return domain.OrderRequest{
		Action:     domain.OrderActionOpen,
		Symbol:     symbol,
		Side:       domain.SideLong,
		Volume:     decimal.RequireFromString("0.01"),
		StopLoss:   &sl,
		TakeProfit: &tp,
	}
}

func TestExecuteConnectsInline(t *testing.T) {
	f := newFixture(t, newScripted())

	out, err := f.exec.Execute(context.Background(), openLong("XAUUSD"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.NotZero(t, out.Ticket)
	assert.Equal(t, int32(1), f.term.connects.Load())
	assert.Equal(t, domain.StateConnected, f.exec.Status().State)

	require.Len(t, f.events, 2)
	assert.Equal(t, domain.StateDisconnected, f.events[0].From)
	assert.Equal(t, domain.StateConnecting, f.events[0].To)
	assert.Equal(t, domain.StateConnected, f.events[1].To)

	orders := f.term.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "1920.5", orders[0].StopLoss.String())
	assert.Equal(t, "1950", orders[0].TakeProfit.String())
}

func TestExecuteRecoversAfterTransientFailures(t *testing.T) {
	term := newScripted()
	term.failConnects = 3
	f := newFixture(t, term)

	out, err := f.exec.Execute(context.Background(), openLong("XAUUSD"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, int32(4), term.connects.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, f.sleeps)
	assert.Empty(t, f.logs.atLevel(logging.LevelCritical))
}

func TestExecuteOutageAfterTenAttempts(t *testing.T) {
	term := newScripted()
	term.failConnects = 1000
	f := newFixture(t, term)

	out, err := f.exec.Execute(context.Background(), openLong("XAUUSD"))
	require.ErrorIs(t, err, domain.ErrOutage)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "connection refused")

	assert.Equal(t, int32(10), term.connects.Load())
	assert.Len(t, f.sleeps, 9)
	for _, d := range f.sleeps {
		assert.Equal(t, 5*time.Second, d)
	}
	assert.Equal(t, int32(0), term.places.Load())
	assert.Equal(t, []string{"terminal outage: reconnect attempts exhausted"}, f.logs.atLevel(logging.LevelCritical))

	st := f.exec.Status()
	assert.Equal(t, domain.StateDisconnected, st.State)
	assert.Equal(t, 1, st.Outages)
	assert.Contains(t, st.LastError, "connection refused")

	// The next call starts a fresh outage budget.
	term.failConnects = 0
	out, err = f.exec.Execute(context.Background(), openLong("XAUUSD"))
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestReconnectSharedBetweenCallers(t *testing.T) {
	term := newScripted()
	term.connectGate = make(chan struct{})
	f := newFixture(t, term)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]domain.OrderOutcome, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.exec.Execute(context.Background(), openLong("XAUUSD"))
		}()
	}

	require.Eventually(t, func() bool { return term.connects.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(term.connectGate)
	wg.Wait()

	assert.Equal(t, int32(1), term.connects.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Success)
	}
	assert.Len(t, term.Orders(), callers)
}

func TestRejectionIsNotRetried(t *testing.T) {
	term := newScripted()
	term.placeOutcome = &domain.OrderOutcome{Success: false, Error: "rejected by terminal: retcode 10016: invalid stops"}
	f := newFixture(t, term)

	out, err := f.exec.Execute(context.Background(), openLong("XAUUSD"))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "invalid stops")
	assert.Equal(t, int32(1), term.places.Load())
	assert.Equal(t, []string{"market order rejected"}, f.logs.atLevel(slog.LevelWarn))
}

func TestNotConnectedIsResentAfterReconnect(t *testing.T) {
	term := newScripted()
	term.placeErr = func(n int32) error {
		if n == 1 {
			return domain.ErrNotConnected
		}
		return nil
	}
	f := newFixture(t, term)
	require.NoError(t, f.exec.Connect(context.Background()))
	term.Disconnect()

	out, err := f.exec.Execute(context.Background(), openLong("XAUUSD"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, int32(2), term.places.Load())
	assert.Equal(t, int32(2), term.connects.Load())
}

func TestConnectionLostIsNotResent(t *testing.T) {
	term := newScripted()
	term.placeErr = func(int32) error { return domain.ErrConnectionLost }
	f := newFixture(t, term)

	out, err := f.exec.Execute(context.Background(), openLong("XAUUSD"))
	require.ErrorIs(t, err, domain.ErrConnectionLost)
	assert.False(t, out.Success)
	assert.Equal(t, int32(1), term.places.Load())
	assert.Equal(t, domain.StateDisconnected, f.exec.Status().State)
}

func TestInvalidRequestNeverReachesTerminal(t *testing.T) {
	term := newScripted()
	f := newFixture(t, term)

	req := openLong("XAUUSD")
	req.Volume = decimal.Zero
	out, err := f.exec.Execute(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.False(t, out.Success)
	assert.Equal(t, int32(0), term.connects.Load())
}

func TestCloseAllWithNoPositionsIsNoop(t *testing.T) {
	f := newFixture(t, newScripted())

	out, err := f.exec.CloseAll(context.Background(), "XAUUSD", domain.SideLong)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Closed)
	assert.Empty(t, f.term.ClosedTickets())
	assert.Empty(t, f.term.Orders())
}

func TestCloseAllOnlyClosesRequestedSide(t *testing.T) {
	term := newScripted()
	f := newFixture(t, term)
	long1 := term.Seed(domain.Position{Symbol: "XAUUSD", Side: domain.SideLong})
	short := term.Seed(domain.Position{Symbol: "XAUUSD", Side: domain.SideShort})
	long2 := term.Seed(domain.Position{Symbol: "XAUUSD", Side: domain.SideLong})
	other := term.Seed(domain.Position{Symbol: "EURUSD", Side: domain.SideLong})

	out, err := f.exec.CloseAll(context.Background(), "XAUUSD", domain.SideLong)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, []int64{long1, long2}, out.Closed)
	assert.Equal(t, []int64{long1, long2}, term.ClosedTickets())

	require.NoError(t, term.Connect(context.Background(), terminal.Credentials{}))
	left, err := term.ListOpenPositions(context.Background(), "XAUUSD")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, short, left[0].Ticket)

	eur, err := term.ListOpenPositions(context.Background(), "EURUSD")
	require.NoError(t, err)
	require.Len(t, eur, 1)
	assert.Equal(t, other, eur[0].Ticket)
}

func TestCancelledDuringBackoff(t *testing.T) {
	term := newScripted()
	term.failConnects = 1000
	f := newFixture(t, term)

	ctx, cancel := context.WithCancel(context.Background())
	f.exec.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.exec.Execute(ctx, openLong("XAUUSD"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), term.connects.Load())
	assert.Empty(t, f.logs.atLevel(logging.LevelCritical))
}

func TestShutdownDoesNotAbandonSentOrder(t *testing.T) {
	term := newScripted()
	f := newFixture(t, term)

	ctx, cancel := context.WithCancel(context.Background())
	var seen error
	term.onPlace = func(callCtx context.Context) {
		cancel()
		seen = callCtx.Err()
	}

	out, err := f.exec.Execute(ctx, openLong("XAUUSD"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.NoError(t, seen, "terminal call must not observe shutdown")
	assert.Equal(t, int32(1), term.places.Load())
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, 10, p.MaxAttempts)
	assert.Equal(t, 5*time.Second, p.Delay)
	assert.Equal(t, 45*time.Second, p.Budget())
}
