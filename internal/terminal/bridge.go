package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the bridge.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the bridge.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the bridge at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// BridgeConfig configures the websocket bridge client and the order fields
// it fills in on every request.
type BridgeConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	Magic            int64
	Deviation        int
	Comment          string
	Filling          string
}

// conn is one live websocket session. done is closed when the session ends.
type conn struct {
	ws   *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (c *conn) finish() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// BridgeClient implements Terminal over the bridge websocket protocol.
type BridgeClient struct {
	cfg    BridgeConfig
	logger *slog.Logger

	mu      sync.Mutex // guards cur and pending
	cur     *conn
	pending map[string]chan response

	writeMu   sync.Mutex
	connected atomic.Bool
	closed    atomic.Bool
}

// NewBridgeClient creates a client. Nothing is dialled until Connect.
func NewBridgeClient(cfg BridgeConfig, logger *slog.Logger) *BridgeClient {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.Filling == "" {
		cfg.Filling = "ioc"
	}
	return &BridgeClient{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "terminal_bridge")),
		pending: make(map[string]chan response),
	}
}

// Connect dials the bridge and logs in. Any previous session is dropped.
func (b *BridgeClient) Connect(ctx context.Context, creds Credentials) error {
	if b.closed.Load() {
		return fmt.Errorf("terminal: connect: %w", domain.ErrClosed)
	}

	b.mu.Lock()
	old := b.cur
	b.mu.Unlock()
	if old != nil {
		b.drop(old, errors.New("reconnecting"))
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: b.cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("terminal: dial %s: %w", b.cfg.URL, err)
	}

	c := &conn{ws: ws, done: make(chan struct{})}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	b.mu.Lock()
	b.cur = c
	b.mu.Unlock()

	go b.readLoop(c)
	go b.pingLoop(c)

	// Login goes through the regular call path, which requires the session
	// to be usable.
	b.connected.Store(true)
	raw, rpcErr, err := b.call(ctx, methodLogin, loginParams{
		Login:    creds.Login,
		Password: creds.Password,
		Server:   creds.Server,
	})
	if err == nil && rpcErr != nil {
		err = rpcErr
	}
	if err == nil {
		var res struct {
			OK bool `json:"ok"`
		}
		if jsonErr := json.Unmarshal(raw, &res); jsonErr != nil {
			err = fmt.Errorf("decode login result: %w", jsonErr)
		} else if !res.OK {
			err = errors.New("login refused")
		}
	}
	if err != nil {
		b.drop(c, err)
		return fmt.Errorf("terminal: login %d@%s: %w", creds.Login, creds.Server, err)
	}

	b.logger.Info("terminal session established",
		slog.String("url", b.cfg.URL),
		slog.Int64("login", creds.Login),
		slog.String("server", creds.Server),
	)
	return nil
}

// IsConnected reports whether a logged-in session is live.
func (b *BridgeClient) IsConnected() bool {
	return b.connected.Load()
}

// PlaceMarketOrder sends a market order. Terminal refusals are returned as
// an unsuccessful outcome with a nil error.
func (b *BridgeClient) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if err := req.Validate(); err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("terminal: order_send: %w", err)
	}
	orderType := "buy"
	if req.Side == domain.SideShort {
		orderType = "sell"
	}
	comment := req.Comment
	if comment == "" {
		comment = b.cfg.Comment
	}
	raw, rpcErr, err := b.call(ctx, methodOrderSend, orderSendParams{
		Symbol:    req.Symbol,
		Type:      orderType,
		Volume:    req.Volume,
		SL:        req.StopLoss,
		TP:        req.TakeProfit,
		Deviation: b.cfg.Deviation,
		Magic:     b.cfg.Magic,
		Comment:   comment,
		Filling:   strings.ToLower(b.cfg.Filling),
	})
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("terminal: order_send %s: %w", req.Symbol, err)
	}
	return tradeOutcome(raw, rpcErr)
}

// ListOpenPositions returns the open positions for symbol.
func (b *BridgeClient) ListOpenPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	raw, rpcErr, err := b.call(ctx, methodPositionsGet, positionsGetParams{Symbol: symbol})
	if err != nil {
		return nil, fmt.Errorf("terminal: positions_get %s: %w", symbol, err)
	}
	if rpcErr != nil {
		return nil, fmt.Errorf("terminal: positions_get %s: %w", symbol, rpcErr)
	}

	var wire []wirePosition
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("terminal: decode positions: %w", err)
	}
	out := make([]domain.Position, 0, len(wire))
	for _, p := range wire {
		side := domain.SideLong
		if p.Type == positionTypeSell {
			side = domain.SideShort
		}
		out = append(out, domain.Position{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Side:       side,
			Volume:     p.Volume,
			OpenPrice:  p.PriceOpen,
			StopLoss:   p.SL,
			TakeProfit: p.TP,
			Magic:      p.Magic,
			OpenedAt:   time.Unix(p.Time, 0).UTC(),
		})
	}
	return out, nil
}

// ClosePosition closes one position at market.
func (b *BridgeClient) ClosePosition(ctx context.Context, ticket int64) (domain.OrderOutcome, error) {
	raw, rpcErr, err := b.call(ctx, methodPositionClose, positionCloseParams{
		Ticket:    ticket,
		Deviation: b.cfg.Deviation,
		Magic:     b.cfg.Magic,
		Comment:   b.cfg.Comment,
	})
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("terminal: position_close %d: %w", ticket, err)
	}
	out, err := tradeOutcome(raw, rpcErr)
	if out.Success && out.Ticket == 0 {
		out.Ticket = ticket
	}
	return out, err
}

// Close ends the session. The client cannot be reused afterwards.
func (b *BridgeClient) Close() error {
	b.closed.Store(true)
	b.mu.Lock()
	c := b.cur
	b.mu.Unlock()
	if c != nil {
		b.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		b.writeMu.Unlock()
		b.drop(c, domain.ErrClosed)
	}
	return nil
}

func tradeOutcome(raw json.RawMessage, rpcErr *rpcError) (domain.OrderOutcome, error) {
	if rpcErr != nil {
		return domain.OrderOutcome{Success: false, Error: rpcErr.Error()}, nil
	}
	var res tradeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.OrderOutcome{Success: false, Error: "undecodable trade result: " + err.Error()}, nil
	}
	if !res.ok() {
		return domain.OrderOutcome{
			Success: false,
			Error:   fmt.Sprintf("%s: retcode %d: %s", domain.ErrRejected, res.Retcode, res.Comment),
		}, nil
	}
	return domain.OrderOutcome{Success: true, Ticket: res.Order}, nil
}

// call sends one request and waits for its response. The returned error
// wraps domain.ErrNotConnected when nothing was written and
// domain.ErrConnectionLost when the session died while waiting.
func (b *BridgeClient) call(ctx context.Context, method string, params any) (json.RawMessage, *rpcError, error) {
	b.mu.Lock()
	c := b.cur
	if c == nil || !b.connected.Load() {
		b.mu.Unlock()
		return nil, nil, domain.ErrNotConnected
	}
	id := uuid.New().String()
	ch := make(chan response, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteJSON(request{ID: id, Method: method, Params: params})
	b.writeMu.Unlock()
	if err != nil {
		b.forget(id)
		b.drop(c, err)
		return nil, nil, fmt.Errorf("%w: write: %v", domain.ErrNotConnected, err)
	}

	select {
	case resp := <-ch:
		return resp.Result, resp.Error, nil
	case <-c.done:
		b.forget(id)
		return nil, nil, domain.ErrConnectionLost
	case <-ctx.Done():
		b.forget(id)
		return nil, nil, ctx.Err()
	}
}

func (b *BridgeClient) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// drop ends c if it is still the current session.
func (b *BridgeClient) drop(c *conn, cause error) {
	b.mu.Lock()
	current := b.cur == c
	if current {
		b.cur = nil
		b.connected.Store(false)
	}
	b.mu.Unlock()

	c.finish()
	if current && !errors.Is(cause, domain.ErrClosed) {
		b.logger.Warn("terminal session lost", slog.String("error", cause.Error()))
	}
}

func (b *BridgeClient) readLoop(c *conn) {
	for {
		var resp response
		if err := c.ws.ReadJSON(&resp); err != nil {
			b.drop(c, fmt.Errorf("read: %w", err))
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if !ok {
			b.logger.Debug("dropping unsolicited bridge message", slog.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

func (b *BridgeClient) pingLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			b.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			b.writeMu.Unlock()
			if err != nil {
				b.drop(c, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
