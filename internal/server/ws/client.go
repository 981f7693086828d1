package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// control is a message from a client:
//
//	{"action":"unsubscribe","channels":["connection"]}
//	{"action":"filter","outcomes":["dispatch_error"]}
//
// An empty outcome filter passes every pipeline event.
type control struct {
	Action   string           `json:"action"`
	Channels []string         `json:"channels"`
	Outcomes []domain.Outcome `json:"outcomes"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	channels map[string]bool
	outcomes map[domain.Outcome]bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		channels: map[string]bool{ChannelPipeline: true, ChannelConnection: true},
	}
}

func (c *client) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.channels[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.channels, ch)
		}
	case "filter":
		c.outcomes = make(map[domain.Outcome]bool, len(msg.Outcomes))
		for _, o := range msg.Outcomes {
			c.outcomes[o] = true
		}
	}
}

func (c *client) wants(m message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.channels[m.channel] {
		return false
	}
	if m.channel == ChannelPipeline && len(c.outcomes) > 0 {
		return c.outcomes[m.outcome]
	}
	return true
}

// greet queues the status message and the backlog, oldest first. It runs
// before the client is registered, so nothing else writes to send yet.
func (c *client) greet() {
	var backlog []domain.PipelineEvent
	if c.hub.backlog != nil {
		backlog = c.hub.backlog.Events(replayLimit)
	}
	c.queue(c.hub.encode("bridge_status", map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		"replay":         len(backlog),
	}))
	for i := len(backlog) - 1; i >= 0; i-- {
		c.queue(c.hub.encode(ChannelPipeline, backlog[i]))
	}
}

func (c *client) queue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if err := json.Unmarshal(data, &msg); err != nil || msg.Action == "" {
			continue
		}
		c.apply(msg)
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
