// Package ws streams pipeline and connection events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// Channels a client can subscribe to. New clients get both.
const (
	ChannelPipeline   = "pipeline"
	ChannelConnection = "connection"
)

// replayLimit is how many recent pipeline events a new client receives
// before the live feed.
const replayLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is checked by the CORS and auth middleware in front of us.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Backlog supplies the recent pipeline events, newest first.
type Backlog interface {
	Events(limit int) []domain.PipelineEvent
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type message struct {
	channel string
	outcome domain.Outcome // pipeline messages only
	data    []byte
}

// Hub fans events out to connected clients. It is an events.Sink; sink
// calls never block the pipeline.
type Hub struct {
	mode      string
	backlog   Backlog
	logger    *slog.Logger
	startedAt time.Time
	queue     chan message

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. mode is reported to clients on connect; backlog may
// be nil.
func NewHub(mode string, backlog Backlog, logger *slog.Logger) *Hub {
	return &Hub{
		mode:      mode,
		backlog:   backlog,
		logger:    logger.With(slog.String("component", "ws_hub")),
		startedAt: time.Now().UTC(),
		queue:     make(chan message, 256),
		clients:   make(map[*client]struct{}),
	}
}

func (h *Hub) PipelineEvent(_ context.Context, ev domain.PipelineEvent) {
	h.enqueue(message{channel: ChannelPipeline, outcome: ev.Outcome, data: h.encode(ChannelPipeline, ev)})
}

func (h *Hub) ConnectionEvent(_ context.Context, ev domain.ConnectionEvent) {
	h.enqueue(message{channel: ChannelConnection, data: h.encode(ChannelConnection, ev)})
}

func (h *Hub) encode(kind string, payload any) []byte {
	data, err := json.Marshal(envelope{Type: kind, Payload: payload})
	if err != nil {
		h.logger.Error("encode websocket message failed", slog.String("type", kind), slog.String("error", err.Error()))
		return nil
	}
	return data
}

func (h *Hub) enqueue(m message) {
	if m.data == nil {
		return
	}
	select {
	case h.queue <- m:
	default:
		h.logger.Warn("websocket queue full, dropping event", slog.String("channel", m.channel))
	}
}

// Run delivers queued events until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case m := <-h.queue:
			h.fanOut(m)
		}
	}
}

func (h *Hub) fanOut(m message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(m) {
			continue
		}
		select {
		case c.send <- m.data:
		default:
			h.logger.Warn("websocket client too slow, dropping event", slog.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("websocket client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("websocket client disconnected", slog.Int("clients", len(h.clients)))
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request, sends the bridge status and the recent
// event backlog, then streams live events.
// GET /ws/events
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn)
	c.greet()
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}
