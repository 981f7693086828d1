package terminal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// PaperTerminal keeps positions in memory and fills every valid order. It is
// used for dry runs (mode = "paper") and as a realistic collaborator in
// tests.
type PaperTerminal struct {
	mu         sync.Mutex
	connected  bool
	nextTicket int64
	positions  map[int64]domain.Position
	orders     []domain.OrderRequest
	closed     []int64
	magic      int64
	now        func() time.Time
}

// NewPaperTerminal creates an empty paper account. Orders are stamped with
// magic like real ones.
func NewPaperTerminal(magic int64) *PaperTerminal {
	return &PaperTerminal{
		nextTicket: 1000,
		positions:  make(map[int64]domain.Position),
		magic:      magic,
		now:        time.Now,
	}
}

// Connect marks the session live.
func (p *PaperTerminal) Connect(ctx context.Context, _ Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect has been called since the last
// Disconnect.
func (p *PaperTerminal) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Disconnect simulates a dropped session.
func (p *PaperTerminal) Disconnect() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// PlaceMarketOrder opens a position for req.
func (p *PaperTerminal) PlaceMarketOrder(_ context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return domain.OrderOutcome{}, domain.ErrNotConnected
	}
	if err := req.Validate(); err != nil {
		return domain.OrderOutcome{Success: false, Error: err.Error()}, nil
	}
	p.orders = append(p.orders, req)

	p.nextTicket++
	pos := domain.Position{
		Ticket:   p.nextTicket,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Volume:   req.Volume,
		Magic:    p.magic,
		OpenedAt: p.now(),
	}
	if req.StopLoss != nil {
		pos.StopLoss = *req.StopLoss
	}
	if req.TakeProfit != nil {
		pos.TakeProfit = *req.TakeProfit
	}
	p.positions[pos.Ticket] = pos
	return domain.OrderOutcome{Success: true, Ticket: pos.Ticket}, nil
}

// ListOpenPositions returns open positions for symbol ordered by ticket.
func (p *PaperTerminal) ListOpenPositions(_ context.Context, symbol string) ([]domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil, domain.ErrNotConnected
	}
	var out []domain.Position
	for _, pos := range p.positions {
		if strings.EqualFold(pos.Symbol, symbol) {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// ClosePosition removes the position with ticket.
func (p *PaperTerminal) ClosePosition(_ context.Context, ticket int64) (domain.OrderOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return domain.OrderOutcome{}, domain.ErrNotConnected
	}
	if _, ok := p.positions[ticket]; !ok {
		return domain.OrderOutcome{Success: false, Error: fmt.Sprintf("position %d: %s", ticket, domain.ErrNotFound)}, nil
	}
	delete(p.positions, ticket)
	p.closed = append(p.closed, ticket)
	return domain.OrderOutcome{Success: true, Ticket: ticket}, nil
}

// Close disconnects.
func (p *PaperTerminal) Close() error {
	p.Disconnect()
	return nil
}

// Seed adds an existing position and returns its ticket.
func (p *PaperTerminal) Seed(pos domain.Position) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos.Ticket == 0 {
		p.nextTicket++
		pos.Ticket = p.nextTicket
	}
	p.positions[pos.Ticket] = pos
	return pos.Ticket
}

// Orders returns every accepted market order in submission order.
func (p *PaperTerminal) Orders() []domain.OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OrderRequest(nil), p.orders...)
}

// ClosedTickets returns closed tickets in close order.
func (p *PaperTerminal) ClosedTickets() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.closed...)
}
