package terminal

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

func TestPaperTerminalLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewPaperTerminal(42)

	_, err := p.ListOpenPositions(ctx, "XAUUSD")
	require.ErrorIs(t, err, domain.ErrNotConnected)

	require.NoError(t, p.Connect(ctx, Credentials{}))
	assert.True(t, p.IsConnected())

	out, err := p.PlaceMarketOrder(ctx, domain.OrderRequest{
		Action:     domain.OrderActionOpen,
		Symbol:     "XAUUSD",
		Side:       domain.SideLong,
		Volume:     decimal.RequireFromString("0.01"),
		StopLoss:   ptr("1920.5"),
		TakeProfit: ptr("1950"),
	})
	require.NoError(t, err)
	require.True(t, out.Success)

	positions, err := p.ListOpenPositions(ctx, "xauusd")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, out.Ticket, positions[0].Ticket)
	assert.Equal(t, int64(42), positions[0].Magic)
	assert.True(t, positions[0].StopLoss.Equal(decimal.RequireFromString("1920.5")))

	closed, err := p.ClosePosition(ctx, out.Ticket)
	require.NoError(t, err)
	assert.True(t, closed.Success)
	assert.Equal(t, []int64{out.Ticket}, p.ClosedTickets())

	again, err := p.ClosePosition(ctx, out.Ticket)
	require.NoError(t, err)
	assert.False(t, again.Success)

	p.Disconnect()
	_, err = p.PlaceMarketOrder(ctx, domain.OrderRequest{})
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestPaperTerminalInvalidOrder(t *testing.T) {
	ctx := context.Background()
	p := NewPaperTerminal(1)
	require.NoError(t, p.Connect(ctx, Credentials{}))

	out, err := p.PlaceMarketOrder(ctx, domain.OrderRequest{
		Action: domain.OrderActionOpen,
		Symbol: "XAUUSD",
		Side:   domain.SideLong,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "volume must be positive")
	assert.Empty(t, p.Orders())
}

func TestPaperTerminalSeedOrdersByTicket(t *testing.T) {
	ctx := context.Background()
	p := NewPaperTerminal(1)
	require.NoError(t, p.Connect(ctx, Credentials{}))

	p.Seed(domain.Position{Ticket: 9, Symbol: "XAUUSD", Side: domain.SideShort})
	p.Seed(domain.Position{Ticket: 3, Symbol: "XAUUSD", Side: domain.SideLong})
	p.Seed(domain.Position{Ticket: 5, Symbol: "EURUSD", Side: domain.SideLong})

	positions, err := p.ListOpenPositions(ctx, "XAUUSD")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, int64(3), positions[0].Ticket)
	assert.Equal(t, int64(9), positions[1].Ticket)
}
