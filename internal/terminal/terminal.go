// Package terminal talks to the MetaTrader terminal that executes orders.
//
// The terminal is reached through a bridge expert advisor that exposes a
// small JSON request/response protocol over a websocket. A paper terminal
// with the same interface keeps positions in memory for dry runs and tests.
package terminal

import (
	"context"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// Credentials identify the trading account.
type Credentials struct {
	Login    int64
	Password string
	Server   string
}

// Terminal is the trading terminal API consumed by the executor.
//
// Errors wrapping domain.ErrNotConnected mean the request was never sent.
// Errors wrapping domain.ErrConnectionLost mean it was sent and the reply was
// lost. A request the terminal received and refused comes back as an
// unsuccessful OrderOutcome with a nil error.
type Terminal interface {
	Connect(ctx context.Context, creds Credentials) error
	IsConnected() bool
	PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error)
	ListOpenPositions(ctx context.Context, symbol string) ([]domain.Position, error)
	ClosePosition(ctx context.Context, ticket int64) (domain.OrderOutcome, error)
	Close() error
}
