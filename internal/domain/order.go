package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderAction distinguishes opening market orders from close-all requests.
type OrderAction string

const (
	OrderActionOpen  OrderAction = "open"
	OrderActionClose OrderAction = "close"
)

// OrderRequest is derived from an accepted Signal. For opens Side is the side
// to open and Volume is the configured lot size; for closes Side is the side
// of the positions to close and the price fields are empty.
type OrderRequest struct {
	Action     OrderAction      `json:"action"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Volume     decimal.Decimal  `json:"volume"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Comment    string           `json:"comment,omitempty"`
}

// Validate checks the request shape before it is sent anywhere.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if r.Side != SideLong && r.Side != SideShort {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, r.Side)
	}
	if r.Action == OrderActionOpen {
		if !r.Volume.IsPositive() {
			return fmt.Errorf("%w: volume must be positive", ErrInvalidOrder)
		}
		if (r.StopLoss == nil) != (r.TakeProfit == nil) {
			return fmt.Errorf("%w: stop loss and take profit must be set together", ErrInvalidOrder)
		}
	}
	return nil
}

// OrderOutcome is the result of a single executor call.
type OrderOutcome struct {
	Success bool   `json:"success"`
	Ticket  int64  `json:"ticket,omitempty"`
	Error   string `json:"error,omitempty"`

	// Closed lists the tickets closed by a close-all request.
	Closed []int64 `json:"closed,omitempty"`
}

// Failed builds a failure outcome from an error.
func Failed(err error) OrderOutcome {
	return OrderOutcome{Success: false, Error: err.Error()}
}
