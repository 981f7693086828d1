package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open position reported by the trading terminal.
type Position struct {
	Ticket     int64           `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Magic      int64           `json:"magic"`
	OpenedAt   time.Time       `json:"opened_at"`
}
