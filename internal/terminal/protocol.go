package terminal

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Bridge method names.
const (
	methodLogin         = "login"
	methodOrderSend     = "order_send"
	methodPositionsGet  = "positions_get"
	methodPositionClose = "position_close"
)

// Trade server return codes treated as success (MQL5 TRADE_RETCODE_*).
const (
	RetcodePlaced = 10008
	RetcodeDone   = 10009
)

// Position types as reported by the terminal.
const (
	positionTypeBuy  = 0
	positionTypeSell = 1
)

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}

type loginParams struct {
	Login    int64  `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

type orderSendParams struct {
	Symbol    string           `json:"symbol"`
	Type      string           `json:"type"` // "buy" or "sell"
	Volume    decimal.Decimal  `json:"volume"`
	SL        *decimal.Decimal `json:"sl,omitempty"`
	TP        *decimal.Decimal `json:"tp,omitempty"`
	Deviation int              `json:"deviation"`
	Magic     int64            `json:"magic"`
	Comment   string           `json:"comment,omitempty"`
	Filling   string           `json:"filling"`
}

type positionsGetParams struct {
	Symbol string `json:"symbol"`
}

type positionCloseParams struct {
	Ticket    int64  `json:"ticket"`
	Deviation int    `json:"deviation"`
	Magic     int64  `json:"magic"`
	Comment   string `json:"comment,omitempty"`
}

type tradeResult struct {
	Retcode int    `json:"retcode"`
	Order   int64  `json:"order"`
	Deal    int64  `json:"deal"`
	Comment string `json:"comment"`
}

func (r tradeResult) ok() bool {
	return r.Retcode == RetcodeDone || r.Retcode == RetcodePlaced
}

type wirePosition struct {
	Ticket    int64           `json:"ticket"`
	Symbol    string          `json:"symbol"`
	Type      int             `json:"type"`
	Volume    decimal.Decimal `json:"volume"`
	PriceOpen decimal.Decimal `json:"price_open"`
	SL        decimal.Decimal `json:"sl"`
	TP        decimal.Decimal `json:"tp"`
	Magic     int64           `json:"magic"`
	Time      int64           `json:"time"` // unix seconds
}
