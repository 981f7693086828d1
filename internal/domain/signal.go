package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SignalKind is the trading intent carried by an alert line.
type SignalKind string

const (
	SignalOpenLong   SignalKind = "open_long"
	SignalOpenShort  SignalKind = "open_short"
	SignalCloseLong  SignalKind = "close_long"
	SignalCloseShort SignalKind = "close_short"
)

// IsOpen reports whether the kind opens a new position.
func (k SignalKind) IsOpen() bool {
	return k == SignalOpenLong || k == SignalOpenShort
}

// IsClose reports whether the kind closes existing positions.
func (k SignalKind) IsClose() bool {
	return k == SignalCloseLong || k == SignalCloseShort
}

// Side returns the position side the kind opens or closes.
func (k SignalKind) Side() Side {
	switch k {
	case SignalOpenShort, SignalCloseShort:
		return SideShort
	default:
		return SideLong
	}
}

// RawLine is one line read from the alert log together with the time it was
// observed.
type RawLine struct {
	Text       string
	ObservedAt time.Time
	Source     string // file path the line was read from
}

// Signal is a parsed trading instruction. Values are never mutated after the
// parser returns them.
//
// StopLoss and TakeProfit are set together for open signals and are nil for
// close signals. ReferencePrice is the advisory price printed on close lines;
// it is never sent to the terminal.
type Signal struct {
	Kind           SignalKind       `json:"kind"`
	Symbol         string           `json:"symbol"`
	StopLoss       *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal `json:"take_profit,omitempty"`
	ReferencePrice *decimal.Decimal `json:"reference_price,omitempty"`
	ObservedAt     time.Time        `json:"observed_at"`
}

// Key returns the deduplication key for the signal.
func (s Signal) Key() DedupKey {
	return DedupKey{Symbol: s.Symbol, Kind: s.Kind}
}

// String renders a short human readable form for logs.
func (s Signal) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Kind, s.Symbol)
	if s.StopLoss != nil && s.TakeProfit != nil {
		fmt.Fprintf(&b, " sl=%s tp=%s", s.StopLoss, s.TakeProfit)
	}
	if s.ReferencePrice != nil {
		fmt.Fprintf(&b, " ref=%s", s.ReferencePrice)
	}
	return b.String()
}

// DedupKey identifies signals that suppress each other inside the
// deduplication window.
type DedupKey struct {
	Symbol string
	Kind   SignalKind
}

// String returns the canonical "SYMBOL:kind" form used as a map or Redis key.
func (k DedupKey) String() string {
	return strings.ToUpper(k.Symbol) + ":" + string(k.Kind)
}
