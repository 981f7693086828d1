package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

var observed = time.Date(2024, time.June, 12, 9, 30, 0, 0, time.UTC)

func newParser(t testing.TB, mutate ...func(*Config)) *Parser {
	t.Helper()
	cfg := Config{
		Symbols:          []string{"XAUUSD", "BTCUSD"},
		CloseSymbol:      "XAUUSD",
		CloseLongMarker:  "ロング決済サイン",
		CloseShortMarker: "ショート決済サイン",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseEntry(t *testing.T) {
	p := newParser(t)

	tests := []struct {
		name   string
		line   string
		kind   domain.SignalKind
		symbol string
		sl, tp string
	}{
		{
			name: "buy with prefix", line: "Ark_BTC Alert: BUY XAUUSD SL:1920.50 TP:1950.00",
			kind: domain.SignalOpenLong, symbol: "XAUUSD", sl: "1920.50", tp: "1950.00",
		},
		{
			name: "sell", line: "Ark_BTC SELL XAUUSD SL:1960.00 TP:1930.25",
			kind: domain.SignalOpenShort, symbol: "XAUUSD", sl: "1960.00", tp: "1930.25",
		},
		{
			name: "no prefix", line: "BUY BTCUSD SL:60000 TP:65000",
			kind: domain.SignalOpenLong, symbol: "BTCUSD", sl: "60000", tp: "65000",
		},
		{
			name: "mt4 alert log layout", line: "12:00:01.123\tArk_BTC XAUUSD,M5: Alert: BUY XAUUSD SL:2300.1 TP:2350.9",
			kind: domain.SignalOpenLong, symbol: "XAUUSD", sl: "2300.1", tp: "2350.9",
		},
		{
			name: "lower case tokens", line: "alert: buy xauusd sl: 1920.5 tp: 1950",
			kind: domain.SignalOpenLong, symbol: "XAUUSD", sl: "1920.5", tp: "1950",
		},
		{
			name: "identifier containing an action word", line: "Buy zone bot: SELL XAUUSD SL:1960.00 TP:1920.00",
			kind: domain.SignalOpenShort, symbol: "XAUUSD", sl: "1960.00", tp: "1920.00",
		},
		{
			name: "action words back to back", line: "SELL BUY XAUUSD SL:1920 TP:1950",
			kind: domain.SignalOpenLong, symbol: "XAUUSD", sl: "1920", tp: "1950",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.line, observed)
			require.True(t, res.OK(), res.Reason)
			sig := res.Signal
			assert.Equal(t, tt.kind, sig.Kind)
			assert.Equal(t, tt.symbol, sig.Symbol)
			require.NotNil(t, sig.StopLoss)
			require.NotNil(t, sig.TakeProfit)
			assert.True(t, dec(tt.sl).Equal(*sig.StopLoss), "sl %s", sig.StopLoss)
			assert.True(t, dec(tt.tp).Equal(*sig.TakeProfit), "tp %s", sig.TakeProfit)
			assert.Nil(t, sig.ReferencePrice)
			assert.Equal(t, observed, sig.ObservedAt)
		})
	}
}

func TestParseClose(t *testing.T) {
	p := newParser(t)

	res := p.Parse("ロング決済サイン at price: 2650.50", observed)
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, domain.SignalCloseLong, res.Signal.Kind)
	assert.Equal(t, "XAUUSD", res.Signal.Symbol)
	require.NotNil(t, res.Signal.ReferencePrice)
	assert.True(t, dec("2650.50").Equal(*res.Signal.ReferencePrice))
	assert.Nil(t, res.Signal.StopLoss)
	assert.Nil(t, res.Signal.TakeProfit)

	res = p.Parse("Ark_BTC ショート決済サイン at price: 2640", observed)
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, domain.SignalCloseShort, res.Signal.Kind)
}

func TestParseRejects(t *testing.T) {
	p := newParser(t)

	tests := []struct {
		name      string
		line      string
		malformed bool
	}{
		{name: "empty", line: ""},
		{name: "chatter", line: "Ark_BTC initialized"},
		{name: "disabled symbol", line: "BUY EURUSD SL:1.07 TP:1.09"},
		{name: "action inside word", line: "BESTSELLER XAUUSD SL:1 TP:2"},
		{name: "action word without enabled symbol", line: "Buy zone bot: SELL EURUSD SL:1.09 TP:1.07"},
		{name: "close without direction", line: "決済サイン at price: 2650.50"},
		{name: "missing tp", line: "BUY XAUUSD SL:1920.50", malformed: true},
		{name: "missing sl", line: "BUY XAUUSD TP:1950.00", malformed: true},
		{name: "non numeric sl", line: "BUY XAUUSD SL:abc TP:1950.00", malformed: true},
		{name: "empty tp", line: "BUY XAUUSD SL:1920 TP:", malformed: true},
		{name: "negative sl", line: "BUY XAUUSD SL:-1 TP:1950", malformed: true},
		{name: "inverted long", line: "BUY XAUUSD SL:1960 TP:1950", malformed: true},
		{name: "inverted short", line: "SELL XAUUSD SL:1900 TP:1950", malformed: true},
		{name: "close without at", line: "ロング決済サイン price: 2650.50", malformed: true},
		{name: "close missing price", line: "ロング決済サイン at price:", malformed: true},
		{name: "close bad price", line: "ロング決済サイン at price: n/a", malformed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.line, observed)
			assert.False(t, res.OK())
			assert.Nil(t, res.Signal)
			assert.NotEmpty(t, res.Reason)
			assert.Equal(t, tt.malformed, res.Malformed, res.Reason)
		})
	}
}

func TestParseRequiredPrefix(t *testing.T) {
	p := newParser(t, func(c *Config) { c.Prefix = "Ark_BTC" })

	assert.True(t, p.Parse("Ark_BTC Alert: BUY XAUUSD SL:1920.50 TP:1950.00", observed).OK())
	assert.False(t, p.Parse("BUY XAUUSD SL:1920.50 TP:1950.00", observed).OK())
	assert.False(t, p.Parse("BUY XAUUSD SL:1920.50 TP:1950.00 Ark_BTC", observed).OK())
	assert.True(t, p.Parse("Ark_BTC ロング決済サイン at price: 1", observed).OK())
	assert.False(t, p.Parse("ロング決済サイン at price: 1", observed).OK())
}

func TestNewRejectsEmptyMarkers(t *testing.T) {
	_, err := New(Config{Symbols: []string{"XAUUSD"}})
	require.Error(t, err)
}

func FuzzParse(f *testing.F) {
	for _, seed := range []string{
		"Ark_BTC Alert: BUY XAUUSD SL:1920.50 TP:1950.00",
		"SELL XAUUSD SL:1960 TP:1930",
		"ロング決済サイン at price: 2650.50",
		"ショート決済サイン at price: 1e3",
		"BUY XAUUSD SL:1e99999999999 TP:2",
		"BUY  SL: TP:",
		"\x00\xff BUY XAUUSD",
	} {
		f.Add(seed)
	}
	p := newParser(f)

	f.Fuzz(func(t *testing.T, line string) {
		res := p.Parse(line, observed)
		if !res.OK() {
			if res.Reason == "" {
				t.Fatalf("no reason for rejected line %q", line)
			}
			return
		}
		sig := res.Signal
		if (sig.StopLoss == nil) != (sig.TakeProfit == nil) {
			t.Fatalf("unpaired SL/TP for %q", line)
		}
		if sig.Kind.IsOpen() && sig.StopLoss == nil {
			t.Fatalf("open signal without SL/TP for %q", line)
		}
		if sig.Kind.IsClose() && (sig.StopLoss != nil || sig.ReferencePrice == nil) {
			t.Fatalf("close signal shape wrong for %q", line)
		}
	})
}
