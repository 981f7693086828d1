// Package parser turns alert log lines into trading signals.
//
// Two shapes are recognised anywhere in a line:
//
//	BUY XAUUSD SL:1920.50 TP:1950.00
//	ロング決済サイン at price: 2650.50
//
// Anything may precede the action token or close marker.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// Config describes the symbols and markers the parser accepts.
type Config struct {
	// Symbols are the enabled symbol names. Matching is case-insensitive and
	// the configured spelling is used in the returned Signal.
	Symbols []string
	// CloseSymbol is the symbol close signals apply to.
	CloseSymbol string
	// Prefix, when set, must appear before the action token or close marker.
	Prefix           string
	CloseLongMarker  string
	CloseShortMarker string
}

// Result is the outcome of parsing one line. Signal is nil when the line is
// not a signal; Reason then says why and Malformed marks lines that looked
// like a signal but carried invalid fields.
type Result struct {
	Signal    *domain.Signal
	Reason    string
	Malformed bool
}

// OK reports whether a signal was produced.
func (r Result) OK() bool {
	return r.Signal != nil
}

var (
	entryRe = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9_])(BUY|SELL)\s+([A-Za-z0-9._#]+)`)
	slRe    = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9_])SL\s*:\s*(\S*)`)
	tpRe    = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9_])TP\s*:\s*(\S*)`)
)

// Parser is safe for concurrent use; it holds no mutable state.
type Parser struct {
	symbols     map[string]string
	closeSymbol string
	prefix      string
	longMarker  string
	closeMarker *regexp.Regexp
	closePrice  *regexp.Regexp
}

// New builds a Parser from cfg.
func New(cfg Config) (*Parser, error) {
	if cfg.CloseLongMarker == "" || cfg.CloseShortMarker == "" {
		return nil, fmt.Errorf("parser: close markers must not be empty")
	}
	symbols := make(map[string]string, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[strings.ToUpper(s)] = s
	}

	markers := regexp.QuoteMeta(cfg.CloseLongMarker) + "|" + regexp.QuoteMeta(cfg.CloseShortMarker)
	closeMarker, err := regexp.Compile(`(?i)(` + markers + `)`)
	if err != nil {
		return nil, fmt.Errorf("parser: compile close marker: %w", err)
	}
	closePrice, err := regexp.Compile(`(?i)(` + markers + `)\s*at\s+price\s*:\s*(\S*)`)
	if err != nil {
		return nil, fmt.Errorf("parser: compile close price: %w", err)
	}

	return &Parser{
		symbols:     symbols,
		closeSymbol: cfg.CloseSymbol,
		prefix:      cfg.Prefix,
		longMarker:  strings.ToLower(cfg.CloseLongMarker),
		closeMarker: closeMarker,
		closePrice:  closePrice,
	}, nil
}

// Parse inspects one line. It never panics and never returns a Signal that
// breaks the stop-loss / take-profit pairing rule.
//
// Every BUY/SELL token in the line is tried in order, so an identifier such
// as "Buy zone bot:" ahead of the real signal does not hide it.
func (p *Parser) Parse(text string, observedAt time.Time) Result {
	var rejected Result
	for off := 0; off < len(text); {
		m := entryRe.FindStringSubmatchIndex(text[off:])
		if m == nil {
			break
		}
		for i := range m {
			m[i] += off
		}
		res, matched := p.parseEntry(text, m, observedAt)
		if matched {
			return res
		}
		if rejected.Reason == "" {
			rejected = res
		}
		off = m[3]
	}
	if loc := p.closeMarker.FindStringIndex(text); loc != nil {
		return p.parseClose(text, loc[0], observedAt)
	}
	if rejected.Reason != "" {
		return rejected
	}
	return Result{Reason: "no signal pattern"}
}

// parseEntry reports matched=false when the action token does not start a
// signal for an enabled symbol, so the caller can keep looking.
func (p *Parser) parseEntry(text string, m []int, observedAt time.Time) (res Result, matched bool) {
	if !p.prefixBefore(text, m[2]) {
		return Result{Reason: "signal prefix missing"}, false
	}

	action := strings.ToUpper(text[m[2]:m[3]])
	symbol, ok := p.symbols[strings.ToUpper(text[m[4]:m[5]])]
	if !ok {
		return Result{Reason: fmt.Sprintf("symbol %q not enabled", text[m[4]:m[5]])}, false
	}

	rest := text[m[5]:]
	sl, err := field(slRe, rest, "SL")
	if err != nil {
		return Result{Reason: err.Error(), Malformed: true}, true
	}
	tp, err := field(tpRe, rest, "TP")
	if err != nil {
		return Result{Reason: err.Error(), Malformed: true}, true
	}

	kind := domain.SignalOpenLong
	if action == "SELL" {
		kind = domain.SignalOpenShort
	}
	if kind == domain.SignalOpenLong && !sl.LessThan(tp) {
		return Result{Reason: fmt.Sprintf("long signal with SL %s not below TP %s", sl, tp), Malformed: true}, true
	}
	if kind == domain.SignalOpenShort && !sl.GreaterThan(tp) {
		return Result{Reason: fmt.Sprintf("short signal with SL %s not above TP %s", sl, tp), Malformed: true}, true
	}

	return Result{Signal: &domain.Signal{
		Kind:       kind,
		Symbol:     symbol,
		StopLoss:   &sl,
		TakeProfit: &tp,
		ObservedAt: observedAt,
	}}, true
}

func (p *Parser) parseClose(text string, at int, observedAt time.Time) Result {
	if !p.prefixBefore(text, at) {
		return Result{Reason: "signal prefix missing"}
	}
	if p.closeSymbol == "" {
		return Result{Reason: "no close symbol configured"}
	}

	m := p.closePrice.FindStringSubmatch(text)
	if m == nil {
		return Result{Reason: "close marker without \"at price:\" field", Malformed: true}
	}
	price, err := positive(m[2], "price")
	if err != nil {
		return Result{Reason: err.Error(), Malformed: true}
	}

	kind := domain.SignalCloseShort
	if strings.ToLower(m[1]) == p.longMarker {
		kind = domain.SignalCloseLong
	}
	return Result{Signal: &domain.Signal{
		Kind:           kind,
		Symbol:         p.closeSymbol,
		ReferencePrice: &price,
		ObservedAt:     observedAt,
	}}
}

func (p *Parser) prefixBefore(text string, at int) bool {
	if p.prefix == "" {
		return true
	}
	i := strings.Index(text, p.prefix)
	return i >= 0 && i < at
}

func field(re *regexp.Regexp, text, name string) (decimal.Decimal, error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return decimal.Decimal{}, fmt.Errorf("missing %s field", name)
	}
	return positive(m[1], name)
}

func positive(raw, name string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("empty %s value", name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s value %q", name, raw)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%s value %s must be positive", name, d)
	}
	return d, nil
}
