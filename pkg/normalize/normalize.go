// Package normalize turns decoded exchange frames into typed events with
// exact decimal prices and quantities.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
)

// Normalizer post-processes the JSON-decoded form of a frame.
type Normalizer interface {
	Normalize(name exchange.Name, data any) (any, error)
}

// Func adapts a function to the Normalizer interface.
type Func func(name exchange.Name, data any) (any, error)

func (f Func) Normalize(name exchange.Name, data any) (any, error) {
	return f(name, data)
}

// Default normalizes the public market events of the CEX exchanges. Frames
// it does not recognize are returned unchanged.
type Default struct{}

// New returns the default normalizer.
func New() *Default {
	return &Default{}
}

// Normalize implements Normalizer. Combined-stream envelopes are unwrapped and
// their stream name is kept as StreamType; arrays are normalized element-wise.
func (d *Default) Normalize(name exchange.Name, data any) (any, error) {
	switch v := data.(type) {
	case []any:
		out := make([]any, 0, len(v))
		for i, item := range v {
			n, err := d.Normalize(name, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, n)
		}
		return out, nil
	case map[string]any:
		return d.object(v)
	default:
		return data, nil
	}
}

func (d *Default) object(m map[string]any) (any, error) {
	if stream, ok := m["stream"].(string); ok {
		if inner, ok := m["data"]; ok {
			return d.envelope(stream, inner)
		}
	}
	if _, ok := m["result"]; ok {
		if id, ok := m["id"]; ok {
			return Result{ID: id, Result: m["result"]}, nil
		}
	}
	return d.event(m, "")
}

func (d *Default) envelope(stream string, inner any) (any, error) {
	switch v := inner.(type) {
	case map[string]any:
		return d.event(v, stream)
	case []any:
		out := make([]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				out = append(out, item)
				continue
			}
			n, err := d.event(m, stream)
			if err != nil {
				return nil, fmt.Errorf("%s element %d: %w", stream, i, err)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return inner, nil
	}
}

func (d *Default) event(m map[string]any, stream string) (any, error) {
	eventType, _ := m["e"].(string)
	p := parser{m: m}
	base := Event{
		StreamType: stream,
		EventType:  eventType,
		EventTime:  p.millis("E"),
		Symbol:     p.text("s"),
	}

	var out any
	switch eventType {
	case "trade":
		out = Trade{
			Event:         base,
			TradeID:       p.integer("t"),
			Price:         p.dec("p"),
			Quantity:      p.dec("q"),
			TradeTime:     p.millis("T"),
			IsMarketMaker: p.flag("m"),
		}
	case "aggTrade":
		out = AggTrade{
			Event:         base,
			AggTradeID:    p.integer("a"),
			FirstTradeID:  p.integer("f"),
			LastTradeID:   p.integer("l"),
			Price:         p.dec("p"),
			Quantity:      p.dec("q"),
			TradeTime:     p.millis("T"),
			IsMarketMaker: p.flag("m"),
		}
	case "kline":
		k, ok := m["k"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("kline event without k object")
		}
		kp := parser{m: k}
		out = Kline{
			Event:       base,
			Interval:    kp.text("i"),
			StartTime:   kp.millis("t"),
			CloseTime:   kp.millis("T"),
			Open:        kp.dec("o"),
			High:        kp.dec("h"),
			Low:         kp.dec("l"),
			Close:       kp.dec("c"),
			Volume:      kp.dec("v"),
			QuoteVolume: kp.dec("q"),
			NumTrades:   kp.integer("n"),
			IsClosed:    kp.flag("x"),
		}
		p.err = kp.err
	case "24hrTicker":
		out = Ticker{
			Event:              base,
			PriceChange:        p.dec("p"),
			PriceChangePercent: p.dec("P"),
			WeightedAverage:    p.dec("w"),
			Last:               p.dec("c"),
			LastQuantity:       p.dec("Q"),
			Bid:                p.dec("b"),
			BidQuantity:        p.dec("B"),
			Ask:                p.dec("a"),
			AskQuantity:        p.dec("A"),
			Open:               p.dec("o"),
			High:               p.dec("h"),
			Low:                p.dec("l"),
			Volume:             p.dec("v"),
			QuoteVolume:        p.dec("q"),
			NumTrades:          p.integer("n"),
		}
	case "24hrMiniTicker":
		out = MiniTicker{
			Event:       base,
			Close:       p.dec("c"),
			Open:        p.dec("o"),
			High:        p.dec("h"),
			Low:         p.dec("l"),
			Volume:      p.dec("v"),
			QuoteVolume: p.dec("q"),
		}
	case "depthUpdate":
		out = DepthUpdate{
			Event:         base,
			FirstUpdateID: p.integer("U"),
			FinalUpdateID: p.integer("u"),
			Bids:          p.levels("b"),
			Asks:          p.levels("a"),
		}
	case "bookTicker":
		out = p.bookTicker(base)
	case "":
		switch {
		case has(m, "lastUpdateId") && has(m, "bids"):
			base.EventType = "depth"
			base.Symbol = symbolFromStream(stream)
			out = PartialDepth{
				Event:        base,
				LastUpdateID: p.integer("lastUpdateId"),
				Bids:         p.levels("bids"),
				Asks:         p.levels("asks"),
			}
		case has(m, "u") && has(m, "b") && has(m, "a"):
			base.EventType = "bookTicker"
			out = p.bookTicker(base)
		default:
			return m, nil
		}
	default:
		return m, nil
	}

	if p.err != nil {
		return nil, fmt.Errorf("normalize %s: %w", base.EventType, p.err)
	}
	return out, nil
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func symbolFromStream(stream string) string {
	if i := strings.IndexByte(stream, '@'); i > 0 {
		return strings.ToUpper(stream[:i])
	}
	return ""
}

// parser reads typed fields out of a decoded object and keeps the first error.
type parser struct {
	m   map[string]any
	err error
}

func (p *parser) text(key string) string {
	s, _ := p.m[key].(string)
	return s
}

func (p *parser) flag(key string) bool {
	b, _ := p.m[key].(bool)
	return b
}

func (p *parser) integer(key string) int64 {
	switch v := p.m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (p *parser) millis(key string) time.Time {
	ms := p.integer(key)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (p *parser) dec(key string) apd.Decimal {
	var d apd.Decimal
	if err := parseDecimalFromAny(&d, p.m[key]); err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
	}
	return d
}

func (p *parser) levels(key string) []Level {
	raw, _ := p.m[key].([]any)
	out := make([]Level, 0, len(raw))
	for _, item := range raw {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		var l Level
		if err := parseDecimalFromAny(&l.Price, pair[0]); err != nil {
			p.fail(key, err)
			continue
		}
		if err := parseDecimalFromAny(&l.Quantity, pair[1]); err != nil {
			p.fail(key, err)
			continue
		}
		out = append(out, l)
	}
	return out
}

func (p *parser) bookTicker(base Event) BookTicker {
	return BookTicker{
		Event:       base,
		UpdateID:    p.integer("u"),
		Bid:         p.dec("b"),
		BidQuantity: p.dec("B"),
		Ask:         p.dec("a"),
		AskQuantity: p.dec("A"),
	}
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
	}
}

func parseDecimal(dest *apd.Decimal, s string) error {
	if s == "" {
		*dest = apd.Decimal{}
		return nil
	}
	if _, _, err := apd.BaseContext.SetString(dest, s); err != nil {
		return fmt.Errorf("set decimal from string: %w", err)
	}
	return nil
}

func parseDecimalFromAny(dest *apd.Decimal, val any) error {
	switch v := val.(type) {
	case nil:
		*dest = apd.Decimal{}
		return nil
	case string:
		return parseDecimal(dest, v)
	case float64:
		if _, err := dest.SetFloat64(v); err != nil {
			return fmt.Errorf("set decimal from float: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported decimal type %T", val)
	}
}
