package wsapi

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Side is the order side as the WS-API spells it.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the Binance order type.
type OrderType string

const (
	TypeMarket          OrderType = "MARKET"
	TypeLimit           OrderType = "LIMIT"
	TypeLimitMaker      OrderType = "LIMIT_MAKER"
	TypeStopLoss        OrderType = "STOP_LOSS"
	TypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	TypeTakeProfit      OrderType = "TAKE_PROFIT"
	TypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

func (t OrderType) needsPrice() bool {
	switch t {
	case TypeLimit, TypeLimitMaker, TypeStopLossLimit, TypeTakeProfitLimit:
		return true
	}
	return false
}

func (t OrderType) valid() bool {
	switch t {
	case TypeMarket, TypeLimit, TypeLimitMaker, TypeStopLoss, TypeStopLossLimit, TypeTakeProfit, TypeTakeProfitLimit:
		return true
	}
	return false
}

// TimeInForce is how long an order stays on the book.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

// Order is a new order for order.place.
type Order struct {
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Price         apd.Decimal
	Quantity      apd.Decimal
	StopPrice     apd.Decimal
	ClientOrderID string
}

func (o *Order) params() map[string]any {
	p := map[string]any{
		"symbol":   o.Symbol,
		"side":     string(o.Side),
		"type":     string(o.Type),
		"quantity": o.Quantity.String(),
	}
	if !o.Price.IsZero() {
		p["price"] = o.Price.String()
	}
	if !o.StopPrice.IsZero() {
		p["stopPrice"] = o.StopPrice.String()
	}
	if o.TimeInForce != "" {
		p["timeInForce"] = string(o.TimeInForce)
	} else if o.Type.needsPrice() && o.Type != TypeLimitMaker {
		p["timeInForce"] = string(GTC)
	}
	if o.ClientOrderID != "" {
		p["newClientOrderId"] = o.ClientOrderID
	}
	return p
}

// OrderBuilder assembles an Order. The first error sticks and is returned by Build.
//
//	order, err := wsapi.NewOrderBuilder("BTCUSDT").
//	    Buy().
//	    Limit().
//	    Price("50000").
//	    Quantity("0.001").
//	    Build()
type OrderBuilder struct {
	order *Order
	err   error
}

func NewOrderBuilder(symbol string) *OrderBuilder {
	return &OrderBuilder{order: &Order{Symbol: symbol}}
}

func (b *OrderBuilder) Side(side Side) *OrderBuilder {
	if b.err == nil {
		b.order.Side = side
	}
	return b
}

func (b *OrderBuilder) Buy() *OrderBuilder  { return b.Side(SideBuy) }
func (b *OrderBuilder) Sell() *OrderBuilder { return b.Side(SideSell) }

func (b *OrderBuilder) Type(t OrderType) *OrderBuilder {
	if b.err == nil {
		b.order.Type = t
	}
	return b
}

func (b *OrderBuilder) Market() *OrderBuilder { return b.Type(TypeMarket) }
func (b *OrderBuilder) Limit() *OrderBuilder  { return b.Type(TypeLimit) }

// Price parses price as a decimal string.
func (b *OrderBuilder) Price(price string) *OrderBuilder {
	return b.decimal(&b.order.Price, "price", price)
}

func (b *OrderBuilder) PriceDecimal(price apd.Decimal) *OrderBuilder {
	if b.err == nil {
		b.order.Price.Set(&price)
	}
	return b
}

// Quantity parses qty as a decimal string.
func (b *OrderBuilder) Quantity(qty string) *OrderBuilder {
	return b.decimal(&b.order.Quantity, "quantity", qty)
}

func (b *OrderBuilder) QuantityDecimal(qty apd.Decimal) *OrderBuilder {
	if b.err == nil {
		b.order.Quantity.Set(&qty)
	}
	return b
}

func (b *OrderBuilder) StopPrice(price string) *OrderBuilder {
	return b.decimal(&b.order.StopPrice, "stop price", price)
}

func (b *OrderBuilder) TimeInForce(tif TimeInForce) *OrderBuilder {
	if b.err == nil {
		b.order.TimeInForce = tif
	}
	return b
}

func (b *OrderBuilder) GTC() *OrderBuilder { return b.TimeInForce(GTC) }
func (b *OrderBuilder) IOC() *OrderBuilder { return b.TimeInForce(IOC) }
func (b *OrderBuilder) FOK() *OrderBuilder { return b.TimeInForce(FOK) }

func (b *OrderBuilder) ClientOrderID(id string) *OrderBuilder {
	if b.err == nil {
		b.order.ClientOrderID = id
	}
	return b
}

func (b *OrderBuilder) decimal(dst *apd.Decimal, field, value string) *OrderBuilder {
	if b.err != nil {
		return b
	}
	if _, _, err := dst.SetString(value); err != nil {
		b.err = fmt.Errorf("parse %s: %w", field, err)
	}
	return b
}

// Build validates and returns the order.
func (b *OrderBuilder) Build() (*Order, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := validateOrder(b.order); err != nil {
		return nil, err
	}
	return b.order, nil
}

func validateOrder(o *Order) error {
	if o.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("invalid order side %q", o.Side)
	}
	if !o.Type.valid() {
		return fmt.Errorf("invalid order type %q", o.Type)
	}
	if o.Quantity.IsZero() || o.Quantity.Negative {
		return fmt.Errorf("quantity must be positive")
	}
	if o.Type.needsPrice() && (o.Price.IsZero() || o.Price.Negative) {
		return fmt.Errorf("price must be positive for %s orders", o.Type)
	}
	return nil
}
