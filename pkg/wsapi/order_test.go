package wsapi

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderBuilder_Build(t *testing.T) {
	tests := []struct {
		name       string
		build      func() (*Order, error)
		errContain string
	}{
		{
			name: "limit buy",
			build: func() (*Order, error) {
				return NewOrderBuilder("BTCUSDT").Buy().Limit().Price("50000.00").Quantity("0.1").GTC().Build()
			},
		},
		{
			name: "market sell",
			build: func() (*Order, error) {
				return NewOrderBuilder("ETHUSDT").Sell().Market().Quantity("1.5").Build()
			},
		},
		{
			name: "decimal price",
			build: func() (*Order, error) {
				var price apd.Decimal
				_, _, _ = price.SetString("50000.50")
				return NewOrderBuilder("BTCUSDT").Buy().Limit().PriceDecimal(price).Quantity("0.1").Build()
			},
		},
		{
			name: "missing symbol",
			build: func() (*Order, error) {
				return NewOrderBuilder("").Buy().Market().Quantity("1").Build()
			},
			errContain: "symbol is required",
		},
		{
			name: "missing side",
			build: func() (*Order, error) {
				return NewOrderBuilder("BTCUSDT").Market().Quantity("1").Build()
			},
			errContain: "invalid order side",
		},
		{
			name: "zero quantity",
			build: func() (*Order, error) {
				return NewOrderBuilder("BTCUSDT").Buy().Market().Quantity("0").Build()
			},
			errContain: "quantity must be positive",
		},
		{
			name: "limit without price",
			build: func() (*Order, error) {
				return NewOrderBuilder("BTCUSDT").Buy().Limit().Quantity("1").Build()
			},
			errContain: "price must be positive",
		},
		{
			name: "bad price string",
			build: func() (*Order, error) {
				return NewOrderBuilder("BTCUSDT").Buy().Limit().Price("abc").Quantity("1").Build()
			},
			errContain: "parse price",
		},
		{
			name: "first error sticks",
			build: func() (*Order, error) {
				return NewOrderBuilder("BTCUSDT").Quantity("x").Price("y").Buy().Build()
			},
			errContain: "parse quantity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := tt.build()
			if tt.errContain != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
				assert.Nil(t, order)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, order)
		})
	}
}

func TestOrder_Params(t *testing.T) {
	order, err := NewOrderBuilder("BTCUSDT").Buy().Limit().Price("50000.10").Quantity("0.001").ClientOrderID("c-1").Build()
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"symbol":           "BTCUSDT",
		"side":             "BUY",
		"type":             "LIMIT",
		"price":            "50000.10",
		"quantity":         "0.001",
		"timeInForce":      "GTC",
		"newClientOrderId": "c-1",
	}, order.params(), "limit orders default to GTC")

	market, err := NewOrderBuilder("BTCUSDT").Sell().Market().Quantity("2").Build()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"symbol": "BTCUSDT", "side": "SELL", "type": "MARKET", "quantity": "2"}, market.params())
}
