package wsapi

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/binancetest"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/manager"
)

type fakeRequester struct {
	reply string
	err   error
	got   []manager.Request
	ids   []uuid.UUID
}

func (f *fakeRequester) SendRequest(_ context.Context, id uuid.UUID, req manager.Request) (core.Frame, error) {
	f.ids = append(f.ids, id)
	f.got = append(f.got, req)
	if f.err != nil {
		return core.Frame{}, f.err
	}
	return core.Frame{Raw: []byte(f.reply)}, nil
}

func TestClient_Requests(t *testing.T) {
	stream := uuid.New()
	tests := []struct {
		name       string
		reply      string
		call       func(*Client) error
		wantMethod string
		wantSigned bool
		wantParams map[string]any
	}{
		{
			name:       "ping",
			reply:      `{"id":"1","status":200,"result":{}}`,
			call:       func(c *Client) error { return c.Ping(context.Background()) },
			wantMethod: "ping",
		},
		{
			name:  "cancel by client id",
			reply: `{"id":"1","status":200,"result":{"symbol":"BTCUSDT","origClientOrderId":"c-1","status":"CANCELED"}}`,
			call: func(c *Client) error {
				res, err := c.CancelOrder(context.Background(), OrderRef{Symbol: "BTCUSDT", OrigClientOrderID: "c-1"})
				if err == nil && res.Status != "CANCELED" {
					t.Errorf("status %q", res.Status)
				}
				return err
			},
			wantMethod: "order.cancel",
			wantSigned: true,
			wantParams: map[string]any{"symbol": "BTCUSDT", "origClientOrderId": "c-1"},
		},
		{
			name:  "order status by id",
			reply: `{"id":"1","status":200,"result":{"symbol":"BTCUSDT","orderId":7,"status":"FILLED"}}`,
			call: func(c *Client) error {
				res, err := c.GetOrder(context.Background(), OrderRef{Symbol: "BTCUSDT", OrderID: 7})
				if err == nil && res.OrderID != 7 {
					t.Errorf("order id %d", res.OrderID)
				}
				return err
			},
			wantMethod: "order.status",
			wantSigned: true,
			wantParams: map[string]any{"symbol": "BTCUSDT", "orderId": int64(7)},
		},
		{
			name:  "open orders of all symbols",
			reply: `{"id":"1","status":200,"result":[{"symbol":"BTCUSDT","orderId":1},{"symbol":"ETHUSDT","orderId":2}]}`,
			call: func(c *Client) error {
				orders, err := c.GetOpenOrders(context.Background(), "")
				if err == nil && len(orders) != 2 {
					t.Errorf("%d orders", len(orders))
				}
				return err
			},
			wantMethod: "openOrders.status",
			wantSigned: true,
			wantParams: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRequester{reply: tt.reply}
			c := New(fake, WithStream(stream), WithTimeout(time.Second))
			require.NoError(t, tt.call(c))

			require.Len(t, fake.got, 1)
			req := fake.got[0]
			assert.Equal(t, stream, fake.ids[0])
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantSigned, req.Signed)
			assert.True(t, req.ReturnResponse)
			assert.Equal(t, time.Second, req.Timeout)
			if tt.wantParams != nil {
				assert.Equal(t, tt.wantParams, req.Params)
			}
		})
	}
}

func TestClient_Errors(t *testing.T) {
	exErr := core.NewExchangeError("binance.com", core.ErrorTypeAuthentication, 401, core.CodeRejectedMBXKey, "rejected")
	c := New(&fakeRequester{err: exErr})

	_, err := c.GetAccountStatus(context.Background())
	assert.ErrorIs(t, err, exErr)
	assert.Contains(t, err.Error(), "account.status")

	_, err = c.CancelOrder(context.Background(), OrderRef{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = c.PlaceOrder(context.Background(), &Order{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	bad := New(&fakeRequester{reply: `not json`})
	assert.Error(t, bad.Ping(context.Background()))
}

func TestClient_AgainstManager(t *testing.T) {
	srv := binancetest.NewServer()
	defer srv.Close()

	cfg := core.DefaultConfig(string(exchange.BinanceCom)).
		WithWebsocketAPIBaseURI(srv.APIURI()).
		WithRestfulBaseURI(srv.RestURI()).
		WithTimeouts(time.Second, time.Second, 200*time.Millisecond)
	cfg.MaxSendPerSecond = 100
	m, err := manager.New(cfg)
	require.NoError(t, err)
	defer func() { _ = m.StopManager(context.Background()) }()

	id, err := m.CreateStream(manager.StreamRequest{API: true, Credentials: core.Credentials{APIKey: "key-0123456789", APISecret: "secret-0123456789"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := m.GetStreamInfo(id)
		return err == nil && info.Status == core.StatusRunning
	}, 3*time.Second, 5*time.Millisecond)

	c := New(m, WithTimeout(3*time.Second))
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	now, err := c.ServerTime(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now, 5*time.Second)

	order, err := NewOrderBuilder("BTCUSDT").Buy().Limit().Price("25000").Quantity("0.01").Build()
	require.NoError(t, err)
	placed, err := c.PlaceOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, int64(1), placed.OrderID)
	assert.Equal(t, "25000", placed.Price)
	assert.Equal(t, "NEW", placed.Status)

	account, err := c.GetAccountStatus(ctx)
	require.NoError(t, err)
	assert.True(t, account.CanTrade)

	_, err = c.Call(ctx, "no.such.method", nil, false)
	var apiErr *core.ExchangeError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -1100, apiErr.Code)
}
