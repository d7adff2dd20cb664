// Package wsapi wraps the common Binance WS-API calls on top of a manager
// WS-API stream.
package wsapi

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/manager"
)

// DefaultTimeout bounds the wait for a response.
const DefaultTimeout = 10 * time.Second

// Requester sends one WS-API request. *manager.Manager implements it.
type Requester interface {
	SendRequest(ctx context.Context, id uuid.UUID, req manager.Request) (core.Frame, error)
}

// Client issues WS-API calls on one stream, or on the manager's one active
// WS-API stream when no stream is set.
type Client struct {
	requester Requester
	streamID  uuid.UUID
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithStream pins the client to a WS-API stream.
func WithStream(id uuid.UUID) Option {
	return func(c *Client) {
		c.streamID = id
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func New(requester Requester, opts ...Option) *Client {
	c := &Client{requester: requester, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimit is one entry of the rateLimits array of a response.
type RateLimit struct {
	RateLimitType string `json:"rateLimitType"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"intervalNum"`
	Limit         int    `json:"limit"`
	Count         int    `json:"count"`
}

// Response is a decoded WS-API answer.
type Response[T any] struct {
	ID         string      `json:"id"`
	Status     int         `json:"status"`
	Result     T           `json:"result"`
	RateLimits []RateLimit `json:"rateLimits"`
}

// OrderResult is the order part of order.place, order.cancel and order.status answers.
type OrderResult struct {
	Symbol            string `json:"symbol"`
	OrderID           int64  `json:"orderId"`
	ClientOrderID     string `json:"clientOrderId"`
	OrigClientOrderID string `json:"origClientOrderId,omitempty"`
	Price             string `json:"price"`
	OrigQty           string `json:"origQty"`
	ExecutedQty       string `json:"executedQty"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	TimeInForce       string `json:"timeInForce"`
	Status            string `json:"status"`
	TransactTime      int64  `json:"transactTime"`
}

// Balance is one asset of an account.status answer.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Account is the account.status answer.
type Account struct {
	CanTrade    bool      `json:"canTrade"`
	CanWithdraw bool      `json:"canWithdraw"`
	CanDeposit  bool      `json:"canDeposit"`
	AccountType string    `json:"accountType"`
	Balances    []Balance `json:"balances"`
}

// OrderRef selects an existing order by exchange id or client id.
type OrderRef struct {
	Symbol            string
	OrderID           int64
	OrigClientOrderID string
}

func (r OrderRef) params() (map[string]any, error) {
	if r.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", core.ErrInvalidConfig)
	}
	p := map[string]any{"symbol": r.Symbol}
	switch {
	case r.OrderID != 0:
		p["orderId"] = r.OrderID
	case r.OrigClientOrderID != "":
		p["origClientOrderId"] = r.OrigClientOrderID
	default:
		return nil, fmt.Errorf("%w: order id or client order id is required", core.ErrInvalidConfig)
	}
	return p, nil
}

// Call sends method with params and returns the raw response frame.
// Exchange error responses come back as *core.ExchangeError.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, signed bool) (core.Frame, error) {
	return c.requester.SendRequest(ctx, c.streamID, manager.Request{
		Method:         method,
		Params:         params,
		Signed:         signed,
		ReturnResponse: true,
		Timeout:        c.timeout,
	})
}

func call[T any](ctx context.Context, c *Client, method string, params map[string]any, signed bool) (*Response[T], error) {
	f, err := c.Call(ctx, method, params, signed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	var resp Response[T]
	if err := sonic.Unmarshal(f.Raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	return &resp, nil
}

// Ping checks the WS-API connection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := call[struct{}](ctx, c, "ping", nil, false)
	return err
}

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	resp, err := call[struct {
		ServerTime int64 `json:"serverTime"`
	}](ctx, c, "time", nil, false)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.Result.ServerTime), nil
}

// PlaceOrder submits order with order.place.
func (c *Client) PlaceOrder(ctx context.Context, order *Order) (*OrderResult, error) {
	if err := validateOrder(order); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}
	resp, err := call[OrderResult](ctx, c, "order.place", order.params(), true)
	if err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// CancelOrder cancels an open order with order.cancel.
func (c *Client) CancelOrder(ctx context.Context, ref OrderRef) (*OrderResult, error) {
	params, err := ref.params()
	if err != nil {
		return nil, err
	}
	resp, err := call[OrderResult](ctx, c, "order.cancel", params, true)
	if err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// GetOrder queries one order with order.status.
func (c *Client) GetOrder(ctx context.Context, ref OrderRef) (*OrderResult, error) {
	params, err := ref.params()
	if err != nil {
		return nil, err
	}
	resp, err := call[OrderResult](ctx, c, "order.status", params, true)
	if err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// GetOpenOrders lists open orders, of every symbol when symbol is empty.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	params := map[string]any{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	resp, err := call[[]OrderResult](ctx, c, "openOrders.status", params, true)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// GetAccountStatus returns the account flags and balances.
func (c *Client) GetAccountStatus(ctx context.Context) (*Account, error) {
	resp, err := call[Account](ctx, c, "account.status", nil, true)
	if err != nil {
		return nil, err
	}
	return &resp.Result, nil
}
