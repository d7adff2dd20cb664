package exchange

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

func TestSignHMAC_KnownVector(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"

	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", signHMAC(query, secret))
}

func TestQueryString(t *testing.T) {
	dec, _, err := apd.NewFromString("0.10")
	require.NoError(t, err)

	params := map[string]any{
		"symbol":       "BTCUSDT",
		"quantity":     15.0,
		"price":        dec,
		"timestamp":    int64(1700000000000),
		"newOrderResp": "ACK",
		"signature":    "ignored",
		"test":         true,
		"recvWindow":   5000,
	}

	assert.Equal(t,
		"newOrderResp=ACK&price=0.10&quantity=15&recvWindow=5000&symbol=BTCUSDT&test=true&timestamp=1700000000000",
		QueryString(params))
}

func TestSign_DeterministicAndOrderIndependent(t *testing.T) {
	a := map[string]any{}
	a["symbol"] = "BNBBTC"
	a["side"] = "SELL"
	a["timestamp"] = int64(1)

	b := map[string]any{}
	b["timestamp"] = int64(1)
	b["side"] = "SELL"
	b["symbol"] = "BNBBTC"

	sig := Sign(a, "secret")
	assert.Equal(t, sig, Sign(a, "secret"))
	assert.Equal(t, sig, Sign(b, "secret"))
	assert.Equal(t, signHMAC("side=SELL&symbol=BNBBTC&timestamp=1", "secret"), sig)
	assert.NotEqual(t, sig, Sign(a, "other"))

	a[SignatureParam] = sig
	assert.Equal(t, sig, Sign(a, "secret"), "existing signature is not signed")
}

func TestClock(t *testing.T) {
	clock := NewClock()
	fixed := time.UnixMilli(1_700_000_000_000)
	clock.now = func() time.Time { return fixed }

	assert.Equal(t, fixed.UnixMilli(), clock.Millis())

	sent := fixed
	received := fixed.Add(100 * time.Millisecond)
	offset := clock.Observe(fixed.UnixMilli()+1050, sent, received)

	assert.Equal(t, time.Second, offset)
	assert.Equal(t, time.Second, clock.Offset())
	assert.Equal(t, fixed.UnixMilli()+1000, clock.Millis())
}

func TestAPIRequest_Sign(t *testing.T) {
	clock := NewClock()
	clock.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	params := map[string]any{"symbol": "BUSDUSDT", "side": "SELL", "type": "LIMIT", "price": 1.0, "quantity": 15.0}
	req := NewAPIRequest("order.place", params)
	_, err := uuid.Parse(req.ID)
	require.NoError(t, err)
	assert.NotContains(t, params, "apiKey", "caller params are not mutated")

	require.NoError(t, req.Sign(core.Credentials{APIKey: "key", APISecret: "secret"}, clock))

	assert.Equal(t, "key", req.Params["apiKey"])
	assert.Equal(t, int64(1_700_000_000_000), req.Params["timestamp"])
	want := signHMAC("apiKey=key&price=1&quantity=15&side=SELL&symbol=BUSDUSDT&timestamp=1700000000000&type=LIMIT", "secret")
	assert.Equal(t, want, req.Params[SignatureParam])

	other := NewAPIRequest("order.place", nil)
	assert.NotEqual(t, req.ID, other.ID)
	assert.ErrorIs(t, other.Sign(core.Credentials{APIKey: "key"}, clock), core.ErrNoCredentials)
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code int
		want core.ErrorType
	}{
		{-1003, core.ErrorTypeRateLimit},
		{-1015, core.ErrorTypeRateLimit},
		{-1022, core.ErrorTypeAuthentication},
		{-2014, core.ErrorTypeAuthentication},
		{-2015, core.ErrorTypeAuthentication},
		{-11001, core.ErrorTypeNotFound},
		{-1102, core.ErrorTypeBadRequest},
		{-1001, core.ErrorTypeServerError},
		{-9999, core.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCode(tt.code), "code %d", tt.code)
	}
}
