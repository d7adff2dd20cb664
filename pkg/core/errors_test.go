package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		name      string
		errorType ErrorType
		want      string
	}{
		{"unknown", ErrorTypeUnknown, "UNKNOWN"},
		{"network", ErrorTypeNetwork, "NETWORK"},
		{"rate_limit", ErrorTypeRateLimit, "RATE_LIMIT"},
		{"authentication", ErrorTypeAuthentication, "AUTHENTICATION"},
		{"bad_request", ErrorTypeBadRequest, "BAD_REQUEST"},
		{"server_error", ErrorTypeServerError, "SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.errorType.String())
		})
	}
}

func TestExchangeError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ExchangeError
		want string
	}{
		{
			name: "without_code",
			err: &ExchangeError{
				Exchange:   "binance.com",
				Type:       ErrorTypeRateLimit,
				StatusCode: 429,
				Message:    "too many requests",
			},
			want: "[binance.com] RATE_LIMIT (429): too many requests",
		},
		{
			name: "with_code",
			err: &ExchangeError{
				Exchange:   "binance.com",
				Type:       ErrorTypeAuthentication,
				StatusCode: 401,
				Code:       -2014,
				Message:    "API-key format invalid.",
			},
			want: "[binance.com] AUTHENTICATION (401/-2014): API-key format invalid.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"stream_error", NewStreamError(KindListenKey, "refresh failed", nil), KindListenKey},
		{"wrapped_stream_error", fmt.Errorf("worker: %w", NewStreamError(KindProtocolFatal, "x", nil)), KindProtocolFatal},
		{"unrepairable_code", NewExchangeError("binance.com", ErrorTypeAuthentication, 401, CodeAPIKeyFormatInvalid, "bad"), KindProtocolFatal},
		{"isolated_margin_code", NewExchangeError("binance.com", ErrorTypeBadRequest, 400, CodeIsolatedMarginNotFound, "bad"), KindProtocolFatal},
		{"http_400", NewExchangeError("binance.com", ErrorTypeBadRequest, 400, 0, "bad"), KindProtocolFatal},
		{"http_429", NewExchangeError("binance.com", ErrorTypeRateLimit, 429, CodeTooManyRequests, "slow down"), KindTransient},
		{"http_500", NewExchangeError("binance.com", ErrorTypeServerError, 500, 0, "oops"), KindTransient},
		{"quota", fmt.Errorf("subscribe: %w", ErrMaximumSubscriptionsExceeded), KindQuota},
		{"config", ErrUnknownExchange, KindConfiguration},
		{"proxy", ErrSocks5ProxyConnection, KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsUnrepairable(t *testing.T) {
	for _, code := range []int{-1102, -2008, -2014, -2015, -11001} {
		err := NewExchangeError("binance.com", ErrorTypeUnknown, 200, code, "x")
		assert.True(t, IsUnrepairable(err), "code %d", code)
		assert.False(t, IsTransient(err), "code %d", code)
	}
	assert.False(t, IsUnrepairable(NewExchangeError("binance.com", ErrorTypeUnknown, 200, CodeTooManyMessages, "x")))
	assert.True(t, IsTransient(errors.New("connection reset by peer")))
}

func TestStreamError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &StreamError{Kind: KindTransient, Message: "connect", StatusCode: 503, Err: cause}
	scoped := err.WithStream("abc")

	assert.Equal(t, "TRANSIENT: connect (http 503): dial tcp: refused", err.Error())
	assert.Equal(t, "TRANSIENT: stream abc: connect (http 503): dial tcp: refused", scoped.Error())
	assert.ErrorIs(t, scoped, cause)
	assert.Empty(t, err.StreamID)
}

func TestKindForCloseCode(t *testing.T) {
	assert.Equal(t, KindProtocolFatal, KindForCloseCode(ClosePolicyViolation))
	assert.Equal(t, KindTransient, KindForCloseCode(CloseAbnormal))
	assert.Equal(t, KindTransient, KindForCloseCode(CloseNormal))
}

func TestIsErrorCode(t *testing.T) {
	err := fmt.Errorf("acquire: %w", NewExchangeError("binance.com", ErrorTypeBadRequest, 400, -1102, "x"))
	assert.True(t, IsErrorCode(err, CodeMandatoryParamMissing))
	assert.False(t, IsErrorCode(err, CodeRejectedMBXKey))
	assert.True(t, IsErrorCode(&StreamError{Kind: KindProtocolFatal, Code: -2015}, CodeRejectedMBXKey))
	assert.False(t, IsErrorCode(errors.New("x"), CodeRejectedMBXKey))
}
