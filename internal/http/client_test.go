package http

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listenKeyBody struct {
	ListenKey string `json:"listenKey"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == nethttp.MethodPost && r.URL.Path == "/api/v3/userDataStream":
			assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
			_, _ = io.WriteString(w, `{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`)
		case r.Method == nethttp.MethodPut:
			assert.Equal(t, "abc", r.URL.Query().Get("listenKey"))
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(nethttp.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":-2014,"msg":"API-key format invalid."}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{BaseURL: "https://api.binance.com", Timeout: time.Second}, false},
		{"missing base url", Config{Timeout: time.Second}, true},
		{"bad base url", Config{BaseURL: "not a url", Timeout: time.Second}, true},
		{"zero timeout", Config{BaseURL: "https://api.binance.com"}, true},
		{"bad proxy", Config{BaseURL: "https://api.binance.com", Timeout: time.Second, Proxy: "::"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(&tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, c.Close())
		})
	}
}

func TestClient_Requests(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(&Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	var body listenKeyBody
	resp, err := c.Post(context.Background(), "/api/v3/userDataStream", nil,
		WithHeader("X-MBX-APIKEY", "test-key"), WithResult(&body))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Len(t, body.ListenKey, 64)

	resp, err = c.Put(context.Background(), "/api/v3/userDataStream", WithQueryParam("listenKey", "abc"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())

	var apiErr apiError
	resp, err = c.Delete(context.Background(), "/api/v3/userDataStream",
		WithQueryParams(map[string]string{"listenKey": "abc"}), WithError(&apiErr))
	require.NoError(t, err)
	assert.True(t, resp.IsError())
	assert.Equal(t, -2014, apiErr.Code)
}

func TestClient_Closed(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(&Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Get(context.Background(), "/api/v3/time")
	assert.ErrorIs(t, err, ErrClientClosed)
}
