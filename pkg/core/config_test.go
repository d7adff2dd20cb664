package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("binance.com")

	assert.Equal(t, "binance.com", config.Exchange)
	assert.Equal(t, OutputRaw, config.OutputDefault)
	assert.Equal(t, 20*time.Second, config.PingInterval)
	assert.Equal(t, 20*time.Second, config.PingTimeout)
	assert.Equal(t, 10*time.Second, config.CloseTimeout)
	assert.Equal(t, 2*time.Second, config.RestartDelay)
	assert.Equal(t, 30*time.Minute, config.ListenKeyRefreshInterval)
	assert.Equal(t, 10*time.Second, config.StopGracePeriod)
	assert.Equal(t, 5, config.MaxSendPerSecond)
	assert.Equal(t, 1, config.SendReserve)
	assert.Equal(t, 4, config.SendRate())
	assert.Equal(t, "info", config.LogLevel)
	assert.True(t, config.Socks5ProxySSLVerification, "proxied connections verify certificates unless told otherwise")
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid_config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing_exchange",
			mutate:  func(c *Config) { c.Exchange = "" },
			wantErr: true,
			errMsg:  "Exchange",
		},
		{
			name:    "invalid_timeout",
			mutate:  func(c *Config) { c.Timeout = -1 * time.Second },
			wantErr: true,
			errMsg:  "Timeout",
		},
		{
			name:    "unknown_output_mode",
			mutate:  func(c *Config) { c.OutputDefault = "xml" },
			wantErr: true,
			errMsg:  "output mode",
		},
		{
			name:   "unicornfy_alias",
			mutate: func(c *Config) { c.OutputDefault = "UnicornFy" },
		},
		{
			name:    "reserve_consumes_budget",
			mutate:  func(c *Config) { c.SendReserve = 5 },
			wantErr: true,
			errMsg:  "send reserve",
		},
		{
			name:    "malformed_proxy",
			mutate:  func(c *Config) { c.Socks5ProxyServer = "no-port" },
			wantErr: true,
			errMsg:  "Socks5ProxyServer",
		},
		{
			name:    "proxy_user_without_server",
			mutate:  func(c *Config) { c.Socks5ProxyUser = "alice" },
			wantErr: true,
			errMsg:  "socks5",
		},
		{
			name:    "invalid_log_level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: true,
			errMsg:  "LogLevel",
		},
		{
			name:    "invalid_circuit_breaker_fail_threshold",
			mutate:  func(c *Config) { c.CircuitBreakerFailThreshold = 0 },
			wantErr: true,
			errMsg:  "CircuitBreakerFailThreshold",
		},
		{
			name: "circuit_breaker_disabled_skips_validation",
			mutate: func(c *Config) {
				c.CircuitBreakerEnabled = false
				c.CircuitBreakerFailThreshold = 0
				c.CircuitBreakerTimeout = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("binance.com")
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				assert.True(t, strings.Contains(err.Error(), tt.errMsg), "expected error to contain %q, got %q", tt.errMsg, err.Error())
				assert.Equal(t, KindConfiguration, KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateNormalizesAlias(t *testing.T) {
	config := DefaultConfig("binance.com").WithOutput("UnicornFy")

	require.NoError(t, config.Validate())
	assert.Equal(t, OutputNormalized, config.OutputDefault)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ubwa.yaml")
	content := `
exchange: binance.com-futures
output_default: dict
ping_interval: 5s
restart_delay: 500ms
stream_buffer_maxlen: 42
throw_exception_if_unrepairable: true
socks5_proxy_server: 127.0.0.1:1080
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadConfig(path, "binance.com")
	require.NoError(t, err)

	assert.Equal(t, "binance.com-futures", config.Exchange)
	assert.Equal(t, OutputDict, config.OutputDefault)
	assert.Equal(t, 5*time.Second, config.PingInterval)
	assert.Equal(t, 500*time.Millisecond, config.RestartDelay)
	assert.Equal(t, 42, config.StreamBufferMaxLength)
	assert.True(t, config.ThrowExceptionIfUnrepairable)
	assert.Equal(t, 10*time.Second, config.CloseTimeout)
	assert.Equal(t, "127.0.0.1:1080", config.Socks5ProxyServer)
	assert.True(t, config.Socks5ProxySSLVerification)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"), "binance.com")
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("ping_interval: [1"), 0o600))
	_, err = LoadConfig(bad, "binance.com")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("output_default: csv\n"), 0o600))
	_, err = LoadConfig(invalid, "binance.com")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Chaining(t *testing.T) {
	config := DefaultConfig("binance.com")
	result := config.
		WithSocks5Proxy("127.0.0.1:1080", "user", "pass", true).
		WithWebsocketBaseURI("ws://127.0.0.1:9000").
		WithWebsocketAPIBaseURI("ws://127.0.0.1:9001/ws-api/v3").
		WithRestfulBaseURI("http://127.0.0.1:9002").
		WithTimeouts(time.Second, 2*time.Second, 3*time.Second).
		WithRestartDelay(10 * time.Millisecond).
		WithMonitoring("127.0.0.1:64201")

	assert.Same(t, config, result)
	assert.Equal(t, "127.0.0.1:1080", config.Socks5ProxyServer)
	assert.True(t, config.Socks5ProxySSLVerification)
	assert.Equal(t, "ws://127.0.0.1:9000", config.WebsocketBaseURI)
	assert.Equal(t, time.Second, config.PingInterval)
	assert.Equal(t, 2*time.Second, config.PingTimeout)
	assert.Equal(t, 3*time.Second, config.CloseTimeout)
	assert.Equal(t, 10*time.Millisecond, config.RestartDelay)
	assert.NoError(t, config.Validate())
}
