package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config contains all configuration options for a stream manager.
// It covers exchange selection, frame decoding, proxying, timeouts, buffer
// sizes, REST behaviour for listen keys, and monitoring.
type Config struct {
	Exchange      string     `json:"exchange" yaml:"exchange" validate:"required"`
	OutputDefault OutputMode `json:"output_default" yaml:"output_default" validate:"omitempty,oneof=raw dict normalized"`

	// HighPerformance skips statistics that are not needed for operation.
	HighPerformance               bool `json:"high_performance" yaml:"high_performance"`
	EnableStreamSignalBuffer      bool `json:"enable_stream_signal_buffer" yaml:"enable_stream_signal_buffer"`
	AutoDataCleanupStoppedStreams bool `json:"auto_data_cleanup_stopped_streams" yaml:"auto_data_cleanup_stopped_streams"`
	ThrowExceptionIfUnrepairable  bool `json:"throw_exception_if_unrepairable" yaml:"throw_exception_if_unrepairable"`

	Socks5ProxyServer          string `json:"socks5_proxy_server" yaml:"socks5_proxy_server" validate:"omitempty,hostname_port"`
	Socks5ProxyUser            string `json:"socks5_proxy_user" yaml:"socks5_proxy_user"`
	Socks5ProxyPass            string `json:"socks5_proxy_pass" yaml:"socks5_proxy_pass"`
	Socks5ProxySSLVerification bool   `json:"socks5_proxy_ssl_verification" yaml:"socks5_proxy_ssl_verification"`

	// RestfulBaseURI overrides the listen-key REST host.
	RestfulBaseURI string `json:"restful_base_uri" yaml:"restful_base_uri" validate:"omitempty,url"`
	// WebsocketBaseURI overrides the stream host, e.g. a private relay.
	WebsocketBaseURI string `json:"websocket_base_uri" yaml:"websocket_base_uri" validate:"omitempty,url"`
	// WebsocketAPIBaseURI overrides the WS-API endpoint.
	WebsocketAPIBaseURI string `json:"websocket_api_base_uri" yaml:"websocket_api_base_uri" validate:"omitempty,url"`
	ShowSecretsInLogs   bool   `json:"show_secrets_in_logs" yaml:"show_secrets_in_logs"`

	PingInterval             time.Duration `json:"ping_interval" yaml:"ping_interval" validate:"min=0"`
	PingTimeout              time.Duration `json:"ping_timeout" yaml:"ping_timeout" validate:"min=0"`
	CloseTimeout             time.Duration `json:"close_timeout" yaml:"close_timeout" validate:"min=1ms"`
	RestartDelay             time.Duration `json:"restart_delay" yaml:"restart_delay" validate:"min=0"`
	ListenKeyRefreshInterval time.Duration `json:"listen_key_refresh_interval" yaml:"listen_key_refresh_interval" validate:"min=1s"`
	StopGracePeriod          time.Duration `json:"stop_grace_period" yaml:"stop_grace_period" validate:"min=1ms"`

	StreamBufferMaxLength int `json:"stream_buffer_maxlen" yaml:"stream_buffer_maxlen" validate:"min=1"`
	ErrorBufferMaxLength  int `json:"error_buffer_maxlen" yaml:"error_buffer_maxlen" validate:"min=1"`
	ResultBufferMaxLength int `json:"result_buffer_maxlen" yaml:"result_buffer_maxlen" validate:"min=1"`
	SignalBufferMaxLength int `json:"signal_buffer_maxlen" yaml:"signal_buffer_maxlen" validate:"min=1"`
	PayloadQueueSize      int `json:"payload_queue_size" yaml:"payload_queue_size" validate:"min=1"`
	PullQueueSize         int `json:"pull_queue_size" yaml:"pull_queue_size" validate:"min=1"`

	// MaxSendPerSecond is the exchange's per-connection message budget.
	// SendReserve of it is kept free for pings.
	MaxSendPerSecond int `json:"max_send_messages_per_second" yaml:"max_send_messages_per_second" validate:"min=1"`
	SendReserve      int `json:"max_send_messages_per_second_reserve" yaml:"max_send_messages_per_second_reserve" validate:"min=0"`

	// MaxSubscriptionsPerStream lowers the exchange cap when set; zero keeps the exchange default.
	MaxSubscriptionsPerStream int `json:"max_subscriptions_per_stream" yaml:"max_subscriptions_per_stream" validate:"min=0"`

	// MonitoringAddr enables the status HTTP endpoint, e.g. "127.0.0.1:64201".
	MonitoringAddr string `json:"monitoring_addr" yaml:"monitoring_addr" validate:"omitempty,hostname_port"`

	Timeout      time.Duration `json:"timeout" yaml:"timeout" validate:"min=1ms"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" validate:"min=0"`
	RetryWaitMin time.Duration `json:"retry_wait_min" yaml:"retry_wait_min" validate:"min=0"`
	RetryWaitMax time.Duration `json:"retry_wait_max" yaml:"retry_wait_max" validate:"min=0"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold" yaml:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold" yaml:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout" yaml:"circuit_breaker_timeout"`

	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with defaults for the specified exchange.
// Default values: 20s ping interval and timeout, 10s close timeout, 2s restart delay,
// 30m listen-key refresh, 5 messages per second with 1 reserved, 10s stop grace period.
func DefaultConfig(exchange string) *Config {
	return &Config{
		Exchange:      exchange,
		OutputDefault: OutputRaw,

		Socks5ProxySSLVerification: true,

		PingInterval:             20 * time.Second,
		PingTimeout:              20 * time.Second,
		CloseTimeout:             10 * time.Second,
		RestartDelay:             2 * time.Second,
		ListenKeyRefreshInterval: 30 * time.Minute,
		StopGracePeriod:          10 * time.Second,

		StreamBufferMaxLength: 10000,
		ErrorBufferMaxLength:  1000,
		ResultBufferMaxLength: 1000,
		SignalBufferMaxLength: 1000,
		PayloadQueueSize:      1024,
		PullQueueSize:         1000,

		MaxSendPerSecond: 5,
		SendReserve:      1,

		Timeout:      10 * time.Second,
		MaxRetries:   0,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 1 * time.Second,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 1,
		CircuitBreakerTimeout:          30 * time.Second,

		LogLevel: "info",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates the result.
// The exchange key in the file overrides the exchange argument.
func LoadConfig(path, exchange string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig(exchange)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the config and normalizes aliases. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	mode, err := ParseOutputMode(string(c.OutputDefault))
	if err != nil {
		return err
	}
	c.OutputDefault = mode
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.SendReserve >= c.MaxSendPerSecond {
		return fmt.Errorf("%w: send reserve %d must be below %d messages per second",
			ErrInvalidConfig, c.SendReserve, c.MaxSendPerSecond)
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.Join(ErrInvalidConfig, errors.New("CircuitBreakerFailThreshold must be positive when enabled"))
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.Join(ErrInvalidConfig, errors.New("CircuitBreakerSuccessThreshold must be positive when enabled"))
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.Join(ErrInvalidConfig, errors.New("CircuitBreakerTimeout must be positive when enabled"))
		}
	}
	if c.Socks5ProxyUser != "" && c.Socks5ProxyServer == "" {
		return fmt.Errorf("%w: socks5 credentials given without socks5_proxy_server", ErrInvalidConfig)
	}
	return nil
}

// SendRate is the number of payloads a subscription connection may send per second.
func (c *Config) SendRate() int {
	return c.MaxSendPerSecond - c.SendReserve
}

// WithOutput sets the default output mode and returns the config for chaining.
func (c *Config) WithOutput(mode OutputMode) *Config {
	c.OutputDefault = mode
	return c
}

// WithSocks5Proxy sets the SOCKS5 proxy and returns the config for chaining.
func (c *Config) WithSocks5Proxy(server, user, pass string, sslVerification bool) *Config {
	c.Socks5ProxyServer = server
	c.Socks5ProxyUser = user
	c.Socks5ProxyPass = pass
	c.Socks5ProxySSLVerification = sslVerification
	return c
}

// WithWebsocketBaseURI overrides the stream host and returns the config for chaining.
func (c *Config) WithWebsocketBaseURI(uri string) *Config {
	c.WebsocketBaseURI = uri
	return c
}

// WithWebsocketAPIBaseURI overrides the WS-API endpoint and returns the config for chaining.
func (c *Config) WithWebsocketAPIBaseURI(uri string) *Config {
	c.WebsocketAPIBaseURI = uri
	return c
}

// WithRestfulBaseURI overrides the listen-key REST host and returns the config for chaining.
func (c *Config) WithRestfulBaseURI(uri string) *Config {
	c.RestfulBaseURI = uri
	return c
}

// WithTimeouts sets the connection timeouts and returns the config for chaining.
func (c *Config) WithTimeouts(pingInterval, pingTimeout, closeTimeout time.Duration) *Config {
	c.PingInterval = pingInterval
	c.PingTimeout = pingTimeout
	c.CloseTimeout = closeTimeout
	return c
}

// WithRestartDelay sets the delay between reconnects and returns the config for chaining.
func (c *Config) WithRestartDelay(d time.Duration) *Config {
	c.RestartDelay = d
	return c
}

// WithMonitoring enables the status endpoint and returns the config for chaining.
func (c *Config) WithMonitoring(addr string) *Config {
	c.MonitoringAddr = addr
	return c
}
