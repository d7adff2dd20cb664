// Package listenkey keeps user-data listen keys alive over the exchange's
// REST API: acquire on connect, refresh on a timer, release on stop.
package listenkey

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/circuitbreaker"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/http"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/keyring"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
)

const apiKeyHeader = "X-MBX-APIKEY"

// DefaultRetryWaits is the refresh retry schedule before jitter.
var DefaultRetryWaits = []time.Duration{1 * time.Second, 3 * time.Second, 7 * time.Second}

// Request identifies the account a listen key belongs to.
type Request struct {
	Credentials core.Credentials
	// Symbol is required for isolated margin.
	Symbol string
}

// Keeper talks to the listen-key endpoints of one exchange.
type Keeper struct {
	profile     exchange.Profile
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	retryWaits  []time.Duration
	showSecrets bool
	logger      zerolog.Logger
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(k *Keeper) {
		k.logger = logger
	}
}

// WithRetryWaits replaces the refresh retry schedule.
func WithRetryWaits(waits ...time.Duration) Option {
	return func(k *Keeper) {
		k.retryWaits = waits
	}
}

// WithHTTPClient replaces the REST client built from the config.
func WithHTTPClient(client *http.Client) Option {
	return func(k *Keeper) {
		k.client = client
	}
}

// New creates a Keeper for profile. The REST host is the profile's unless
// cfg.RestfulBaseURI overrides it; a configured SOCKS5 proxy is used for REST too.
func New(profile exchange.Profile, cfg *core.Config, opts ...Option) (*Keeper, error) {
	k := &Keeper{
		profile:     profile,
		retryWaits:  DefaultRetryWaits,
		showSecrets: cfg.ShowSecretsInLogs,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.client == nil {
		base := profile.RestURI
		if cfg.RestfulBaseURI != "" {
			base = cfg.RestfulBaseURI
		}
		hc := &http.Config{
			BaseURL:      base,
			Timeout:      cfg.Timeout,
			MaxRetries:   cfg.MaxRetries,
			RetryWaitMin: cfg.RetryWaitMin,
			RetryWaitMax: cfg.RetryWaitMax,
		}
		if cfg.Socks5ProxyServer != "" {
			hc.Proxy = socks5URL(cfg)
		}
		client, err := http.NewClient(hc)
		if err != nil {
			return nil, fmt.Errorf("%w: listen key client: %v", core.ErrInvalidConfig, err)
		}
		k.client = client
	}
	k.client.SetLogger(k.logger)

	if cfg.CircuitBreakerEnabled {
		k.breaker = circuitbreaker.New(circuitbreaker.Config{
			Name:             "listen-key:" + string(profile.Name),
			FailThreshold:    cfg.CircuitBreakerFailThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				k.logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state change")
			},
		})
	}
	return k, nil
}

func socks5URL(cfg *core.Config) string {
	if cfg.Socks5ProxyUser == "" {
		return "socks5://" + cfg.Socks5ProxyServer
	}
	return "socks5://" + cfg.Socks5ProxyUser + ":" + cfg.Socks5ProxyPass + "@" + cfg.Socks5ProxyServer
}

// Close releases the REST client.
func (k *Keeper) Close() error {
	return k.client.Close()
}

// Breaker returns the REST circuit breaker, nil when disabled.
func (k *Keeper) Breaker() *circuitbreaker.Breaker {
	return k.breaker
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// Acquire creates a listen key.
func (k *Keeper) Acquire(ctx context.Context, req Request) (string, error) {
	opts, err := k.requestOptions(req, "")
	if err != nil {
		return "", err
	}

	var out listenKeyResponse
	err = k.guard(func() error {
		var apiErr apiError
		resp, err := k.client.Post(ctx, k.profile.ListenKeyPath, nil, append(opts, http.WithResult(&out), http.WithError(&apiErr))...)
		return k.check(resp, err, &apiErr)
	})
	if err != nil {
		return "", fmt.Errorf("acquire listen key: %w", err)
	}
	if out.ListenKey == "" {
		return "", core.NewStreamError(core.KindListenKey, "empty listen key in response", nil)
	}

	k.logger.Debug().
		Str("listen_key", keyring.Redact(out.ListenKey, k.showSecrets)).
		Str("api_key", keyring.Redact(req.Credentials.APIKey, k.showSecrets)).
		Msg("listen key acquired")
	return out.ListenKey, nil
}

// Refresh keeps key alive. Transient failures are retried on the jittered
// retry schedule. Any other outcome but success is a KindListenKey error,
// except the unrepairable exchange codes which are returned as they are.
func (k *Keeper) Refresh(ctx context.Context, req Request, key string) error {
	opts, err := k.requestOptions(req, key)
	if err != nil {
		return err
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := k.guard(func() error {
			var apiErr apiError
			resp, err := k.client.Put(ctx, k.profile.ListenKeyPath, append(opts, http.WithError(&apiErr))...)
			return k.check(resp, err, &apiErr)
		})
		if err == nil {
			return struct{}{}, nil
		}
		var exErr *core.ExchangeError
		if errors.As(err, &exErr) && exErr.StatusCode == 400 {
			return struct{}{}, backoff.Permanent(err)
		}
		k.logger.Warn().Err(err).Int("attempt", attempt).Msg("listen key refresh failed")
		return struct{}{}, err
	},
		backoff.WithBackOff(newJitteredSchedule(k.retryWaits)),
		backoff.WithMaxTries(uint(len(k.retryWaits)+1)),
	)
	if err == nil {
		return nil
	}
	var exErr *core.ExchangeError
	if errors.Is(err, context.Canceled) || (errors.As(err, &exErr) && core.IsUnrepairableCode(exErr.Code)) {
		return fmt.Errorf("refresh listen key: %w", err)
	}
	return &core.StreamError{
		Kind:    core.KindListenKey,
		Message: fmt.Sprintf("listen key refresh failed after %d attempts", attempt),
		Err:     err,
	}
}

// Release deletes key. It is best effort: the error is logged and returned.
func (k *Keeper) Release(ctx context.Context, req Request, key string) error {
	if key == "" {
		return nil
	}
	opts, err := k.requestOptions(req, key)
	if err != nil {
		return err
	}

	var apiErr apiError
	resp, err := k.client.Delete(ctx, k.profile.ListenKeyPath, append(opts, http.WithError(&apiErr))...)
	if err = k.check(resp, err, &apiErr); err != nil {
		k.logger.Warn().Err(err).Str("listen_key", keyring.Redact(key, k.showSecrets)).Msg("listen key release failed")
		return fmt.Errorf("release listen key: %w", err)
	}
	k.logger.Debug().Str("listen_key", keyring.Redact(key, k.showSecrets)).Msg("listen key released")
	return nil
}

// ServerTime returns the exchange time in epoch milliseconds.
func (k *Keeper) ServerTime(ctx context.Context) (int64, error) {
	var out serverTimeResponse
	var apiErr apiError
	resp, err := k.client.Get(ctx, k.profile.TimePath, http.WithResult(&out), http.WithError(&apiErr))
	if err = k.check(resp, err, &apiErr); err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}
	return out.ServerTime, nil
}

// SyncClock measures the server offset and stores it in clock.
func (k *Keeper) SyncClock(ctx context.Context, clock *exchange.Clock) (time.Duration, error) {
	sent := time.Now()
	serverMillis, err := k.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	offset := clock.Observe(serverMillis, sent, time.Now())
	k.logger.Debug().Dur("offset", offset).Msg("clock synchronized")
	return offset, nil
}

func (k *Keeper) requestOptions(req Request, key string) ([]http.RequestOption, error) {
	if req.Credentials.APIKey == "" {
		return nil, core.NewStreamError(core.KindConfiguration, "listen key needs an api key", core.ErrNoCredentials)
	}
	opts := []http.RequestOption{http.WithHeader(apiKeyHeader, req.Credentials.APIKey)}
	if k.profile.IsIsolatedMargin() {
		if req.Symbol == "" {
			return nil, core.NewStreamError(core.KindConfiguration, "isolated margin listen key needs a symbol", core.ErrInvalidConfig)
		}
		opts = append(opts, http.WithQueryParam("symbol", req.Symbol))
	}
	if key != "" {
		opts = append(opts, http.WithQueryParam("listenKey", key))
	}
	return opts, nil
}

// guard runs fn through the circuit breaker. Unrepairable answers prove the
// endpoint is up and do not count as failures.
func (k *Keeper) guard(fn func() error) error {
	if k.breaker == nil {
		return fn()
	}
	err := k.breaker.Execute(fn, func(err error) bool { return !core.IsUnrepairable(err) })
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return core.NewStreamError(core.KindTransient, "listen key endpoint unavailable", core.ErrCircuitBreakerOpen)
	}
	return err
}

func (k *Keeper) check(resp *resty.Response, err error, apiErr *apiError) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return core.NewStreamError(core.KindTransient, "listen key request failed", err)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	msg := apiErr.Msg
	if msg == "" {
		msg = resp.String()
	}
	errType := exchange.ClassifyCode(apiErr.Code)
	switch {
	case status == 429 || status == 418:
		errType = core.ErrorTypeRateLimit
	case status >= 500:
		errType = core.ErrorTypeServerError
	case errType == core.ErrorTypeUnknown && status == 401:
		errType = core.ErrorTypeAuthentication
	}
	return core.NewExchangeError(string(k.profile.Name), errType, status, apiErr.Code, msg)
}

// jitteredSchedule walks a fixed list of waits, each scaled by a random
// factor in [0.5, 1.5).
type jitteredSchedule struct {
	waits []time.Duration
	next  int
}

func newJitteredSchedule(waits []time.Duration) *jitteredSchedule {
	return &jitteredSchedule{waits: waits}
}

func (s *jitteredSchedule) NextBackOff() time.Duration {
	if s.next >= len(s.waits) {
		return backoff.Stop
	}
	d := s.waits[s.next]
	s.next++
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func (s *jitteredSchedule) Reset() {
	s.next = 0
}
