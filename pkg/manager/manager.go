// Package manager runs many Binance WebSocket streams behind one object:
// it validates stream requests, spawns a worker per stream and exposes
// their data, signals and health.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/http"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/keyring"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/monitor"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/ratelimit"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/telemetry"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/ws"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/dispatch"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/listenkey"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/normalize"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/signal"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/stream"
)

const errorChannelSize = 64

// Manager owns the streams of one exchange.
type Manager struct {
	cfg     *core.Config
	profile exchange.Profile
	logger  zerolog.Logger

	buffers        *dispatch.Buffers
	dispatcher     *dispatch.Dispatcher
	signals        *signal.Bus
	signalCallback signal.Callback
	keeper         *listenkey.Keeper
	limiter        *ratelimit.RateLimiter
	normalizer     normalize.Normalizer
	telemetry      *telemetry.Recorder
	keys           *keyring.KeyRing
	clock          *exchange.Clock
	clockSynced    atomic.Bool
	defaultSink    dispatch.Sink
	monitor        *monitor.Server
	meter          metric.Meter
	httpClient     *http.Client

	ctx     context.Context
	cancel  context.CancelFunc
	workers conc.WaitGroup

	mu      sync.RWMutex
	streams map[uuid.UUID]*stream.Stream
	labels  map[string]uuid.UUID

	stopping  atomic.Bool
	errMu     sync.Mutex
	errs      chan error
	errClosed bool
	startedAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSignalCallback delivers stream signals to fn instead of the signal buffer.
func WithSignalCallback(fn signal.Callback) Option {
	return func(m *Manager) {
		m.signalCallback = fn
	}
}

// WithDefaultSink is used for streams created without a sink.
func WithDefaultSink(sink dispatch.Sink) Option {
	return func(m *Manager) {
		m.defaultSink = sink
	}
}

// WithNormalizer replaces the normalizer of OutputNormalized streams.
func WithNormalizer(n normalize.Normalizer) Option {
	return func(m *Manager) {
		m.normalizer = n
	}
}

// WithMeter records statistics on meter instead of the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) {
		m.meter = meter
	}
}

// WithHTTPClient replaces the REST client used for listen keys and server time.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// New validates cfg and starts an empty manager. Configuration problems,
// including an unreachable SOCKS5 proxy, are returned as KindConfiguration errors.
func New(cfg *core.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, core.NewStreamError(core.KindConfiguration, "nil config", core.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	profile, err := exchange.Lookup(cfg.Exchange)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		profile:    profile,
		logger:     zerolog.Nop(),
		normalizer: normalize.New(),
		clock:      exchange.NewClock(),
		streams:    make(map[uuid.UUID]*stream.Stream),
		labels:     make(map[string]uuid.UUID),
		errs:       make(chan error, errorChannelSize),
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			m.logger = m.logger.Level(level)
		}
	}
	m.logger = m.logger.With().Str("exchange", cfg.Exchange).Logger()

	if socks := m.socks5(); socks != nil {
		if err := ws.ProbeSocks5(context.Background(), socks, cfg.Timeout); err != nil {
			return nil, err
		}
	}

	if m.meter != nil {
		if m.telemetry, err = telemetry.NewWithMeter(m.meter); err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	} else {
		m.telemetry = telemetry.New()
	}

	m.buffers = dispatch.NewBuffers(cfg.StreamBufferMaxLength, cfg.ErrorBufferMaxLength, cfg.ResultBufferMaxLength)
	m.dispatcher = dispatch.New(m.buffers, cfg.PullQueueSize, m.logger)
	m.dispatcher.OnUserError(m.onUserError)

	busOpts := []signal.Option{signal.WithLogger(m.logger)}
	switch {
	case m.signalCallback != nil:
		busOpts = append(busOpts, signal.WithCallback(m.signalCallback))
	case cfg.EnableStreamSignalBuffer:
		busOpts = append(busOpts, signal.WithBuffer())
	}
	m.signals = signal.New(cfg.SignalBufferMaxLength, busOpts...)

	keeperOpts := []listenkey.Option{listenkey.WithLogger(m.logger)}
	if m.httpClient != nil {
		keeperOpts = append(keeperOpts, listenkey.WithHTTPClient(m.httpClient))
	}
	m.keeper, err = listenkey.New(profile, cfg, keeperOpts...)
	if err != nil {
		return nil, err
	}
	m.limiter = ratelimit.New(cfg.SendRate(), 1)
	m.keys = keyring.NewKeyRing(cfg.ShowSecretsInLogs)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if cfg.MonitoringAddr != "" {
		m.monitor = monitor.New(cfg.MonitoringAddr, m, m.logger)
		if err := m.monitor.Start(); err != nil {
			m.cancel()
			_ = m.keeper.Close()
			return nil, core.NewStreamError(core.KindConfiguration, "monitoring endpoint", err)
		}
	}

	m.logger.Info().
		Str("output", string(cfg.OutputDefault)).
		Int("max_subscriptions", m.GetLimitOfSubscriptionsPerStream()).
		Msg("stream manager started")
	return m, nil
}

func (m *Manager) socks5() *ws.Socks5Config {
	if m.cfg.Socks5ProxyServer == "" {
		return nil
	}
	return &ws.Socks5Config{
		Server:     m.cfg.Socks5ProxyServer,
		User:       m.cfg.Socks5ProxyUser,
		Pass:       m.cfg.Socks5ProxyPass,
		SkipVerify: !m.cfg.Socks5ProxySSLVerification,
	}
}

// Config returns the manager's configuration. It must not be modified.
func (m *Manager) Config() *core.Config {
	return m.cfg
}

// Profile returns the exchange profile the manager connects to.
func (m *Manager) Profile() exchange.Profile {
	return m.profile
}

// IsManagerStopping reports whether StopManager has been called.
func (m *Manager) IsManagerStopping() bool {
	return m.stopping.Load()
}

// Errors delivers the errors of unrepairable streams when
// ThrowExceptionIfUnrepairable is set. It is closed by StopManager.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

func (m *Manager) pushError(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if m.errClosed {
		return
	}
	select {
	case m.errs <- err:
	default:
		m.logger.Warn().Err(err).Msg("error channel full, dropping unrepairable stream error")
	}
}

func (m *Manager) onUnrepairable(id uuid.UUID, err error) {
	if core.IsErrorCode(err, core.CodeRejectedMBXKey) || core.IsErrorCode(err, core.CodeAPIKeyFormatInvalid) ||
		core.IsErrorCode(err, core.CodeInvalidAPIKeyID) {
		m.keys.OnError(id.String(), true)
	}
	if m.cfg.ThrowExceptionIfUnrepairable {
		var se *core.StreamError
		if !errors.As(err, &se) {
			se = &core.StreamError{Kind: core.KindProtocolFatal, Message: "stream is unrepairable", Err: err}
		}
		m.pushError(se.WithStream(id.String()))
	}
}

// StopManager stops every stream, waits up to StopGracePeriod for the
// workers, force-closes what is left, releases listen keys, stops the
// monitoring endpoint and emits ALL_STREAMS_STOPPED. Later calls are no-ops.
func (m *Manager) StopManager(ctx context.Context) error {
	m.mu.Lock()
	already := m.stopping.Swap(true)
	m.mu.Unlock()
	if already {
		return nil
	}
	m.logger.Info().Msg("stopping stream manager")

	for _, s := range m.snapshot() {
		s.RequestStop()
	}

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()

	grace := time.NewTimer(m.cfg.StopGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		m.logger.Warn().Dur("grace_period", m.cfg.StopGracePeriod).Msg("streams did not stop in time, closing connections")
		for _, s := range m.snapshot() {
			s.ForceClose()
		}
		select {
		case <-done:
		case <-time.After(m.cfg.CloseTimeout):
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
	m.cancel()

	var shutdownErr error
	if m.monitor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.CloseTimeout)
		shutdownErr = m.monitor.Shutdown(shutdownCtx)
		cancel()
	}
	_ = m.keeper.Close()

	m.signals.Emit(core.Signal{Type: core.SignalAllStreamsStopped, Timestamp: time.Now()})
	m.signals.Close()

	m.errMu.Lock()
	m.errClosed = true
	close(m.errs)
	m.errMu.Unlock()

	m.logger.Info().Msg("stream manager stopped")
	if shutdownErr != nil {
		return fmt.Errorf("stop monitoring: %w", shutdownErr)
	}
	return ctx.Err()
}

func (m *Manager) snapshot() []*stream.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*stream.Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}

func (m *Manager) get(id uuid.UUID) (*stream.Stream, error) {
	m.mu.RLock()
	s, ok := m.streams[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrStreamNotFound, id)
	}
	return s, nil
}

func (m *Manager) deps() stream.Deps {
	return stream.Deps{
		Config:         m.cfg,
		Dispatcher:     m.dispatcher,
		Signals:        m.signals,
		Keeper:         m.keeper,
		Limiter:        m.limiter,
		Normalizer:     m.normalizer,
		Telemetry:      m.telemetry,
		OnUnrepairable: m.onUnrepairable,
		OnUserError:    m.onUserError,
		Logger:         m.logger,
	}
}

// onUserError counts failing user callbacks; they are already logged.
func (m *Manager) onUserError(string, error) {
	m.telemetry.UserError(context.Background())
}
