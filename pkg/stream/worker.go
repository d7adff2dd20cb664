package stream

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/keyring"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/ratelimit"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/telemetry"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/ws"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/dispatch"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/listenkey"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/normalize"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/signal"
)

const (
	apiHeartbeat    = 100 * time.Millisecond
	streamHeartbeat = time.Second
)

// Deps are the manager-wide collaborators of a worker.
type Deps struct {
	Config     *core.Config
	Dispatcher *dispatch.Dispatcher
	Signals    *signal.Bus
	// Keeper is required for user-data streams only.
	Keeper *listenkey.Keeper
	// Limiter paces subscription connections; WS-API connections are not paced.
	Limiter    *ratelimit.RateLimiter
	Normalizer normalize.Normalizer
	Telemetry  *telemetry.Recorder
	// OnUnrepairable is told about every stream that gives up.
	OnUnrepairable func(id uuid.UUID, err error)
	// OnUserError is told about response callbacks that panic.
	OnUserError func(streamID string, err error)
	Logger      zerolog.Logger
}

// Worker keeps one stream connected: it resolves the endpoint, connects,
// replays the intent, pumps frames and payloads, and restarts after
// transient failures.
type Worker struct {
	stream *Stream
	deps   Deps
	logger zerolog.Logger

	// carry holds payloads whose send failed; they go out first on the next connection.
	carry []any
}

func NewWorker(s *Stream, deps Deps) *Worker {
	logger := deps.Logger.With().
		Str("stream_id", s.ID.String()).
		Str("exchange", string(s.Profile.Name)).
		Logger()
	if label := s.Label(); label != "" {
		logger = logger.With().Str("stream_label", label).Logger()
	}
	s.correlator.SetLogger(logger)
	if deps.OnUserError != nil {
		s.correlator.OnUserError(func(err error) { deps.OnUserError(s.ID.String(), err) })
	}
	return &Worker{stream: s, deps: deps, logger: logger}
}

// Run drives the stream until it is stopped, unrepairable or crashed. The
// stream's Done channel closes when Run returns.
func (w *Worker) Run(ctx context.Context) {
	s := w.stream
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.IsStopRequested() {
		cancel()
	}
	defer close(s.done)
	defer cancel()

	w.deps.Telemetry.StreamActive(ctx, string(s.Profile.Name), 1)
	defer w.deps.Telemetry.StreamActive(context.Background(), string(s.Profile.Name), -1)

	var pc panics.Catcher
	pc.Try(func() { w.run(ctx) })
	if r := pc.Recovered(); r != nil {
		err := r.AsError()
		s.setErr(err)
		w.logger.Error().Err(err).Str("stack", string(r.Stack)).Msg("stream worker crashed")
		w.releaseListenKey()
		s.status.Advance(core.StatusCrashed)
	}
}

func (w *Worker) run(ctx context.Context) {
	s := w.stream
	s.status.Advance(core.StatusStarting)
	restart := backoff.NewConstantBackOff(w.deps.Config.RestartDelay)

	for {
		err := w.serve(ctx)
		if ctx.Err() != nil || s.IsStopRequested() {
			break
		}
		if isTerminal(err) {
			w.giveUp(err)
			return
		}

		s.setErr(err)
		s.reconnects.Add(1)
		w.deps.Telemetry.Reconnect(ctx, string(s.Profile.Name), core.KindOf(err).String())
		s.status.Advance(core.StatusRestarting)
		w.logger.Error().Err(err).Int64("reconnects", s.reconnects.Load()).Msg("stream connection lost, restarting")

		if !sleep(ctx, restart.NextBackOff()) {
			break
		}
		s.status.Advance(core.StatusStarting)
	}
	w.stop()
}

func isTerminal(err error) bool {
	switch core.KindOf(err) {
	case core.KindProtocolFatal, core.KindConfiguration, core.KindQuota:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// stop marks the stream stopped. The listen key is released afterwards so a
// slow REST host cannot hold the status back; Done still waits for it.
func (w *Worker) stop() {
	s := w.stream
	s.status.Advance(core.StatusStopping)
	s.mu.Lock()
	s.stoppedAt = time.Now()
	s.mu.Unlock()
	s.status.Advance(core.StatusStopped)
	w.logger.Info().Msg("stream stopped")
	w.releaseListenKey()
}

func (w *Worker) giveUp(err error) {
	s := w.stream
	s.setErr(err)
	w.logger.Error().Err(err).Bool("unrepairable", true).Msg("stream is unrepairable")
	w.releaseListenKey()
	s.mu.Lock()
	s.stoppedAt = time.Now()
	s.mu.Unlock()
	s.status.Advance(core.StatusUnrepairable)
	w.emit(core.SignalStreamUnrepairable, nil, err)
	if w.deps.OnUnrepairable != nil {
		w.deps.OnUnrepairable(s.ID, err)
	}
}

// serve runs one connection. It returns nil only when ctx is done.
func (w *Worker) serve(ctx context.Context) error {
	s := w.stream
	cfg := w.deps.Config
	intent := s.Intent()
	if ctx.Err() != nil {
		return nil
	}

	if intent.IsUserData() && !s.Profile.IsDex() && s.ListenKey() == "" {
		if w.deps.Keeper == nil {
			return core.NewStreamError(core.KindConfiguration, "user data stream without listen key keeper", core.ErrInvalidConfig)
		}
		key, err := w.deps.Keeper.Acquire(ctx, w.listenKeyRequest(intent))
		if err != nil {
			return err
		}
		s.setListenKey(key)
	}
	listenKey := s.ListenKey()

	endpoint, err := exchange.ResolveEndpoint(s.Profile, intent, listenKey, exchange.URIOptions{
		StreamBase:       cfg.WebsocketBaseURI,
		APIBase:          cfg.WebsocketAPIBaseURI,
		MaxSubscriptions: s.maxSubscriptions,
	})
	if err != nil {
		return err
	}

	socketID := s.socketID.Add(1)
	logger := w.logger.With().
		Uint64("socket_id", socketID).
		Str("url", w.redact(endpoint.URL, listenKey)).
		Logger()

	conn, err := ws.Dial(ctx, ws.Options{
		URL:              endpoint.URL,
		SocketID:         socketID,
		PingInterval:     cfg.PingInterval,
		PingTimeout:      cfg.PingTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		HandshakeTimeout: cfg.Timeout,
		Socks5:           s.Socks5,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	s.setConn(conn)

	var limiter *ratelimit.RateLimiter
	if !intent.API {
		limiter = w.deps.Limiter
	}
	pacer := s.ID.String() + "/" + strconv.FormatUint(socketID, 10)
	defer func() {
		_ = conn.Close()
		s.setConn(nil)
		if limiter != nil {
			limiter.Forget(pacer)
		}
	}()

	w.emit(core.SignalConnect, socketID, nil)
	s.status.Advance(core.StatusRunning)
	s.heartbeat()
	logger.Info().Int("subscriptions", len(intent.Subscriptions(s.Profile))).Msg("stream connected")
	defer func() {
		w.emit(core.SignalDisconnect, socketID, conn.Err())
		logger.Info().Msg("stream disconnected")
	}()

	send := func(payload any) error {
		if limiter != nil {
			if err := limiter.Wait(ctx, pacer); err != nil {
				return err
			}
		}
		var err error
		switch p := payload.(type) {
		case []byte:
			err = conn.Send(p)
		case string:
			err = conn.Send([]byte(p))
		default:
			err = conn.SendJSON(p)
		}
		if err != nil {
			return err
		}
		s.payloadsSent.Add(1)
		w.deps.Telemetry.PayloadSent(ctx, string(s.Profile.Name))
		return nil
	}

	active := intent.Subscriptions(s.Profile)
	for _, p := range exchange.SubscribePayloads(s.Profile, endpoint.Subscriptions, s.NextRequestID) {
		if err := send(p); err != nil {
			return err
		}
	}
	for len(w.carry) > 0 {
		if err := send(w.carry[0]); err != nil {
			return err
		}
		w.carry = w.carry[1:]
	}

	heartbeat := time.NewTicker(heartbeatInterval(intent))
	defer heartbeat.Stop()

	var refresh <-chan time.Time
	if listenKey != "" {
		t := time.NewTicker(cfg.ListenKeyRefreshInterval)
		defer t.Stop()
		refresh = t.C
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			s.status.Advance(core.StatusStopping)
			return nil

		case <-conn.Done():
			w.drain(ctx, conn, &first)
			if err := conn.Err(); err != nil {
				return err
			}
			return core.NewStreamError(core.KindTransient, "connection closed by peer", core.ErrConnectionClosed)

		case raw := <-conn.Frames():
			w.handleFrame(ctx, socketID, raw, &first)

		case p := <-s.payloads:
			if err := send(p); err != nil {
				w.carry = append(w.carry, p)
				return err
			}

		case <-s.intentChanged:
			desired := s.Subscriptions()
			payloads := exchange.UnsubscribePayloads(s.Profile, exchange.Diff(desired, active), s.NextRequestID)
			payloads = append(payloads, exchange.SubscribePayloads(s.Profile, exchange.Diff(active, desired), s.NextRequestID)...)
			for _, p := range payloads {
				if err := send(p); err != nil {
					return err
				}
			}
			active = desired

		case <-heartbeat.C:
			s.heartbeat()

		case <-refresh:
			if err := w.deps.Keeper.Refresh(ctx, w.listenKeyRequest(intent), listenKey); err != nil {
				if core.KindOf(err) == core.KindListenKey {
					s.setListenKey("")
				}
				return err
			}
			s.touchListenKey()
			logger.Debug().Msg("listen key refreshed")
		}
	}
}

func heartbeatInterval(intent exchange.Intent) time.Duration {
	if intent.API {
		return apiHeartbeat
	}
	return streamHeartbeat
}

// drain delivers the frames that were buffered when the socket went away.
func (w *Worker) drain(ctx context.Context, conn *ws.Conn, first *bool) {
	for {
		select {
		case raw := <-conn.Frames():
			w.handleFrame(ctx, conn.SocketID(), raw, first)
		default:
			return
		}
	}
}

func (w *Worker) handleFrame(ctx context.Context, socketID uint64, raw []byte, first *bool) {
	s := w.stream
	if socketID != s.SocketID() {
		return
	}

	now := time.Now()
	f := core.Frame{StreamID: s.ID, SocketID: socketID, Mode: s.Output, Raw: raw, ReceivedAt: now}
	if s.Output != core.OutputRaw {
		var data any
		if err := sonic.Unmarshal(raw, &data); err != nil {
			w.logger.Debug().Err(err).Msg("frame is not json, delivering raw")
			f.Mode = core.OutputRaw
		} else {
			f.Data = data
			if s.Output == core.OutputNormalized && w.deps.Normalizer != nil {
				n, err := w.deps.Normalizer.Normalize(s.Profile.Name, data)
				if err != nil {
					w.logger.Warn().Err(err).Msg("normalize frame")
				} else {
					f.Normalized = n
				}
			}
		}
	}

	s.framesProcessed.Add(1)
	s.bytesReceived.Add(int64(len(raw)))
	s.mu.Lock()
	s.lastReceivedData = now
	s.mu.Unlock()
	s.heartbeat()
	if !w.deps.Config.HighPerformance {
		w.deps.Telemetry.FrameReceived(ctx, string(s.Profile.Name), len(raw))
	}

	if *first {
		*first = false
		w.emit(core.SignalFirstReceivedData, f.Value(), nil)
	}

	if s.correlator.Resolve(f) {
		return
	}
	if err := w.deps.Dispatcher.Deliver(ctx, s.Route, f); err != nil {
		w.logger.Debug().Err(err).Msg("frame not delivered")
	}
}

func (w *Worker) emit(typ core.SignalType, data any, err error) {
	s := w.stream
	sig := core.Signal{Type: typ, StreamID: s.ID, Timestamp: time.Now(), Data: data}
	if err != nil {
		sig.Error = err.Error()
	}
	s.setLastSignal(sig)
	if w.deps.Signals != nil {
		w.deps.Signals.Emit(sig)
	}
	w.deps.Telemetry.Signal(context.Background(), string(typ))
}

func (w *Worker) listenKeyRequest(intent exchange.Intent) listenkey.Request {
	return listenkey.Request{Credentials: w.stream.Credentials, Symbol: intent.Symbol()}
}

// releaseListenKey deletes the stream's listen key, best effort. It runs
// on every exit path, with or without a live connection.
func (w *Worker) releaseListenKey() {
	s := w.stream
	key := s.ListenKey()
	if key == "" || w.deps.Keeper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.deps.Config.Timeout)
	defer cancel()
	_ = w.deps.Keeper.Release(ctx, w.listenKeyRequest(s.Intent()), key)
	s.setListenKey("")
}

func (w *Worker) redact(url, listenKey string) string {
	if listenKey == "" {
		return url
	}
	return strings.ReplaceAll(url, listenKey, keyring.Redact(listenKey, w.deps.Config.ShowSecretsInLogs))
}
