package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/dispatch"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/stream"
)

// StreamRequest describes a stream to create. At most one sink may be set:
// StreamBufferName, Callback, AsyncCallback, PullQueue or Sink. Without any
// the manager default sink is used, then the global stream buffer.
type StreamRequest struct {
	Channels []string
	Markets  []string
	// Symbols is the isolated-margin symbol of a user-data stream.
	Symbols []string
	// API opens a WS-API connection instead of a subscription stream.
	API   bool
	Label string
	// Output overrides the manager's default output mode.
	Output      core.OutputMode
	Credentials core.Credentials

	StreamBufferName string
	Callback         func(core.Frame)
	AsyncCallback    func(context.Context, core.Frame) error
	PullQueue        bool
	PullQueueSize    int
	Sink             dispatch.Sink
}

func (r StreamRequest) intent() exchange.Intent {
	return exchange.Intent{
		Channels: trimAll(r.Channels),
		Markets:  trimAll(r.Markets),
		Symbols:  trimAll(r.Symbols),
		API:      r.API,
	}
}

func (r StreamRequest) sinks() []dispatch.Sink {
	var out []dispatch.Sink
	if r.StreamBufferName != "" {
		out = append(out, dispatch.BufferSink(r.StreamBufferName))
	}
	if r.Callback != nil {
		out = append(out, dispatch.CallbackSink(r.Callback))
	}
	if r.AsyncCallback != nil {
		out = append(out, dispatch.AsyncCallbackSink(r.AsyncCallback))
	}
	if r.PullQueue {
		out = append(out, dispatch.PullQueueSink(r.PullQueueSize))
	}
	if !r.Sink.IsZero() {
		out = append(out, r.Sink)
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// CreateStream validates req, registers the stream and starts its worker.
// It returns as soon as the worker is scheduled; connecting happens in the
// background and is reported through signals.
func (m *Manager) CreateStream(req StreamRequest) (uuid.UUID, error) {
	if m.IsManagerStopping() {
		return uuid.Nil, core.ErrManagerStopping
	}

	intent := req.intent()
	if err := m.validate(intent, req.Credentials); err != nil {
		return uuid.Nil, err
	}

	output := m.cfg.OutputDefault
	if req.Output != "" {
		mode, err := core.ParseOutputMode(string(req.Output))
		if err != nil {
			return uuid.Nil, err
		}
		output = mode
	}

	sink, err := dispatch.Select(m.defaultSink, req.sinks()...)
	if err != nil {
		return uuid.Nil, err
	}

	s := stream.New(stream.Spec{
		Label:            req.Label,
		Profile:          m.profile,
		Intent:           intent,
		Credentials:      req.Credentials,
		Output:           output,
		Route:            m.dispatcher.Bind(sink),
		MaxSubscriptions: m.cfg.MaxSubscriptionsPerStream,
		PayloadQueueSize: m.cfg.PayloadQueueSize,
		Socks5:           m.socks5(),
	})

	// StopManager flips stopping under mu, so a registered worker is always
	// started before its workers.Wait.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping.Load() {
		return uuid.Nil, core.ErrManagerStopping
	}
	if req.Label != "" {
		if _, taken := m.labels[req.Label]; taken {
			return uuid.Nil, core.NewStreamError(core.KindConfiguration, fmt.Sprintf("label %q", req.Label), core.ErrLabelInUse)
		}
		m.labels[req.Label] = s.ID
	}
	m.streams[s.ID] = s

	logger := m.logger.Info().
		Str("stream_id", s.ID.String()).
		Str("stream_label", req.Label).
		Strs("subscriptions", s.Subscriptions()).
		Bool("api", intent.API).
		Stringer("sink", sink)
	if !req.Credentials.IsZero() {
		key := m.keys.Add(s.ID.String(), req.Credentials.APIKey, req.Credentials.APISecret)
		logger = logger.Object("credentials", key)
	}
	logger.Msg("stream created")

	m.signals.Emit(core.Signal{Type: core.SignalNewStreamStarted, StreamID: s.ID})
	m.telemetry.Signal(context.Background(), string(core.SignalNewStreamStarted))

	worker := stream.NewWorker(s, m.deps())
	m.workers.Go(func() {
		worker.Run(m.ctx)
		m.onStreamExit(s)
	})
	return s.ID, nil
}

func (m *Manager) validate(intent exchange.Intent, creds core.Credentials) error {
	if intent.API {
		if !m.profile.SupportsAPI() && m.cfg.WebsocketAPIBaseURI == "" {
			return core.NewStreamError(core.KindConfiguration,
				fmt.Sprintf("%s has no websocket api", m.profile.Name), core.ErrInvalidConfig)
		}
		if creds.APIKey == "" || creds.APISecret == "" {
			return core.NewStreamError(core.KindConfiguration, "websocket api stream needs api key and secret", core.ErrNoCredentials)
		}
		return nil
	}

	if intent.IsUserData() && !m.profile.IsDex() {
		if creds.APIKey == "" {
			return core.NewStreamError(core.KindConfiguration, "user data stream needs an api key", core.ErrNoCredentials)
		}
		if m.profile.IsIsolatedMargin() && intent.Symbol() == "" {
			return core.NewStreamError(core.KindConfiguration, "isolated margin user data stream needs a symbol", core.ErrInvalidConfig)
		}
	}
	return m.profile.CheckCap(len(intent.Subscriptions(m.profile)), m.cfg.MaxSubscriptionsPerStream)
}

func (m *Manager) onStreamExit(s *stream.Stream) {
	status := s.Status()
	m.logger.Debug().Str("stream_id", s.ID.String()).Stringer("status", status).Msg("stream worker exited")
	if m.cfg.AutoDataCleanupStoppedStreams && status.IsTerminal() && !m.IsManagerStopping() {
		m.remove(s)
	}
}

func (m *Manager) remove(s *stream.Stream) {
	m.mu.Lock()
	delete(m.streams, s.ID)
	if label := s.Label(); label != "" && m.labels[label] == s.ID {
		delete(m.labels, label)
	}
	m.mu.Unlock()
	m.keys.Remove(s.ID.String())

	route := s.Route
	if route == nil || route.Sink().Kind() != dispatch.SinkBuffer {
		return
	}
	name := route.Sink().Name()
	for _, other := range m.snapshot() {
		if other.Route != nil && other.Route.Sink().Kind() == dispatch.SinkBuffer && other.Route.Sink().Name() == name {
			return
		}
	}
	m.buffers.Clear(name)
}

// SubscribeToStream adds channels and markets to a running stream. The
// worker sends the SUBSCRIBE for the new names; it reports false when
// nothing changed.
func (m *Manager) SubscribeToStream(id uuid.UUID, channels, markets []string) (bool, error) {
	s, err := m.get(id)
	if err != nil {
		return false, err
	}
	if s.IsAPI() {
		return false, core.NewStreamError(core.KindConfiguration, "cannot subscribe on a websocket api stream", core.ErrInvalidConfig)
	}
	added, err := s.Subscribe(trimAll(channels), trimAll(markets))
	if err != nil {
		return false, err
	}
	m.logger.Debug().Str("stream_id", id.String()).Strs("subscriptions", added).Msg("subscribed")
	return len(added) > 0, nil
}

// UnsubscribeFromStream removes channels and markets from a running stream.
func (m *Manager) UnsubscribeFromStream(id uuid.UUID, channels, markets []string) (bool, error) {
	s, err := m.get(id)
	if err != nil {
		return false, err
	}
	removed, err := s.Unsubscribe(trimAll(channels), trimAll(markets))
	if err != nil {
		return false, err
	}
	m.logger.Debug().Str("stream_id", id.String()).Strs("subscriptions", removed).Msg("unsubscribed")
	return len(removed) > 0, nil
}

// ReplaceStream starts a stream for req and stops old once the new stream
// has received its first frame. If that does not happen within timeout the
// new stream is stopped instead and old keeps running. Without a label in
// req the new stream takes over the label of old.
func (m *Manager) ReplaceStream(ctx context.Context, old uuid.UUID, req StreamRequest, timeout time.Duration) (uuid.UUID, error) {
	prev, err := m.get(old)
	if err != nil {
		return uuid.Nil, err
	}
	inherited := ""
	if req.Label == "" && prev.Label() != "" {
		inherited = prev.Label()
		req.Label = inherited
		m.mu.Lock()
		delete(m.labels, inherited)
		m.mu.Unlock()
	}
	rollback := func(next *stream.Stream) {
		if inherited == "" {
			return
		}
		m.mu.Lock()
		m.labels[inherited] = prev.ID
		m.mu.Unlock()
		if next != nil {
			next.SetLabel("")
		}
	}

	id, err := m.CreateStream(req)
	if err != nil {
		rollback(nil)
		return uuid.Nil, err
	}
	next, err := m.get(id)
	if err != nil {
		return uuid.Nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for next.Info().LastReceivedData.IsZero() {
		select {
		case <-ctx.Done():
			next.RequestStop()
			rollback(next)
			return uuid.Nil, core.NewStreamError(core.KindTransient,
				fmt.Sprintf("replacement stream received no data within %s", timeout), ctx.Err())
		case <-next.Done():
			rollback(next)
			return uuid.Nil, core.NewStreamError(core.KindTransient, "replacement stream ended before receiving data", next.Err())
		case <-ticker.C:
		}
	}

	if inherited != "" {
		prev.SetLabel("")
	}
	prev.RequestStop()
	m.logger.Info().Str("old_stream_id", old.String()).Str("stream_id", id.String()).Msg("stream replaced")
	return id, nil
}

// StopStream asks the stream's worker to stop. It does not wait; use
// WaitTillStreamHasStopped for that.
func (m *Manager) StopStream(id uuid.UUID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.RequestStop()
	m.logger.Info().Str("stream_id", id.String()).Msg("stream stop requested")
	return nil
}

// WaitTillStreamHasStopped blocks until the worker of id has exited.
func (m *Manager) WaitTillStreamHasStopped(ctx context.Context, id uuid.UUID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteStream stops the stream, waits for its worker and forgets it
// together with its named buffer.
func (m *Manager) DeleteStream(ctx context.Context, id uuid.UUID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.RequestStop()
	select {
	case <-s.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	m.remove(s)
	return nil
}

// IsStopRequest reports whether a stop was requested for id. Unknown ids
// count as stopped.
func (m *Manager) IsStopRequest(id uuid.UUID) bool {
	s, err := m.get(id)
	if err != nil {
		return true
	}
	return s.IsStopRequested() || m.IsManagerStopping()
}

// AddPayloadToStream queues payload for sending on the stream's socket.
// Byte slices and strings are sent as they are; anything else as JSON.
func (m *Manager) AddPayloadToStream(id uuid.UUID, payload any) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.AddPayload(payload)
}

// GetStreamInfo returns a snapshot of the stream.
func (m *Manager) GetStreamInfo(id uuid.UUID) (stream.Info, error) {
	s, err := m.get(id)
	if err != nil {
		return stream.Info{}, err
	}
	return s.Info(), nil
}

// GetStreamList returns a snapshot of every known stream.
func (m *Manager) GetStreamList() map[uuid.UUID]stream.Info {
	streams := m.snapshot()
	out := make(map[uuid.UUID]stream.Info, len(streams))
	for _, s := range streams {
		out[s.ID] = s.Info()
	}
	return out
}

// GetStreamIDByLabel resolves a label to its stream id.
func (m *Manager) GetStreamIDByLabel(label string) (uuid.UUID, error) {
	m.mu.RLock()
	id, ok := m.labels[label]
	m.mu.RUnlock()
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: label %q", core.ErrStreamNotFound, label)
	}
	return id, nil
}

// SetStreamLabel renames a stream. An empty label removes it.
func (m *Manager) SetStreamLabel(id uuid.UUID, label string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, taken := m.labels[label]; taken && owner != id {
		return core.NewStreamError(core.KindConfiguration, fmt.Sprintf("label %q", label), core.ErrLabelInUse)
	}
	if prev := s.Label(); prev != "" {
		delete(m.labels, prev)
	}
	if label != "" {
		m.labels[label] = id
	}
	s.SetLabel(label)
	return nil
}

// GetSubscriptions returns the subscription names the stream wants. The
// names the exchange confirms are returned by GetStreamSubscriptions.
func (m *Manager) GetSubscriptions(id uuid.UUID) ([]string, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return s.Subscriptions(), nil
}

// GetNumberOfSubscriptions returns the subscription count of the stream.
func (m *Manager) GetNumberOfSubscriptions(id uuid.UUID) (int, error) {
	subs, err := m.GetSubscriptions(id)
	return len(subs), err
}

// GetNumberOfAllSubscriptions sums the subscriptions of every stream that
// has not stopped.
func (m *Manager) GetNumberOfAllSubscriptions() int {
	n := 0
	for _, s := range m.snapshot() {
		if !s.Status().IsTerminal() {
			n += len(s.Subscriptions())
		}
	}
	return n
}

// GetLimitOfSubscriptionsPerStream returns the effective per-stream cap.
func (m *Manager) GetLimitOfSubscriptionsPerStream() int {
	return m.profile.Cap(m.cfg.MaxSubscriptionsPerStream)
}

// GetListenKey returns the listen key currently held by a user-data stream.
func (m *Manager) GetListenKey(id uuid.UUID) (string, error) {
	s, err := m.get(id)
	if err != nil {
		return "", err
	}
	return s.ListenKey(), nil
}
