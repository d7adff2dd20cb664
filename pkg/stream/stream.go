// Package stream holds the per-stream state and the worker that keeps one
// stream connected.
package stream

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/ws"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/correlator"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/dispatch"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
)

// Spec is everything a stream is created with. Only the intent and the
// label change afterwards.
type Spec struct {
	ID          uuid.UUID
	Label       string
	Profile     exchange.Profile
	Intent      exchange.Intent
	Credentials core.Credentials
	Output      core.OutputMode
	Route       *dispatch.Route
	// MaxSubscriptions lowers the exchange cap when positive.
	MaxSubscriptions int
	PayloadQueueSize int
	// Socks5 tunnels the stream through a proxy when set.
	Socks5 *ws.Socks5Config
}

// Stream is one logical subscription set. Its worker may open many
// connections over its lifetime; at most one is current.
type Stream struct {
	ID          uuid.UUID
	Profile     exchange.Profile
	Credentials core.Credentials
	Output      core.OutputMode
	Route       *dispatch.Route
	Socks5      *ws.Socks5Config
	CreatedAt   time.Time

	maxSubscriptions int

	status        ws.State
	stopRequested atomic.Bool
	cancel        context.CancelFunc
	done          chan struct{}

	payloads      chan any
	intentChanged chan struct{}
	correlator    *correlator.Correlator
	requestID     atomic.Int64
	socketID      atomic.Uint64

	mu               sync.RWMutex
	label            string
	intent           exchange.Intent
	conn             *ws.Conn
	listenKey        string
	lastListenKeyAt  time.Time
	lastSignal       core.Signal
	lastReceivedData time.Time
	lastErr          error
	stoppedAt        time.Time

	lastHeartbeat atomic.Int64

	bytesReceived   atomic.Int64
	framesProcessed atomic.Int64
	payloadsSent    atomic.Int64
	reconnects      atomic.Int64
}

// New creates a stream in StatusNew. The subscription cap is not checked
// here; the caller validates the intent first.
func New(spec Spec) *Stream {
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}
	if spec.PayloadQueueSize <= 0 {
		spec.PayloadQueueSize = 1024
	}
	return &Stream{
		ID:               spec.ID,
		Profile:          spec.Profile,
		Credentials:      spec.Credentials,
		Output:           spec.Output,
		Route:            spec.Route,
		Socks5:           spec.Socks5,
		CreatedAt:        time.Now(),
		maxSubscriptions: spec.MaxSubscriptions,
		done:             make(chan struct{}),
		payloads:         make(chan any, spec.PayloadQueueSize),
		intentChanged:    make(chan struct{}, 1),
		correlator:       correlator.New(),
		label:            spec.Label,
		intent:           spec.Intent.Clone(),
	}
}

func (s *Stream) Status() core.Status {
	return s.status.Load()
}

// Done closes when the worker has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IsStopRequested reports whether RequestStop was called.
func (s *Stream) IsStopRequested() bool {
	return s.stopRequested.Load()
}

// RequestStop asks the worker to stop. It does not wait.
func (s *Stream) RequestStop() {
	if s.stopRequested.Swap(true) {
		return
	}
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// ForceClose drops the current connection without waiting for the close handshake.
func (s *Stream) ForceClose() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		go conn.Close()
	}
}

func (s *Stream) Label() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.label
}

func (s *Stream) SetLabel(label string) {
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()
}

// Intent returns a copy of the current intent.
func (s *Stream) Intent() exchange.Intent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intent.Clone()
}

func (s *Stream) IsAPI() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intent.API
}

func (s *Stream) IsUserData() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intent.IsUserData()
}

// Subscriptions returns the flattened stream names of the current intent.
func (s *Stream) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intent.Subscriptions(s.Profile)
}

// Subscribe adds channels and markets to the intent. It fails with a quota
// error, leaving the intent unchanged, if the result would exceed the cap.
// The returned names are the subscriptions that are new.
func (s *Stream) Subscribe(channels, markets []string) ([]string, error) {
	return s.mutate(func(i exchange.Intent) exchange.Intent { return i.Merge(channels, markets) })
}

// Unsubscribe removes channels and markets from the intent and returns the
// subscriptions that went away.
func (s *Stream) Unsubscribe(channels, markets []string) ([]string, error) {
	return s.mutate(func(i exchange.Intent) exchange.Intent { return i.Remove(channels, markets) })
}

func (s *Stream) mutate(fn func(exchange.Intent) exchange.Intent) ([]string, error) {
	if s.Status().IsTerminal() {
		return nil, core.ErrStreamStopped
	}

	s.mu.Lock()
	prev := s.intent.Subscriptions(s.Profile)
	next := fn(s.intent)
	nextSubs := next.Subscriptions(s.Profile)
	if err := s.Profile.CheckCap(len(nextSubs), s.maxSubscriptions); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.intent = next
	s.mu.Unlock()

	changed := append(exchange.Diff(prev, nextSubs), exchange.Diff(nextSubs, prev)...)
	if len(changed) > 0 {
		select {
		case s.intentChanged <- struct{}{}:
		default:
		}
	}
	return changed, nil
}

// AddPayload queues a frame to be sent on the stream. Payloads keep their
// order across reconnects. A full queue fails immediately.
func (s *Stream) AddPayload(payload any) error {
	if s.Status().IsTerminal() {
		return core.ErrStreamStopped
	}
	select {
	case s.payloads <- payload:
		return nil
	default:
		return core.ErrPayloadQueueFull
	}
}

// PendingPayloads returns the number of queued payloads.
func (s *Stream) PendingPayloads() int {
	return len(s.payloads)
}

// Correlator returns the request correlator of the stream.
func (s *Stream) Correlator() *correlator.Correlator {
	return s.correlator
}

// NextRequestID returns a fresh numeric id for control requests.
func (s *Stream) NextRequestID() int64 {
	return s.requestID.Add(1)
}

// NextRequestKey is NextRequestID as a correlator key.
func (s *Stream) NextRequestKey() (int64, string) {
	id := s.NextRequestID()
	return id, strconv.FormatInt(id, 10)
}

// SocketID returns the id of the current connection, zero before the first.
func (s *Stream) SocketID() uint64 {
	return s.socketID.Load()
}

func (s *Stream) ListenKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenKey
}

func (s *Stream) setListenKey(key string) {
	s.mu.Lock()
	s.listenKey = key
	if key != "" {
		s.lastListenKeyAt = time.Now()
	}
	s.mu.Unlock()
}

func (s *Stream) touchListenKey() {
	s.mu.Lock()
	s.lastListenKeyAt = time.Now()
	s.mu.Unlock()
}

func (s *Stream) setConn(c *ws.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Stream) setLastSignal(sig core.Signal) {
	s.mu.Lock()
	s.lastSignal = sig
	s.mu.Unlock()
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Err returns the last error the worker saw, nil if none.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Stream) heartbeat() {
	s.lastHeartbeat.Store(time.Now().UnixNano())
}

// Info is a point-in-time copy of a stream's state and counters.
type Info struct {
	ID                     uuid.UUID       `json:"stream_id"`
	Label                  string          `json:"stream_label,omitempty"`
	Exchange               exchange.Name   `json:"exchange"`
	Status                 core.Status     `json:"status"`
	Intent                 exchange.Intent `json:"intent"`
	Subscriptions          int             `json:"subscriptions"`
	Output                 core.OutputMode `json:"output"`
	Sink                   string          `json:"sink"`
	SocketID               uint64          `json:"socket_id"`
	StopRequested          bool            `json:"stop_request"`
	ListenKeyActive        bool            `json:"listen_key_active"`
	LastListenKeyPing      time.Time       `json:"last_listen_key_ping,omitzero"`
	LastHeartbeat          time.Time       `json:"last_heartbeat,omitzero"`
	LastReceivedData       time.Time       `json:"last_received_data_record,omitzero"`
	LastSignal             core.Signal     `json:"last_signal,omitzero"`
	LastError              string          `json:"last_error,omitempty"`
	BytesReceived          int64           `json:"processed_receives_bytes"`
	FramesProcessed        int64           `json:"processed_receives_total"`
	PayloadsSent           int64           `json:"processed_transmitted_total"`
	Reconnects             int64           `json:"reconnects"`
	PendingPayloads        int             `json:"payload_queue_length"`
	PendingRequests        int             `json:"pending_requests"`
	CreatedAt              time.Time       `json:"start_time"`
	StoppedAt              time.Time       `json:"stop_time,omitzero"`
	SecondsToLastHeartbeat float64         `json:"seconds_to_last_heartbeat"`
}

// Info returns a snapshot of the stream.
func (s *Stream) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:                s.ID,
		Label:             s.label,
		Exchange:          s.Profile.Name,
		Status:            s.status.Load(),
		Intent:            s.intent.Clone(),
		Subscriptions:     len(s.intent.Subscriptions(s.Profile)),
		Output:            s.Output,
		SocketID:          s.socketID.Load(),
		StopRequested:     s.stopRequested.Load(),
		ListenKeyActive:   s.listenKey != "",
		LastListenKeyPing: s.lastListenKeyAt,
		LastReceivedData:  s.lastReceivedData,
		LastSignal:        s.lastSignal,
		BytesReceived:     s.bytesReceived.Load(),
		FramesProcessed:   s.framesProcessed.Load(),
		PayloadsSent:      s.payloadsSent.Load(),
		Reconnects:        s.reconnects.Load(),
		PendingPayloads:   len(s.payloads),
		PendingRequests:   s.correlator.Pending(),
		CreatedAt:         s.CreatedAt,
		StoppedAt:         s.stoppedAt,
	}
	if s.Route != nil {
		info.Sink = s.Route.Sink().String()
	}
	if hb := s.lastHeartbeat.Load(); hb != 0 {
		info.LastHeartbeat = time.Unix(0, hb)
		info.SecondsToLastHeartbeat = time.Since(info.LastHeartbeat).Seconds()
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}
