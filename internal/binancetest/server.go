// Package binancetest runs an in-process stand-in for the Binance stream,
// WS-API and listen-key REST endpoints, for use in tests.
package binancetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Server is a fake exchange. Stream connections live under /ws, the WS-API
// under /ws-api/v3 and listen keys under /api/v3/userDataStream.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*peer]struct{}
	received []Message
	keys     map[string]int

	connects atomic.Int64
	orderID  atomic.Int64
	keySeq   atomic.Int64

	// RejectStatus, when set, fails every stream handshake with this HTTP status.
	RejectStatus atomic.Int32
	// ListenKeyCode, when set, fails every listen-key call with this Binance code and HTTP 400.
	ListenKeyCode atomic.Int32
	// RefreshFailures fails the next n listen-key refreshes with HTTP 503.
	RefreshFailures atomic.Int32
	// SilentControl stops replies to SUBSCRIBE/UNSUBSCRIBE/LIST_SUBSCRIPTIONS.
	SilentControl atomic.Bool
	// ReleaseDelay holds every listen-key DELETE for this many nanoseconds.
	ReleaseDelay atomic.Int64
}

// Message is one frame the server received.
type Message struct {
	Path string
	Data []byte
	At   time.Time
}

type peer struct {
	conn *websocket.Conn
	path string
	api  bool

	wmu  sync.Mutex
	mu   sync.Mutex
	subs []string
}

func (p *peer) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.writeRaw(data)
}

func (p *peer) writeRaw(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) subscriptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.subs)
}

// NewServer starts a fake exchange. Close it when done.
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		conns:    make(map[*peer]struct{}),
		keys:     make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleStream)
	mux.HandleFunc("/ws/", s.handleStream)
	mux.HandleFunc("/ws-api/v3", s.handleAPI)
	mux.HandleFunc("/api/v3/userDataStream", s.handleListenKey)
	mux.HandleFunc("/api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"serverTime": time.Now().UnixMilli()})
	})
	s.srv = httptest.NewServer(mux)
	return s
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for p := range s.conns {
		_ = p.conn.Close()
	}
	s.mu.Unlock()
	s.srv.Close()
}

// StreamURI is the ws:// root to use as the websocket base URI.
func (s *Server) StreamURI() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// APIURI is the WS-API endpoint.
func (s *Server) APIURI() string {
	return s.StreamURI() + "/ws-api/v3"
}

// RestURI is the REST root for listen keys.
func (s *Server) RestURI() string {
	return s.srv.URL
}

// Connects returns the number of accepted stream and API connections.
func (s *Server) Connects() int {
	return int(s.connects.Load())
}

// OpenConnections returns the number of live connections.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received returns a copy of every frame received so far.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// Subscriptions returns the union of stream names subscribed on live connections.
func (s *Server) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.conns {
		for _, sub := range p.subscriptions() {
			if !slices.Contains(out, sub) {
				out = append(out, sub)
			}
		}
	}
	slices.Sort(out)
	return out
}

// ListenKeys returns how many times each listen key has been refreshed;
// released keys are absent.
func (s *Server) ListenKeys() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.keys))
	for k, v := range s.keys {
		out[k] = v
	}
	return out
}

// Publish sends data to every connection subscribed to stream and returns
// the number of connections reached.
func (s *Server) Publish(stream string, data any) int {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	n := 0
	for _, p := range s.peers() {
		if slices.Contains(p.subscriptions(), stream) && p.writeRaw(raw) == nil {
			n++
		}
	}
	return n
}

// PublishRaw sends data to every stream connection whose path matches.
func (s *Server) PublishRaw(path string, data []byte) int {
	n := 0
	for _, p := range s.peers() {
		if !p.api && p.path == path && p.writeRaw(data) == nil {
			n++
		}
	}
	return n
}

// DropAll closes every TCP connection without a close frame, which the
// client sees as close code 1006.
func (s *Server) DropAll() {
	for _, p := range s.peers() {
		_ = p.conn.UnderlyingConn().Close()
	}
}

// CloseAll sends a close frame with code and reason to every connection.
func (s *Server) CloseAll(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	for _, p := range s.peers() {
		p.wmu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		p.wmu.Unlock()
	}
}

func (s *Server) peers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, api bool) (*peer, bool) {
	if status := int(s.RejectStatus.Load()); status != 0 && !api {
		writeJSON(w, status, map[string]any{"code": -1102, "msg": "rejected"})
		return nil, false
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, false
	}
	p := &peer{conn: conn, path: r.URL.Path, api: api}
	if rest, ok := strings.CutPrefix(r.URL.Path, "/ws/"); ok && rest != "" {
		p.subs = []string{rest}
	}
	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.mu.Unlock()
	s.connects.Add(1)
	return p, true
}

func (s *Server) release(p *peer) {
	s.mu.Lock()
	delete(s.conns, p)
	s.mu.Unlock()
	_ = p.conn.Close()
}

func (s *Server) record(p *peer, data []byte) {
	s.mu.Lock()
	s.received = append(s.received, Message{Path: p.path, Data: data, At: time.Now()})
	s.mu.Unlock()
}

type controlRequest struct {
	Method string          `json:"method"`
	Params []string        `json:"params"`
	ID     json.RawMessage `json:"id"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	p, ok := s.accept(w, r, false)
	if !ok {
		return
	}
	defer s.release(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		s.record(p, data)

		var req controlRequest
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		p.mu.Lock()
		var result any
		switch req.Method {
		case "SUBSCRIBE":
			for _, name := range req.Params {
				if !slices.Contains(p.subs, name) {
					p.subs = append(p.subs, name)
				}
			}
		case "UNSUBSCRIBE":
			p.subs = slices.DeleteFunc(p.subs, func(name string) bool { return slices.Contains(req.Params, name) })
		case "LIST_SUBSCRIPTIONS":
			result = slices.Clone(p.subs)
		}
		p.mu.Unlock()

		if req.Method != "" && !s.SilentControl.Load() {
			_ = p.write(map[string]any{"result": result, "id": req.ID})
		}
	}
}

type apiRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	p, ok := s.accept(w, r, true)
	if !ok {
		return
	}
	defer s.release(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		s.record(p, data)

		var req apiRequest
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		_ = p.write(s.apiResponse(req))
	}
}

func (s *Server) apiResponse(req apiRequest) map[string]any {
	resp := map[string]any{
		"id":     req.ID,
		"status": http.StatusOK,
		"rateLimits": []map[string]any{
			{"rateLimitType": "REQUEST_WEIGHT", "interval": "MINUTE", "intervalNum": 1, "limit": 6000, "count": 1},
		},
	}
	signed := req.Params["signature"] != nil
	switch req.Method {
	case "ping":
		resp["result"] = map[string]any{}
	case "time":
		resp["result"] = map[string]any{"serverTime": time.Now().UnixMilli()}
	case "order.place", "order.cancel", "order.status", "openOrders.status", "account.status":
		if !signed {
			return apiError(req.ID, http.StatusBadRequest, -1102, "Mandatory parameter 'signature' was not sent.")
		}
		resp["result"] = s.orderResult(req)
	default:
		return apiError(req.ID, http.StatusBadRequest, -1100, fmt.Sprintf("Unknown method %q.", req.Method))
	}
	return resp
}

func (s *Server) orderResult(req apiRequest) any {
	switch req.Method {
	case "order.place":
		id := s.orderID.Add(1)
		return map[string]any{
			"symbol":        req.Params["symbol"],
			"orderId":       id,
			"clientOrderId": fmt.Sprintf("client-%d", id),
			"price":         req.Params["price"],
			"origQty":       req.Params["quantity"],
			"side":          req.Params["side"],
			"type":          req.Params["type"],
			"status":        "NEW",
		}
	case "order.cancel":
		return map[string]any{
			"symbol":            req.Params["symbol"],
			"origClientOrderId": req.Params["origClientOrderId"],
			"status":            "CANCELED",
		}
	case "openOrders.status":
		return []any{}
	case "account.status":
		return map[string]any{"canTrade": true, "balances": []any{}}
	default:
		return map[string]any{"symbol": req.Params["symbol"], "status": "NEW"}
	}
}

func apiError(id string, status, code int, msg string) map[string]any {
	return map[string]any{
		"id":     id,
		"status": status,
		"error":  map[string]any{"code": code, "msg": msg},
	}
}

func (s *Server) handleListenKey(w http.ResponseWriter, r *http.Request) {
	if code := int(s.ListenKeyCode.Load()); code != 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": code, "msg": "API-key format invalid."})
		return
	}
	if r.Header.Get("X-MBX-APIKEY") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": -2014, "msg": "API-key format invalid."})
		return
	}

	key := r.URL.Query().Get("listenKey")
	switch r.Method {
	case http.MethodPost:
		key = fmt.Sprintf("lk%062d", s.keySeq.Add(1))
		s.mu.Lock()
		s.keys[key] = 0
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"listenKey": key})
	case http.MethodPut:
		if s.RefreshFailures.Load() > 0 {
			s.RefreshFailures.Add(-1)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"code": -1001, "msg": "Internal error."})
			return
		}
		s.mu.Lock()
		_, ok := s.keys[key]
		if ok {
			s.keys[key]++
		}
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": -1125, "msg": "This listenKey does not exist."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	case http.MethodDelete:
		time.Sleep(time.Duration(s.ReleaseDelay.Load()))
		s.mu.Lock()
		delete(s.keys, key)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
