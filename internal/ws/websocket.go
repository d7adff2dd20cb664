package ws

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Socks5Config holds the SOCKS5 proxy a connection is tunnelled through.
type Socks5Config struct {
	// Server is the proxy address as host:port.
	Server string
	User   string
	Pass   string
	// SkipVerify disables certificate verification of the exchange host
	// through the tunnel.
	SkipVerify bool
}

// Options configures one outbound WebSocket connection.
type Options struct {
	// URL is the wss:// endpoint to connect to.
	URL    string
	Header http.Header
	// SocketID tags log lines and frames of this connection.
	SocketID uint64
	// PingInterval is the spacing of client pings; zero disables pings and read deadlines.
	PingInterval time.Duration
	// PingTimeout is added to PingInterval to form the read deadline.
	PingTimeout time.Duration
	// CloseTimeout bounds the wait for the server's close frame.
	CloseTimeout time.Duration
	// HandshakeTimeout bounds TCP, TLS and upgrade together.
	HandshakeTimeout time.Duration
	// FrameBuffer is the capacity of the frame channel.
	FrameBuffer int
	Socks5      *Socks5Config
	Logger      zerolog.Logger
}

// Conn is one outbound WebSocket. Received frames are copied and delivered
// on Frames; Done closes when the socket is gone and Err tells why.
type Conn struct {
	opts   Options
	socket *gws.Conn
	logger zerolog.Logger

	frames   chan []byte
	done     chan struct{}
	readDone chan struct{}
	closing  chan struct{}

	closeOnce sync.Once
	doneOnce  sync.Once
	errMu     sync.Mutex
	err       error

	bytesReceived  atomic.Int64
	framesReceived atomic.Int64
	framesSent     atomic.Int64
	lastActivity   atomic.Int64
}

type eventHandler struct {
	conn *Conn
}

// Dial opens a connection and starts its read and ping loops.
//
// A handshake rejected with HTTP 400 is unrepairable; any other handshake
// or network failure is transient. SOCKS5 failures wrap ErrSocks5ProxyConnection.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 256
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.HandshakeTimeout = min(opts.HandshakeTimeout, time.Until(deadline))
	}

	target, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", core.ErrInvalidConfig, err)
	}

	c := &Conn{
		opts:     opts,
		logger:   opts.Logger.With().Uint64("socket_id", opts.SocketID).Logger(),
		frames:   make(chan []byte, opts.FrameBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		closing:  make(chan struct{}),
	}

	option := &gws.ClientOption{
		Addr:             opts.URL,
		RequestHeader:    opts.Header,
		HandshakeTimeout: opts.HandshakeTimeout,
		TlsConfig:        tlsConfig(target.Hostname(), opts.Socks5),
		NewDialer: func() (gws.Dialer, error) {
			return newDialer(ctx, opts.Socks5, opts.HandshakeTimeout)
		},
	}

	socket, resp, err := gws.NewClient(&eventHandler{conn: c}, option)
	if err != nil {
		return nil, handshakeError(resp, err)
	}
	c.socket = socket
	c.touch()

	go func() {
		defer close(c.readDone)
		socket.ReadLoop()
	}()
	if opts.PingInterval > 0 {
		go c.pingLoop()
	}

	c.logger.Debug().Msg("websocket connected")
	return c, nil
}

// tlsConfig pins the server name to host. Verification is only skipped when
// a proxy asks for it.
func tlsConfig(host string, proxy *Socks5Config) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: proxy != nil && proxy.SkipVerify,
	}
}

func handshakeError(resp *http.Response, err error) error {
	if errors.Is(err, core.ErrSocks5ProxyConnection) {
		return core.NewStreamError(core.KindTransient, "socks5 tunnel failed", err)
	}
	if resp == nil {
		return core.NewStreamError(core.KindTransient, "websocket connect failed", err)
	}
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	kind := core.KindTransient
	if resp.StatusCode == http.StatusBadRequest {
		kind = core.KindProtocolFatal
	}
	return &core.StreamError{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Message:    "websocket handshake rejected",
		Err:        err,
	}
}

// Frames delivers private copies of received text and binary messages.
func (c *Conn) Frames() <-chan []byte {
	return c.frames
}

// Done is closed once the socket is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the socket is gone: nil after Close, otherwise a
// StreamError classified by close code.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// SocketID returns the id this connection was dialed with.
func (c *Conn) SocketID() uint64 {
	return c.opts.SocketID
}

// Send writes a text frame.
func (c *Conn) Send(data []byte) error {
	if c.isClosed() {
		return core.ErrConnectionClosed
	}
	if err := c.socket.WriteMessage(gws.OpcodeText, data); err != nil {
		return core.NewStreamError(core.KindTransient, "send failed", errors.Join(core.ErrConnectionClosed, err))
	}
	c.framesSent.Add(1)
	return nil
}

// SendJSON encodes v with sonic and writes it as a text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.Send(data)
}

// Close sends a normal close frame, waits up to CloseTimeout for the socket
// to go away and then drops the TCP connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.socket.WriteClose(core.CloseNormal, nil)

		timer := time.NewTimer(c.opts.CloseTimeout)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
			c.logger.Debug().Dur("close_timeout", c.opts.CloseTimeout).Msg("close handshake timed out")
		}
		_ = c.socket.NetConn().Close()

		select {
		case <-c.readDone:
		case <-time.After(c.opts.CloseTimeout):
		}
		c.finish(nil)
	})
	return nil
}

// Stats returns the traffic counters of this connection.
func (c *Conn) Stats() Stats {
	return Stats{
		BytesReceived:  c.bytesReceived.Load(),
		FramesReceived: c.framesReceived.Load(),
		FramesSent:     c.framesSent.Load(),
		LastActivity:   time.Unix(0, c.lastActivity.Load()),
	}
}

// Stats is a point-in-time capture of connection traffic.
type Stats struct {
	BytesReceived  int64
	FramesReceived int64
	FramesSent     int64
	LastActivity   time.Time
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closing:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) finish(err error) {
	c.doneOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
	if c.opts.PingInterval > 0 && c.socket != nil {
		_ = c.socket.SetDeadline(time.Now().Add(c.opts.PingInterval + c.opts.PingTimeout))
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.socket.WritePing(nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		case <-c.closing:
			return
		case <-c.done:
			return
		}
	}
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	h.conn.touch()
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	c := h.conn
	select {
	case <-c.closing:
		c.finish(nil)
		return
	default:
	}
	c.finish(classifyClose(err))
	c.logger.Warn().Err(err).Msg("websocket disconnected")
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	h.conn.touch()
	_ = socket.WritePong(payload)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	h.conn.touch()
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	c := h.conn
	data := bytes.Clone(message.Bytes())
	if len(data) == 0 {
		return
	}
	c.touch()
	c.bytesReceived.Add(int64(len(data)))
	c.framesReceived.Add(1)

	select {
	case c.frames <- data:
	case <-c.closing:
	case <-c.done:
	}
}

func classifyClose(err error) error {
	var ce *gws.CloseError
	if errors.As(err, &ce) {
		code := int(ce.Code)
		return &core.StreamError{
			Kind:    core.KindForCloseCode(code),
			Message: fmt.Sprintf("closed by server with code %d %s", code, string(ce.Reason)),
			Err:     core.ErrConnectionClosed,
		}
	}
	if err == nil {
		err = core.ErrConnectionClosed
	}
	return core.NewStreamError(core.KindTransient, "connection lost", errors.Join(core.ErrConnectionClosed, err))
}

type contextDialer struct {
	ctx     context.Context
	base    proxy.ContextDialer
	timeout time.Duration
	socks5  bool
}

func (d *contextDialer) Dial(network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	conn, err := d.base.DialContext(ctx, network, addr)
	if err != nil && d.socks5 {
		return nil, fmt.Errorf("%w: %v", core.ErrSocks5ProxyConnection, err)
	}
	return conn, err
}

func newDialer(ctx context.Context, cfg *Socks5Config, timeout time.Duration) (gws.Dialer, error) {
	direct := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if cfg == nil {
		return &contextDialer{ctx: ctx, base: direct, timeout: timeout}, nil
	}

	var auth *proxy.Auth
	if cfg.User != "" {
		auth = &proxy.Auth{User: cfg.User, Password: cfg.Pass}
	}
	d, err := proxy.SOCKS5("tcp", cfg.Server, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSocks5ProxyConnection, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("%w: dialer does not support contexts", core.ErrSocks5ProxyConnection)
	}
	return &contextDialer{ctx: ctx, base: cd, timeout: timeout, socks5: true}, nil
}

// ProbeSocks5 checks that the proxy accepts TCP connections. Failures are
// configuration errors, raised before any worker is spawned.
func ProbeSocks5(ctx context.Context, cfg *Socks5Config, timeout time.Duration) error {
	if cfg == nil || cfg.Server == "" {
		return nil
	}
	d := &net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Server)
	if err != nil {
		return &core.StreamError{
			Kind:    core.KindConfiguration,
			Message: "socks5 proxy " + cfg.Server + " is unreachable",
			Err:     errors.Join(core.ErrSocks5ProxyConnection, err),
		}
	}
	return conn.Close()
}
