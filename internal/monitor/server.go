package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Provider returns the current snapshot, already evaluated.
type Provider interface {
	MonitoringStatus() Snapshot
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() Snapshot

func (f ProviderFunc) MonitoringStatus() Snapshot { return f() }

// Server exposes GET /status/icinga and GET /status.
type Server struct {
	addr     string
	provider Provider
	logger   zerolog.Logger
	engine   *gin.Engine
	srv      *http.Server
	listener net.Listener
}

// New builds the HTTP handlers. Nothing listens until Start.
func New(addr string, provider Provider, logger zerolog.Logger) *Server {
	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		addr:     addr,
		provider: provider,
		logger:   logger,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.accessLog)
	s.engine.GET("/status/icinga", s.getIcinga)
	s.engine.GET("/status", s.getStatus)
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("monitoring listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("monitoring server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("monitoring server started")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) getIcinga(c *gin.Context) {
	snap := s.provider.MonitoringStatus()
	c.Header("X-Check-Return-Code", fmt.Sprint(snap.Level.ExitCode()))
	c.String(http.StatusOK, snap.Text)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.MonitoringStatus())
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("latency", time.Since(start)).
		Msg("monitoring request")
}
