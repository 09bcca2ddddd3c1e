// Package admin serves process status on a side port: liveness, readiness
// and the metric registry as JSON.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"dqx0.com/go/httpd/internal/obs"
)

type Server struct {
	Addr     string
	Registry *obs.Registry
	Logger   obs.Logger

	started time.Time
	ready   atomic.Bool
	engine  *gin.Engine
	srv     *http.Server
}

func New(addr string, reg *obs.Registry, lg obs.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{Addr: addr, Registry: reg, Logger: lg, started: time.Now()}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/stats", s.handleStats)
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler { return s.engine }

// SetReady flips the /ready answer.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	c.String(http.StatusOK, "ready")
}

type statsResponse struct {
	Uptime     string                 `json:"uptime"`
	Counters   map[string]float64     `json:"counters"`
	Histograms map[string]obs.Summary `json:"histograms"`
}

func (s *Server) handleStats(c *gin.Context) {
	resp := statsResponse{Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.Registry != nil {
		snap := s.Registry.Snapshot()
		resp.Counters = snap.Counters
		resp.Histograms = snap.Histograms
	}
	c.JSON(http.StatusOK, resp)
}

// Start binds Addr and serves in the background. Bind errors are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.Addr, err)
	}
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	s.logf(obs.Info, "admin server on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logf(obs.Error, "admin server: %v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return nil
}

func (s *Server) logf(level obs.Level, format string, args ...interface{}) {
	if s.Logger == nil {
		return
	}
	s.Logger.Logf(level, format, args...)
}
