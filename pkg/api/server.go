package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sharedcounter/pkg/api/middleware"
	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/executor/runner"
	"sharedcounter/pkg/logger"
	"sharedcounter/pkg/resilience"
	"sharedcounter/pkg/storage"
)

const (
	// LockProbeTimeout bounds the readiness check on the named lock.
	LockProbeTimeout = time.Second
	// MaxGoroutines fails liveness when the process leaks goroutines.
	MaxGoroutines = 1000
)

// Server exposes read-only status of one counter process over HTTP.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	health     healthcheck.Handler
	log        *zap.Logger

	store    storage.StateStore
	lock     coordination.Locker
	registry *runner.Registry
	breaker  *resilience.CircuitBreaker
	self     int64
	runID    string
}

// Config holds API server configuration.
type Config struct {
	Addr        string
	ServiceName string
	Self        int64
	RunID       string
	Store       storage.StateStore
	Lock        coordination.Locker
	Registry    *runner.Registry
	Breaker     *resilience.CircuitBreaker
}

// NewServer creates the status server. Nothing listens until Start.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.MetricsMiddleware("/metrics", "/live", "/ready"))

	s := &Server{
		router:   router,
		health:   healthcheck.NewHandler(),
		log:      logger.WithFields(zap.String("component", "api")),
		store:    cfg.Store,
		lock:     cfg.Lock,
		registry: cfg.Registry,
		breaker:  cfg.Breaker,
		self:     cfg.Self,
		runID:    cfg.RunID,
	}
	router.Use(s.requestLogger())

	s.registerChecks()
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerChecks() {
	s.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(MaxGoroutines))

	s.health.AddReadinessCheck("shared-state", func() error {
		if s.store == nil {
			return errors.New("shared state is not mapped")
		}
		return nil
	})
	s.health.AddReadinessCheck("named-lock", healthcheck.Timeout(func() error {
		return coordination.WithLock(s.lock, func() error { return nil })
	}, LockProbeTimeout))
}

func (s *Server) registerRoutes() {
	s.router.GET("/live", gin.WrapH(s.health))
	s.router.GET("/ready", gin.WrapH(s.health))
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/state", s.getState)
		v1.GET("/helpers", s.listHelpers)
	}
}

// requestLogger logs each request with its id and latency.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		)
	}
}
