package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/server/endpoint"
	"github.com/skillsenselab/tickstream/server/middleware"
)

// Server is the HTTP server backed by Gin. The handler is wrapped with
// h2c so browsers and proxies speaking HTTP/2 cleartext can multiplex a
// long-lived stream alongside ordinary requests on one connection.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     Config
	log        *logger.Logger
	boundAddr  string
}

// New creates a new Server. The Gin engine is created but no middleware
// is applied yet.
func New(cfg Config, log *logger.Logger) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}
	handler := h2c.NewHandler(engine, h2s)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	// WriteTimeout stays zero: the stream dispatcher sets per-write
	// deadlines through http.ResponseController instead.
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Second,
		IdleTimeout: time.Duration(cfg.IdleTimeout) * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		engine:     engine,
		config:     cfg,
		log:        log.WithComponent("server"),
	}
}

// GinEngine returns the underlying Gin engine for route registration.
func (s *Server) GinEngine() *gin.Engine {
	return s.engine
}

// Start binds the port and begins serving. It returns once the listener
// is bound so the caller knows the port is ready; serving continues in
// a goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.boundAddr = listener.Addr().String()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	s.log.Info("HTTP server started", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	return nil
}

// OnShutdown registers fn to run when graceful shutdown begins. The
// stream layer hooks its connection drain in here: Shutdown does not
// cancel in-flight request contexts, so long-lived streams must be told
// to tear down or they hold the drain open until its deadline.
func (s *Server) OnShutdown(fn func()) {
	s.httpServer.RegisterOnShutdown(fn)
}

// Stop drains the server within the configured shutdown timeout. Any
// connection still open past the deadline is closed hard; a stream that
// survived the OnShutdown drain must not turn a clean stop into an
// error.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Graceful drain incomplete, closing remaining connections", map[string]interface{}{
			"error": err.Error(),
		})
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("server close error: %w", closeErr)
		}
		return nil
	}

	s.log.Info("HTTP server shut down successfully")
	return nil
}

// Addr returns the listen address: the bound address once Start has
// run, the configured one before.
func (s *Server) Addr() string {
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.httpServer.Addr
}

// ApplyMiddleware applies the standard middleware stack to the Gin
// engine: recovery, request-ID, CORS, and request logging.
func (s *Server) ApplyMiddleware() {
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.GinCORS(&s.config.CORS))
	s.engine.Use(middleware.GinRequestLogger())
}

// RegisterDefaultEndpoints registers the standard operational endpoints.
func (s *Server) RegisterDefaultEndpoints(serviceName string, checker endpoint.HealthChecker) {
	s.engine.GET("/health", endpoint.Health(serviceName, checker))
	s.engine.GET("/alive", endpoint.Liveness())
	s.engine.GET("/ready", endpoint.Readiness(checker))
	s.engine.GET("/version", endpoint.Version())
}
