// Package admin implements the read-only admin HTTP surface (SPEC_FULL
// addition, grounded on the teacher's server/admin): /health, /metrics and
// per-subsystem /status/... JSON introspection. It is purely observational
// and introduces no mutation path into gossip/consensus/peer state — the
// CLI Dispatcher (internal/cli) remains the only operation surface.
package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/omnode/omnode/pkg/log"
)

// Server is the admin HTTP server.
type Server struct {
	registry *prometheus.Registry

	httpServer *http.Server
	router     *gin.Engine

	logger log.Logger
}

// NewServer constructs an admin HTTP server. registry may be nil, in which
// case /metrics is not registered.
func NewServer(registry *prometheus.Registry, logger log.Logger) *Server {
	logger = logger.WithSubsystem("admin")

	router := gin.New()
	server := &Server{
		registry: registry,
		httpServer: &http.Server{
			Handler:  router,
			ErrorLog: logger.StdLogger(zapcore.WarnLevel),
		},
		router: router,
		logger: logger,
	}

	router.Use(gin.CustomRecoveryWithWriter(nil, server.panicRoute))
	server.registerRoutes(router)

	return server
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting admin server", zap.String("addr", ln.Addr().String()))

	err := s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown attempts to gracefully shut down the server, waiting for
// pending requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// AddStatus registers handler's routes under /status/<route>.
func (s *Server) AddStatus(route string, handler Handler) {
	group := s.router.Group("/status").Group(route)
	handler.Register(group)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.healthRoute)
	if s.registry != nil {
		router.GET("/metrics", s.metricsHandler())
	}
}

func (s *Server) healthRoute(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) panicRoute(c *gin.Context, err any) {
	s.logger.Error("handler panic", zap.String("path", c.FullPath()), zap.Any("err", err))
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (s *Server) metricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
