// Package bridge implements the orchestrator's loopback-only HTTP/SSE
// surface: worker stream-chunk ingress, a filtered SSE chunk stream, and a
// typed event ingress/fan-out pair backed by the orchestrator event bus.
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/httpmw"
	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/common/tracing"
	"github.com/kandev/nodeforge/internal/events/bus"
	"github.com/kandev/nodeforge/internal/pool"
)

// Server is the bridge's HTTP/SSE surface. It binds to 127.0.0.1 on a
// random port chosen at Start time and issues a fresh bearer token on
// every construction.
type Server struct {
	Bus   bus.EventBus
	Pool  *pool.Pool // optional: enables lastActivity touch on chunk ingress
	Token string

	logger   *logger.Logger
	tracer   *tracing.Provider
	chunks   *chunkEmitter
	engine   *gin.Engine
	listener net.Listener
	httpSrv  *http.Server

	// URL is populated once Start succeeds.
	URL string
}

// NewServer builds a Server with a freshly generated bearer token. Bus is
// required; Pool may be nil if lastActivity tracking isn't wired yet.
func NewServer(eventBus bus.EventBus, workerPool *pool.Pool, log *logger.Logger, tracer *tracing.Provider) (*Server, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate bridge token: %w", err)
	}

	s := &Server{
		Bus:    eventBus,
		Pool:   workerPool,
		Token:  token,
		logger: log.WithFields(zap.String("component", "bridge")),
		tracer: tracer,
		chunks: newChunkEmitter(),
	}
	s.engine = s.buildEngine()
	return s, nil
}

// generateToken returns a base64url-encoded random token per the bridge's
// bearer-auth contract.
func generateToken() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(httpmw.Recovery(s.logger))
	router.Use(httpmw.RequestLogger(s.logger, "bridge"))
	if s.tracer != nil {
		router.Use(httpmw.OtelTracing(s.tracer, "bridge"))
	}
	router.Use(httpmw.CORS())
	router.NoRoute(func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.NoMethod(func(c *gin.Context) { c.Status(http.StatusMethodNotAllowed) })

	v1 := router.Group("/v1")
	v1.POST("/stream/chunk", s.requireBearer(), s.handleStreamChunk)
	v1.GET("/stream", s.handleStreamSSE)
	v1.POST("/events", s.requireBearer(), s.handlePublishEvent)
	v1.GET("/events", s.handleEventsSSE)

	return router
}

// Start binds a random loopback port and serves in the background. The
// returned context governs the server's lifetime; callers should also call
// Stop for an orderly shutdown.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("bind bridge listener: %w", err)
	}
	s.listener = listener
	s.URL = fmt.Sprintf("http://%s", listener.Addr().String())
	s.httpSrv = &http.Server{Handler: s.engine}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("bridge server stopped unexpectedly")
		}
	}()

	s.logger.Info("bridge listening", zap.String("url", s.URL))
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
