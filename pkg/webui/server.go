// Package webui provides the HTTP front-end for chatting with the assistant and
// inspecting what it did: sessions, recent logs, crew runs and metrics.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/metrics"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/persistence"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/session"
)

// RunStore is the read side of the crew run ledger.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]persistence.Run, error)
	GetRun(ctx context.Context, id string) (*persistence.Run, error)
}

// Server represents the web UI HTTP server.
type Server struct {
	sessions *session.Manager
	runs     RunStore
	gatherer prometheus.Gatherer
	usage    *metrics.QueryService
	logger   *logx.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRunStore exposes crew runs from the ledger. Without it the run endpoints answer 503.
func WithRunStore(runs RunStore) Option {
	return func(s *Server) { s.runs = runs }
}

// WithGatherer selects the registry served at /metrics. Defaults to the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new web UI server over the session manager.
func NewServer(sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		gatherer: prometheus.DefaultGatherer,
		logger:   logx.NewLogger("webui"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.usage = metrics.NewQueryService(s.gatherer)
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	s.RegisterRoutes(v1)
	return router
}

// RegisterRoutes registers the /v1 endpoints with the given router group.
//
//	POST   /v1/sessions                   - Start a session
//	GET    /v1/sessions                   - List sessions
//	GET    /v1/sessions/:id               - Session transcript
//	DELETE /v1/sessions/:id               - Forget a session
//	POST   /v1/sessions/:id/messages      - Send a message and run one turn
//	GET    /v1/sessions/:id/interactions  - Per-turn debug records
//	GET    /v1/logs                       - Recent log entries
//	GET    /v1/usage                      - LLM usage by model
//	GET    /v1/crew/runs                  - Recent crew runs
//	GET    /v1/crew/runs/:id              - One crew run with its tasks
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", s.handleCreateSession)
		sessions.GET("", s.handleListSessions)
		sessions.GET("/:id", s.handleGetSession)
		sessions.DELETE("/:id", s.handleDeleteSession)
		sessions.POST("/:id/messages", s.handleSendMessage)
		sessions.GET("/:id/interactions", s.handleInteractions)
	}

	rg.GET("/logs", s.handleLogs)
	rg.GET("/usage", s.handleUsage)

	runs := rg.Group("/crew/runs")
	{
		runs.GET("", s.handleListRuns)
		runs.GET("/:id", s.handleGetRun)
	}
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web UI server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web UI server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web UI server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web UI server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
