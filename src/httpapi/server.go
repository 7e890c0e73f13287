// Package httpapi exposes a Session over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	agent "github.com/Protocol-Lattice/go-mcp-client"
	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// StatusClientClosedRequest is returned when the caller went away mid-query.
const StatusClientClosedRequest = 499

const shutdownGrace = 5 * time.Second

// Session is the part of agent.Session the API serves.
type Session interface {
	SubmitQuery(ctx context.Context, text string) (string, error)
	SetBackend(provider, model string) error
	Backend() (provider, model string)
	ListBackends() map[string][]string
	Tools() []conversation.ToolDescriptor
	Transcript() []conversation.Turn
	Reset()
}

var _ Session = (*agent.Session)(nil)

type queryRequest struct {
	Query string `json:"query"`
}

type backendRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Server routes HTTP requests to one Session.
type Server struct {
	session Session
	logger  *slog.Logger
	engine  *gin.Engine
}

// New builds the router. Gin's mode is left to the caller.
func New(session Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{session: session, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.logRequests())

	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/query", s.handleQuery)
		v1.GET("/backends", s.handleBackends)
		v1.PUT("/backend", s.handleSetBackend)
		v1.GET("/tools", s.handleTools)
		v1.GET("/transcript", s.handleTranscript)
		v1.POST("/reset", s.handleReset)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(c, http.StatusBadRequest, "bad_request", "query is empty")
		return
	}
	answer, err := s.session.SubmitQuery(c.Request.Context(), req.Query)
	if err != nil {
		status, kind := classify(err)
		s.logger.Warn("query failed", "kind", kind, "error", err)
		writeError(c, status, kind, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (s *Server) handleBackends(c *gin.Context) {
	provider, model := s.session.Backend()
	c.JSON(http.StatusOK, gin.H{
		"backends": s.session.ListBackends(),
		"provider": provider,
		"model":    model,
	})
}

func (s *Server) handleSetBackend(c *gin.Context) {
	var req backendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request: "+err.Error())
		return
	}
	if err := s.session.SetBackend(req.Provider, req.Model); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	provider, model := s.session.Backend()
	c.JSON(http.StatusOK, gin.H{"provider": provider, "model": model})
}

func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.session.Tools()})
}

func (s *Server) handleTranscript(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"turns": s.session.Transcript()})
}

func (s *Server) handleReset(c *gin.Context) {
	s.session.Reset()
	c.Status(http.StatusNoContent)
}

// classify maps a query error onto an HTTP status and a short kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrBackendAuth):
		return http.StatusUnauthorized, "auth"
	case errors.Is(err, agent.ErrLoopExceeded):
		return http.StatusLoopDetected, "loop_exceeded"
	case errors.Is(err, agent.ErrAborted):
		return StatusClientClosedRequest, "aborted"
	case errors.Is(err, agent.ErrBackendTransport):
		return http.StatusBadGateway, "transport"
	case errors.Is(err, agent.ErrBackendProtocol):
		return http.StatusBadGateway, "protocol"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}
