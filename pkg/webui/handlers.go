package webui

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/persistence"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/session"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/version"
)

// maxLogEntries caps the /v1/logs response to the newest entries.
const maxLogEntries = 1000

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MessageRequest is the body of POST /v1/sessions/:id/messages.
type MessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: version.Version})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, s.sessions.Create())
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.List())
}

func (s *Server) handleGetSession(c *gin.Context) {
	snap, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: message is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	id := c.Param("id")
	reply, err := s.sessions.Send(c.Request.Context(), id, req.Message)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	s.logger.Info("💬 Session %s answered (%d new messages)", id, len(reply.Messages))
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleInteractions(c *gin.Context) {
	interactions, err := s.sessions.Interactions(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, interactions)
}

// handleLogs implements GET /v1/logs?component=&since=RFC3339.
func (s *Server) handleLogs(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid since parameter (use RFC3339)",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		since = parsed
	}

	logs := logx.GetRecentLogEntries(c.Query("component"), since)
	if len(logs) > maxLogEntries {
		logs = logs[len(logs)-maxLogEntries:]
	}
	if logs == nil {
		logs = []logx.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) handleUsage(c *gin.Context) {
	usage, err := s.usage.GetUsageByModel(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if !s.requireRunStore(c) {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	if !s.requireRunStore(c) {
		return
	}
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) requireRunStore(c *gin.Context) bool {
	if s.runs != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "crew run ledger is disabled (set ledger.path)",
		Code:  "LEDGER_DISABLED",
	})
	return false
}

// abortWithError maps domain errors onto HTTP statuses.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, persistence.ErrRunNotFound):
		return http.StatusNotFound, "RUN_NOT_FOUND"
	case errors.Is(err, session.ErrTurnInFlight):
		return http.StatusConflict, "TURN_IN_FLIGHT"
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest, "EMPTY_MESSAGE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Type {
		case llmerrors.ErrorTypeRateLimit:
			return http.StatusTooManyRequests, "MODEL_RATE_LIMITED"
		case llmerrors.ErrorTypeServiceUnavailable, llmerrors.ErrorTypeTransient:
			return http.StatusServiceUnavailable, "MODEL_UNAVAILABLE"
		default:
			return http.StatusBadGateway, "MODEL_ERROR"
		}
	}
	return http.StatusInternalServerError, "TURN_FAILED"
}
