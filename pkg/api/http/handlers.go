package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/grantflow/internal/application/orchestrator"
	"github.com/aescanero/grantflow/pkg/adapters/storage/redis"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InitThreadRequest resolves the thread of an owner and subject
type InitThreadRequest struct {
	Owner   string `json:"owner" binding:"required"`
	Subject string `json:"subject" binding:"required"`
}

// StartRequest seeds a new thread
type StartRequest struct {
	Input *domain.Update `json:"input"`
	Async bool           `json:"async"`
}

// MessageRequest appends a conversation message
type MessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content" binding:"required"`
	Async   bool   `json:"async"`
}

// ResumeRequest continues an interrupted thread. Feedback, when present, is
// submitted before resuming.
type ResumeRequest struct {
	Feedback *domain.Feedback `json:"feedback"`
	Async    bool             `json:"async"`
}

// StaleRequest resolves a stale section
type StaleRequest struct {
	Action domain.StaleAction `json:"action" binding:"required"`
}

// InterruptResponse describes whether a thread awaits review
type InterruptResponse struct {
	ThreadID    string                   `json:"thread_id"`
	Interrupted bool                     `json:"interrupted"`
	Details     *domain.InterruptDetails `json:"details,omitempty"`
}

// CommandResponse acknowledges an asynchronous command
type CommandResponse struct {
	ThreadID  string `json:"thread_id"`
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth reports store reachability and worker pool health
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	storeStatus := "ok"
	if s.degraded {
		storeStatus = "degraded"
	}
	if pinger, ok := s.store.(ports.Pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := pinger.Ping(ctx)
		cancel()
		if err != nil {
			storeStatus = "unreachable"
			healthy = false
		}
	}
	checks["store"] = storeStatus

	if s.workers != nil {
		pool := s.workers.GetStatus()
		checks["workers"] = pool
		if !pool.Healthy {
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (s *Server) handleInitThread(c *gin.Context) {
	var req InitThreadRequest
	if !s.bind(c, &req) {
		return
	}

	info, err := s.orchestrator.InitOrGetThread(c.Request.Context(), req.Owner, req.Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	code := http.StatusOK
	if info.IsNew {
		code = http.StatusCreated
	}
	c.JSON(code, info)
}

func (s *Server) handleStart(c *gin.Context) {
	var req StartRequest
	if !s.bind(c, &req) {
		return
	}
	threadID := c.Param("id")

	if req.Async {
		s.dispatch(c, domain.Command{Type: domain.CommandStart, ThreadID: threadID, Input: req.Input})
		return
	}
	state, err := s.orchestrator.Start(c.Request.Context(), threadID, req.Input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleMessage(c *gin.Context) {
	var req MessageRequest
	if !s.bind(c, &req) {
		return
	}
	threadID := c.Param("id")
	msg := domain.Message{Role: req.Role, Content: req.Content}

	if req.Async {
		s.dispatch(c, domain.Command{Type: domain.CommandMessage, ThreadID: threadID, Message: &msg})
		return
	}
	state, err := s.orchestrator.SubmitMessage(c.Request.Context(), threadID, msg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleGetState(c *gin.Context) {
	state, err := s.orchestrator.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleHistory(c *gin.Context) {
	threadID := c.Param("id")
	history, err := s.orchestrator.History(c.Request.Context(), threadID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"thread_id":   threadID,
		"checkpoints": history,
		"total":       len(history),
	})
}

func (s *Server) handleInterrupt(c *gin.Context) {
	threadID := c.Param("id")
	interrupted, err := s.orchestrator.DetectInterrupt(c.Request.Context(), threadID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := InterruptResponse{ThreadID: threadID, Interrupted: interrupted}
	if interrupted {
		details, err := s.orchestrator.InterruptDetails(c.Request.Context(), threadID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		resp.Details = details
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFeedback(c *gin.Context) {
	var feedback domain.Feedback
	if !s.bind(c, &feedback) {
		return
	}
	threadID := c.Param("id")

	if err := s.orchestrator.SubmitFeedback(c.Request.Context(), threadID, feedback); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"thread_id": threadID,
		"status":    "pending",
	})
}

func (s *Server) handleResume(c *gin.Context) {
	var req ResumeRequest
	if !s.bind(c, &req) {
		return
	}
	threadID := c.Param("id")

	if req.Async {
		cmd := domain.Command{Type: domain.CommandResume, ThreadID: threadID}
		if req.Feedback != nil {
			cmd.Input = &domain.Update{UserFeedback: req.Feedback}
		}
		s.dispatch(c, cmd)
		return
	}

	if req.Feedback != nil {
		if err := s.orchestrator.SubmitFeedback(c.Request.Context(), threadID, *req.Feedback); err != nil {
			s.writeError(c, err)
			return
		}
	}
	state, err := s.orchestrator.Resume(c.Request.Context(), threadID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleResolveStale(c *gin.Context) {
	var req StaleRequest
	if !s.bind(c, &req) {
		return
	}

	state, err := s.orchestrator.ResolveStale(c.Request.Context(), c.Param("id"), c.Param("section"), req.Action)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleCancel(c *gin.Context) {
	threadID := c.Param("id")
	if err := s.orchestrator.Cancel(c.Request.Context(), threadID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"thread_id":    threadID,
		"status":       "cancelled",
		"cancelled_at": time.Now().UTC(),
	})
}

func (s *Server) dispatch(c *gin.Context, cmd domain.Command) {
	commandID, err := s.orchestrator.Dispatch(c.Request.Context(), cmd)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CommandResponse{
		ThreadID:  cmd.ThreadID,
		CommandID: commandID,
		Status:    "dispatched",
	})
}

// bind decodes the JSON body. Requests whose fields are all optional accept
// an empty body.
func (s *Server) bind(c *gin.Context, target any) bool {
	if v, ok := target.(interface{ optional() bool }); ok && v.optional() && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(target); err != nil {
		s.reject(c, err)
		return false
	}
	return true
}

func (s *Server) reject(c *gin.Context, err error) {
	s.logger.Debug("invalid request", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
	})
}

func (*StartRequest) optional() bool  { return true }
func (*ResumeRequest) optional() bool { return true }

// writeError maps engine errors onto status codes
func (s *Server) writeError(c *gin.Context, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("thread_id", c.Param("id")),
			zap.String("code", code),
			zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

func classify(err error) (string, int) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		return "INVALID_REQUEST", http.StatusBadRequest
	case errors.Is(err, domain.ErrThreadNotFound),
		errors.Is(err, domain.ErrCheckpointNotFound),
		errors.Is(err, domain.ErrSectionNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, domain.ErrThreadExists):
		return "THREAD_EXISTS", http.StatusConflict
	case errors.Is(err, domain.ErrThreadNotInterrupted):
		return "NOT_INTERRUPTED", http.StatusConflict
	case errors.Is(err, domain.ErrFeedbackMissing):
		return "FEEDBACK_MISSING", http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoExecution):
		return "NOT_RUNNING", http.StatusConflict
	case errors.Is(err, redis.ErrLockAcquire):
		return "THREAD_BUSY", http.StatusConflict
	case errors.Is(err, domain.ErrRecursionLimit):
		return "RECURSION_LIMIT", http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPermissionDenied):
		return "UPSTREAM_DENIED", http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT", http.StatusGatewayTimeout
	case domain.IsRetryable(err):
		return "UNAVAILABLE", http.StatusServiceUnavailable
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}
