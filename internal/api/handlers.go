package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/termpilot/termpilot/internal/common/errors"
	"github.com/termpilot/termpilot/internal/common/logger"
	"github.com/termpilot/termpilot/internal/dispatch"
	"github.com/termpilot/termpilot/internal/executor"
	"github.com/termpilot/termpilot/internal/session"
)

// Handler carries the service dependencies for all routes.
type Handler struct {
	sessions *session.Manager
	exec     *executor.Executor
	chains   *executor.ChainRunner
	routes   *dispatch.Registry
	log      *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	sessions *session.Manager,
	exec *executor.Executor,
	chains *executor.ChainRunner,
	routes *dispatch.Registry,
	log *logger.Logger,
) *Handler {
	return &Handler{
		sessions: sessions,
		exec:     exec,
		chains:   chains,
		routes:   routes,
		log:      log,
	}
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateSession opens a new session with a fresh agent process.
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error()))
		return
	}

	snap, err := h.sessions.Create(c.Request.Context(), session.CreateRequest{
		Name:       req.Name,
		WorkingDir: req.WorkingDir,
		ProjectRef: req.ProjectRef,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// ListSessions lists open sessions, most recently active first.
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// GetSession returns one open session.
func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.sessions.Get(c.Param("sessionId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetActiveSession returns the active session, if any.
func (h *Handler) GetActiveSession(c *gin.Context) {
	snap, ok := h.sessions.Active()
	if !ok {
		_ = c.Error(apperrors.NotFound("active session", ""))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ActivateSession promotes a session to active.
func (h *Handler) ActivateSession(c *gin.Context) {
	if err := h.sessions.SetActive(c.Param("sessionId")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CloseSession terminates a session's process. The persisted record is kept
// for later restoration.
func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), c.Param("sessionId")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DispatchText writes raw text to a session's agent. Failure to deliver is
// reported in the body, not as an HTTP error.
func (h *Handler) DispatchText(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error()))
		return
	}
	ok := h.routes.Dispatch(c.Param("sessionId"), req.Text)
	c.JSON(http.StatusOK, DispatchResponse{Dispatched: ok})
}

// Execute runs a prompt (or chain of prompts) against a session. The
// synchronous path blocks until the execution settles; the async path
// queues the prompts and returns their ids.
func (h *Handler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error()))
		return
	}

	prompts := req.Prompts
	if req.Prompt != "" {
		prompts = append([]string{req.Prompt}, prompts...)
	}
	if len(prompts) == 0 {
		_ = c.Error(apperrors.BadRequest("prompt or prompts is required"))
		return
	}

	// Request-scoped values expand first; the executor rejects whatever
	// placeholders remain.
	if len(req.Values) > 0 {
		resolver := &executor.MapResolver{Values: req.Values}
		for i, p := range prompts {
			expanded, _, _ := resolver.Resolve(p)
			prompts[i] = expanded
		}
	}

	sessionID := c.Param("sessionId")

	if req.Async {
		ids := make([]string, 0, len(prompts))
		for _, p := range prompts {
			id, err := h.chains.Enqueue(sessionID, p, req.Priority)
			if err != nil {
				_ = c.Error(apperrors.ServiceUnavailable(err.Error()))
				return
			}
			ids = append(ids, id)
		}
		c.JSON(http.StatusAccepted, EnqueueResponse{QueuedIDs: ids})
		return
	}

	results, err := h.chains.Run(c.Request.Context(), sessionID, prompts)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ExecuteResponse{Results: results})
}

// ExecuteActive runs a prompt against whichever session is active.
func (h *Handler) ExecuteActive(c *gin.Context) {
	snap, ok := h.sessions.Active()
	if !ok {
		_ = c.Error(apperrors.NotFound("active session", ""))
		return
	}
	c.Params = append(c.Params, gin.Param{Key: "sessionId", Value: snap.ID})
	h.Execute(c)
}

// CancelExecution abandons the in-flight execution for a session without
// touching the agent process.
func (h *Handler) CancelExecution(c *gin.Context) {
	if err := h.exec.Cancel(c.Param("sessionId")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetExecutionState reports whether a session is executing or idle.
func (h *Handler) GetExecutionState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.exec.StateOf(c.Param("sessionId"))})
}

// GetOutput returns the rendered tail of a session's terminal screen.
func (h *Handler) GetOutput(c *gin.Context) {
	proc, err := h.sessions.Process(c.Param("sessionId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	lines := 24
	if v := c.Query("lines"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			lines = n
		}
	}
	c.JSON(http.StatusOK, OutputResponse{Lines: proc.TailLines(lines)})
}

// Resize changes a session's pty dimensions.
func (h *Handler) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error()))
		return
	}
	proc, err := h.sessions.Process(c.Param("sessionId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := proc.Resize(req.Cols, req.Rows); err != nil {
		_ = c.Error(apperrors.InternalError("resize failed", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleCompletion receives the push signal from an agent hook. The body
// carries the agent's external session id, which is mapped back to the
// owning session. Signals for unknown or idle sessions are acknowledged and
// dropped; the hook must never see an error for being late.
func (h *Handler) HandleCompletion(c *gin.Context) {
	var req CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error()))
		return
	}

	snap, err := h.sessions.FindByExternalID(req.Session)
	if err != nil {
		h.log.Debug("completion push for unknown external session id")
		c.JSON(http.StatusOK, CompletionResponse{Handled: false})
		return
	}

	handled := h.exec.HandleCompletion(snap.ID, executor.SourcePush)
	c.JSON(http.StatusOK, CompletionResponse{Handled: handled})
}
