package orchestrator

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"applypilot-backend/internal/session"
	"applypilot-backend/internal/shared/server/middleware"
	"applypilot-backend/internal/shared/server/respond"
	"applypilot-backend/internal/worker"
)

// Handler exposes session control over HTTP: user-facing start/stop/pause/
// resume, the worker event ingress, and the operator force-clear.
type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes wires the user-facing session controls. The group must run
// the auth middleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions/start", h.start)
	rg.POST("/sessions/stop", h.stop)
	rg.POST("/sessions/pause", h.pause)
	rg.POST("/sessions/resume", h.resume)
}

// RegisterWorkerRoutes wires the event ingress workers report to. The group
// must run the worker token middleware.
func (h *Handler) RegisterWorkerRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions/:id/events", h.workerEvent)
}

// RegisterAdminRoutes wires operator endpoints. The group must run auth plus
// the admin role check.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions/:userId/clear", h.forceClear)
}

func (h *Handler) start(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}
	rec, err := h.orch.Start(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": rec})
}

func (h *Handler) stop(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}
	rec, err := h.orch.Stop(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"session": rec})
}

func (h *Handler) pause(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}
	rec, err := h.orch.Pause(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"session": rec})
}

func (h *Handler) resume(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}
	rec, err := h.orch.Resume(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"session": rec})
}

// workerEvent ingests one worker report and answers with the ack action.
// Unknown sessions get a 404 so remote workers stop retrying deliveries for
// sessions that no longer exist.
func (h *Handler) workerEvent(c *gin.Context) {
	var e worker.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}
	e.SessionID = c.Param("id")

	ack, err := h.orch.HandleEvent(c.Request.Context(), e)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
			return
		}
		h.writeError(c, err)
		return
	}
	respond.OK(c, ack)
}

func (h *Handler) forceClear(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "user id required", nil)
		return
	}
	rec, err := h.orch.ForceClear(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"session": rec})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrCredentialsMissing):
		respond.Error(c, http.StatusConflict, "credentials_missing", "connect job board credentials before starting automation", nil)
	case errors.Is(err, ErrQuotaExceeded):
		respond.Error(c, http.StatusTooManyRequests, "quota_exceeded", "daily application quota reached", nil)
	case errors.Is(err, ErrAlreadyRunning):
		respond.Error(c, http.StatusConflict, "already_running", "an automation session is already active", nil)
	case errors.Is(err, ErrNotFound), errors.Is(err, session.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "no automation session found", nil)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(c, http.StatusConflict, "conflict", "session cannot make that transition", nil)
	case errors.Is(err, ErrWorkerFailure):
		respond.Error(c, http.StatusBadGateway, "worker_failure", "failed to hand the session to a worker", nil)
	case errors.Is(err, context.Canceled):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update session", nil)
	}
}
