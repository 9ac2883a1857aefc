package activity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"applypilot-backend/internal/shared/server/middleware"
	"applypilot-backend/internal/shared/server/respond"
)

const defaultFeedLimit = 100

// SessionSource reports session ownership without importing the session
// package.
type SessionSource interface {
	// CurrentSessionID returns the user's most recent session id, or "" when
	// the user has never started one.
	CurrentSessionID(ctx context.Context, userID string) (string, error)
	// SessionOwner returns the owning user id for a session, or "" when the
	// session is unknown.
	SessionOwner(ctx context.Context, sessionID string) (string, error)
}

// feedEntry is the polling feed shape. The status field carries the entry
// level; clients key icons and colors off it.
type feedEntry struct {
	ID        int64             `json:"id"`
	Action    string            `json:"action"`
	Details   string            `json:"details"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func toFeedEntries(entries []Entry) []feedEntry {
	out := make([]feedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, feedEntry{
			ID:        e.ID,
			Action:    e.Action,
			Details:   e.Details,
			Status:    e.Level,
			Timestamp: e.Timestamp.UTC(),
			Metadata:  e.Metadata,
		})
	}
	return out
}

// Handler serves the activity feed endpoints.
type Handler struct {
	Svc      *Service
	Sessions SessionSource
}

func NewHandler(svc *Service, sessions SessionSource) *Handler {
	return &Handler{Svc: svc, Sessions: sessions}
}

// RegisterRoutes mounts authenticated activity routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/activity", h.listActivity)
	rg.DELETE("/activity", h.clearActivity)
	rg.GET("/activity/export", h.exportActivity)
	rg.GET("/sessions/:id/activity", h.listSessionActivity)
}

func (h *Handler) listActivity(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	sessionID, err := h.Sessions.CurrentSessionID(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve session", nil)
		return
	}
	if sessionID == "" {
		c.JSON(http.StatusOK, gin.H{"sessionId": "", "entries": []feedEntry{}})
		return
	}

	entries, err := h.Svc.Tail(c.Request.Context(), sessionID, feedLimit(c))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load activity", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "entries": toFeedEntries(entries)})
}

func (h *Handler) clearActivity(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	sessionID, err := h.Sessions.CurrentSessionID(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve session", nil)
		return
	}
	if sessionID == "" {
		c.JSON(http.StatusOK, gin.H{"deleted": 0})
		return
	}

	deleted, err := h.Svc.Clear(c.Request.Context(), userID, sessionID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to clear activity", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) exportActivity(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	sessionID, err := h.Sessions.CurrentSessionID(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve session", nil)
		return
	}
	if sessionID == "" {
		respond.Error(c, http.StatusNotFound, "not_found", "no session to export", nil)
		return
	}

	text, err := h.Svc.Export(c.Request.Context(), sessionID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to export activity", nil)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "activity_"+sessionID+".log"))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

func (h *Handler) listSessionActivity(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	sessionID := c.Param("id")
	owner, err := h.Sessions.SessionOwner(c.Request.Context(), sessionID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve session", nil)
		return
	}
	if owner == "" || owner != userID {
		respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}

	entries, err := h.Svc.Tail(c.Request.Context(), sessionID, feedLimit(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load activity", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "entries": toFeedEntries(entries)})
}

func feedLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultFeedLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultFeedLimit
	}
	return n
}
