package quota

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"applypilot-backend/internal/shared/server/middleware"
	"applypilot-backend/internal/shared/server/respond"
)

// PlanResolver reports the billing plan for a user so quota responses can
// carry it without this package importing the users service.
type PlanResolver func(ctx context.Context, userID string) string

// Handler serves the quota endpoints.
type Handler struct {
	svc   *Service
	plans PlanResolver
}

// NewHandler wires the quota service. planFor may be nil, in which case the
// plan field is omitted from responses.
func NewHandler(svc *Service, planFor PlanResolver) *Handler {
	return &Handler{svc: svc, plans: planFor}
}

// RegisterRoutes mounts authenticated quota routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/quota", h.getQuota)
}

// RegisterDevRoutes mounts reset helpers that only exist outside production.
func (h *Handler) RegisterDevRoutes(rg *gin.RouterGroup) {
	rg.POST("/quota/reset", h.resetQuota)
}

func (h *Handler) getQuota(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	q, err := h.svc.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load quota", nil)
		return
	}

	body := gin.H{
		"dailyQuota": q.Limit,
		"dailyUsage": q.Used,
		"remaining":  q.Remaining(),
		"resetsAt":   q.ResetsAt.UTC().Format(time.RFC3339),
	}
	if h.plans != nil {
		body["plan"] = h.plans(c.Request.Context(), userID)
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) resetQuota(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	q, err := h.svc.Reset(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to reset quota", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dailyQuota": q.Limit,
		"dailyUsage": q.Used,
		"resetsAt":   q.ResetsAt.UTC().Format(time.RFC3339),
	})
}
