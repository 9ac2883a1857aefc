package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"applypilot-backend/internal/shared/server/middleware"
	"applypilot-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
	rg.PUT("/me/settings", h.updateSettings)
}

func (h *Handler) me(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	userID := middleware.UserIDFromContext(c)

	// Materialize the record on first touch so quota defaults have a plan
	// to resolve against.
	if err := h.Svc.EnsureUser(c.Request.Context(), userID, middleware.UserEmailFromContext(c), middleware.UserNameFromContext(c)); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		return
	}

	user, err := h.Svc.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "user not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"name":     user.Name,
		"plan":     user.Plan,
		"timezone": user.Timezone,
	})
}

type settingsRequest struct {
	Plan     string `json:"plan"`
	Timezone string `json:"timezone"`
}

func (h *Handler) updateSettings(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	userID := middleware.UserIDFromContext(c)

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}

	user, err := h.Svc.UpdateSettings(c.Request.Context(), userID, req.Plan, req.Timezone)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "user not found", nil)
		case errors.Is(err, ErrInvalidPlan):
			respond.Error(c, http.StatusBadRequest, "validation_error", "unknown plan", nil)
		case errors.Is(err, ErrInvalidTimezone):
			respond.Error(c, http.StatusBadRequest, "validation_error", "unknown timezone", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update settings", nil)
		}
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"id":       user.ID,
		"plan":     user.Plan,
		"timezone": user.Timezone,
	})
}
