package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/session"
	"applypilot-backend/internal/shared/server/middleware"
	"applypilot-backend/internal/shared/server/respond"
)

const defaultHistoryLimit = 20

// PlanResolver names the billing plan for a user.
type PlanResolver func(ctx context.Context, userID string) string

// Handler serves the polling endpoints the dashboard refreshes against.
type Handler struct {
	registry *session.Registry
	quota    *quota.Service
	plans    PlanResolver
	clock    clockwork.Clock
}

func NewHandler(registry *session.Registry, quotaSvc *quota.Service, plans PlanResolver, clock clockwork.Clock) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{registry: registry, quota: quotaSvc, plans: plans, clock: clock}
}

// RegisterRoutes wires the polled status and session history endpoints. The
// group must run the auth middleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.status)
	rg.GET("/sessions", h.history)
}

func (h *Handler) status(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	q, err := h.quota.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load quota", nil)
		return
	}

	plan := ""
	if h.plans != nil {
		plan = h.plans(c.Request.Context(), userID)
	}

	rec, found := h.registry.Current(userID)
	respond.OK(c, Build(rec, found, q, plan, h.clock.Now().UTC()))
}

func (h *Handler) history(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "user identity missing", nil)
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	records, err := h.registry.History(c.Request.Context(), userID, limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load sessions", nil)
		return
	}
	if records == nil {
		records = []session.Record{}
	}
	respond.OK(c, gin.H{"sessions": records})
}
