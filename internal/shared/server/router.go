package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"applypilot-backend/internal/activity"
	"applypilot-backend/internal/credentials"
	"applypilot-backend/internal/orchestrator"
	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/shared/config"
	"applypilot-backend/internal/shared/metrics"
	"applypilot-backend/internal/shared/server/middleware"
	"applypilot-backend/internal/shared/server/respond"
	"applypilot-backend/internal/status"
	"applypilot-backend/internal/users"
)

// RouterDeps carries the handlers the router mounts. Construction happens in
// bootstrap; the router only decides paths and middleware order.
type RouterDeps struct {
	Config      config.Config
	Users       *users.Handler
	Credentials *credentials.Handler
	Quota       *quota.Handler
	Status      *status.Handler
	Activity    *activity.Handler
	Sessions    *orchestrator.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	authed := api.Group("")
	authed.Use(middleware.Auth(), middleware.RateLimit(rateLimits()))
	deps.Users.RegisterRoutes(authed)
	deps.Credentials.RegisterRoutes(authed)
	deps.Quota.RegisterRoutes(authed)
	deps.Status.RegisterRoutes(authed)
	deps.Activity.RegisterRoutes(authed)
	deps.Sessions.RegisterRoutes(authed)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	deps.Sessions.RegisterAdminRoutes(admin)

	// Workers authenticate with the shared deployment token, never a user JWT.
	workerAPI := r.Group("/api/worker")
	workerAPI.Use(middleware.WorkerToken(deps.Config.WorkerToken))
	deps.Sessions.RegisterWorkerRoutes(workerAPI)

	if deps.Config.Env == "dev" || deps.Config.Env == "local" {
		dev := authed.Group("/dev")
		deps.Quota.RegisterDevRoutes(dev)
	}

	return r
}

// rateLimits keeps dashboard polling cheap without letting a hot client spin:
// reads get a generous bucket, control calls a small one. Keys are per user.
func rateLimits() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"poll":    {Rate: 10, Burst: 30},
			"control": {Rate: 1, Burst: 5},
		},
		DefaultGroup: "poll",
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodGet {
				return "poll"
			}
			return "control"
		},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
