package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"applypilot-backend/internal/shared/server/respond"
)

// WorkerToken authenticates worker callbacks with a shared bearer token.
// Worker routes carry no user identity; the session ID in the payload is
// the only principal.
func WorkerToken(token string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(token))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			respond.Error(c, http.StatusUnauthorized, "worker_unauthorized", "worker token not configured", nil)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "worker_unauthorized", "missing worker token", nil)
			return
		}

		got := []byte(strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer")))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			respond.Error(c, http.StatusUnauthorized, "worker_unauthorized", "invalid worker token", nil)
			return
		}

		c.Next()
	}
}
