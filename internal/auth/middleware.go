package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// unauthorized answers every failed admission check identically: 401 with
// no detail.
func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
}

// RequireSession verifies the browser session and injects identity into the
// request context.
func RequireSession(a *SessionAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authenticate(c.Request)
		if err != nil {
			unauthorized(c)
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Set("user_id", id.UserID)
		c.Next()
	}
}

// RequireServiceBearer admits machine callers holding the shared secret.
// Constant-time comparison. An empty configured secret waives the check
// (development mode).
func RequireServiceBearer(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			unauthorized(c)
			return
		}
		token := strings.TrimPrefix(raw, prefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			unauthorized(c)
			return
		}
		c.Next()
	}
}
