package main

import (
	"database/sql"
	"net/http"
	"time"

	"callguard/internal/httpapi"
	"callguard/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, db *sql.DB, rdb *redis.Client, sessionMW, bearerMW gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// Machine ingress. The status webhook authenticates via the provider's
	// request signature; the detection callback via a service bearer token.
	api.POST("/webhooks/call-status", h.StatusWebhook)
	api.POST("/amd-result", bearerMW, h.AMDResult)

	// Voice-instruction documents. The provider fetches these mid-call; they
	// carry no secrets beyond the stream token the provider needs anyway.
	api.POST("/twiml/connect-stream", h.TwiMLConnectStream)
	api.POST("/twiml/connect-human", h.TwiMLConnectHuman)

	// Browser endpoints, session-scoped.
	session := api.Group("")
	session.Use(sessionMW)
	{
		session.POST("/dial", h.Dial)
		session.GET("/calls", h.ListCalls)
		session.GET("/calls/:id", h.GetCall)
		session.GET("/call-status/:callSid", h.GetCallStatus)
		session.GET("/stats", h.Stats)
	}
}
