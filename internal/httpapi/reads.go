package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callguard/internal/auth"
	"callguard/internal/calls"
	"callguard/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Read endpoints for the dashboard. All of them scope by the session user;
// a row owned by someone else is indistinguishable from a missing row.

const defaultListLimit = 50

func (h Handlers) ListCalls(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	list, err := h.Store.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		logger.FromGin(c).Error("call list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load calls"})
		return
	}
	if list == nil {
		list = []calls.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "calls": list})
}

// GetCall returns one call by primary key with its AMD events embedded,
// sorted oldest first.
func (h Handlers) GetCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	row, err := h.Store.FindByIDForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load call"})
		return
	}

	events, err := h.Store.ListEvents(c.Request.Context(), row.ID)
	if err != nil {
		logger.FromGin(c).Error("amd event lookup failed", "call_id", row.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load call"})
		return
	}
	if events == nil {
		events = []calls.AmdEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": row, "amdEvents": events})
}

// Stats serves the dashboard's aggregate header.
func (h Handlers) Stats(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	sum, err := h.Reports.Summary(c.Request.Context(), userID)
	if err != nil {
		logger.FromGin(c).Error("summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": sum})
}

type amdResultEnvelope struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type callStatusEnvelope struct {
	CallSid     string             `json:"callSid"`
	Status      calls.Status       `json:"status"`
	AmdResult   *amdResultEnvelope `json:"amdResult"`
	AmdStrategy calls.Strategy     `json:"amdStrategy"`
	DetectedAt  *time.Time         `json:"detectedAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// GetCallStatus is the polling endpoint the dial form hits while a call is
// live. Keyed by callSid because that is all the browser has at that point.
func (h Handlers) GetCallStatus(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	row, err := h.Store.FindByCallSidForUser(c.Request.Context(), c.Param("callSid"), userID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
			return
		}
		logger.FromGin(c).Error("call status lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load call"})
		return
	}

	env := callStatusEnvelope{
		CallSid:     row.CallSid,
		Status:      row.Status,
		AmdStrategy: row.AmdStrategy,
		DetectedAt:  row.DetectedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.AmdResult != "" {
		env.AmdResult = &amdResultEnvelope{Label: row.AmdResult, Confidence: row.AmdConfidence}
	}
	c.JSON(http.StatusOK, env)
}
