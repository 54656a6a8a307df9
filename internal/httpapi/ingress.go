package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callguard/internal/amd"
	"callguard/internal/calls"
	"callguard/internal/telephony"
	"callguard/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Machine-to-machine ingress: the ML detection callback, the provider's
// status webhook and the voice-instruction fetches. None of these carry a
// browser session.

type amdResultRequest struct {
	CallSid    string   `json:"callSid"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Timestamp  string   `json:"timestamp"`
}

// AMDResult receives the ML service's classification for a live call.
// Service-bearer protected; see auth.RequireServiceBearer.
func (h Handlers) AMDResult(c *gin.Context) {
	log := logger.FromGin(c)

	var req amdResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.CallSid == "" || req.Label == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callSid and label are required"})
		return
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "confidence must be between 0 and 1"})
		return
	}

	d := amd.Detection{
		CallSid:    req.CallSid,
		Label:      req.Label,
		Confidence: req.Confidence,
	}
	if req.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			d.Timestamp = ts
		}
	}

	if _, err := h.Coordinator.ApplyDetection(c.Request.Context(), d); err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
			return
		}
		log.Error("detection apply failed", "call_sid", req.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to record detection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// StatusWebhook ingests provider call-status callbacks. Signature failures
// are the only non-2xx answer; every processing problem after that point is
// swallowed so the provider stops retrying a payload we cannot use.
func (h Handlers) StatusWebhook(c *gin.Context) {
	log := logger.FromGin(c)

	if !telephony.VerifyWebhookRequest(c.Request, h.WebhookAuthToken) {
		log.Warn("webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	form, err := telephony.ParseStatusWebhook(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("webhook payload unusable", "err", err)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	u := amd.StatusUpdate{
		CallSid:         form.CallSid,
		CallStatus:      form.CallStatus,
		DurationSeconds: form.DurationSeconds(),
		AnsweredBy:      form.AnsweredBy,
	}
	if err := h.Coordinator.ApplyProviderStatus(c.Request.Context(), u); err != nil {
		log.Error("status webhook apply failed", "call_sid", form.CallSid, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

const twimlContentType = "text/xml; charset=utf-8"

// TwiMLConnectStream serves the answer document for ML-strategy calls,
// bridging call audio into the ML service's WebSocket.
func (h Handlers) TwiMLConnectStream(c *gin.Context) {
	if h.MLStreamBase == "" {
		logger.FromGin(c).Error("connect-stream requested but ML stream base not configured")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming is not configured"})
		return
	}

	callSid := telephony.AnswerCallSid(c.Request, time.Now().UTC())
	doc, err := telephony.ConnectStreamTwiML(h.MLStreamBase, callSid, h.MLAPIKey)
	if err != nil {
		logger.FromGin(c).Error("connect-stream render failed", "call_sid", callSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to render voice instructions"})
		return
	}
	c.Data(http.StatusOK, twimlContentType, []byte(doc))
}

// TwiMLConnectHuman serves the greet-and-connect document, both as the
// native-strategy answer URL and as the redirect target after human detection.
func (h Handlers) TwiMLConnectHuman(c *gin.Context) {
	doc, err := telephony.ConnectHumanTwiML(h.GreetingURL)
	if err != nil {
		logger.FromGin(c).Error("connect-human render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to render voice instructions"})
		return
	}
	c.Data(http.StatusOK, twimlContentType, []byte(doc))
}
